package kv

import (
	"testing"
	"time"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions("/tmp")

	if opts.Dir != "/tmp" {
		t.Errorf("Expected Dir '/tmp', got '%s'", opts.Dir)
	}
	if opts.SyncWrites != false {
		t.Error("Expected SyncWrites to be false by default")
	}
	if opts.Compression != true {
		t.Error("Expected Compression to be true by default")
	}
	if opts.MemoryMode != false {
		t.Error("Expected MemoryMode to be false by default")
	}
}

func openTestKV(t *testing.T) *KV {
	t.Helper()
	store, err := Open(Options{MemoryMode: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSetAndGetRoundTrips(t *testing.T) {
	store := openTestKV(t)

	if err := store.Set("key1", "value1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := store.Get("key1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "value1" {
		t.Errorf("expected value1, got %q", got)
	}
}

func TestGetMissingKeyErrors(t *testing.T) {
	store := openTestKV(t)
	if _, err := store.Get("missing"); err == nil {
		t.Error("expected error for missing key")
	}
}

func TestSetWithTTLExpires(t *testing.T) {
	store := openTestKV(t)

	if err := store.SetWithTTL("short", "1", 30*time.Millisecond); err != nil {
		t.Fatalf("SetWithTTL: %v", err)
	}
	ok, err := store.Exists("short")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !ok {
		t.Fatal("expected key to exist immediately after SetWithTTL")
	}

	time.Sleep(80 * time.Millisecond)
	ok, err = store.Exists("short")
	if err != nil {
		t.Fatalf("Exists after expiry: %v", err)
	}
	if ok {
		t.Error("expected key to have expired")
	}
}

func TestExistsFalseForMissingKey(t *testing.T) {
	store := openTestKV(t)
	ok, err := store.Exists("nope")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if ok {
		t.Error("expected Exists to be false for a missing key")
	}
}

func TestDeleteRemovesKey(t *testing.T) {
	store := openTestKV(t)
	if err := store.Set("doomed", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Delete("doomed"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	ok, err := store.Exists("doomed")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if ok {
		t.Error("expected key to be gone after Delete")
	}
}

func TestOperationsFailAfterClose(t *testing.T) {
	store, err := Open(Options{MemoryMode: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("expected second Close to be a no-op, got %v", err)
	}
	if err := store.Set("k", "v"); err == nil {
		t.Error("expected Set to fail after Close")
	}
	if _, err := store.Get("k"); err == nil {
		t.Error("expected Get to fail after Close")
	}
}
