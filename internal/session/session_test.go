package session

import (
	"testing"

	"github.com/groupmind/groupmind/internal/store"
)

func newTestManager(t *testing.T, capacity int) *Manager {
	t.Helper()
	cfg := store.DefaultConfig(":memory:")
	cfg.MaxOpenConns = 1
	cfg.MaxIdleConns = 1
	st, err := store.New(cfg)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, capacity)
}

func TestGetOrCreateCachesAcrossCalls(t *testing.T) {
	m := newTestManager(t, 10)
	id := store.GroupKey("g1")

	first, err := m.GetOrCreate(id, store.SessionGroup, "g1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	second, err := m.GetOrCreate(id, store.SessionGroup, "g1")
	if err != nil {
		t.Fatalf("GetOrCreate (cached): %v", err)
	}
	if first.CreatedAt != second.CreatedAt {
		t.Errorf("expected identical session identity from cache")
	}
	if m.Len() != 1 {
		t.Errorf("expected 1 cached entry, got %d", m.Len())
	}
}

func TestEvictionDropsLeastRecentlyUsed(t *testing.T) {
	m := newTestManager(t, 2)

	ids := []string{store.GroupKey("g1"), store.GroupKey("g2"), store.GroupKey("g3")}
	for _, id := range ids {
		if _, err := m.GetOrCreate(id, store.SessionGroup, id); err != nil {
			t.Fatalf("GetOrCreate(%s): %v", id, err)
		}
	}

	if m.Len() != 2 {
		t.Fatalf("expected cache capped at 2, got %d", m.Len())
	}

	m.mu.Lock()
	_, stillCached := m.items[ids[0]]
	m.mu.Unlock()
	if stillCached {
		t.Errorf("expected oldest session %s to be evicted", ids[0])
	}
}

func TestResetPreservesSessionRowButClearsCache(t *testing.T) {
	m := newTestManager(t, 10)
	id := store.GroupKey("g1")
	if _, err := m.GetOrCreate(id, store.SessionGroup, "g1"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	if err := m.Reset(id); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if m.Len() != 0 {
		t.Errorf("expected cache entry removed after reset, got %d entries", m.Len())
	}

	sess, err := m.GetOrCreate(id, store.SessionGroup, "g1")
	if err != nil {
		t.Fatalf("GetOrCreate after reset: %v", err)
	}
	if sess.ID != id {
		t.Errorf("expected identity preserved after reset, got %q", sess.ID)
	}
}
