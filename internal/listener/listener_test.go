package listener

import (
	"testing"
	"time"
)

func TestRegisterRejectsSecondActiveListener(t *testing.T) {
	m := New()
	if err := m.Register(RegisterParams{SessionID: "s1", Type: TypeNextUserMessage}); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := m.Register(RegisterParams{SessionID: "s1", Type: TypeNextUserMessage}); err == nil {
		t.Fatalf("expected second Register on the same session to fail")
	}
}

func TestOnMessageFiresNextUserMessage(t *testing.T) {
	m := New()
	if err := m.Register(RegisterParams{SessionID: "s1", Type: TypeNextUserMessage, Reason: "waiting for alice"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	l, fired := m.OnMessage("s1", "u1")
	if !fired {
		t.Fatalf("expected the next inbound message to fire the listener")
	}
	if l.Reason != "waiting for alice" {
		t.Errorf("expected the fired listener's reason to be preserved, got %q", l.Reason)
	}
}

func TestOnMessageFiltersByUserID(t *testing.T) {
	m := New()
	if err := m.Register(RegisterParams{SessionID: "s1", Type: TypeNextUserMessage, UserID: "u2"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, fired := m.OnMessage("s1", "u1"); fired {
		t.Fatalf("expected a message from a different user not to fire the listener")
	}
	if _, fired := m.OnMessage("s1", "u2"); !fired {
		t.Fatalf("expected a message from the filtered user to fire the listener")
	}
}

func TestOnMessageCountsUntilThreshold(t *testing.T) {
	m := New()
	if err := m.Register(RegisterParams{SessionID: "s1", Type: TypeMessageCount, Count: 3}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, fired := m.OnMessage("s1", "u1"); fired {
			t.Fatalf("expected no fire before the count threshold, got fire on message %d", i+1)
		}
	}
	if _, fired := m.OnMessage("s1", "u1"); !fired {
		t.Fatalf("expected the listener to fire once the count threshold is reached")
	}
}

func TestFireStartsCooldown(t *testing.T) {
	m := New()
	if err := m.Register(RegisterParams{SessionID: "s1", Type: TypeNextUserMessage}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	m.OnMessage("s1", "u1")
	if err := m.Register(RegisterParams{SessionID: "s1", Type: TypeNextUserMessage}); err == nil {
		t.Fatalf("expected re-registration during cooldown to fail")
	}
}

func TestTimeoutIsClampedToMax(t *testing.T) {
	m := New()
	if err := m.Register(RegisterParams{SessionID: "s1", Type: TypeNextUserMessage, TimeoutMillis: int((45 * time.Minute).Milliseconds())}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	m.mu.Lock()
	got := m.active["s1"].listener.Timeout
	m.mu.Unlock()
	if got != maxTimeout {
		t.Errorf("expected timeout to be clamped to %s, got %s", maxTimeout, got)
	}
}

func TestExpireRemovesListenerSilently(t *testing.T) {
	m := New()
	if err := m.Register(RegisterParams{SessionID: "s1", Type: TypeNextUserMessage, TimeoutMillis: 10}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, fired := m.OnMessage("s1", "u1"); fired {
		t.Fatalf("expected an expired listener not to fire")
	}
}

func TestCancelClearsWithoutCooldown(t *testing.T) {
	m := New()
	if err := m.Register(RegisterParams{SessionID: "s1", Type: TypeNextUserMessage}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	m.Cancel("s1")
	if err := m.Register(RegisterParams{SessionID: "s1", Type: TypeNextUserMessage}); err != nil {
		t.Fatalf("expected re-registration after Cancel to succeed, got: %v", err)
	}
}
