package ingress

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/groupmind/groupmind/internal/botgateway"
)

type fakeDispatcher struct {
	mu       sync.Mutex
	messages []botgateway.Message
	pokes    []botgateway.PokeNotice
	done     chan struct{}
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{done: make(chan struct{}, 8)}
}

func (f *fakeDispatcher) HandleMessage(ctx context.Context, msg botgateway.Message) error {
	f.mu.Lock()
	f.messages = append(f.messages, msg)
	f.mu.Unlock()
	f.done <- struct{}{}
	return nil
}

func (f *fakeDispatcher) HandlePoke(ctx context.Context, notice botgateway.PokeNotice) error {
	f.mu.Lock()
	f.pokes = append(f.pokes, notice)
	f.mu.Unlock()
	f.done <- struct{}{}
	return nil
}

func TestAuthenticateEmptyTokenAllowsAll(t *testing.T) {
	srv := New(Config{AccessToken: ""}, newFakeDispatcher())
	req := httptest.NewRequest("POST", "/", nil)
	if !srv.authenticate(req) {
		t.Error("expected empty AccessToken to allow all requests")
	}
}

func TestAuthenticateBearerMismatch(t *testing.T) {
	srv := New(Config{AccessToken: "secret"}, newFakeDispatcher())
	req := httptest.NewRequest("POST", "/", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	if srv.authenticate(req) {
		t.Error("expected mismatched bearer token to fail auth")
	}
}

func TestAuthenticateBearerMatch(t *testing.T) {
	srv := New(Config{AccessToken: "secret"}, newFakeDispatcher())
	req := httptest.NewRequest("POST", "/", nil)
	req.Header.Set("Authorization", "Bearer secret")
	if !srv.authenticate(req) {
		t.Error("expected matching bearer token to pass auth")
	}
}

func TestAuthenticateCustomHeader(t *testing.T) {
	srv := New(Config{AccessToken: "secret"}, newFakeDispatcher())
	req := httptest.NewRequest("POST", "/", nil)
	req.Header.Set("x-onebot-token", "secret")
	if !srv.authenticate(req) {
		t.Error("expected matching x-onebot-token header to pass auth")
	}
}

func TestHandleEventRejectsUnauthorized(t *testing.T) {
	srv := New(Config{AccessToken: "secret"}, newFakeDispatcher())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{}`))
	srv.handleEvent(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestHandleEventRejectsNonPost(t *testing.T) {
	srv := New(Config{}, newFakeDispatcher())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/", nil)
	srv.handleEvent(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestHandleEventRejectsInvalidJSON(t *testing.T) {
	srv := New(Config{}, newFakeDispatcher())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/", strings.NewReader(`not json`))
	srv.handleEvent(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandleEventDispatchesMessage(t *testing.T) {
	disp := newFakeDispatcher()
	srv := New(Config{}, disp)
	rec := httptest.NewRecorder()
	body := `{"post_type":"message","message_id":123,"group_id":"456","user_id":789,
	"raw_message":"hi","sender":{"user_id":789,"nickname":"alice"}}`
	req := httptest.NewRequest("POST", "/", strings.NewReader(body))
	srv.handleEvent(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	<-disp.done

	disp.mu.Lock()
	defer disp.mu.Unlock()
	if len(disp.messages) != 1 {
		t.Fatalf("expected 1 dispatched message, got %d", len(disp.messages))
	}
	msg := disp.messages[0]
	if msg.UserID != "789" || msg.GroupID != "456" || msg.RawText != "hi" || msg.UserName != "alice" {
		t.Errorf("unexpected decoded message: %+v", msg)
	}
}

func TestHandleEventDispatchesPokeNotice(t *testing.T) {
	disp := newFakeDispatcher()
	srv := New(Config{}, disp)
	rec := httptest.NewRecorder()
	body := `{"post_type":"notice","notice_type":"poke","group_id":"1","user_id":"2","target_id":"3"}`
	req := httptest.NewRequest("POST", "/", strings.NewReader(body))
	srv.handleEvent(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	<-disp.done

	disp.mu.Lock()
	defer disp.mu.Unlock()
	if len(disp.pokes) != 1 {
		t.Fatalf("expected 1 dispatched poke, got %d", len(disp.pokes))
	}
	notice := disp.pokes[0]
	if notice.GroupID != "1" || notice.UserID != "2" || notice.TargetID != "3" {
		t.Errorf("unexpected decoded poke: %+v", notice)
	}
}

func TestHandleEventIgnoresNonPokeNotice(t *testing.T) {
	disp := newFakeDispatcher()
	srv := New(Config{}, disp)
	rec := httptest.NewRecorder()
	body := `{"post_type":"notice","notice_type":"group_increase"}`
	req := httptest.NewRequest("POST", "/", strings.NewReader(body))
	srv.handleEvent(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	select {
	case <-disp.done:
		t.Fatal("expected non-poke notice to not be dispatched")
	default:
	}
}
