package ingress

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func TestHandleWebSocketRejectsUnauthorized(t *testing.T) {
	srv := New(Config{AccessToken: "secret"}, newFakeDispatcher())
	ts := httptest.NewServer(srv.server.Handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err == nil {
		t.Fatal("expected dial without a token to fail")
	}
}

func TestHandleWebSocketDispatchesMessage(t *testing.T) {
	disp := newFakeDispatcher()
	srv := New(Config{}, disp)
	ts := httptest.NewServer(srv.server.Handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	body := `{"post_type":"message","message_id":123,"group_id":"456","user_id":789,
	"raw_message":"hi","sender":{"user_id":789,"nickname":"alice"}}`
	if err := conn.Write(ctx, websocket.MessageText, []byte(body)); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-disp.done:
	case <-ctx.Done():
		t.Fatal("timed out waiting for dispatch")
	}

	disp.mu.Lock()
	defer disp.mu.Unlock()
	if len(disp.messages) != 1 {
		t.Fatalf("expected 1 dispatched message, got %d", len(disp.messages))
	}
	if disp.messages[0].RawText != "hi" {
		t.Errorf("unexpected decoded message: %+v", disp.messages[0])
	}
}

func TestHandleWebSocketIgnoresInvalidFrame(t *testing.T) {
	disp := newFakeDispatcher()
	srv := New(Config{}, disp)
	ts := httptest.NewServer(srv.server.Handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := conn.Write(ctx, websocket.MessageText, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"post_type":"message","message_id":1,"user_id":2,"sender":{"user_id":2}}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-disp.done:
	case <-ctx.Done():
		t.Fatal("timed out waiting for dispatch after invalid frame")
	}
}
