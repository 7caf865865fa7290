package expression

import (
	"context"
	"testing"
	"time"

	"github.com/groupmind/groupmind/internal/store"
	"github.com/groupmind/groupmind/pkg/llm"
)

type stubProvider struct{ text string }

func (s *stubProvider) Name() string                  { return "stub" }
func (s *stubProvider) Type() llm.ProviderType         { return llm.ProviderOpenAI }
func (s *stubProvider) GetConfig() llm.Config          { return llm.Config{} }
func (s *stubProvider) Capabilities() []llm.Capability { return nil }
func (s *stubProvider) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	return llm.CompletionResponse{}, nil
}
func (s *stubProvider) GenerateText(ctx context.Context, req llm.TextRequest) (string, error) {
	return s.text, nil
}
func (s *stubProvider) GenerateMultimodal(ctx context.Context, req llm.MultimodalRequest) (string, error) {
	return s.text, nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	cfg := store.DefaultConfig(":memory:")
	cfg.MaxOpenConns = 1
	cfg.MaxIdleConns = 1
	st, err := store.New(cfg)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestOnMessageFlushesAtBatchSize(t *testing.T) {
	st := newTestStore(t)
	client := llm.NewClient(&stubProvider{text: `[{"situation":"greeting","style":"casual","example":"hey!"}]`})
	l := New(st, client, Config{Enabled: true, MaxExpressions: 100, SampleSize: 8})

	sessionID := store.GroupKey("g1")
	for i := 0; i < batchSize; i++ {
		l.OnMessage(sessionID, "u1", "Alice", "hello there")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		count, err := st.GetExpressionCount(sessionID)
		if err != nil {
			t.Fatalf("GetExpressionCount: %v", err)
		}
		if count > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected expressions to be learned after batch flush")
}

func TestOnMessageNoopWhenDisabled(t *testing.T) {
	st := newTestStore(t)
	client := llm.NewClient(&stubProvider{text: `[]`})
	l := New(st, client, Config{Enabled: false})

	for i := 0; i < batchSize; i++ {
		l.OnMessage(store.GroupKey("g1"), "u1", "Alice", "hello")
	}
	l.mu.Lock()
	n := len(l.buffers)
	l.mu.Unlock()
	if n != 0 {
		t.Errorf("expected no buffering when disabled, got %d session buffers", n)
	}
}

func TestGetExpressionContextEmptyWhenNone(t *testing.T) {
	st := newTestStore(t)
	l := New(st, llm.NewClient(&stubProvider{}), DefaultConfig())
	ctx, err := l.GetExpressionContext(store.GroupKey("g1"))
	if err != nil {
		t.Fatalf("GetExpressionContext: %v", err)
	}
	if ctx != "" {
		t.Errorf("expected empty context with no expressions, got %q", ctx)
	}
}
