package topic

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

func TestOnMessageTriggersAnalysisAtThreshold(t *testing.T) {
	st := newTestStore(t)
	client := llm.NewClient(&stubProvider{text: `{"topics":[{"title":"weekend plans","keywords":["hiking"],"summary":"discussing hiking","is_continuation":false}]}`})
	tr := New(st, client, Config{Enabled: true, MessageThreshold: 3, TimeThreshold: time.Hour, MaxTopicsPerSession: 20})

	sessionID := store.GroupKey("g1")
	if err := st.SaveMessage(store.Message{SessionID: sessionID, Role: store.RoleUser, Content: "hi", Timestamp: time.Now()}); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	for i := 0; i < 3; i++ {
		tr.OnMessage(sessionID)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		topics, err := st.GetTopics(sessionID, 10)
		if err != nil {
			t.Fatalf("GetTopics: %v", err)
		}
		if len(topics) > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected a topic to be extracted after threshold reached")
}

func TestJaccardSimilarityIdenticalStrings(t *testing.T) {
	if s := jaccardSimilarity("weekend plans", "weekend plans"); s != 1 {
		t.Errorf("expected identity similarity 1, got %v", s)
	}
}

func TestJaccardSimilarityDisjointStrings(t *testing.T) {
	if s := jaccardSimilarity("abc", "xyz"); s != 0 {
		t.Errorf("expected disjoint similarity 0, got %v", s)
	}
}

func TestOnMessageNoopWhenDisabled(t *testing.T) {
	st := newTestStore(t)
	tr := New(st, llm.NewClient(&stubProvider{}), Config{Enabled: false})
	tr.OnMessage(store.GroupKey("g1"))
	tr.mu.Lock()
	n := len(tr.counters)
	tr.mu.Unlock()
	if n != 0 {
		t.Errorf("expected no counters tracked when disabled, got %d", n)
	}
}
