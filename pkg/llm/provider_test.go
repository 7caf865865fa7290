package llm

import (
	"context"
	"testing"
)

type stubProvider struct {
	caps []Capability
}

func (s *stubProvider) Name() string               { return "stub" }
func (s *stubProvider) Type() ProviderType         { return ProviderOpenAI }
func (s *stubProvider) GetConfig() Config          { return Config{} }
func (s *stubProvider) Capabilities() []Capability { return s.caps }

func (s *stubProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	return CompletionResponse{Content: "ok"}, nil
}

func (s *stubProvider) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	return "text", nil
}

func (s *stubProvider) GenerateMultimodal(ctx context.Context, req MultimodalRequest) (string, error) {
	return "multimodal", nil
}

func TestClientCompletePassesThrough(t *testing.T) {
	c := NewClient(&stubProvider{})
	resp, err := c.Complete(context.Background(), CompletionRequest{Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("expected content 'ok', got %q", resp.Content)
	}
}

func TestClientGenerateMultimodalRequiresVisionCapability(t *testing.T) {
	c := NewClient(&stubProvider{})
	if _, err := c.GenerateMultimodal(context.Background(), MultimodalRequest{}); err != ErrCapabilityNotSupported {
		t.Errorf("expected ErrCapabilityNotSupported, got %v", err)
	}

	c2 := NewClient(&stubProvider{caps: []Capability{CapabilityVision}})
	out, err := c2.GenerateMultimodal(context.Background(), MultimodalRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "multimodal" {
		t.Errorf("expected 'multimodal', got %q", out)
	}
}

func TestNilClientReturnsError(t *testing.T) {
	var c *Client
	if _, err := c.Complete(context.Background(), CompletionRequest{}); err == nil {
		t.Error("expected error for nil client")
	}
}
