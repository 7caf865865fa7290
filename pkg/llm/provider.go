// Package llm provides the LLM provider abstraction layer: provider-neutral
// request/response types plus a higher-level Client used by the
// conversation engine for text, tool-calling, and multimodal completions.
package llm

import (
	"context"
	"fmt"
)

// ProviderType represents the type of LLM provider.
type ProviderType string

const (
	ProviderOpenAI ProviderType = "openai"
	ProviderGoogle ProviderType = "google"
)

// Capability represents an optional provider capability.
type Capability string

const (
	CapabilityVision     Capability = "vision"
	CapabilityToolCalls  Capability = "tool_calls"
	CapabilityEmbeddings Capability = "embeddings"
)

// Message represents a single chat message in provider-neutral form.
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ImageURLs  []string   `json:"image_urls,omitempty"` // data: or https: URLs, multimodal user turns
}

// ToolCall is a single tool invocation emitted by the model.
type ToolCall struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ArgumentsJSON string `json:"arguments_json"`
}

// Tool declares a callable tool with a JSON-schema parameters object.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// CompletionRequest is the input to Client.Complete (tool-calling completion).
type CompletionRequest struct {
	Model       string
	Messages    []Message
	Tools       []Tool
	Temperature float64
	MaxTokens   int
}

// CompletionResponse is the output of Client.Complete.
type CompletionResponse struct {
	Content   string
	Reasoning string
	ToolCalls []ToolCall
	Raw       interface{}
}

// TextRequest is the input to Client.GenerateText.
type TextRequest struct {
	Prompt      string
	Messages    []Message
	Model       string
	Temperature float64
	MaxTokens   int
}

// MultimodalRequest is the input to Client.GenerateMultimodal; Messages may
// carry ImageURLs on user turns.
type MultimodalRequest struct {
	Messages    []Message
	Model       string
	Temperature float64
	MaxTokens   int
}

// Config holds provider configuration.
type Config struct {
	Type    ProviderType `json:"type"`
	APIKey  string       `json:"apiKey,omitempty"`
	BaseURL string       `json:"baseUrl,omitempty"`
	Model   string       `json:"model,omitempty"`
	Timeout int          `json:"timeout,omitempty"` // seconds
}

// Provider is the low-level interface each concrete backend implements.
// Client (below) is built on top of Provider and exposes the spec's
// complete/generate_text/generate_multimodal contract.
type Provider interface {
	Name() string
	Type() ProviderType
	GetConfig() Config
	Capabilities() []Capability

	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
	GenerateText(ctx context.Context, req TextRequest) (string, error)
	GenerateMultimodal(ctx context.Context, req MultimodalRequest) (string, error)
}

// ErrCapabilityNotSupported is returned when a provider lacks a capability.
var ErrCapabilityNotSupported = fmt.Errorf("capability not supported")

// Client is the generic LLM-client wrapper the dispatcher and humanizer
// bundle depend on. It is a thin pass-through to the configured Provider so
// that swapping providers never touches call sites.
type Client struct {
	provider Provider
}

// NewClient wraps a Provider in the spec's Client contract.
func NewClient(p Provider) *Client { return &Client{provider: p} }

func (c *Client) Provider() Provider { return c.provider }

// Complete drives a tool-calling completion.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	if c == nil || c.provider == nil {
		return CompletionResponse{}, fmt.Errorf("llm client: no provider configured")
	}
	return c.provider.Complete(ctx, req)
}

// GenerateText drives a plain text completion.
func (c *Client) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	if c == nil || c.provider == nil {
		return "", fmt.Errorf("llm client: no provider configured")
	}
	return c.provider.GenerateText(ctx, req)
}

// GenerateMultimodal drives a completion over text + image parts.
func (c *Client) GenerateMultimodal(ctx context.Context, req MultimodalRequest) (string, error) {
	if c == nil || c.provider == nil {
		return "", fmt.Errorf("llm client: no provider configured")
	}
	for _, cap := range c.provider.Capabilities() {
		if cap == CapabilityVision {
			return c.provider.GenerateMultimodal(ctx, req)
		}
	}
	return "", ErrCapabilityNotSupported
}
