// Package openai implements llm.Provider against an OpenAI-compatible
// chat-completions API via the go-openai client.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/groupmind/groupmind/pkg/llm"
)

// Provider implements llm.Provider for OpenAI and OpenAI-compatible backends.
type Provider struct {
	config llm.Config
	client *openai.Client
}

// New creates a provider from config. The caller is expected to have
// validated cfg.APIKey is non-empty (the spec treats a missing key as a
// config error that should refuse initialization).
func New(cfg llm.Config) *Provider {
	occ := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		occ.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		if hc, ok := occ.HTTPClient.(*http.Client); ok {
			hc.Timeout = time.Duration(cfg.Timeout) * time.Second
		}
	}
	return &Provider{
		config: cfg,
		client: openai.NewClientWithConfig(occ),
	}
}

func (p *Provider) Name() string            { return "openai" }
func (p *Provider) Type() llm.ProviderType  { return llm.ProviderOpenAI }
func (p *Provider) GetConfig() llm.Config   { return p.config }

func (p *Provider) Capabilities() []llm.Capability {
	return []llm.Capability{llm.CapabilityVision, llm.CapabilityToolCalls, llm.CapabilityEmbeddings}
}

func (p *Provider) model(override string) string {
	if override != "" {
		return override
	}
	return p.config.Model
}

// Complete drives a tool-calling completion.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	oReq := openai.ChatCompletionRequest{
		Model:       p.model(req.Model),
		Messages:    toOpenAIMessages(req.Messages),
		Temperature: float32(req.Temperature),
	}
	if req.MaxTokens > 0 {
		oReq.MaxTokens = req.MaxTokens
	}
	for _, t := range req.Tools {
		oReq.Tools = append(oReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	resp, err := p.client.CreateChatCompletion(ctx, oReq)
	if err != nil {
		return llm.CompletionResponse{}, fmt.Errorf("openai: complete: %w", err)
	}
	if len(resp.Choices) == 0 {
		return llm.CompletionResponse{}, fmt.Errorf("openai: complete: empty response")
	}
	msg := resp.Choices[0].Message

	out := llm.CompletionResponse{
		Content: msg.Content,
		Raw:     resp,
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:            tc.ID,
			Name:          tc.Function.Name,
			ArgumentsJSON: tc.Function.Arguments,
		})
	}
	return out, nil
}

// GenerateText drives a plain text completion.
func (p *Provider) GenerateText(ctx context.Context, req llm.TextRequest) (string, error) {
	messages := req.Messages
	if req.Prompt != "" {
		messages = append(append([]llm.Message{}, messages...), llm.Message{Role: "user", Content: req.Prompt})
	}
	oReq := openai.ChatCompletionRequest{
		Model:       p.model(req.Model),
		Messages:    toOpenAIMessages(messages),
		Temperature: float32(req.Temperature),
	}
	if req.MaxTokens > 0 {
		oReq.MaxTokens = req.MaxTokens
	}
	resp, err := p.client.CreateChatCompletion(ctx, oReq)
	if err != nil {
		return "", fmt.Errorf("openai: generate_text: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: generate_text: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateMultimodal drives a completion where user turns may carry image URLs.
func (p *Provider) GenerateMultimodal(ctx context.Context, req llm.MultimodalRequest) (string, error) {
	oReq := openai.ChatCompletionRequest{
		Model:       p.model(req.Model),
		Messages:    toOpenAIMessages(req.Messages),
		Temperature: float32(req.Temperature),
	}
	if req.MaxTokens > 0 {
		oReq.MaxTokens = req.MaxTokens
	}
	resp, err := p.client.CreateChatCompletion(ctx, oReq)
	if err != nil {
		return "", fmt.Errorf("openai: generate_multimodal: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: generate_multimodal: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

func toOpenAIMessages(in []llm.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(in))
	for _, m := range in {
		om := openai.ChatCompletionMessage{
			Role:       m.Role,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		if len(m.ImageURLs) > 0 {
			parts := []openai.ChatMessagePart{}
			if m.Content != "" {
				parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: m.Content})
			}
			for _, u := range m.ImageURLs {
				parts = append(parts, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: u},
				})
			}
			om.MultiContent = parts
		} else {
			om.Content = m.Content
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.ArgumentsJSON,
				},
			})
		}
		out = append(out, om)
	}
	return out
}

var _ llm.Provider = (*Provider)(nil)
