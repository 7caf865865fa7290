// Package google implements llm.Provider against the Gemini API via the
// official google.golang.org/genai SDK. It is the provider exercised by the
// humanizer emoji analyzer's multimodal image-description calls.
package google

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"github.com/groupmind/groupmind/pkg/llm"
)

// Provider implements llm.Provider for Google Gemini.
type Provider struct {
	config llm.Config
	client *genai.Client
}

// New creates a provider from config, dialing the Gemini API client.
func New(cfg llm.Config) (*Provider, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: new client: %w", err)
	}
	return &Provider{config: cfg, client: client}, nil
}

func (p *Provider) Name() string           { return "google" }
func (p *Provider) Type() llm.ProviderType { return llm.ProviderGoogle }
func (p *Provider) GetConfig() llm.Config  { return p.config }

func (p *Provider) Capabilities() []llm.Capability {
	return []llm.Capability{llm.CapabilityVision, llm.CapabilityToolCalls}
}

func (p *Provider) model(override string) string {
	if override != "" {
		return override
	}
	return p.config.Model
}

// Complete drives a tool-calling completion.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	contents, sysInstruction := toGenaiContents(req.Messages)
	cfg := &genai.GenerateContentConfig{}
	if sysInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(sysInstruction, genai.RoleUser)
	}
	if req.Temperature > 0 {
		t := float32(req.Temperature)
		cfg.Temperature = &t
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			schema, err := toGenaiSchema(t.Parameters)
			if err != nil {
				return llm.CompletionResponse{}, fmt.Errorf("google: tool %s schema: %w", t.Name, err)
			}
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model(req.Model), contents, cfg)
	if err != nil {
		return llm.CompletionResponse{}, fmt.Errorf("google: complete: %w", err)
	}
	return fromGenaiResponse(resp), nil
}

// GenerateText drives a plain text completion.
func (p *Provider) GenerateText(ctx context.Context, req llm.TextRequest) (string, error) {
	messages := req.Messages
	if req.Prompt != "" {
		messages = append(append([]llm.Message{}, messages...), llm.Message{Role: "user", Content: req.Prompt})
	}
	contents, sysInstruction := toGenaiContents(messages)
	cfg := &genai.GenerateContentConfig{}
	if sysInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(sysInstruction, genai.RoleUser)
	}
	if req.Temperature > 0 {
		t := float32(req.Temperature)
		cfg.Temperature = &t
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model(req.Model), contents, cfg)
	if err != nil {
		return "", fmt.Errorf("google: generate_text: %w", err)
	}
	return textOf(resp), nil
}

// GenerateMultimodal drives a completion where user turns carry image URLs
// (expected to be data: URLs for inline bytes, as produced by the emoji
// analyzer when it base64-encodes a sticker before describing it).
func (p *Provider) GenerateMultimodal(ctx context.Context, req llm.MultimodalRequest) (string, error) {
	contents, sysInstruction := toGenaiContents(req.Messages)
	cfg := &genai.GenerateContentConfig{}
	if sysInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(sysInstruction, genai.RoleUser)
	}
	if req.Temperature > 0 {
		t := float32(req.Temperature)
		cfg.Temperature = &t
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model(req.Model), contents, cfg)
	if err != nil {
		return "", fmt.Errorf("google: generate_multimodal: %w", err)
	}
	return textOf(resp), nil
}

func toGenaiContents(in []llm.Message) (contents []*genai.Content, systemInstruction string) {
	for _, m := range in {
		switch m.Role {
		case "system":
			if systemInstruction != "" {
				systemInstruction += "\n"
			}
			systemInstruction += m.Content
			continue
		case "tool":
			contents = append(contents, genai.NewContentFromParts(
				[]*genai.Part{genai.NewPartFromFunctionResponse(m.Name, map[string]interface{}{"result": m.Content})},
				genai.RoleUser,
			))
			continue
		}

		role := genai.Role(genai.RoleUser)
		if m.Role == "assistant" {
			role = genai.Role(genai.RoleModel)
		}

		var parts []*genai.Part
		if m.Content != "" {
			parts = append(parts, genai.NewPartFromText(m.Content))
		}
		for _, u := range m.ImageURLs {
			if data, mimeType, ok := decodeDataURL(u); ok {
				parts = append(parts, genai.NewPartFromBytes(data, mimeType))
			} else {
				parts = append(parts, genai.NewPartFromURI(u, "image/*"))
			}
		}
		for _, tc := range m.ToolCalls {
			var args map[string]interface{}
			_ = json.Unmarshal([]byte(tc.ArgumentsJSON), &args)
			parts = append(parts, genai.NewPartFromFunctionCall(tc.Name, args))
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}
	return contents, systemInstruction
}

func fromGenaiResponse(resp *genai.GenerateContentResponse) llm.CompletionResponse {
	out := llm.CompletionResponse{Raw: resp}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			out.Content += part.Text
		}
		if part.FunctionCall != nil {
			argsJSON, _ := json.Marshal(part.FunctionCall.Args)
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				ID:            part.FunctionCall.Name,
				Name:          part.FunctionCall.Name,
				ArgumentsJSON: string(argsJSON),
			})
		}
	}
	return out
}

func textOf(resp *genai.GenerateContentResponse) string {
	return fromGenaiResponse(resp).Content
}

func toGenaiSchema(params map[string]interface{}) (*genai.Schema, error) {
	if params == nil {
		return &genai.Schema{Type: genai.TypeObject}, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	var schema genai.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, err
	}
	return &schema, nil
}

func decodeDataURL(u string) (data []byte, mimeType string, ok bool) {
	const prefix = "data:"
	if len(u) < len(prefix) || u[:len(prefix)] != prefix {
		return nil, "", false
	}
	comma := -1
	for i, c := range u {
		if c == ',' {
			comma = i
			break
		}
	}
	if comma < 0 {
		return nil, "", false
	}
	header := u[len(prefix):comma]
	semi := -1
	for i, c := range header {
		if c == ';' {
			semi = i
			break
		}
	}
	if semi < 0 {
		return nil, "", false
	}
	mimeType = header[:semi]
	// payload is expected base64-encoded ("base64" after the ';')
	decoded, err := base64.StdEncoding.DecodeString(u[comma+1:])
	if err != nil {
		return nil, "", false
	}
	return decoded, mimeType, true
}

var _ llm.Provider = (*Provider)(nil)
