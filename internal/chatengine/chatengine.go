// Package chatengine drives the bounded tool-calling agent loop: build
// prompt, call the LLM, dispatch any tool calls, repeat until the model
// stops calling tools, the iteration cap is hit, or end_session fires.
package chatengine

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/groupmind/groupmind/internal/prompt"
	"github.com/groupmind/groupmind/internal/skills"
	"github.com/groupmind/groupmind/internal/store"
	"github.com/groupmind/groupmind/internal/toolcatalog"
	"github.com/groupmind/groupmind/pkg/llm"
)

// defaultMaxIterations matches the chat engine contract's default cap.
const defaultMaxIterations = 20

// EmojiPicker decides whether to attach a sticker to a reply.
type EmojiPicker interface {
	PickEmoji(ctx context.Context, replyText string) (*store.Emoji, error)
}

// Config controls the loop's iteration cap and model.
type Config struct {
	MaxIterations int // 20 default; -1 disables the cap
	Model         string
	Temperature   float64
}

// DefaultConfig matches the chat engine contract's defaults.
func DefaultConfig() Config {
	return Config{MaxIterations: defaultMaxIterations, Temperature: 0.8}
}

// Result is what run_chat hands back to the dispatcher.
type Result struct {
	Messages     []string
	PendingAts   []string
	PendingQuote string
	ToolCalls    []llm.ToolCall
	EmojiPath    string
}

// Engine drives run_chat against a configured LLM client and emoji picker.
type Engine struct {
	cfg    Config
	client *llm.Client
	st     *store.Store
	emoji  EmojiPicker
}

// New wires an Engine against the LLM client, store, and emoji picker.
func New(client *llm.Client, st *store.Store, emoji EmojiPicker, cfg Config) *Engine {
	return &Engine{cfg: cfg, client: client, st: st, emoji: emoji}
}

var messageSeparator = regexp.MustCompile(`(?m)^\s*---\s*$`)

// RunChat implements the bounded agentic loop described by run_chat.
func (e *Engine) RunChat(ctx context.Context, promptCtx prompt.Context, tc *toolcatalog.ToolContext) (Result, error) {
	maxIterations := e.cfg.MaxIterations
	if maxIterations == 0 {
		maxIterations = defaultMaxIterations
	}

	var toolResultsForNext []string
	var allToolCalls []llm.ToolCall
	lastText := ""
	guard := newLoopGuard()

	for iteration := 0; maxIterations < 0 || iteration < maxIterations; iteration++ {
		promptCtx.Iteration = iteration
		promptCtx.ToolResults = toolResultsForNext

		visible := e.visibleTools(tc)
		llmTools := toLLMTools(visible)
		byName := make(map[string]skills.Tool, len(visible))
		for _, t := range visible {
			byName[t.Name] = t
		}

		systemPrompt := prompt.Build(promptCtx)
		resp, err := e.client.Complete(ctx, llm.CompletionRequest{
			Model:       e.cfg.Model,
			Messages:    []llm.Message{{Role: "system", Content: systemPrompt}},
			Tools:       llmTools,
			Temperature: e.cfg.Temperature,
		})
		if err != nil {
			return Result{}, fmt.Errorf("chatengine: complete: %w", err)
		}
		allToolCalls = append(allToolCalls, resp.ToolCalls...)
		if resp.Reasoning != "" {
			log.Printf("[TRACE] chatengine: reasoning (iteration %d): %s", iteration, resp.Reasoning)
		}

		if resp.Content != "" {
			lastText = resp.Content
		}
		if len(resp.ToolCalls) == 0 {
			break
		}

		toolResultsForNext = nil
		anyReturning := false
		for _, call := range resp.ToolCalls {
			args := toolcatalog.ParseArgs(call.ArgumentsJSON)

			if call.Name == "end_session" {
				invokeTool(ctx, byName, call, args)
				return Result{}, nil
			}

			tool, ok := byName[call.Name]
			if !ok {
				log.Printf("[WARN] chatengine: unknown tool %q", call.Name)
				continue
			}
			guard.record(call.Name, call.ArgumentsJSON, time.Now())
			result, err := tool.Handler(ctx, args)
			if err != nil {
				log.Printf("[WARN] chatengine: tool %q failed: %v", call.Name, err)
				if tool.ReturnToAI {
					toolResultsForNext = append(toolResultsForNext, fmt.Sprintf("%s error: %v", call.Name, err))
					anyReturning = true
				}
				continue
			}
			if tool.ReturnToAI {
				toolResultsForNext = append(toolResultsForNext, truncateToolResult(fmt.Sprintf("%s: %v", call.Name, result)))
				anyReturning = true
			}
		}

		if tc.EndSession {
			return Result{}, nil
		}
		if !anyReturning {
			break
		}
		if stuck, reason := guard.stuck(time.Now()); stuck {
			log.Printf("[WARN] chatengine: breaking tool loop: %s", reason)
			break
		}
	}

	messages := splitOutboundMessages(lastText)
	if err := e.st.SaveMessage(store.Message{SessionID: tc.Session, Role: store.RoleAssistant, Content: lastText}); err != nil {
		log.Printf("[WARN] chatengine: persist assistant message: %v", err)
	}

	var emojiPath string
	if e.emoji != nil && lastText != "" {
		chosen, err := e.emoji.PickEmoji(ctx, lastText)
		if err != nil {
			log.Printf("[WARN] chatengine: pick emoji: %v", err)
		} else if chosen != nil {
			emojiPath = chosen.FileName
		}
	}

	return Result{
		Messages:     messages,
		PendingAts:   tc.PendingAts,
		PendingQuote: tc.PendingQuote,
		ToolCalls:    allToolCalls,
		EmojiPath:    emojiPath,
	}, nil
}

func invokeTool(ctx context.Context, byName map[string]skills.Tool, call llm.ToolCall, args map[string]interface{}) {
	tool, ok := byName[call.Name]
	if !ok {
		return
	}
	if _, err := tool.Handler(ctx, args); err != nil {
		log.Printf("[WARN] chatengine: tool %q failed: %v", call.Name, err)
	}
}

func (e *Engine) visibleTools(tc *toolcatalog.ToolContext) []skills.Tool {
	fixed := toolcatalog.Build(tc)
	if tc.Skills == nil {
		return fixed
	}
	sessionTools := tc.Skills.GetTools(tc.Session)
	if len(sessionTools) == 0 {
		return fixed
	}
	out := make([]skills.Tool, len(fixed), len(fixed)+len(sessionTools))
	copy(out, fixed)
	for _, t := range sessionTools {
		out = append(out, t)
	}
	return out
}

func toLLMTools(tools []skills.Tool) []llm.Tool {
	out := make([]llm.Tool, len(tools))
	for i, t := range tools {
		out[i] = llm.Tool{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
	}
	return out
}

// splitOutboundMessages splits text on lines consisting solely of "---",
// trims each part, and drops empties.
func splitOutboundMessages(text string) []string {
	if text == "" {
		return nil
	}
	parts := messageSeparator.Split(text, -1)
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
