// Package memory implements the two-stage "ReAct" memory retrieval stage:
// a cheap question-generation call decides whether retrieval is needed at
// all, and only then does a bounded tool-calling search agent run against
// the store.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/groupmind/groupmind/internal/store"
	"github.com/groupmind/groupmind/pkg/llm"
)

// sentinelNoRetrieval is emitted by the question-generation stage when no
// lookup is warranted.
const sentinelNoRetrieval = "NO_RETRIEVAL_NEEDED"

// Config controls the search agent's iteration and time budget.
type Config struct {
	Enabled       bool
	MaxIterations int
	Timeout       time.Duration
	Model         string
}

// DefaultConfig matches the defaults named in the memory retrieval contract.
func DefaultConfig() Config {
	return Config{Enabled: true, MaxIterations: 3, Timeout: 15 * time.Second}
}

// Retriever drives the two-stage ReAct retrieval against the store.
type Retriever struct {
	cfg    Config
	st     *store.Store
	client *llm.Client
}

// New wires a Retriever against the store and LLM client.
func New(st *store.Store, client *llm.Client, cfg Config) *Retriever {
	return &Retriever{cfg: cfg, st: st, client: client}
}

// Retrieve runs question generation then, if warranted, the bounded search
// agent. Returns "" when no retrieval was needed or nothing was found.
func (r *Retriever) Retrieve(ctx context.Context, sessionID, senderName, trigger string, history []store.Message) (string, error) {
	if !r.cfg.Enabled {
		return "", nil
	}

	question, err := r.generateQuestion(ctx, senderName, trigger, history)
	if err != nil {
		return "", fmt.Errorf("memory: generate question: %w", err)
	}
	if question == "" {
		return "", nil
	}

	return r.search(ctx, sessionID, question)
}

func (r *Retriever) generateQuestion(ctx context.Context, senderName, trigger string, history []store.Message) (string, error) {
	recent := history
	if len(recent) > 15 {
		recent = recent[len(recent)-15:]
	}

	var b strings.Builder
	b.WriteString("Given this conversation, decide whether answering the latest message needs looking up " +
		"past chat history or facts about a specific user. If yes, emit exactly one key question to search for. " +
		"If not, reply with exactly: " + sentinelNoRetrieval + "\n\n")
	for _, m := range recent {
		fmt.Fprintf(&b, "%s: %s\n", m.UserName, m.Content)
	}
	fmt.Fprintf(&b, "\n%s just said: %s\n", senderName, trigger)

	resp, err := r.client.GenerateText(ctx, llm.TextRequest{Prompt: b.String(), Model: r.cfg.Model, Temperature: 0.2, MaxTokens: 120})
	if err != nil {
		return "", err
	}
	if strings.Contains(resp, sentinelNoRetrieval) {
		return "", nil
	}
	return strings.TrimSpace(resp), nil
}

var searchTools = []llm.Tool{
	{
		Name:        "search_chat_history",
		Description: "Search this session's chat history for messages containing a keyword.",
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"keyword": map[string]interface{}{"type": "string"}},
			"required":   []string{"keyword"},
		},
	},
	{
		Name:        "search_user_history",
		Description: "Look up recent messages authored by a specific user id.",
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"user_id": map[string]interface{}{"type": "string"}},
			"required":   []string{"user_id"},
		},
	},
	{
		Name:        "found_answer",
		Description: "Terminate the search, reporting whether an answer was found.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"answer": map[string]interface{}{"type": "string"},
				"found":  map[string]interface{}{"type": "boolean"},
			},
			"required": []string{"found"},
		},
	},
}

type foundAnswerArgs struct {
	Answer string `json:"answer"`
	Found  bool   `json:"found"`
}

// search drives the bounded tool-calling agent: up to cfg.MaxIterations
// rounds, under a cfg.Timeout wall-clock budget.
func (r *Retriever) search(ctx context.Context, sessionID, question string) (string, error) {
	maxIterations := r.cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 3
	}
	timeout := r.cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	messages := []llm.Message{
		{Role: "system", Content: "Answer the question using the available tools, then call found_answer."},
		{Role: "user", Content: question},
	}

	var accumulated []string
	for i := 0; i < maxIterations; i++ {
		if ctx.Err() != nil {
			break
		}

		resp, err := r.client.Complete(ctx, llm.CompletionRequest{
			Model:       r.cfg.Model,
			Messages:    messages,
			Tools:       searchTools,
			Temperature: 0.1,
			MaxTokens:   300,
		})
		if err != nil {
			log.Printf("[WARN] memory: complete: %v", err)
			break
		}
		if len(resp.ToolCalls) == 0 {
			if resp.Content != "" {
				accumulated = append(accumulated, resp.Content)
			}
			break
		}

		messages = append(messages, llm.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})

		var terminate bool
		var terminateAnswer string
		for _, tc := range resp.ToolCalls {
			result, done, answer := r.runTool(sessionID, tc)
			messages = append(messages, llm.Message{Role: "tool", Content: result, ToolCallID: tc.ID})
			if result != "" {
				accumulated = append(accumulated, result)
			}
			if done {
				terminate = true
				terminateAnswer = answer
			}
		}
		if terminate {
			return terminateAnswer, nil
		}
	}

	return strings.Join(accumulated, "\n"), nil
}

// runTool executes a single tool call, returning its textual result plus
// whether it terminates the search and, if so, the final answer text.
func (r *Retriever) runTool(sessionID string, tc llm.ToolCall) (result string, done bool, answer string) {
	switch tc.Name {
	case "search_chat_history":
		var args struct {
			Keyword string `json:"keyword"`
		}
		if err := json.Unmarshal([]byte(tc.ArgumentsJSON), &args); err != nil || args.Keyword == "" {
			return "invalid arguments", false, ""
		}
		msgs, err := r.st.SearchMessages(sessionID, args.Keyword, 10)
		if err != nil {
			log.Printf("[WARN] memory: search chat history: %v", err)
			return "search failed", false, ""
		}
		return formatMessages(msgs), false, ""

	case "search_user_history":
		var args struct {
			UserID string `json:"user_id"`
		}
		if err := json.Unmarshal([]byte(tc.ArgumentsJSON), &args); err != nil || args.UserID == "" {
			return "invalid arguments", false, ""
		}
		msgs, err := r.st.GetMessagesByUser(args.UserID, sessionID, 10)
		if err != nil {
			log.Printf("[WARN] memory: search user history: %v", err)
			return "search failed", false, ""
		}
		return formatMessages(msgs), false, ""

	case "found_answer":
		var args foundAnswerArgs
		if err := json.Unmarshal([]byte(tc.ArgumentsJSON), &args); err != nil {
			return "", true, ""
		}
		if args.Found {
			return args.Answer, true, args.Answer
		}
		return "", true, ""

	default:
		return "unknown tool", false, ""
	}
}

func formatMessages(msgs []store.Message) string {
	if len(msgs) == 0 {
		return "no matches"
	}
	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "%s: %s\n", m.UserName, m.Content)
	}
	return b.String()
}
