// Package planner implements the Action Planner: a small, advisory LLM call
// that decides whether the bot should reply, wait, or consider the
// conversation complete for now.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/groupmind/groupmind/internal/store"
	"github.com/groupmind/groupmind/pkg/llm"
)

// Action is the planner's advisory decision.
type Action string

const (
	ActionReply    Action = "reply"
	ActionWait     Action = "wait"
	ActionComplete Action = "complete"
)

// Decision is the parsed planner output.
type Decision struct {
	Action     Action
	Reason     string
	WaitMillis int
}

// decisionLogCap bounds the per-session decision history.
const decisionLogCap = 20

// Config controls whether the planner runs at all.
type Config struct {
	Enabled bool
	Model   string
}

// Planner is advisory: the dispatcher, not the planner, acts on Decision.Action.
type Planner struct {
	cfg    Config
	client *llm.Client

	mu   sync.Mutex
	logs map[string][]Decision // session id -> last decisions, newest last
}

// New wires a Planner against an LLM client.
func New(client *llm.Client, cfg Config) *Planner {
	return &Planner{cfg: cfg, client: client, logs: make(map[string][]Decision)}
}

// Plan asks the model what to do given recent history and the triggering text.
// On any failure it falls back to ActionReply, per the error-handling contract.
func (p *Planner) Plan(ctx context.Context, sessionID, botNickname string, history []store.Message, triggerText string) Decision {
	if !p.cfg.Enabled {
		return Decision{Action: ActionReply}
	}

	prompt := buildPrompt(botNickname, history, triggerText, p.recent(sessionID, 5))
	resp, err := p.client.GenerateText(ctx, llm.TextRequest{
		Prompt:      prompt,
		Model:       p.cfg.Model,
		Temperature: 0.2,
		MaxTokens:   128,
	})
	decision := Decision{Action: ActionReply}
	if err != nil {
		log.Printf("[WARN] planner: llm call failed, defaulting to reply: %v", err)
	} else if parsed, ok := parseDecision(resp); ok {
		decision = parsed
	} else {
		log.Printf("[WARN] planner: could not parse response %q, defaulting to reply", resp)
	}

	if decision.Action == ActionWait {
		decision.WaitMillis = clampWaitMillis(decision.WaitMillis)
	} else {
		decision.WaitMillis = 0
	}
	p.append(sessionID, decision)
	return decision
}

func (p *Planner) recent(sessionID string, n int) []Decision {
	p.mu.Lock()
	defer p.mu.Unlock()
	log := p.logs[sessionID]
	if len(log) <= n {
		return append([]Decision{}, log...)
	}
	return append([]Decision{}, log[len(log)-n:]...)
}

func (p *Planner) append(sessionID string, d Decision) {
	p.mu.Lock()
	defer p.mu.Unlock()
	log := append(p.logs[sessionID], d)
	if len(log) > decisionLogCap {
		log = log[len(log)-decisionLogCap:]
	}
	p.logs[sessionID] = log
}

func buildPrompt(botNickname string, history []store.Message, triggerText string, recent []Decision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are deciding whether %s should reply now.\n", botNickname)
	b.WriteString("Recent conversation:\n")
	for _, m := range history {
		fmt.Fprintf(&b, "[%s] %s: %s\n", m.Timestamp.Format(time.RFC3339), m.UserName, m.Content)
	}
	fmt.Fprintf(&b, "Trigger message: %s\n", triggerText)
	if len(recent) > 0 {
		b.WriteString("Your recent decisions:\n")
		for _, d := range recent {
			fmt.Fprintf(&b, "- %s (%s)\n", d.Action, d.Reason)
		}
	}
	b.WriteString(`Respond with a single JSON object: {"action": "reply"|"wait"|"complete", "reason": "...", "wait_seconds": 0}`)
	return b.String()
}

type rawDecision struct {
	Action      string `json:"action"`
	Reason      string `json:"reason"`
	WaitSeconds int    `json:"wait_seconds"`
}

// parseDecision implements the robust-recovery contract: extract the first
// balanced {...} substring, try to parse it, and on failure strip trailing
// commas and retry once before giving up.
func parseDecision(text string) (Decision, bool) {
	candidate := extractFirstObject(text)
	if candidate == "" {
		return Decision{}, false
	}

	var raw rawDecision
	if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
		repaired := stripTrailingCommas(candidate)
		if err := json.Unmarshal([]byte(repaired), &raw); err != nil {
			return Decision{}, false
		}
	}

	action := Action(strings.ToLower(strings.TrimSpace(raw.Action)))
	switch action {
	case ActionReply, ActionWait, ActionComplete:
	default:
		return Decision{}, false
	}

	return Decision{Action: action, Reason: raw.Reason, WaitMillis: raw.WaitSeconds * 1000}, true
}

func extractFirstObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

func stripTrailingCommas(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\n' || s[j] == '\t' || s[j] == '\r') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func clampWaitMillis(ms int) int {
	const minWait, maxWait = 10000, 300000
	if ms < minWait {
		return minWait
	}
	if ms > maxWait {
		return maxWait
	}
	return ms
}
