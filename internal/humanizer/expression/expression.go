// Package expression implements the speaking-habit learner: it buffers
// inbound user messages per session and, on flush, asks the LLM to describe
// each active user's style as a handful of situation/style/example habits.
package expression

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"

	"github.com/groupmind/groupmind/internal/store"
	"github.com/groupmind/groupmind/pkg/llm"
)

// batchSize is how many buffered messages trigger a flush.
const batchSize = 30

// minMessagesPerUser is the per-user message count required to learn from them.
const minMessagesPerUser = 3

// Config controls the per-session expression cap and retrieval sample size.
type Config struct {
	Enabled        bool
	MaxExpressions int
	SampleSize     int
	Model          string
}

// DefaultConfig matches the defaults named in the expression learner contract.
func DefaultConfig() Config {
	return Config{Enabled: true, MaxExpressions: 100, SampleSize: 8}
}

type bufferedMessage struct {
	userID   string
	userName string
	content  string
}

// Learner buffers inbound messages per session and flushes them through the LLM.
type Learner struct {
	cfg    Config
	st     *store.Store
	client *llm.Client

	mu      sync.Mutex
	buffers map[string][]bufferedMessage
}

// New wires a Learner against the store and LLM client.
func New(st *store.Store, client *llm.Client, cfg Config) *Learner {
	return &Learner{cfg: cfg, st: st, client: client, buffers: make(map[string][]bufferedMessage)}
}

// OnMessage buffers an inbound message, flushing asynchronously once the
// session's buffer reaches batchSize.
func (l *Learner) OnMessage(sessionID, userID, userName, content string) {
	if !l.cfg.Enabled {
		return
	}
	l.mu.Lock()
	l.buffers[sessionID] = append(l.buffers[sessionID], bufferedMessage{userID, userName, content})
	full := len(l.buffers[sessionID]) >= batchSize
	var batch []bufferedMessage
	if full {
		batch = l.buffers[sessionID]
		l.buffers[sessionID] = nil
	}
	l.mu.Unlock()

	if full {
		go l.flush(sessionID, batch)
	}
}

type habit struct {
	Situation string `json:"situation"`
	Style     string `json:"style"`
	Example   string `json:"example"`
}

func (l *Learner) flush(sessionID string, batch []bufferedMessage) {
	byUser := make(map[string][]bufferedMessage)
	for _, m := range batch {
		byUser[m.userID] = append(byUser[m.userID], m)
	}

	for userID, msgs := range byUser {
		if len(msgs) < minMessagesPerUser {
			continue
		}
		habits, err := l.learnHabits(context.Background(), msgs)
		if err != nil {
			log.Printf("[WARN] expression: learn habits for user %s: %v", userID, err)
			continue
		}
		for _, h := range habits {
			e := store.Expression{
				SessionID: sessionID,
				UserID:    userID,
				UserName:  msgs[0].userName,
				Situation: h.Situation,
				Style:     h.Style,
				Example:   h.Example,
			}
			if err := l.st.SaveExpression(e); err != nil {
				log.Printf("[WARN] expression: save: %v", err)
				continue
			}
		}
		l.trimToCap(sessionID)
	}
}

func (l *Learner) learnHabits(ctx context.Context, msgs []bufferedMessage) ([]habit, error) {
	var b strings.Builder
	b.WriteString("Describe this user's speaking habits as a JSON list of 2 to 4 objects, each " +
		`{"situation":"...","style":"...","example":"..."}. Messages:` + "\n")
	for _, m := range msgs {
		fmt.Fprintf(&b, "- %s\n", m.content)
	}

	resp, err := l.client.GenerateText(ctx, llm.TextRequest{Prompt: b.String(), Model: l.cfg.Model, Temperature: 0.5, MaxTokens: 400})
	if err != nil {
		return nil, fmt.Errorf("expression: generate: %w", err)
	}

	start := strings.IndexByte(resp, '[')
	end := strings.LastIndexByte(resp, ']')
	if start < 0 || end < start {
		return nil, fmt.Errorf("expression: no JSON list in response")
	}
	var habits []habit
	if err := json.Unmarshal([]byte(resp[start:end+1]), &habits); err != nil {
		return nil, fmt.Errorf("expression: parse habits: %w", err)
	}
	if len(habits) > 4 {
		habits = habits[:4]
	}
	return habits, nil
}

func (l *Learner) trimToCap(sessionID string) {
	maxExpr := l.cfg.MaxExpressions
	if maxExpr <= 0 {
		maxExpr = 100
	}
	count, err := l.st.GetExpressionCount(sessionID)
	if err != nil {
		log.Printf("[WARN] expression: count: %v", err)
		return
	}
	if count <= maxExpr {
		return
	}
	if err := l.st.DeleteOldestExpressions(sessionID, maxExpr); err != nil {
		log.Printf("[WARN] expression: trim: %v", err)
	}
}

// GetExpressionContext samples sampleSize expressions from the last
// 3*sampleSize rows, shuffles them, and formats them as a bullet list for
// prompt injection. Returns "" when there are none.
func (l *Learner) GetExpressionContext(sessionID string) (string, error) {
	sampleSize := l.cfg.SampleSize
	if sampleSize <= 0 {
		sampleSize = 8
	}
	pool, err := l.st.GetExpressions(sessionID, sampleSize*3)
	if err != nil {
		return "", fmt.Errorf("expression: get context: %w", err)
	}
	if len(pool) == 0 {
		return "", nil
	}

	rand.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	if len(pool) > sampleSize {
		pool = pool[:sampleSize]
	}

	var b strings.Builder
	for _, e := range pool {
		fmt.Fprintf(&b, "- %s tends to %s when %s (e.g. %q)\n", e.UserName, e.Style, e.Situation, e.Example)
	}
	return b.String(), nil
}
