// Package topic implements the background topic tracker: it watches message
// volume per session and periodically asks the LLM to extract or update the
// session's active topics.
package topic

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

// Config controls the analysis trigger thresholds.
type Config struct {
	Enabled             bool
	MessageThreshold    int
	TimeThreshold       time.Duration
	MaxTopicsPerSession int
	Model               string
}

// DefaultConfig matches the defaults named in the topic tracker contract.
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		MessageThreshold:    20,
		TimeThreshold:       10 * time.Minute,
		MaxTopicsPerSession: 20,
	}
}

type counter struct {
	messagesSinceCheck int
	lastCheckTime      time.Time
}

// Tracker watches inbound volume per session and runs LLM-backed analysis.
type Tracker struct {
	cfg    Config
	st     *store.Store
	client *llm.Client

	mu       sync.Mutex
	counters map[string]*counter
}

// New wires a Tracker against the store and LLM client.
func New(st *store.Store, client *llm.Client, cfg Config) *Tracker {
	return &Tracker{cfg: cfg, st: st, client: client, counters: make(map[string]*counter)}
}

// OnMessage increments sessionID's counter and triggers analysis asynchronously
// once the threshold conditions are met.
func (t *Tracker) OnMessage(sessionID string) {
	if !t.cfg.Enabled {
		return
	}

	t.mu.Lock()
	c, ok := t.counters[sessionID]
	if !ok {
		c = &counter{lastCheckTime: time.Now()}
		t.counters[sessionID] = c
	}
	c.messagesSinceCheck++

	shouldAnalyze := c.messagesSinceCheck >= t.cfg.MessageThreshold ||
		(time.Since(c.lastCheckTime) > t.cfg.TimeThreshold && c.messagesSinceCheck >= 15)

	var batchSize int
	if shouldAnalyze {
		batchSize = c.messagesSinceCheck
		c.messagesSinceCheck = 0
		c.lastCheckTime = time.Now()
	}
	t.mu.Unlock()

	if shouldAnalyze {
		go t.analyze(sessionID, batchSize)
	}
}

type extractedTopic struct {
	Title          string   `json:"title"`
	Keywords       []string `json:"keywords"`
	Summary        string   `json:"summary"`
	IsContinuation bool     `json:"is_continuation"`
}

type extractionResult struct {
	Topics []extractedTopic `json:"topics"`
}

func (t *Tracker) analyze(sessionID string, batchSize int) {
	ctx := context.Background()
	messages, err := t.st.GetMessages(sessionID, 80, nil)
	if err != nil {
		log.Printf("[WARN] topic: load messages: %v", err)
		return
	}
	existing, err := t.st.GetTopics(sessionID, 20)
	if err != nil {
		log.Printf("[WARN] topic: load existing topics: %v", err)
		return
	}

	prompt := buildPrompt(messages, existing)
	resp, err := t.client.GenerateText(ctx, llm.TextRequest{Prompt: prompt, Model: t.cfg.Model, Temperature: 0.3, MaxTokens: 600})
	if err != nil {
		log.Printf("[WARN] topic: generate: %v", err)
		return
	}

	result, err := parseExtraction(resp)
	if err != nil {
		log.Printf("[WARN] topic: parse: %v", err)
		return
	}

	for _, et := range result.Topics {
		if err := t.upsert(sessionID, et, batchSize, existing); err != nil {
			log.Printf("[WARN] topic: upsert: %v", err)
		}
	}
}

func buildPrompt(messages []store.Message, existing []store.Topic) string {
	var b strings.Builder
	b.WriteString("Extract the active discussion topics from this conversation as JSON: " +
		`{"topics":[{"title":"...","keywords":["..."],"summary":"...","is_continuation":false}]}` + "\n\n")
	b.WriteString("Conversation:\n")
	for _, m := range messages {
		fmt.Fprintf(&b, "%s: %s\n", m.UserName, m.Content)
	}
	if len(existing) > 0 {
		b.WriteString("\nExisting topics:\n")
		for _, et := range existing {
			fmt.Fprintf(&b, "- %s\n", et.Title)
		}
	}
	return b.String()
}

func parseExtraction(resp string) (extractionResult, error) {
	start := strings.IndexByte(resp, '{')
	end := strings.LastIndexByte(resp, '}')
	if start < 0 || end < start {
		return extractionResult{}, fmt.Errorf("no JSON object found")
	}
	var result extractionResult
	if err := json.Unmarshal([]byte(resp[start:end+1]), &result); err != nil {
		return extractionResult{}, fmt.Errorf("unmarshal: %w", err)
	}
	return result, nil
}

// upsert matches et against existing by exact title or character-set Jaccard
// similarity > 0.7; updates the match in place, else inserts a new topic.
func (t *Tracker) upsert(sessionID string, et extractedTopic, batchSize int, existing []store.Topic) error {
	for _, e := range existing {
		if e.Title == et.Title || jaccardSimilarity(e.Title, et.Title) > 0.7 {
			newCount := e.MessageCount + batchSize
			summary := et.Summary
			keywords := et.Keywords
			return t.st.UpdateTopic(e.ID, store.TopicPatch{
				Summary:      &summary,
				Keywords:     &keywords,
				MessageCount: &newCount,
			}, t.cfg.MaxTopicsPerSession)
		}
	}
	_, err := t.st.SaveTopic(store.Topic{
		SessionID:    sessionID,
		Title:        et.Title,
		Keywords:     et.Keywords,
		Summary:      et.Summary,
		MessageCount: batchSize,
	})
	return err
}

// jaccardSimilarity computes the Jaccard index over the character sets of a and b.
func jaccardSimilarity(a, b string) float64 {
	setA := charSet(a)
	setB := charSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	intersection := 0
	for r := range setA {
		if setB[r] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func charSet(s string) map[rune]bool {
	set := make(map[rune]bool)
	for _, r := range s {
		set[r] = true
	}
	return set
}
