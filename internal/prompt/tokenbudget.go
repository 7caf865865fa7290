package prompt

import (
	"log"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/groupmind/groupmind/internal/store"
)

// tokenCounter is a package-level tiktoken instance, loaded once; every
// provider this module wires (OpenAI and Google) tokenizes close enough to
// cl100k_base for budget purposes, so one encoding covers both.
var (
	tokenCounter     *tiktoken.Tiktoken
	tokenCounterOnce sync.Once
)

func initTokenCounter() {
	tokenCounterOnce.Do(func() {
		tk, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			log.Printf("[WARN] prompt: token budget will use a fallback estimate: %v", err)
			return
		}
		tokenCounter = tk
	})
}

func countTokens(s string) int {
	initTokenCounter()
	if tokenCounter != nil {
		return len(tokenCounter.Encode(s, nil, nil))
	}
	ascii, nonASCII := 0, 0
	for _, r := range s {
		if r <= 127 {
			ascii++
		} else {
			nonASCII++
		}
	}
	return ascii/4 + nonASCII*2 + 4
}

// TrimHistoryToBudget drops the oldest messages until the remaining
// history's token count fits within maxTokens; a non-positive maxTokens
// disables the budget and returns history unchanged.
func TrimHistoryToBudget(history []store.Message, maxTokens int) []store.Message {
	if maxTokens <= 0 || len(history) == 0 {
		return history
	}

	total := 0
	for _, m := range history {
		total += countTokens(m.Content)
	}
	if total <= maxTokens {
		return history
	}

	start := 0
	for total > maxTokens && start < len(history)-1 {
		total -= countTokens(history[start].Content)
		start++
	}
	return history[start:]
}
