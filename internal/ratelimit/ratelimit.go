// Package ratelimit gates outbound replies by combining a per-group cooldown,
// a per-user sliding window, and content deduplication. The cooldown and
// dedup checks are TTL'd keys in a Badger-backed key-value store; the sliding
// window is an in-memory map.
package ratelimit

import (
	"fmt"
	"hash/fnv"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/groupmind/groupmind/pkg/kv"
)

// Config controls the three independent checks.
type Config struct {
	GroupCooldown        time.Duration
	Window               time.Duration
	MaxTriggersPerWindow int
	DedupWindow          time.Duration
	CleanupInterval      time.Duration
}

// DefaultConfig matches the defaults named in the rate limiter contract.
func DefaultConfig() Config {
	return Config{
		GroupCooldown:        3 * time.Second,
		Window:               60 * time.Second,
		MaxTriggersPerWindow: 10,
		DedupWindow:          30 * time.Second,
		CleanupInterval:      5 * time.Minute,
	}
}

// Limiter enforces the three checks as a conjunction: Allow returns true only
// when none of group-cooldown, sliding-window, or dedup deny the message.
type Limiter struct {
	cfg Config
	kv  *kv.KV

	mu      sync.Mutex
	windows map[string][]time.Time // user -> trigger timestamps within the window
	stopCh  chan struct{}
}

// New wires a Limiter on top of an already-open KV store.
func New(store *kv.KV, cfg Config) *Limiter {
	l := &Limiter{
		cfg:     cfg,
		kv:      store,
		windows: make(map[string][]time.Time),
		stopCh:  make(chan struct{}),
	}
	return l
}

// Start launches the periodic cleanup sweep; call Stop to end it.
func (l *Limiter) Start() {
	go l.cleanupLoop()
}

// Stop ends the cleanup sweep.
func (l *Limiter) Stop() {
	close(l.stopCh)
}

func (l *Limiter) cleanupLoop() {
	interval := l.cfg.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.pruneWindows()
		case <-l.stopCh:
			return
		}
	}
}

func (l *Limiter) pruneWindows() {
	cutoff := time.Now().Add(-l.cfg.Window)
	l.mu.Lock()
	defer l.mu.Unlock()
	for user, stamps := range l.windows {
		kept := stamps[:0]
		for _, t := range stamps {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			delete(l.windows, user)
		} else {
			l.windows[user] = kept
		}
	}
}

// Allow reports whether userID may trigger a reply in groupID right now,
// given content (used for deduplication).
func (l *Limiter) Allow(userID, groupID, content string) bool {
	if l.groupCoolingDown(groupID) {
		return false
	}
	if l.windowExceeded(userID) {
		return false
	}
	if l.isDuplicate(userID, content) {
		return false
	}
	return true
}

// Record updates all three checks after a message has been allowed through.
func (l *Limiter) Record(userID, groupID, content string) {
	now := time.Now()

	if l.cfg.GroupCooldown > 0 {
		if err := l.kv.SetWithTTL(groupCooldownKey(groupID), "1", l.cfg.GroupCooldown); err != nil {
			log.Printf("[WARN] ratelimit: record group cooldown: %v", err)
		}
	}

	l.mu.Lock()
	l.windows[userID] = append(l.windows[userID], now)
	l.mu.Unlock()

	if l.cfg.DedupWindow > 0 {
		if err := l.kv.SetWithTTL(dedupKey(userID, content), "1", l.cfg.DedupWindow); err != nil {
			log.Printf("[WARN] ratelimit: record dedup: %v", err)
		}
	}
}

func (l *Limiter) groupCoolingDown(groupID string) bool {
	if l.cfg.GroupCooldown <= 0 {
		return false
	}
	ok, err := l.kv.Exists(groupCooldownKey(groupID))
	if err != nil {
		log.Printf("[WARN] ratelimit: check group cooldown: %v", err)
		return false
	}
	return ok
}

func (l *Limiter) windowExceeded(userID string) bool {
	if l.cfg.MaxTriggersPerWindow <= 0 {
		return false
	}
	cutoff := time.Now().Add(-l.cfg.Window)
	l.mu.Lock()
	defer l.mu.Unlock()
	count := 0
	for _, t := range l.windows[userID] {
		if t.After(cutoff) {
			count++
		}
	}
	return count >= l.cfg.MaxTriggersPerWindow
}

func (l *Limiter) isDuplicate(userID, content string) bool {
	if l.cfg.DedupWindow <= 0 {
		return false
	}
	ok, err := l.kv.Exists(dedupKey(userID, content))
	if err != nil {
		log.Printf("[WARN] ratelimit: check dedup: %v", err)
		return false
	}
	return ok
}

func groupCooldownKey(groupID string) string {
	return "ratelimit:cooldown:" + groupID
}

func dedupKey(userID, content string) string {
	return fmt.Sprintf("ratelimit:dedup:%s:%s", userID, hashContent(content))
}

// hashContent keeps dedup keys bounded in length.
func hashContent(content string) string {
	h := fnv.New64a()
	h.Write([]byte(content))
	return strconv.FormatUint(h.Sum64(), 16)
}
