// Package skills implements the process-wide skill catalog plus the
// per-session, TTL-bounded tool loading that lets a conversation dynamically
// pull in a skill's tools for an hour before they expire.
package skills

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// ToolHandler executes a tool call within a request scope and returns a
// JSON-serializable result (or an error surfaced to the model as-is).
type ToolHandler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Tool is a single callable exposed to the LLM.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
	Handler     ToolHandler
	ReturnToAI  bool
}

// Skill is a named bundle of tools that can be loaded into a session.
type Skill struct {
	Name        string
	Description string
	Tools       []Tool
}

// sessionTool is a loaded tool plus its expiry, keyed by "skill.tool".
type sessionTool struct {
	tool      Tool
	loadedAt  time.Time
	expiresAt time.Time
}

// skillTTL is how long a loaded skill's tools remain callable in a session.
const skillTTL = time.Hour

// Registry holds the process-wide skill catalog and the per-session loaded
// tool sets, mirroring the teacher's registry-of-named-things shape
// (map + Get/List) generalized to two scopes instead of one.
type Registry struct {
	mu     sync.RWMutex
	skills map[string]*Skill

	sessionMu sync.Mutex
	sessions  map[string]map[string]*sessionTool // session id -> "skill.tool" -> entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		skills:   make(map[string]*Skill),
		sessions: make(map[string]map[string]*sessionTool),
	}
}

// Register adds or replaces a skill in the global, process-lifetime catalog.
func (r *Registry) Register(s *Skill) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skills[s.Name] = s
	log.Printf("[skills] registered: %s (%d tools)", s.Name, len(s.Tools))
}

// Get returns a skill by name from the global catalog.
func (r *Registry) Get(name string) *Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.skills[name]
}

// List returns every registered skill.
func (r *Registry) List() []*Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Skill, 0, len(r.skills))
	for _, s := range r.skills {
		out = append(out, s)
	}
	return out
}

// LoadSkill copies skillName's tools into sessionID's loaded-skill set, each
// keyed "skillName.toolName" and expiring skillTTL from now.
func (r *Registry) LoadSkill(sessionID, skillName string) error {
	skill := r.Get(skillName)
	if skill == nil {
		return fmt.Errorf("skills: unknown skill %q", skillName)
	}

	now := time.Now()
	r.sessionMu.Lock()
	defer r.sessionMu.Unlock()
	loaded, ok := r.sessions[sessionID]
	if !ok {
		loaded = make(map[string]*sessionTool)
		r.sessions[sessionID] = loaded
	}
	for _, t := range skill.Tools {
		key := skillName + "." + t.Name
		loaded[key] = &sessionTool{tool: t, loadedAt: now, expiresAt: now.Add(skillTTL)}
	}
	return nil
}

// UnloadSkill removes skillName's tools from sessionID's loaded set.
func (r *Registry) UnloadSkill(sessionID, skillName string) {
	r.sessionMu.Lock()
	defer r.sessionMu.Unlock()
	loaded, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	prefix := skillName + "."
	for key := range loaded {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(loaded, key)
		}
	}
	if len(loaded) == 0 {
		delete(r.sessions, sessionID)
	}
}

// GetTools returns the union of sessionID's currently non-expired loaded
// tools, lazily dropping any that have expired.
func (r *Registry) GetTools(sessionID string) map[string]Tool {
	now := time.Now()
	r.sessionMu.Lock()
	defer r.sessionMu.Unlock()

	loaded, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make(map[string]Tool)
	for key, st := range loaded {
		if now.After(st.expiresAt) {
			delete(loaded, key)
			continue
		}
		out[key] = st.tool
	}
	if len(loaded) == 0 {
		delete(r.sessions, sessionID)
	}
	return out
}

// Sweep purges expired entries and empty session maps across every session.
// Intended to run on a periodic ticker (every 10 minutes per the loaded-skill
// TTL contract).
func (r *Registry) Sweep() {
	now := time.Now()
	r.sessionMu.Lock()
	defer r.sessionMu.Unlock()
	for sessionID, loaded := range r.sessions {
		for key, st := range loaded {
			if now.After(st.expiresAt) {
				delete(loaded, key)
			}
		}
		if len(loaded) == 0 {
			delete(r.sessions, sessionID)
		}
	}
}

// StartSweeper launches the periodic sweep on a 10-minute ticker and returns
// a stop function.
func (r *Registry) StartSweeper() (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Sweep()
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}
