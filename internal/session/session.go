// Package session keeps an LRU cache of hot session metadata over the
// durable store, matching the conversation engine's "session manager"
// responsibility: sessions are created on first message, stay warm under
// load, and get evicted on cache pressure without losing their store rows.
package session

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/groupmind/groupmind/internal/store"
)

// Manager caches store.Session rows behind an LRU eviction policy.
type Manager struct {
	st       *store.Store
	capacity int

	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List // front = most recently used
}

type entry struct {
	id      string
	session store.Session
}

// New wires a Manager over st with the given cache capacity.
func New(st *store.Store, capacity int) *Manager {
	if capacity <= 0 {
		capacity = 512
	}
	return &Manager{
		st:       st,
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// GetOrCreate returns the cached session, loading or creating it in the
// store on a cache miss and promoting it to most-recently-used.
func (m *Manager) GetOrCreate(id string, typ store.SessionType, targetID string) (store.Session, error) {
	m.mu.Lock()
	if el, ok := m.items[id]; ok {
		m.order.MoveToFront(el)
		sess := el.Value.(*entry).session
		m.mu.Unlock()
		return sess, nil
	}
	m.mu.Unlock()

	sess, err := m.st.GetOrCreateSession(id, typ, targetID)
	if err != nil {
		return store.Session{}, fmt.Errorf("session: get or create: %w", err)
	}
	m.put(id, sess)
	return sess, nil
}

// Touch refreshes updated_at in the store and marks the cached entry most
// recently used; the cached copy's UpdatedAt is left as it was.
func (m *Manager) Touch(id string) error {
	if err := m.st.TouchSession(id); err != nil {
		return err
	}
	m.mu.Lock()
	if el, ok := m.items[id]; ok {
		m.order.MoveToFront(el)
	}
	m.mu.Unlock()
	return nil
}

// Reset deletes all messages for id and clears compressed_context, evicting
// the cached entry so the next GetOrCreate reloads the fresh identity row.
func (m *Manager) Reset(id string) error {
	if err := m.st.ResetSession(id); err != nil {
		return err
	}
	m.mu.Lock()
	if el, ok := m.items[id]; ok {
		m.order.Remove(el)
		delete(m.items, id)
	}
	m.mu.Unlock()
	return nil
}

// Evict drops id from the cache without touching the store; used by tests
// and by explicit cache-pressure handling outside the normal LRU path.
func (m *Manager) Evict(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.items[id]; ok {
		m.order.Remove(el)
		delete(m.items, id)
	}
}

// Len reports the number of cached entries.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

func (m *Manager) put(id string, sess store.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.items[id]; ok {
		el.Value.(*entry).session = sess
		m.order.MoveToFront(el)
		return
	}

	el := m.order.PushFront(&entry{id: id, session: sess})
	m.items[id] = el

	for m.order.Len() > m.capacity {
		oldest := m.order.Back()
		if oldest == nil {
			break
		}
		m.order.Remove(oldest)
		delete(m.items, oldest.Value.(*entry).id)
	}
}
