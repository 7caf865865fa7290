package config

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/groupmind/groupmind/pkg/kv"
)

// Store layers a base config with per-group settings and per-user
// personalization overrides, all persisted as JSON fragments in the
// process's BadgerDB-backed key-value store. Layering is shallow: an
// override replaces a whole top-level key (e.g. "nicknames" or "frequency"),
// not a deep-merged sub-field, mirroring the flat override granularity the
// teacher's env.config KEY=VALUE layer offers.
type Store struct {
	kv *kv.KV

	mu       sync.Mutex
	watchers map[string][]chan struct{} // scope key -> subscribers
}

// New wires a Store over an already-open KV store, seeding the base layer
// with base if no global config is yet persisted.
func New(store *kv.KV, base Config) (*Store, error) {
	s := &Store{kv: store, watchers: make(map[string][]chan struct{})}
	if _, err := store.Get(globalKey()); err != nil {
		if err := s.writeLayer(globalKey(), base); err != nil {
			return nil, fmt.Errorf("config: seed base layer: %w", err)
		}
	}
	return s, nil
}

func globalKey() string              { return "config:global" }
func groupKey(groupID string) string { return "config:group:" + groupID }
func userKey(userID string) string   { return "config:user:" + userID }

// Effective merges base -> group settings -> user personalization, each
// layer only overriding the top-level keys it actually sets.
func (s *Store) Effective(groupID, userID string) (Config, error) {
	merged, err := s.readLayerRaw(globalKey())
	if err != nil {
		return Config{}, fmt.Errorf("config: read base layer: %w", err)
	}
	if groupID != "" {
		if err := s.overlay(merged, groupKey(groupID)); err != nil {
			return Config{}, err
		}
	}
	if userID != "" {
		if err := s.overlay(merged, userKey(userID)); err != nil {
			return Config{}, err
		}
	}

	blob, err := json.Marshal(merged)
	if err != nil {
		return Config{}, fmt.Errorf("config: remarshal effective config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(blob, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode effective config: %w", err)
	}
	return cfg, nil
}

// SetGlobal replaces the base layer's value for key and notifies watchers.
func (s *Store) SetGlobal(key string, value interface{}) error {
	return s.setLayerKey(globalKey(), key, value)
}

// SetGroup replaces groupID's override for key and notifies watchers.
func (s *Store) SetGroup(groupID, key string, value interface{}) error {
	return s.setLayerKey(groupKey(groupID), key, value)
}

// SetUser replaces userID's override for key and notifies watchers.
func (s *Store) SetUser(userID, key string, value interface{}) error {
	return s.setLayerKey(userKey(userID), key, value)
}

// Watch returns a channel that receives an empty struct every time any layer
// reachable by (groupID, userID) changes, plus an unsubscribe function. The
// caller should re-read Effective on each notification rather than trust a
// pushed snapshot, since a notification may originate from any layer.
func (s *Store) Watch(groupID, userID string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	keys := []string{globalKey()}
	if groupID != "" {
		keys = append(keys, groupKey(groupID))
	}
	if userID != "" {
		keys = append(keys, userKey(userID))
	}

	s.mu.Lock()
	for _, k := range keys {
		s.watchers[k] = append(s.watchers[k], ch)
	}
	s.mu.Unlock()

	unsubscribe := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, k := range keys {
			subs := s.watchers[k]
			for i, c := range subs {
				if c == ch {
					s.watchers[k] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
		}
	}
	return ch, unsubscribe
}

func (s *Store) notify(layerKey string) {
	s.mu.Lock()
	subs := append([]chan struct{}{}, s.watchers[layerKey]...)
	s.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *Store) setLayerKey(layerKey, field string, value interface{}) error {
	layer, err := s.readLayerRaw(layerKey)
	if err != nil {
		return fmt.Errorf("config: read layer %s: %w", layerKey, err)
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("config: encode %s: %w", field, err)
	}
	layer[field] = json.RawMessage(encoded)

	blob, err := json.Marshal(layer)
	if err != nil {
		return fmt.Errorf("config: encode layer %s: %w", layerKey, err)
	}
	if err := s.kv.Set(layerKey, string(blob)); err != nil {
		return fmt.Errorf("config: persist layer %s: %w", layerKey, err)
	}
	s.notify(layerKey)
	return nil
}

func (s *Store) writeLayer(layerKey string, cfg Config) error {
	blob, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return s.kv.Set(layerKey, string(blob))
}

// readLayerRaw loads a layer as a field->JSON map, returning an empty map
// (not an error) when the layer has never been set — group/user override
// layers are sparse by default.
func (s *Store) readLayerRaw(layerKey string) (map[string]json.RawMessage, error) {
	raw, err := s.kv.Get(layerKey)
	if err != nil {
		return map[string]json.RawMessage{}, nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// overlay merges layerKey's stored fields onto base, field by field.
func (s *Store) overlay(base map[string]json.RawMessage, layerKey string) error {
	override, err := s.readLayerRaw(layerKey)
	if err != nil {
		return fmt.Errorf("config: read layer %s: %w", layerKey, err)
	}
	for k, v := range override {
		base[k] = v
	}
	return nil
}
