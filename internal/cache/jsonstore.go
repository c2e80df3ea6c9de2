// Package cache provides small persistent JSON-document caches shared by
// the hash index, the resolver's negative-lookup tier, and the score
// recompute stage. Each store is a single JSON object on disk, loaded at
// startup and saved explicitly.
package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/logging"
)

// JSONStore is a mutex-guarded map persisted as one JSON document.
// The value type is supplied by the caller.
type JSONStore[V any] struct {
	mu      sync.RWMutex
	path    string
	entries map[string]V
	dirty   bool
}

// NewJSONStore opens the store at path, loading existing entries. An
// unreadable or corrupt file is logged and treated as an empty cache.
func NewJSONStore[V any](path string) *JSONStore[V] {
	s := &JSONStore[V]{
		path:    path,
		entries: make(map[string]V),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Warn("cache file unreadable, starting cold", "path", path, "error", err)
		}
		return s
	}

	if err := json.Unmarshal(data, &s.entries); err != nil {
		logging.Warn("cache file corrupt, starting cold", "path", path, "error", err)
		s.entries = make(map[string]V)
	}

	return s
}

// Get returns the entry for key and whether it was present.
func (s *JSONStore[V]) Get(key string) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[key]
	return v, ok
}

// Set stores the entry for key.
func (s *JSONStore[V]) Set(key string, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = value
	s.dirty = true
}

// Delete removes the entry for key if present.
func (s *JSONStore[V]) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; ok {
		delete(s.entries, key)
		s.dirty = true
	}
}

// Len returns the number of entries.
func (s *JSONStore[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Keys returns a snapshot of all keys.
func (s *JSONStore[V]) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}

// Save writes the store back to disk if it changed since the last save.
// The write goes through a temp file and rename so a crash cannot leave
// a half-written document.
func (s *JSONStore[V]) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return nil
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}

	s.dirty = false
	return nil
}
