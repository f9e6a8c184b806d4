// Package storage provides host.Storage implementations: an in-memory store
// for tab-scoped state and a SQLite key/value store for durable state.
package storage

import (
	"sync"

	"github.com/hazyhaar/frictionwatch/host"
)

// Memory is a map-backed host.Storage. Safe for concurrent use.
type Memory struct {
	mu sync.RWMutex
	m  map[string]string
}

var _ host.Storage = (*Memory)(nil)

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{m: make(map[string]string)}
}

func (s *Memory) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok
}

func (s *Memory) Set(key, value string) {
	s.mu.Lock()
	s.m[key] = value
	s.mu.Unlock()
}

// Len returns the number of keys.
func (s *Memory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}
