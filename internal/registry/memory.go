package registry

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store for tests and single-node development.
type MemoryStore struct {
	mu     sync.RWMutex
	routes map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{routes: make(map[string]string)}
}

func (s *MemoryStore) Put(_ context.Context, subdomain, address string) error {
	key := NormalizeKey(subdomain)
	if key == "" {
		return fmt.Errorf("registry: invalid subdomain %q", subdomain)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[key] = address
	return nil
}

func (s *MemoryStore) Get(_ context.Context, subdomain string) (string, error) {
	key := NormalizeKey(subdomain)
	if key == "" {
		return "", ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	address, ok := s.routes[key]
	if !ok {
		return "", ErrNotFound
	}
	return address, nil
}
