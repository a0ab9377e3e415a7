// File: internal/storage/memstore.go
package storage

import "sync"

// MemStore is an in-memory Store for tests and ephemeral identities.
type MemStore struct {
	mu     sync.RWMutex
	values map[string]string

	// FailSet, when non-nil, is returned by every Set call. Tests use it to
	// exercise persistence-failure paths.
	FailSet error
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{values: make(map[string]string)}
}

func (s *MemStore) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *MemStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSet != nil {
		return s.FailSet
	}
	s.values[key] = value
	return nil
}

func (s *MemStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}
