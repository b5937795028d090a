package store

import (
	"context"
	"sync"
)

// memStore keeps partitions in memory, for tests and throwaway widgets.
type memStore struct {
	sync.RWMutex
	kv map[string][]byte
}

func NewMemStore() *memStore {
	return &memStore{kv: make(map[string][]byte)}
}

func (s *memStore) Get(_ context.Context, partition string) ([]byte, bool, error) {
	s.RLock()
	defer s.RUnlock()
	v, ok := s.kv[partition]
	if !ok {
		return nil, false, nil
	}
	return append([]byte{}, v...), true, nil
}

func (s *memStore) Set(_ context.Context, partition string, value []byte) error {
	s.Lock()
	s.kv[partition] = append([]byte{}, value...)
	s.Unlock()
	return nil
}

func (s *memStore) Close() error {
	return nil
}
