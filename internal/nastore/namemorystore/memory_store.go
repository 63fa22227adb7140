package namemorystore

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/brandur/neoadmin/internal/nastore"
)

// MemoryStore is a Backend that lives only as long as the process does. Useful
// for tests and for running the console without touching disk.
type MemoryStore struct {
	items map[string][]byte
	mut   sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string][]byte),
	}
}

func (s *MemoryStore) GetItem(ctx context.Context, key string) ([]byte, error) {
	s.mut.RLock()
	defer s.mut.RUnlock()

	data, ok := s.items[key]
	if !ok {
		return nil, nastore.ErrKeyNotFound
	}

	return data, nil
}

func (s *MemoryStore) SetItem(ctx context.Context, key string, data []byte) error {
	s.mut.Lock()
	defer s.mut.Unlock()

	s.items[key] = data
	return nil
}

func (s *MemoryStore) RemoveItem(ctx context.Context, key string) error {
	s.mut.Lock()
	defer s.mut.Unlock()

	delete(s.items, key)
	return nil
}

func (s *MemoryStore) Keys(ctx context.Context) ([]string, error) {
	s.mut.RLock()
	defer s.mut.RUnlock()

	return slices.Sorted(maps.Keys(s.items)), nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mut.Lock()
	defer s.mut.Unlock()

	clear(s.items)
	return nil
}
