package cache

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/quasilyte/gdata"
)

// Store persists opaque items by key. Load returns nil data and no error
// when the key is absent.
type Store interface {
	Load(key string) ([]byte, error)
	Save(key string, data []byte) error
}

// diskStore keeps items in the per-user application data directory.
type diskStore struct {
	m *gdata.Manager
}

// OpenStore opens the on-disk store of an application.
func OpenStore(appName string) (Store, error) {
	m, err := gdata.Open(gdata.Config{AppName: appName})
	if err != nil {
		return nil, errors.Wrapf(err, "open cache %q", appName)
	}
	return &diskStore{m: m}, nil
}

func (s *diskStore) Load(key string) ([]byte, error) {
	data, err := s.m.LoadItem(key)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", key)
	}
	return data, nil
}

func (s *diskStore) Save(key string, data []byte) error {
	return errors.Wrapf(s.m.SaveItem(key, data), "save %s", key)
}

// MemoryStore is a Store held in memory.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string][]byte)}
}

// Load returns a copy of the item.
func (s *MemoryStore) Load(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.items[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), data...), nil
}

// Save stores a copy of data.
func (s *MemoryStore) Save(key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = append([]byte(nil), data...)
	return nil
}

// Len returns the number of stored items.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
