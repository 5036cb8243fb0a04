package storage

import (
	"context"
	"sync"
)

// MemoryStorage keeps objects in process memory for development and tests.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]Object
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string]Object)}
}

func (m *MemoryStorage) Put(_ context.Context, key, contentType string, data []byte) error {
	key, err := normaliseKey(key)
	if err != nil {
		return err
	}
	copied := append([]byte(nil), data...)
	m.mu.Lock()
	m.objects[key] = Object{Key: key, ContentType: contentType, Data: copied}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) Get(_ context.Context, key string) (Object, error) {
	key, err := normaliseKey(key)
	if err != nil {
		return Object{}, err
	}
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return Object{}, ErrNotFound
	}
	obj.Data = append([]byte(nil), obj.Data...)
	return obj, nil
}

// Delete is idempotent, matching S3 semantics.
func (m *MemoryStorage) Delete(_ context.Context, key string) error {
	key, err := normaliseKey(key)
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

// Len reports how many objects are stored.
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
