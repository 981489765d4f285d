package kv

import (
	"context"

	gocache "github.com/patrickmn/go-cache"
)

type memoryStore struct {
	prefix string
	c      *gocache.Cache
}

// NewMemory crea un Store en memoria del proceso.
func NewMemory(prefix string) Store {
	return &memoryStore{prefix: prefix, c: gocache.New(gocache.NoExpiration, 0)}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	v, ok := m.c.Get(m.prefix + key)
	if !ok {
		return "", ErrNotFound
	}
	s, _ := v.(string)
	return s, nil
}

func (m *memoryStore) Set(_ context.Context, key, value string) error {
	m.c.Set(m.prefix+key, value, gocache.NoExpiration)
	return nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	m.c.Delete(m.prefix + key)
	return nil
}

func (m *memoryStore) Close() error {
	m.c.Flush()
	return nil
}
