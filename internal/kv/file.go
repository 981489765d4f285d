package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/xumingyi/offline-shop-ionic3/internal/util/atomicwrite"
)

// fileStore persiste todo el mapa en un JSON. Cada Set reescribe el archivo
// de forma atómica; son pocas claves.
type fileStore struct {
	mu     sync.Mutex
	path   string
	prefix string
	data   map[string]string
}

func NewFile(path, prefix string) (Store, error) {
	if path == "" {
		return nil, errors.New("kv: file path required")
	}
	f := &fileStore{path: path, prefix: prefix, data: map[string]string{}}
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("kv: read %s: %w", path, err)
	case len(b) > 0:
		if err := json.Unmarshal(b, &f.data); err != nil {
			return nil, fmt.Errorf("kv: parse %s: %w", path, err)
		}
	}
	return f, nil
}

func (f *fileStore) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[f.prefix+key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (f *fileStore) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev, had := f.data[f.prefix+key]
	f.data[f.prefix+key] = value
	if err := atomicwrite.WriteJSON(f.path, f.data, 0o600); err != nil {
		if had {
			f.data[f.prefix+key] = prev
		} else {
			delete(f.data, f.prefix+key)
		}
		return err
	}
	return nil
}

func (f *fileStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[f.prefix+key]; !ok {
		return nil
	}
	delete(f.data, f.prefix+key)
	return atomicwrite.WriteJSON(f.path, f.data, 0o600)
}

func (f *fileStore) Close() error { return nil }
