package docstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Adapter abre stores de un tipo concreto (memory, sqlite, couch, postgres).
type Adapter interface {
	Name() string
	Open(ctx context.Context, d Descriptor) (Store, error)
}

// ─── Registry Global ───

var (
	registryMu sync.RWMutex
	adapters   = make(map[string]Adapter)
)

// RegisterAdapter registra un adapter en el registry global.
// Llamar en init() de cada adapter.
func RegisterAdapter(a Adapter) {
	registryMu.Lock()
	defer registryMu.Unlock()

	name := a.Name()
	if _, exists := adapters[name]; exists {
		panic(fmt.Sprintf("docstore: adapter %q already registered", name))
	}
	adapters[name] = a
}

// GetAdapter obtiene un adapter por nombre.
func GetAdapter(name string) (Adapter, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	a, ok := adapters[name]
	return a, ok
}

// ListAdapters retorna los nombres registrados, ordenados.
func ListAdapters() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(adapters))
	for n := range adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Open abre el store que describe d.
func Open(ctx context.Context, d Descriptor) (Store, error) {
	a, ok := GetAdapter(d.Adapter)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAdapter, d.Adapter)
	}
	s, err := a.Open(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("docstore: open %s: %w", d, err)
	}
	return s, nil
}
