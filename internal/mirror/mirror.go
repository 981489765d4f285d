// Package mirror mantiene una copia en memoria, ordenada por id, del
// contenido de un store. Solo cambia por Reload (apertura/complete) o por
// eventos del change feed, y toda lectura devuelve copias.
package mirror

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/xumingyi/offline-shop-ionic3/internal/domain/model"
)

// Entity es lo que el Mirror sabe de un documento.
type Entity[T any] interface {
	Key() string
	Clone() T
}

type Options[T any] struct {
	// Pending define qué documentos devuelve Pending.
	Pending func(T) bool
	// OnSize se llama con el tamaño tras cada mutación.
	OnSize func(int)
}

// Mirror es una secuencia estrictamente ascendente por Key, sin duplicados.
type Mirror[T Entity[T]] struct {
	mu    sync.RWMutex
	items []T
	opts  Options[T]
}

func New[T Entity[T]](opts Options[T]) *Mirror[T] {
	return &Mirror[T]{opts: opts}
}

func (m *Mirror[T]) find(id string) (int, bool) {
	return slices.BinarySearchFunc(m.items, id, func(e T, id string) int {
		return cmp.Compare(e.Key(), id)
	})
}

func (m *Mirror[T]) changed() {
	if m.opts.OnSize != nil {
		m.opts.OnSize(len(m.items))
	}
}

// InsertOrUpdate reemplaza en su lugar si el id existe; si no, lo inserta
// en la posición que mantiene el orden.
func (m *Mirror[T]) InsertOrUpdate(v T) {
	v = v.Clone()
	m.mu.Lock()
	defer m.mu.Unlock()
	i, found := m.find(v.Key())
	if found {
		m.items[i] = v
		return
	}
	m.items = slices.Insert(m.items, i, v)
	m.changed()
}

// Remove quita id. Un id desconocido es un no-op.
func (m *Mirror[T]) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, found := m.find(id)
	if !found {
		return false
	}
	m.items = slices.Delete(m.items, i, i+1)
	m.changed()
	return true
}

// Reload reemplaza todo el contenido. Si hay ids repetidos gana el último.
func (m *Mirror[T]) Reload(docs []T) {
	items := make([]T, 0, len(docs))
	for _, d := range docs {
		items = append(items, d.Clone())
	}
	slices.SortStableFunc(items, func(a, b T) int { return cmp.Compare(a.Key(), b.Key()) })
	items = compactLast(items)

	m.mu.Lock()
	m.items = items
	m.changed()
	m.mu.Unlock()
}

func compactLast[T Entity[T]](items []T) []T {
	out := items[:0]
	for i, v := range items {
		if i+1 < len(items) && items[i+1].Key() == v.Key() {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Apply aplica un evento del change feed.
func (m *Mirror[T]) Apply(ev model.ChangeEvent) error {
	switch ev.Kind {
	case model.ChangeDelete:
		m.Remove(ev.ID)
		return nil
	case model.ChangeUpsert:
		var v T
		if err := ev.Decode(&v); err != nil {
			return fmt.Errorf("mirror: decode %s: %w", ev.ID, err)
		}
		if v.Key() != ev.ID {
			return fmt.Errorf("mirror: event id %q does not match document %q", ev.ID, v.Key())
		}
		m.InsertOrUpdate(v)
		return nil
	default:
		return fmt.Errorf("mirror: unknown change kind %q", ev.Kind)
	}
}

func (m *Mirror[T]) Get(id string) (T, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, found := m.find(id)
	if !found {
		var zero T
		return zero, false
	}
	return m.items[i].Clone(), true
}

func (m *Mirror[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// All devuelve copias en orden ascendente por id.
func (m *Mirror[T]) All() []T {
	return m.collect(false, nil)
}

// Pending filtra con el predicado configurado; sin predicado no hay pendientes.
func (m *Mirror[T]) Pending() []T {
	if m.opts.Pending == nil {
		return []T{}
	}
	return m.collect(false, m.opts.Pending)
}

// MostRecentFirst devuelve copias en orden descendente por id. Los ids de
// ordenes son timestamps, así que lo más nuevo queda primero.
func (m *Mirror[T]) MostRecentFirst() []T {
	return m.collect(true, nil)
}

func (m *Mirror[T]) collect(desc bool, keep func(T) bool) []T {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]T, 0, len(m.items))
	for i := range m.items {
		v := m.items[i]
		if desc {
			v = m.items[len(m.items)-1-i]
		}
		if keep != nil && !keep(v) {
			continue
		}
		out = append(out, v.Clone())
	}
	return out
}
