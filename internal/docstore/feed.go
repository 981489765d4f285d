package docstore

import (
	"context"
	"sync"
	"time"
)

// Notifier despierta a los watchers locales cuando hay una escritura.
// Wait retorna un canal que se cierra en el próximo Broadcast.
type Notifier struct {
	mu sync.Mutex
	ch chan struct{}
}

func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan struct{})}
}

func (n *Notifier) Wait() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ch
}

func (n *Notifier) Broadcast() {
	n.mu.Lock()
	defer n.mu.Unlock()
	close(n.ch)
	n.ch = make(chan struct{})
}

// Follow implementa Watch sobre Changes: pagina hasta agotar, espera una
// notificación local o el intervalo de polling, y repite. wake puede ser nil
// (solo polling). Un error de Changes o de fn termina el seguimiento.
func Follow(ctx context.Context, s Store, since string, interval time.Duration, wake func() <-chan struct{}, fn func(Change) error) error {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	if since == SinceNow {
		info, err := s.Info(ctx)
		if err != nil {
			return err
		}
		since = info.UpdateSeq
	}
	const page = 100
	for {
		// Tomar el canal antes de leer para no perder una escritura que
		// ocurra entre Changes y el select.
		var w <-chan struct{}
		if wake != nil {
			w = wake()
		}
		for {
			res, err := s.Changes(ctx, since, page)
			if err != nil {
				return err
			}
			for _, c := range res.Results {
				if err := fn(c); err != nil {
					return err
				}
			}
			if res.LastSeq != "" {
				since = res.LastSeq
			}
			if len(res.Results) < page {
				break
			}
		}
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-w:
			t.Stop()
		case <-t.C:
		}
	}
}

// Upsert lee el documento vigente, aplica fn y escribe; reintenta ante
// ErrConflict. fn recibe nil si el documento no existe y retorna el cuerpo
// nuevo, o write=false para no escribir. Retorna la revisión resultante
// ("" si no hubo escritura).
func Upsert(ctx context.Context, s Store, id string, fn func(cur *Doc) (next Doc, write bool, err error)) (string, error) {
	const maxAttempts = 10
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var cur *Doc
		d, err := s.Get(ctx, id)
		switch {
		case err == nil:
			cur = &d
		case IsNotFound(err):
		default:
			return "", err
		}
		next, write, err := fn(cur)
		if err != nil {
			return "", err
		}
		if !write {
			return "", nil
		}
		next.ID = id
		next.Rev = ""
		if cur != nil {
			next.Rev = cur.Rev
		}
		rev, err := s.Put(ctx, next)
		if err == nil {
			return rev, nil
		}
		if !IsConflict(err) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}
