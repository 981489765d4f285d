// Package tiered combina un tier volátil (memoria del proceso) con un tier
// durable (SQLite). El Worker replica contra el durable; una sync local
// continua (el "bridge") copia el durable al volátil, que es donde leen el
// Mirror y las consultas.
package tiered

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xumingyi/offline-shop-ionic3/internal/docstore"
	_ "github.com/xumingyi/offline-shop-ionic3/internal/docstore/adapters/memory"
	_ "github.com/xumingyi/offline-shop-ionic3/internal/docstore/adapters/sqlite"
	"github.com/xumingyi/offline-shop-ionic3/internal/observability/logger"
	"github.com/xumingyi/offline-shop-ionic3/internal/replication"
)

type Options struct {
	// Dir del tier durable; vacío = directorio actual.
	Dir            string
	RevsLimit      int
	AutoCompaction bool
	SearchFields   []string
	ScopeField     string

	// VolatileAdapter por defecto "memory".
	VolatileAdapter string

	BatchSize  int
	NewRetryer func() replication.Retryer
	// OnError recibe los errores del bridge; no afectan los flags de estado.
	OnError func(error)
	Logger  *zap.Logger
}

// Store es un par volátil/durable con su bridge corriendo.
type Store struct {
	name     string
	volatile docstore.Store
	durable  docstore.Store
	durDesc  docstore.Descriptor
	opts     Options
	log      *zap.Logger

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Open abre ambos tiers, copia el durable al volátil y arranca el bridge.
// El tier volátil es nuevo en cada Open.
func Open(ctx context.Context, name string, opts Options) (*Store, error) {
	if name == "" {
		return nil, errors.New("tiered: empty store name")
	}
	if opts.VolatileAdapter == "" {
		opts.VolatileAdapter = "memory"
	}
	log := logger.OrNamed(opts.Logger, "tiered").With(logger.Store(name))

	durDesc := docstore.Descriptor{Adapter: "sqlite", Name: name, Options: docstore.Options{
		Dir:            opts.Dir,
		RevsLimit:      opts.RevsLimit,
		AutoCompaction: opts.AutoCompaction,
		SearchFields:   opts.SearchFields,
		ScopeField:     opts.ScopeField,
	}}
	durable, err := docstore.Open(ctx, durDesc)
	if err != nil {
		return nil, fmt.Errorf("tiered: open durable: %w", err)
	}
	volatile, err := docstore.Open(ctx, docstore.Descriptor{
		Adapter: opts.VolatileAdapter,
		Name:    name + "#" + uuid.NewString(),
		Options: docstore.Options{AutoCompaction: true},
	})
	if err != nil {
		durable.Close()
		return nil, fmt.Errorf("tiered: open volatile: %w", err)
	}

	s := &Store{name: name, volatile: volatile, durable: durable, durDesc: durDesc, opts: opts, log: log}
	res, err := replication.Once(ctx, durable, volatile, s.replOpts("bridge"))
	if err != nil {
		volatile.Destroy(context.Background())
		durable.Close()
		return nil, fmt.Errorf("tiered: initial bridge: %w", err)
	}
	log.Debug("volatile tier loaded", logger.Count(res.DocsWritten))

	bctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		_ = replication.Sync(bctx, volatile, durable, s.replOpts("bridge"))
	}()
	return s, nil
}

func (s *Store) replOpts(dir string) replication.Options {
	o := replication.Options{
		BatchSize:  s.opts.BatchSize,
		Direction:  dir,
		NewRetryer: s.opts.NewRetryer,
		Logger:     s.log,
	}
	o.OnError = func(err error) {
		s.log.Warn("bridge sync error", logger.Err(err))
		if s.opts.OnError != nil {
			s.opts.OnError(err)
		}
	}
	return o
}

func (s *Store) Name() string { return s.name }

// Reader es el tier volátil: lecturas y recargas del Mirror.
func (s *Store) Reader() docstore.Store { return s.volatile }

// Durable es el tier que sobrevive al proceso.
func (s *Store) Durable() docstore.Store { return s.durable }

// DurableDescriptor describe el tier durable para que el Worker abra su
// propio handle.
func (s *Store) DurableDescriptor() docstore.Descriptor { return s.durDesc }

// Searcher devuelve el índice local del tier durable, si existe.
func (s *Store) Searcher() (docstore.Searcher, bool) {
	sr, ok := s.durable.(docstore.Searcher)
	return sr, ok
}

// Settle trae al volátil todo lo que el durable tenga hasta ahora. Se usa
// antes de recargar el Mirror tras el "complete" del Worker.
func (s *Store) Settle(ctx context.Context) error {
	_, err := replication.Once(ctx, s.durable, s.volatile, replication.Options{
		BatchSize: s.opts.BatchSize,
		Direction: "settle",
		Logger:    s.log,
	})
	return err
}

// Close detiene el bridge y cierra ambos tiers. El volátil se descarta.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		s.closeErr = errors.Join(
			s.volatile.Destroy(context.Background()),
			s.durable.Close(),
		)
	})
	return s.closeErr
}

// Destroy borra ambos tiers.
func (s *Store) Destroy(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		s.closeErr = errors.Join(
			s.volatile.Destroy(ctx),
			s.durable.Destroy(ctx),
		)
	})
	return s.closeErr
}
