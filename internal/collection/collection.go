// Package collection es el núcleo común de los servicios de clientes y
// órdenes: dueño del Mirror, consume los eventos del Worker y mantiene el
// flag de "sincronización inicial completa".
package collection

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/xumingyi/offline-shop-ionic3/internal/docstore"
	"github.com/xumingyi/offline-shop-ionic3/internal/domain/model"
	"github.com/xumingyi/offline-shop-ionic3/internal/kv"
	"github.com/xumingyi/offline-shop-ionic3/internal/metrics"
	"github.com/xumingyi/offline-shop-ionic3/internal/mirror"
	"github.com/xumingyi/offline-shop-ionic3/internal/observability/logger"
	"github.com/xumingyi/offline-shop-ionic3/internal/replication"
)

type Config struct {
	Collection model.Collection
	// Reader es el store del que se recarga el Mirror.
	Reader docstore.Store
	// Settle, si no es nil, se llama antes de recargar tras "complete".
	Settle func(ctx context.Context) error
	KV     kv.Store
	Logger *zap.Logger
}

// Service es seguro para uso concurrente; los eventos se deben aplicar
// desde una sola goroutine para respetar el orden del feed.
type Service[T mirror.Entity[T]] struct {
	cfg    Config
	mirror *mirror.Mirror[T]
	ready  atomic.Bool
	log    *zap.Logger
}

func New[T mirror.Entity[T]](cfg Config, opts mirror.Options[T]) *Service[T] {
	c := string(cfg.Collection)
	onSize := opts.OnSize
	opts.OnSize = func(n int) {
		metrics.MirrorSize.WithLabelValues(c).Set(float64(n))
		if onSize != nil {
			onSize(n)
		}
	}
	return &Service[T]{
		cfg:    cfg,
		mirror: mirror.New(opts),
		log:    logger.OrNamed(cfg.Logger, "collection").With(logger.Collection(c)),
	}
}

func (s *Service[T]) Collection() model.Collection { return s.cfg.Collection }
func (s *Service[T]) Mirror() *mirror.Mirror[T]    { return s.mirror }

// Ready es el statusDB: la sincronización inicial terminó alguna vez.
func (s *Service[T]) Ready() bool { return s.ready.Load() }

// Open lee el flag persistido y hace la carga completa del Mirror.
func (s *Service[T]) Open(ctx context.Context) error {
	if s.cfg.KV != nil {
		ok, err := kv.GetBool(ctx, s.cfg.KV, s.cfg.Collection.StatusKey())
		if err != nil {
			s.log.Warn("could not read sync status flag", logger.Err(err))
		}
		s.ready.Store(ok)
	}
	return s.Reload(ctx)
}

// Reload reemplaza el Mirror con el contenido actual del Reader.
func (s *Service[T]) Reload(ctx context.Context) error {
	docs, err := s.cfg.Reader.AllDocs(ctx)
	if err != nil {
		return fmt.Errorf("collection %s: all docs: %w", s.cfg.Collection, err)
	}
	items := make([]T, 0, len(docs))
	for _, d := range docs {
		var v T
		if err := d.Decode(&v); err != nil {
			s.log.Warn("skipping undecodable document", logger.DocID(d.ID), logger.Err(err))
			continue
		}
		items = append(items, v)
	}
	s.mirror.Reload(items)
	s.log.Debug("mirror reloaded", logger.Count(len(items)))
	return nil
}

// Handle aplica un evento del Worker. Los errores de replicación se
// registran aquí; la decisión de recargar el proceso es del host.
func (s *Service[T]) Handle(ctx context.Context, ev replication.Event) error {
	metrics.ReplicationEvents.WithLabelValues(string(s.cfg.Collection), string(ev.Event), string(ev.Method)).Inc()

	switch ev.Event {
	case replication.EventComplete:
		return s.complete(ctx)

	case replication.EventUpsert, replication.EventDeleted:
		ce, ok := ev.Info.(model.ChangeEvent)
		if !ok {
			return fmt.Errorf("collection %s: %s event without change payload", s.cfg.Collection, ev.Event)
		}
		return s.mirror.Apply(ce)

	case replication.EventError:
		info, _ := ev.Info.(replication.ErrorInfo)
		metrics.ReplicationErrors.WithLabelValues(string(s.cfg.Collection), string(info.Class)).Inc()
		fields := []zap.Field{logger.ReplMethod(string(ev.Method)), logger.String("class", string(info.Class)),
			logger.String("error", info.Message)}
		if info.Class == replication.ClassUnexpected {
			s.log.Error("replication error", fields...)
		} else {
			s.log.Warn("replication error", fields...)
		}
		return nil

	case replication.EventChange:
		if p, ok := ev.Info.(replication.Progress); ok {
			s.log.Debug("replication progress", logger.Count(p.DocsWritten), logger.Seq(p.LastSeq))
		}
		return nil
	}
	return fmt.Errorf("collection %s: unknown event %q", s.cfg.Collection, ev.Event)
}

func (s *Service[T]) complete(ctx context.Context) error {
	if s.cfg.KV != nil {
		if err := kv.SetBool(ctx, s.cfg.KV, s.cfg.Collection.StatusKey(), true); err != nil {
			s.log.Warn("could not persist sync status flag", logger.Err(err))
		}
	}
	if s.cfg.Settle != nil {
		if err := s.cfg.Settle(ctx); err != nil {
			s.log.Warn("settle before reload failed", logger.Err(err))
		}
	}
	err := s.Reload(ctx)
	// Ready se publica con el Mirror ya cargado.
	s.ready.Store(true)
	return err
}

// Reset limpia el Mirror y el flag; lo usa Destroy de cada servicio.
func (s *Service[T]) Reset(ctx context.Context) error {
	s.mirror.Reload(nil)
	s.ready.Store(false)
	if s.cfg.KV != nil {
		return s.cfg.KV.Delete(ctx, s.cfg.Collection.StatusKey())
	}
	return nil
}
