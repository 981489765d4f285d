// Package clients es el servicio de clientes: Mirror sobre el tier volátil,
// búsqueda online/offline y destrucción de la base local.
package clients

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/xumingyi/offline-shop-ionic3/internal/collection"
	"github.com/xumingyi/offline-shop-ionic3/internal/domain/model"
	"github.com/xumingyi/offline-shop-ionic3/internal/kv"
	"github.com/xumingyi/offline-shop-ionic3/internal/mirror"
	"github.com/xumingyi/offline-shop-ionic3/internal/search"
	"github.com/xumingyi/offline-shop-ionic3/internal/tiered"
)

type Service struct {
	*collection.Service[model.Client]
	store  *tiered.Store
	search *search.Engine
}

// New arma el servicio sobre un store de dos tiers; engine puede ser nil.
func New(store *tiered.Store, flags kv.Store, engine *search.Engine, log *zap.Logger) *Service {
	core := collection.New(collection.Config{
		Collection: model.CollectionClients,
		Reader:     store.Reader(),
		Settle:     store.Settle,
		KV:         flags,
		Logger:     log,
	}, mirror.Options[model.Client]{})
	return &Service{Service: core, store: store, search: engine}
}

// All devuelve copias de todos los clientes, ordenados por id.
func (s *Service) All() []model.Client { return s.Mirror().All() }

func (s *Service) Get(id string) (model.Client, bool) { return s.Mirror().Get(id) }

var ErrNoSearch = errors.New("clients: search not configured")

// Search corre la búsqueda con scope del asesor en sesión.
func (s *Service) Search(ctx context.Context, query string) (search.Result, error) {
	if s.search == nil {
		return search.Result{}, ErrNoSearch
	}
	return s.search.Search(ctx, query)
}

// IndexLocal fuerza la construcción del índice FTS local.
func (s *Service) IndexLocal(ctx context.Context) error {
	if s.search == nil {
		return ErrNoSearch
	}
	return s.search.Rebuild(ctx)
}

// Destroy borra ambos tiers y limpia el Mirror.
func (s *Service) Destroy(ctx context.Context) error {
	return errors.Join(s.Reset(ctx), s.store.Destroy(ctx))
}
