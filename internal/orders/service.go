// Package orders es el servicio de órdenes: Mirror sobre el store durable,
// creación de órdenes y el lado persistente del reconciliador.
package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xumingyi/offline-shop-ionic3/internal/collection"
	"github.com/xumingyi/offline-shop-ionic3/internal/docstore"
	"github.com/xumingyi/offline-shop-ionic3/internal/domain/model"
	"github.com/xumingyi/offline-shop-ionic3/internal/kv"
	"github.com/xumingyi/offline-shop-ionic3/internal/mirror"
	"github.com/xumingyi/offline-shop-ionic3/internal/observability/logger"
	"github.com/xumingyi/offline-shop-ionic3/internal/reconcile"
)

var ErrEmptyOrder = errors.New("orders: order has no items")

type Service struct {
	*collection.Service[model.Order]
	store docstore.Store
	log   *zap.Logger
	now   func() time.Time
}

func New(store docstore.Store, flags kv.Store, log *zap.Logger) *Service {
	core := collection.New(collection.Config{
		Collection: model.CollectionOrders,
		Reader:     store,
		KV:         flags,
		Logger:     log,
	}, mirror.Options[model.Order]{Pending: model.Order.Pending})
	return &Service{Service: core, store: store, log: logger.OrNamed(log, "orders"), now: time.Now}
}

func (s *Service) All() []model.Order             { return s.Mirror().All() }
func (s *Service) Pending() []model.Order         { return s.Mirror().Pending() }
func (s *Service) MostRecentFirst() []model.Order { return s.Mirror().MostRecentFirst() }
func (s *Service) Get(id string) (model.Order, bool) {
	return s.Mirror().Get(id)
}

// Store expone el lado persistente al reconciliador.
func (s *Service) Store() reconcile.OrderStore { return reconcile.DocOrders{Store: s.store} }

// Create guarda una orden nueva como pendiente. El id es el timestamp de
// creación y el total se recalcula de los renglones. El Mirror la recibe
// por el change feed.
func (s *Service) Create(ctx context.Context, o model.Order) (model.Order, error) {
	if len(o.Items) == 0 {
		return model.Order{}, ErrEmptyOrder
	}
	if o.ID == "" {
		o.ID = model.NewOrderID(s.now())
	}
	if len(o.ID) != model.OrderIDLen {
		return model.Order{}, model.ErrInvalidOrderID
	}
	if _, err := o.CreatedAt(); err != nil {
		return model.Order{}, err
	}
	o.Rev = ""
	o.Submitted = false
	o.DocEntry = ""
	o.Error = ""
	o.Total = o.ComputeTotal()

	d, err := docstore.NewDoc(o)
	if err != nil {
		return model.Order{}, err
	}
	rev, err := s.store.Put(ctx, d)
	if err != nil {
		return model.Order{}, fmt.Errorf("orders: create %s: %w", o.ID, err)
	}
	o.Rev = rev
	s.log.Info("order stored on device", logger.OrderID(o.ID), logger.Count(len(o.Items)))
	return o, nil
}

// Destroy borra la base local y limpia el Mirror.
func (s *Service) Destroy(ctx context.Context) error {
	return errors.Join(s.Reset(ctx), s.store.Destroy(ctx))
}
