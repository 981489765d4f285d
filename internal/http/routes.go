package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xumingyi/offline-shop-ionic3/internal/app"
	"github.com/xumingyi/offline-shop-ionic3/internal/domain/model"
	"github.com/xumingyi/offline-shop-ionic3/internal/observability/logger"
	"github.com/xumingyi/offline-shop-ionic3/internal/reconcile"
	"github.com/xumingyi/offline-shop-ionic3/internal/search"
)

// ClientService es lo que la API usa del servicio de clientes.
type ClientService interface {
	All() []model.Client
	Get(id string) (model.Client, bool)
	Search(ctx context.Context, query string) (search.Result, error)
}

// OrderService es lo que la API usa del servicio de órdenes.
type OrderService interface {
	MostRecentFirst() []model.Order
	Pending() []model.Order
	Get(id string) (model.Order, bool)
	Create(ctx context.Context, o model.Order) (model.Order, error)
}

// Trigger corre el reconciliador a demanda (reconcile.Scheduler).
type Trigger interface {
	Trigger(ctx context.Context) (reconcile.Summary, []reconcile.Outcome, error)
}

type Deps struct {
	Clients    ClientService
	Orders     OrderService
	Reconciler Trigger
	Status     func() app.Status
	// Metrics es el handler de /metrics; nil no expone la ruta.
	Metrics http.Handler
	Logger  *zap.Logger
}

// NewRouter arma la API de estado del motor.
func NewRouter(d Deps) http.Handler {
	log := logger.OrNamed(d.Logger, "http")
	h := &handlers{deps: d}

	r := chi.NewRouter()
	r.Get("/readyz", h.readyz)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}
	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", h.status)

		r.Get("/clients", h.listClients)
		r.Get("/clients/search", h.searchClients)
		r.Get("/clients/{id}", h.getClient)

		r.Get("/orders", h.listOrders)
		r.Post("/orders", h.createOrder)
		r.Get("/orders/pending", h.pendingOrders)
		r.Post("/orders/reconcile", h.reconcile)
		r.Get("/orders/{id}", h.getOrder)
	})

	return Chain(r,
		WithRequestID(),
		WithRecover(log),
		WithLogging(log),
		WithMetrics,
	)
}
