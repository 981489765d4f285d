package http

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xumingyi/offline-shop-ionic3/internal/clients"
	"github.com/xumingyi/offline-shop-ionic3/internal/docstore"
	"github.com/xumingyi/offline-shop-ionic3/internal/domain/model"
	"github.com/xumingyi/offline-shop-ionic3/internal/observability/logger"
	"github.com/xumingyi/offline-shop-ionic3/internal/orders"
	"github.com/xumingyi/offline-shop-ionic3/internal/reconcile"
	"github.com/xumingyi/offline-shop-ionic3/internal/search"
)

type handlers struct {
	deps Deps
}

// readyz: 200 cuando todas las colecciones completaron la sincronización
// inicial alguna vez, 503 mientras tanto.
func (h *handlers) readyz(w http.ResponseWriter, r *http.Request) {
	if h.deps.Status == nil {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	st := h.deps.Status()
	for _, c := range st.Collections {
		if !c.Ready {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "syncing", "collections": st.Collections})
			return
		}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"status": "ready", "collections": st.Collections})
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	if h.deps.Status == nil {
		WriteError(w, http.StatusNotImplemented, "not_implemented", "status no disponible")
		return
	}
	WriteJSON(w, http.StatusOK, h.deps.Status())
}

func (h *handlers) listClients(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.deps.Clients.All())
}

func (h *handlers) getClient(w http.ResponseWriter, r *http.Request) {
	c, ok := h.deps.Clients.Get(chi.URLParam(r, "id"))
	if !ok {
		WriteError(w, http.StatusNotFound, "not_found", "cliente no encontrado")
		return
	}
	WriteJSON(w, http.StatusOK, c)
}

func (h *handlers) searchClients(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.Clients.Search(r.Context(), r.URL.Query().Get("q"))
	switch {
	case err == nil:
		WriteJSON(w, http.StatusOK, res)
	case errors.Is(err, search.ErrEmptyQuery):
		WriteError(w, http.StatusBadRequest, "invalid_query", err.Error())
	case errors.Is(err, search.ErrNoScope):
		WriteError(w, http.StatusConflict, "no_session", err.Error())
	case errors.Is(err, clients.ErrNoSearch):
		WriteError(w, http.StatusNotImplemented, "not_implemented", err.Error())
	case errors.Is(err, search.ErrUnavailable):
		WriteError(w, http.StatusServiceUnavailable, "search_unavailable", err.Error())
	default:
		logger.From(r.Context()).Error("client search failed", logger.Err(err))
		WriteError(w, http.StatusInternalServerError, "internal_error", "error buscando clientes")
	}
}

func (h *handlers) listOrders(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.deps.Orders.MostRecentFirst())
}

func (h *handlers) pendingOrders(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.deps.Orders.Pending())
}

func (h *handlers) getOrder(w http.ResponseWriter, r *http.Request) {
	o, ok := h.deps.Orders.Get(chi.URLParam(r, "id"))
	if !ok {
		WriteError(w, http.StatusNotFound, "not_found", "orden no encontrada")
		return
	}
	WriteJSON(w, http.StatusOK, o)
}

func (h *handlers) createOrder(w http.ResponseWriter, r *http.Request) {
	var in model.Order
	if !ReadJSON(w, r, &in) {
		return
	}
	o, err := h.deps.Orders.Create(r.Context(), in)
	switch {
	case err == nil:
		WriteJSON(w, http.StatusCreated, o)
	case errors.Is(err, orders.ErrEmptyOrder), errors.Is(err, model.ErrInvalidOrderID):
		WriteError(w, http.StatusBadRequest, "invalid_order", err.Error())
	case docstore.IsConflict(err):
		WriteError(w, http.StatusConflict, "order_exists", "ya existe una orden con ese id")
	default:
		logger.From(r.Context()).Error("order create failed", logger.Err(err))
		WriteError(w, http.StatusInternalServerError, "internal_error", "no se pudo guardar la orden")
	}
}

type reconcileResponse struct {
	Summary  reconcile.Summary   `json:"summary"`
	Outcomes []reconcile.Outcome `json:"outcomes"`
}

// reconcile corre el ciclo a demanda; si ya hay uno en curso espera su
// resultado.
func (h *handlers) reconcile(w http.ResponseWriter, r *http.Request) {
	if h.deps.Reconciler == nil {
		WriteError(w, http.StatusNotImplemented, "not_implemented", "reconciliador no disponible")
		return
	}
	sum, outcomes, err := h.deps.Reconciler.Trigger(r.Context())
	switch {
	case err == nil:
		if outcomes == nil {
			outcomes = []reconcile.Outcome{}
		}
		WriteJSON(w, http.StatusOK, reconcileResponse{Summary: sum, Outcomes: outcomes})
	case reconcile.IsOffline(err):
		WriteError(w, http.StatusServiceUnavailable, "offline", reconcile.ErrOffline.Error())
	case errors.Is(err, reconcile.ErrNoCredential):
		WriteError(w, http.StatusUnauthorized, "no_credential", err.Error())
	default:
		logger.From(r.Context()).Error("reconcile failed", logger.Err(err))
		WriteError(w, http.StatusBadGateway, "reconcile_failed", err.Error())
	}
}
