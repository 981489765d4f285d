package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xumingyi/offline-shop-ionic3/internal/app"
	"github.com/xumingyi/offline-shop-ionic3/internal/docstore"
	"github.com/xumingyi/offline-shop-ionic3/internal/domain/model"
	"github.com/xumingyi/offline-shop-ionic3/internal/orders"
	"github.com/xumingyi/offline-shop-ionic3/internal/reconcile"
	"github.com/xumingyi/offline-shop-ionic3/internal/search"
)

type fakeClients struct{ items []model.Client }

func (f *fakeClients) All() []model.Client { return f.items }
func (f *fakeClients) Get(id string) (model.Client, bool) {
	for _, c := range f.items {
		if c.ID == id {
			return c, true
		}
	}
	return model.Client{}, false
}
func (f *fakeClients) Search(_ context.Context, q string) (search.Result, error) {
	switch q {
	case "":
		return search.Result{}, search.ErrEmptyQuery
	case "down":
		return search.Result{}, search.ErrUnavailable
	}
	return search.Result{Source: search.SourceLocal, TotalRows: 1, Hits: []search.Hit{{ID: "c1"}}}, nil
}

type fakeOrders struct{ created []model.Order }

func (f *fakeOrders) MostRecentFirst() []model.Order { return []model.Order{{ID: "2"}, {ID: "1"}} }
func (f *fakeOrders) Pending() []model.Order         { return []model.Order{{ID: "1"}} }
func (f *fakeOrders) Get(id string) (model.Order, bool) {
	return model.Order{ID: id}, id == "1"
}
func (f *fakeOrders) Create(_ context.Context, o model.Order) (model.Order, error) {
	if len(o.Items) == 0 {
		return model.Order{}, orders.ErrEmptyOrder
	}
	if o.ID == "1600000000000" {
		return model.Order{}, fmt.Errorf("orders: create %s: %w", o.ID, docstore.ErrConflict)
	}
	o.ID = "1700000000000"
	f.created = append(f.created, o)
	return o, nil
}

type fakeTrigger struct{ err error }

func (f fakeTrigger) Trigger(context.Context) (reconcile.Summary, []reconcile.Outcome, error) {
	if f.err != nil {
		return reconcile.Summarize(nil, f.err), nil, f.err
	}
	out := []reconcile.Outcome{{OrderID: "1", Code: 201, Accepted: true, DocEntry: "77", Written: true}}
	return reconcile.Summarize(out, nil), out, nil
}

func newTestRouter(t *testing.T, ready bool, trig Trigger) http.Handler {
	t.Helper()
	reg := prometheus.NewRegistry()
	mh, err := RegisterMetrics(reg, reg)
	require.NoError(t, err)
	return NewRouter(Deps{
		Clients:    &fakeClients{items: []model.Client{{ID: "c1", Name: "Tienda"}}},
		Orders:     &fakeOrders{},
		Reconciler: trig,
		Metrics:    mh,
		Status: func() app.Status {
			return app.Status{AdvisorID: "A7", Collections: map[model.Collection]app.CollectionStatus{
				model.CollectionClients: {Ready: ready, Size: 1},
				model.CollectionOrders:  {Ready: true, Size: 2, Pending: 1},
			}}
		},
	})
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestReadyz(t *testing.T) {
	rec := do(newTestRouter(t, false, nil), http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(newTestRouter(t, true, nil), http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusAndReads(t *testing.T) {
	h := newTestRouter(t, true, nil)

	rec := do(h, http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st app.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "A7", st.AdvisorID)
	assert.Equal(t, 1, st.Collections[model.CollectionOrders].Pending)

	rec = do(h, http.MethodGet, "/v1/clients/c1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(h, http.MethodGet, "/v1/clients/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(h, http.MethodGet, "/v1/orders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []model.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "2", list[0].ID)

	rec = do(h, http.MethodGet, "/v1/orders/pending", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(h, http.MethodGet, "/v1/orders/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(h, http.MethodGet, "/v1/orders/9", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearchErrors(t *testing.T) {
	h := newTestRouter(t, true, nil)
	require.Equal(t, http.StatusOK, do(h, http.MethodGet, "/v1/clients/search?q=tienda", "").Code)
	require.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/v1/clients/search", "").Code)
	require.Equal(t, http.StatusServiceUnavailable, do(h, http.MethodGet, "/v1/clients/search?q=down", "").Code)
}

func TestCreateOrder(t *testing.T) {
	h := newTestRouter(t, true, nil)
	rec := do(h, http.MethodPost, "/v1/orders", `{"nitCliente":"900","items":[{"_id":"P1","cantidad":1,"totalPrice":10}]}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(h, http.MethodPost, "/v1/orders", `{"items":[]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodPost, "/v1/orders", `{"_id":"1600000000000","items":[{"_id":"P1","cantidad":1,"totalPrice":10}]}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "order_exists")
}

func TestReconcileEndpoint(t *testing.T) {
	rec := do(newTestRouter(t, true, fakeTrigger{}), http.MethodPost, "/v1/orders/reconcile", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body reconcileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Summary.Accepted)

	rec = do(newTestRouter(t, true, fakeTrigger{err: reconcile.ErrOffline}), http.MethodPost, "/v1/orders/reconcile", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "no hay conexi")
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestRouter(t, true, nil)
	do(h, http.MethodGet, "/v1/orders/1700000000000", "")
	rec := do(h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `path="/v1/orders/:param"`)
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/", normalizePath(""))
	assert.Equal(t, "/v1/orders/:param", normalizePath("/v1/orders/1700000000000"))
	assert.Equal(t, "/v1/clients/search", normalizePath("/v1/clients/search?q=x"))
}
