// Package reconcile envía al ERP las órdenes pendientes y fusiona el
// resultado en el store sin reescribir órdenes cuyo rechazo no cambió.
//
// Estados por orden: pending → {accepted, rejected}; rejected → pending en
// el siguiente ciclo. accepted es terminal.
package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xumingyi/offline-shop-ionic3/internal/docstore"
	"github.com/xumingyi/offline-shop-ionic3/internal/domain/model"
	"github.com/xumingyi/offline-shop-ionic3/internal/metrics"
	"github.com/xumingyi/offline-shop-ionic3/internal/observability/logger"
)

// OrderStore es el lado persistente de las órdenes.
type OrderStore interface {
	// PendingOrders lee del store (no del mirror) las órdenes no enviadas.
	PendingOrders(ctx context.Context) ([]model.Order, error)
	// UpdateOrder hace read-modify-write; fn devuelve write=false para no
	// escribir. Reporta si hubo escritura.
	UpdateOrder(ctx context.Context, id string, fn func(cur model.Order) (next model.Order, write bool, err error)) (bool, error)
}

// DocOrders implementa OrderStore sobre un docstore.
type DocOrders struct{ Store docstore.Store }

func (d DocOrders) PendingOrders(ctx context.Context) ([]model.Order, error) {
	docs, err := d.Store.AllDocs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Order, 0)
	for _, doc := range docs {
		var o model.Order
		if err := doc.Decode(&o); err != nil {
			continue
		}
		if o.Pending() {
			out = append(out, o)
		}
	}
	return out, nil
}

func (d DocOrders) UpdateOrder(ctx context.Context, id string, fn func(model.Order) (model.Order, bool, error)) (bool, error) {
	wrote := false
	_, err := docstore.Upsert(ctx, d.Store, id, func(cur *docstore.Doc) (docstore.Doc, bool, error) {
		wrote = false
		if cur == nil {
			return docstore.Doc{}, false, fmt.Errorf("reconcile: order %s: %w", id, docstore.ErrNotFound)
		}
		var o model.Order
		if err := cur.Decode(&o); err != nil {
			return docstore.Doc{}, false, err
		}
		next, write, err := fn(o)
		if err != nil || !write {
			return docstore.Doc{}, false, err
		}
		next.ID, next.Rev = id, cur.Rev
		doc, err := docstore.NewDoc(next)
		if err != nil {
			return docstore.Doc{}, false, err
		}
		wrote = true
		return doc, true, nil
	})
	return wrote, err
}

type Config struct {
	// URL base del ERP; se postea a {URL}/sap/order.
	URL        string
	AppVersion string
	Location   *time.Location
}

// Outcome es el resultado de una orden en una corrida.
type Outcome struct {
	OrderID  string `json:"order_id"`
	Code     int    `json:"code"`
	Accepted bool   `json:"accepted"`
	DocEntry string `json:"doc_entry,omitempty"`
	Error    string `json:"error,omitempty"`
	// Written: la orden se persistió en esta corrida.
	Written bool `json:"written"`
	// Err: falla local o de transporte; no se guarda en la orden.
	Err error `json:"-"`
}

// Failed cuenta para el aviso del host.
func (o Outcome) Failed() bool { return o.Err != nil || o.Code >= 400 }

type Reconciler struct {
	cfg    Config
	probe  Prober
	tokens TokenSource
	orders OrderStore
	id     Identity
	hc     *http.Client
	log    *zap.Logger
	now    func() time.Time
}

// New arma el reconciliador. hc nil usa http.DefaultClient (sin timeout
// propio: una llamada trabada solo demora su orden).
func New(cfg Config, probe Prober, tokens TokenSource, orders OrderStore, id Identity, hc *http.Client, log *zap.Logger) *Reconciler {
	if hc == nil {
		hc = http.DefaultClient
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Reconciler{
		cfg: cfg, probe: probe, tokens: tokens, orders: orders, id: id, hc: hc,
		log: logger.OrNamed(log, "reconcile"),
		now: time.Now,
	}
}

// Reconcile corre un ciclo completo. Con la sonda caída retorna ErrOffline
// sin llamar al ERP. Las fallas por orden van en los Outcome, nunca cortan
// el lote. No se protege contra llamadas concurrentes: eso es del Scheduler.
func (r *Reconciler) Reconcile(ctx context.Context) ([]Outcome, error) {
	if err := r.probe.Online(ctx); err != nil {
		if !errors.Is(err, ErrOffline) {
			err = fmt.Errorf("%w: %v", ErrOffline, err)
		}
		return nil, err
	}
	token, err := r.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := r.orders.PendingOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: load pending orders: %w", err)
	}
	if len(pending) == 0 {
		return []Outcome{}, nil
	}

	outcomes := make([]Outcome, len(pending))
	responses := make([]*Response, len(pending))
	var g errgroup.Group
	for i, o := range pending {
		g.Go(func() error {
			resp, err := r.submit(ctx, token, o)
			if err != nil {
				outcomes[i] = Outcome{OrderID: o.ID, Err: err}
				return nil
			}
			responses[i] = &resp
			return nil
		})
	}
	_ = g.Wait()

	for i, o := range pending {
		resp := responses[i]
		if resp == nil {
			metrics.OrderSubmissions.WithLabelValues("failed").Inc()
			r.log.Warn("order submission failed", logger.OrderID(o.ID), logger.Err(outcomes[i].Err))
			continue
		}
		outcomes[i] = r.apply(ctx, o.ID, *resp)
	}
	return outcomes, nil
}

func (r *Reconciler) submit(ctx context.Context, token string, o model.Order) (Response, error) {
	payload, err := BuildPayload(o, r.id, r.cfg.AppVersion, r.cfg.Location)
	if err != nil {
		return Response{}, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(r.cfg.URL, "/")+"/sap/order", bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := r.hc.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Response{}, err
	}
	return ParseResponse(resp.StatusCode, b), nil
}

// apply fusiona la respuesta con la orden tal como está ahora en el store.
func (r *Reconciler) apply(ctx context.Context, id string, resp Response) Outcome {
	out := Outcome{OrderID: id, Code: resp.Code, Accepted: resp.Accepted(), DocEntry: resp.DocEntry}
	if !out.Accepted {
		out.Error = resp.Error
	}
	stamp := strconv.FormatInt(r.now().UnixMilli(), 10)

	wrote, err := r.orders.UpdateOrder(ctx, id, func(cur model.Order) (model.Order, bool, error) {
		if cur.Submitted {
			return cur, false, nil
		}
		if out.Accepted {
			cur.Submitted = true
			cur.Error = ""
			cur.DocEntry = resp.DocEntry
		} else {
			if SameError(cur.Error, resp.Error) {
				return cur, false, nil
			}
			cur.Error = resp.Error
		}
		cur.UpdatedAt = stamp
		return cur, true, nil
	})
	out.Written = wrote
	out.Err = err

	label := "rejected"
	switch {
	case err != nil:
		label = "failed"
		r.log.Error("could not persist order outcome", logger.OrderID(id), logger.Err(err))
	case out.Accepted:
		label = "accepted"
		r.log.Info("order accepted by ERP", logger.OrderID(id), logger.DocEntry(resp.DocEntry))
	case !wrote:
		label = "unchanged"
		r.log.Debug("order rejected with the same error, not rewritten", logger.OrderID(id), logger.Int("code", resp.Code))
	default:
		r.log.Warn("order rejected by ERP", logger.OrderID(id), logger.Int("code", resp.Code))
	}
	metrics.OrderSubmissions.WithLabelValues(label).Inc()
	return out
}
