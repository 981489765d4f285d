// Package app arma el motor completo a partir de la configuración: stores
// locales, Worker de replicación, servicios de colección, búsqueda y
// reconciliador. El host (cmd/offline-shop) solo llama New, Run y Close.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xumingyi/offline-shop-ionic3/internal/clients"
	"github.com/xumingyi/offline-shop-ionic3/internal/config"
	"github.com/xumingyi/offline-shop-ionic3/internal/docstore"
	_ "github.com/xumingyi/offline-shop-ionic3/internal/docstore/adapters/couch"
	_ "github.com/xumingyi/offline-shop-ionic3/internal/docstore/adapters/pg"
	"github.com/xumingyi/offline-shop-ionic3/internal/domain/model"
	"github.com/xumingyi/offline-shop-ionic3/internal/kv"
	"github.com/xumingyi/offline-shop-ionic3/internal/metrics"
	"github.com/xumingyi/offline-shop-ionic3/internal/observability/logger"
	"github.com/xumingyi/offline-shop-ionic3/internal/orders"
	"github.com/xumingyi/offline-shop-ionic3/internal/reconcile"
	"github.com/xumingyi/offline-shop-ionic3/internal/replication"
	"github.com/xumingyi/offline-shop-ionic3/internal/search"
	"github.com/xumingyi/offline-shop-ionic3/internal/security/secretbox"
	"github.com/xumingyi/offline-shop-ionic3/internal/session"
	"github.com/xumingyi/offline-shop-ionic3/internal/tiered"
	"github.com/xumingyi/offline-shop-ionic3/internal/util"
)

var (
	// ErrReload: la replicación inicial falló de una forma que deja el
	// estado local en duda; el host debe reconstruir el motor.
	ErrReload = errors.New("app: engine reload required")
	// ErrAlreadyRunning: Run solo puede llamarse una vez por Engine.
	ErrAlreadyRunning = errors.New("app: engine already running")
)

// Deps son colaboradores opcionales; los nil se construyen desde la config.
type Deps struct {
	Logger     *zap.Logger
	HTTPClient *http.Client
	Registerer prometheus.Registerer
	KV         kv.Store
	Prober     reconcile.Prober
	Tokens     reconcile.TokenSource
}

type handler interface {
	Handle(ctx context.Context, ev replication.Event) error
}

type Engine struct {
	cfg  *config.Config
	log  *zap.Logger
	sess *session.Session

	flags        kv.Store
	clientsStore *tiered.Store
	ordersStore  docstore.Store
	ordersDesc   docstore.Descriptor

	clients   *clients.Service
	orders    *orders.Service
	search    *search.Engine
	recon     *reconcile.Reconciler
	scheduler *reconcile.Scheduler
	worker    *replication.Worker
	services  map[model.Collection]handler

	started   atomic.Bool
	closeOnce sync.Once
	closeErr  error

	mu      sync.RWMutex
	lastRun *RunReport
}

// RunReport es la última corrida del reconciliador, para /v1/status.
type RunReport struct {
	At      time.Time         `json:"at"`
	Summary reconcile.Summary `json:"summary"`
	Error   string            `json:"error,omitempty"`
}

// New abre los stores locales y arma los servicios. No arranca la
// replicación: eso lo hace Run.
func New(ctx context.Context, cfg *config.Config, deps Deps) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	log := logger.OrNamed(deps.Logger, "engine")
	if err := metrics.Register(deps.Registerer); err != nil {
		return nil, fmt.Errorf("app: register metrics: %w", err)
	}

	e := &Engine{cfg: cfg, log: log, sess: session.FromConfig(cfg)}

	flags := deps.KV
	if flags == nil {
		var box *secretbox.Box
		if cfg.KV.Encrypt {
			b, err := secretbox.FromEnv()
			if err != nil {
				return nil, fmt.Errorf("app: kv encryption: %w", err)
			}
			box = b
		}
		s, err := kv.New(ctx, kv.Config{
			Kind:      cfg.KV.Kind,
			Path:      cfg.KV.Path,
			Prefix:    cfg.KV.Prefix,
			RedisAddr: cfg.KV.Redis.Addr,
			RedisDB:   cfg.KV.Redis.DB,
			Box:       box,
		})
		if err != nil {
			return nil, fmt.Errorf("app: open kv: %w", err)
		}
		flags = s
	}
	e.flags = flags

	if err := e.openStores(ctx); err != nil {
		_ = flags.Close()
		return nil, err
	}

	hc := deps.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.ERP.Timeout}
	}

	local, _ := e.clientsStore.Searcher()
	e.search = search.New(search.Config{
		URL:        cfg.Search.URL,
		Username:   cfg.Remote.Username,
		Password:   cfg.Remote.Password,
		Limit:      cfg.Search.Limit,
		Fields:     cfg.Search.Fields,
		ScopeField: cfg.Search.ScopeField,
		Timeout:    cfg.Remote.Timeout,
	}, local, e.sess, nil, log)

	e.clients = clients.New(e.clientsStore, flags, e.search, log)
	e.orders = orders.New(e.ordersStore, flags, log)
	e.services = map[model.Collection]handler{
		model.CollectionClients: e.clients,
		model.CollectionOrders:  e.orders,
	}

	probe := deps.Prober
	if probe == nil {
		probe = reconcile.HTTPProbe{BaseURL: cfg.ERP.AuthURL, Client: hc}
	}
	tokens := deps.Tokens
	if tokens == nil {
		tokens = &reconcile.KVTokens{
			Store:    flags,
			ERPURL:   cfg.ERP.URL,
			Username: cfg.ERP.TokenUser,
			Password: cfg.ERP.TokenPass,
			Client:   hc,
			Logger:   log,
		}
	}
	e.recon = reconcile.New(reconcile.Config{
		URL:        cfg.ERP.URL,
		AppVersion: cfg.App.Version,
		Location:   cfg.Location(),
	}, probe, tokens, e.orders.Store(), e.sess, hc, log)
	e.scheduler = reconcile.NewScheduler(e.recon, cfg.ERP.Interval, func() int {
		return len(e.orders.Pending())
	}, e.recordRun, log)

	e.worker = replication.NewWorker(replication.WorkerConfig{
		BatchSize:  cfg.Replication.BatchSize,
		NewRetryer: e.newRetryer,
		Logger:     log,
	})

	for _, c := range []interface{ Open(context.Context) error }{e.clients, e.orders} {
		if err := c.Open(ctx); err != nil {
			_ = e.Close()
			return nil, fmt.Errorf("app: load mirror: %w", err)
		}
	}
	log.Info("engine ready",
		logger.AdvisorID(e.sess.AdvisorID()),
		logger.String("user_email", util.MaskEmail(e.sess.UserEmail())),
		logger.String("remote", cfg.Remote.Adapter),
		logger.Int("clients", len(e.clients.All())),
		logger.Int("orders", len(e.orders.All())),
	)
	return e, nil
}

func (e *Engine) openStores(ctx context.Context) error {
	autoCompact := e.cfg.Local.AutoCompaction == nil || *e.cfg.Local.AutoCompaction
	cs, err := tiered.Open(ctx, e.cfg.Remote.ClientsDB, tiered.Options{
		Dir:             e.cfg.Local.Dir,
		RevsLimit:       e.cfg.Local.RevsLimit,
		AutoCompaction:  autoCompact,
		SearchFields:    e.cfg.Search.Fields,
		ScopeField:      e.cfg.Search.ScopeField,
		VolatileAdapter: e.cfg.Local.Volatile,
		BatchSize:       e.cfg.Replication.BatchSize,
		NewRetryer:      e.newRetryer,
		Logger:          e.log,
	})
	if err != nil {
		return fmt.Errorf("app: open clients store: %w", err)
	}
	e.ordersDesc = docstore.Descriptor{Adapter: "sqlite", Name: e.cfg.Remote.OrdersDB, Options: docstore.Options{
		Dir:            e.cfg.Local.Dir,
		RevsLimit:      e.cfg.Local.RevsLimit,
		AutoCompaction: autoCompact,
		PollInterval:   e.cfg.Replication.PollInterval,
	}}
	ords, err := docstore.Open(ctx, e.ordersDesc)
	if err != nil {
		_ = cs.Close()
		return fmt.Errorf("app: open orders store: %w", err)
	}
	e.clientsStore, e.ordersStore = cs, ords
	return nil
}

func (e *Engine) newRetryer() replication.Retryer {
	return replication.NewExponentialBackoffRetryer(e.cfg.Replication.RetryInitial, e.cfg.Replication.RetryMax)
}

// RemoteDescriptor arma el descriptor del store remoto para db.
func RemoteDescriptor(cfg *config.Config, db string) docstore.Descriptor {
	opts := docstore.Options{
		Username:     cfg.Remote.Username,
		Password:     cfg.Remote.Password,
		Timeout:      cfg.Remote.Timeout,
		DSN:          cfg.Remote.DSN,
		PollInterval: cfg.Replication.PollInterval,
	}
	if cfg.Remote.Adapter == "postgres" {
		return docstore.Descriptor{Adapter: "postgres", Name: db, Options: opts}
	}
	return docstore.Descriptor{Adapter: "couch", Name: strings.TrimRight(cfg.Remote.URL, "/") + "/" + db, Options: opts}
}

// Messages son los pares que el Worker replica, en orden de arranque.
func (e *Engine) Messages() []replication.Message {
	return []replication.Message{
		{
			Collection: model.CollectionClients,
			Local:      e.clientsStore.DurableDescriptor(),
			Remote:     RemoteDescriptor(e.cfg, e.cfg.Remote.ClientsDB),
		},
		{
			Collection: model.CollectionOrders,
			Local:      e.ordersDesc,
			Remote:     RemoteDescriptor(e.cfg, e.cfg.Remote.OrdersDB),
		},
	}
}

// Run arranca el Worker, el ruteo de eventos y el scheduler; bloquea hasta
// que ctx se cancela (nil) o hace falta un reload (ErrReload).
func (e *Engine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		e.worker.Run(gctx)
		return nil
	})
	for _, m := range e.Messages() {
		select {
		case e.worker.Inbox() <- m:
		case <-gctx.Done():
		}
	}
	g.Go(func() error { return e.route(gctx) })
	g.Go(func() error {
		e.scheduler.Run(gctx)
		return nil
	})
	err := g.Wait()
	// Una corrida de reconcile sigue viva tras cancelar; el Engine que la
	// reemplace no debe solaparse con ella.
	_ = e.scheduler.Wait(context.Background())
	if errors.Is(err, ErrReload) {
		return err
	}
	return nil
}

// route aplica los eventos en el orden en que llegan. Sale con ErrReload
// ante un error de replicación inicial inesperado y fuera de la allow-list.
func (e *Engine) route(ctx context.Context) error {
	for ev := range e.worker.Events() {
		svc, ok := e.services[ev.Collection]
		if !ok {
			e.log.Warn("event for unknown collection", logger.Collection(string(ev.Collection)))
			continue
		}
		if err := svc.Handle(ctx, ev); err != nil && ctx.Err() == nil {
			e.log.Warn("event handling failed",
				logger.Collection(string(ev.Collection)),
				logger.Event(string(ev.Event)),
				logger.Err(err),
			)
		}
		if NeedsReload(ev, e.cfg.Replication.ReloadAllowlist) {
			e.log.Error("initial replication failed unexpectedly, reload required",
				logger.Collection(string(ev.Collection)))
			return ErrReload
		}
	}
	return nil
}

// NeedsReload decide el reload de último recurso: solo errores del
// replicate inicial, de clase inesperada y que no estén permitidos.
func NeedsReload(ev replication.Event, allowlist []string) bool {
	if ev.Event != replication.EventError || ev.Method != replication.MethodReplicate {
		return false
	}
	info, ok := ev.Info.(replication.ErrorInfo)
	if !ok {
		return false
	}
	return info.Class == replication.ClassUnexpected && !replication.Allowed(info.Message, allowlist)
}

func (e *Engine) recordRun(s reconcile.Summary, _ []reconcile.Outcome, err error) {
	r := &RunReport{At: time.Now(), Summary: s}
	if err != nil {
		r.Error = err.Error()
	}
	e.mu.Lock()
	e.lastRun = r
	e.mu.Unlock()
}

func (e *Engine) Clients() *clients.Service             { return e.clients }
func (e *Engine) Orders() *orders.Service               { return e.orders }
func (e *Engine) Search() *search.Engine                { return e.search }
func (e *Engine) Scheduler() *reconcile.Scheduler       { return e.scheduler }
func (e *Engine) Session() *session.Session             { return e.sess }
func (e *Engine) ClientsStore() *tiered.Store           { return e.clientsStore }
func (e *Engine) OrdersDescriptor() docstore.Descriptor { return e.ordersDesc }

// CollectionStatus es el statusDB de una colección más el tamaño del Mirror.
type CollectionStatus struct {
	Ready   bool `json:"ready"`
	Size    int  `json:"size"`
	Pending int  `json:"pending,omitempty"`
}

type Status struct {
	AdvisorID   string                                `json:"advisor_id"`
	Collections map[model.Collection]CollectionStatus `json:"collections"`
	Reconciling bool                                  `json:"reconciling"`
	LastRun     *RunReport                            `json:"last_run,omitempty"`
}

func (e *Engine) Status() Status {
	e.mu.RLock()
	last := e.lastRun
	e.mu.RUnlock()
	return Status{
		AdvisorID: e.sess.AdvisorID(),
		Collections: map[model.Collection]CollectionStatus{
			model.CollectionClients: {Ready: e.clients.Ready(), Size: e.clients.Mirror().Len()},
			model.CollectionOrders: {
				Ready:   e.orders.Ready(),
				Size:    e.orders.Mirror().Len(),
				Pending: len(e.orders.Pending()),
			},
		},
		Reconciling: e.scheduler.Busy(),
		LastRun:     last,
	}
}

// Close espera la corrida de reconcile en curso y cierra stores y kv. Run
// debe haber terminado.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		if e.scheduler != nil {
			_ = e.scheduler.Wait(context.Background())
		}
		var errs []error
		if e.clientsStore != nil {
			errs = append(errs, e.clientsStore.Close())
		}
		if e.ordersStore != nil {
			errs = append(errs, e.ordersStore.Close())
		}
		if e.flags != nil {
			errs = append(errs, e.flags.Close())
		}
		e.closeErr = errors.Join(errs...)
	})
	return e.closeErr
}
