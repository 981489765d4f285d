package reconcile

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xumingyi/offline-shop-ionic3/internal/metrics"
	"github.com/xumingyi/offline-shop-ionic3/internal/observability/logger"
)

// Runner es lo que el Scheduler dispara.
type Runner interface {
	Reconcile(ctx context.Context) ([]Outcome, error)
}

// Summary agrega los resultados para el host.
type Summary struct {
	Total     int  `json:"total"`
	Accepted  int  `json:"accepted"`
	Failed    int  `json:"failed"`
	Unchanged int  `json:"unchanged"`
	Offline   bool `json:"offline"`
}

func Summarize(outcomes []Outcome, err error) Summary {
	s := Summary{Total: len(outcomes), Offline: IsOffline(err)}
	for _, o := range outcomes {
		switch {
		case o.Accepted && o.Err == nil:
			s.Accepted++
		case o.Failed():
			s.Failed++
		}
		if !o.Accepted && !o.Written && o.Err == nil {
			s.Unchanged++
		}
	}
	return s
}

// Report loguea el resumen: offline en silencio (debug), fallas ≥400 como
// warning y el resto como confirmación.
func Report(log *zap.Logger, s Summary, err error) {
	switch {
	case s.Offline:
		log.Debug("reconcile skipped, offline")
	case err != nil:
		log.Error("reconcile failed", logger.Err(err))
	case s.Failed > 0:
		log.Sugar().Warnf("%d ordenes no se han podido subir, verifique su conexion a internet", s.Failed)
	case s.Total > 0:
		log.Info("orders uploaded", logger.Count(s.Accepted))
	}
}

// Scheduler corre el Runner cada Interval mientras haya pendientes y
// garantiza que nunca haya dos corridas a la vez: el tick se salta si hay
// una en curso y Trigger se une a la que esté corriendo.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	pending  func() int
	log      *zap.Logger
	onRun    func(Summary, []Outcome, error)

	busy  atomic.Bool
	group singleflight.Group

	mu   sync.Mutex
	n    int           // llamadas a do sin terminar
	idle chan struct{} // se cierra cuando n vuelve a 0
}

type result struct {
	outcomes []Outcome
	summary  Summary
}

// NewScheduler: pending informa cuántas órdenes hay sin enviar (del mirror);
// con 0 el tick no hace nada. onRun puede ser nil.
func NewScheduler(runner Runner, interval time.Duration, pending func() int, onRun func(Summary, []Outcome, error), log *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		pending:  pending,
		onRun:    onRun,
		log:      logger.OrNamed(log, "reconcile.scheduler"),
	}
}

// Busy reporta si hay una corrida en curso.
func (s *Scheduler) Busy() bool { return s.busy.Load() }

// Run bloquea hasta que ctx se cancela.
func (s *Scheduler) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Tick(ctx)
		}
	}
}

// Wait bloquea hasta que termine la corrida en curso, si la hay. Quien
// cancela el ctx de Run o Trigger deja la corrida viva; antes de cerrar el
// store de órdenes hay que esperarla.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	if s.n == 0 {
		s.mu.Unlock()
		return nil
	}
	idle := s.idle
	s.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick es una corrida programada. Devuelve false si no corrió.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if s.pending != nil && s.pending() == 0 {
		return false
	}
	if s.busy.Load() {
		metrics.ReconcileRuns.WithLabelValues("skipped").Inc()
		s.log.Debug("previous reconcile still running, tick skipped")
		return false
	}
	_, _, _ = s.do(ctx)
	return true
}

// Trigger corre a demanda; si ya hay una corrida, espera y comparte su
// resultado.
func (s *Scheduler) Trigger(ctx context.Context) (Summary, []Outcome, error) {
	return s.do(ctx)
}

func (s *Scheduler) enter() {
	s.mu.Lock()
	if s.n == 0 {
		s.idle = make(chan struct{})
	}
	s.n++
	s.mu.Unlock()
}

func (s *Scheduler) leave() {
	s.mu.Lock()
	s.n--
	if s.n == 0 {
		close(s.idle)
	}
	s.mu.Unlock()
}

func (s *Scheduler) do(ctx context.Context) (Summary, []Outcome, error) {
	s.enter()
	ch := s.group.DoChan("reconcile", func() (any, error) {
		s.busy.Store(true)
		defer s.busy.Store(false)
		// La corrida no depende de quién la pidió primero.
		runCtx := context.WithoutCancel(ctx)

		start := time.Now()
		outcomes, err := s.runner.Reconcile(runCtx)
		metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
		sum := Summarize(outcomes, err)
		switch {
		case sum.Offline:
			metrics.ReconcileRuns.WithLabelValues("offline").Inc()
		case err != nil:
			metrics.ReconcileRuns.WithLabelValues("error").Inc()
		default:
			metrics.ReconcileRuns.WithLabelValues("ok").Inc()
		}
		Report(s.log, sum, err)
		if s.onRun != nil {
			s.onRun(sum, outcomes, err)
		}
		return result{outcomes: outcomes, summary: sum}, err
	})
	// leave recién cuando la corrida compartida termina, aunque el que
	// llamó ya no espere.
	relay := make(chan singleflight.Result, 1)
	go func() {
		r := <-ch
		s.leave()
		relay <- r
	}()
	select {
	case <-ctx.Done():
		return Summary{}, nil, ctx.Err()
	case r := <-relay:
		res, _ := r.Val.(result)
		return res.summary, res.outcomes, r.Err
	}
}
