package replication

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xumingyi/offline-shop-ionic3/internal/docstore"
	"github.com/xumingyi/offline-shop-ionic3/internal/domain/model"
	"github.com/xumingyi/offline-shop-ionic3/internal/observability/logger"
)

// EventKind es el tipo de evento saliente del worker.
type EventKind string

const (
	EventChange   EventKind = "change"
	EventComplete EventKind = "complete"
	EventError    EventKind = "error"
	EventDeleted  EventKind = "deleted"
	EventUpsert   EventKind = "upsert"
)

// Method indica la fase que originó el evento.
type Method string

const (
	MethodReplicate Method = "replicate"
	MethodSync      Method = "sync"
	MethodChanges   Method = "changes"
)

// Message es el mensaje entrante: un par de stores para una collection.
type Message struct {
	Collection model.Collection
	Local      docstore.Descriptor
	Remote     docstore.Descriptor
}

// ErrorInfo es el payload de los eventos de error.
type ErrorInfo struct {
	Message   string     `json:"message"`
	Class     ErrorClass `json:"class"`
	Direction string     `json:"direction,omitempty"`
}

// Event es el mensaje saliente. Info es Progress (change), Result
// (complete), ErrorInfo (error) o model.ChangeEvent (deleted/upsert).
type Event struct {
	Collection model.Collection `json:"collection"`
	Event      EventKind        `json:"event"`
	Method     Method           `json:"method"`
	Info       any              `json:"info"`
}

// WorkerConfig configura el worker.
type WorkerConfig struct {
	BatchSize int
	// EmitProgress habilita los eventos change de la replicación inicial.
	// Apagado por defecto: en colecciones grandes son mucho volumen.
	EmitProgress bool
	NewRetryer   func() Retryer
	// Buffer del canal de salida.
	Buffer int
	Logger *zap.Logger
}

// Worker replica pares local/remoto en goroutines propias. Se comunica con
// el host solo por Inbox/Events; abre sus propios handles de store a partir
// de los descriptores, sin compartir instancias con el host.
type Worker struct {
	cfg    WorkerConfig
	log    *zap.Logger
	inbox  chan Message
	events chan Event

	mu      sync.Mutex
	running map[string]bool
	wg      sync.WaitGroup
}

// NewWorker crea el worker; Run lo pone a atender mensajes.
func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	return &Worker{
		cfg:     cfg,
		log:     logger.OrNamed(cfg.Logger, "worker"),
		inbox:   make(chan Message, 8),
		events:  make(chan Event, cfg.Buffer),
		running: map[string]bool{},
	}
}

// Inbox recibe descriptores de pares a replicar.
func (w *Worker) Inbox() chan<- Message { return w.inbox }

// Events entrega los eventos en el orden en que cada par los produce.
// Se cierra cuando Run termina.
func (w *Worker) Events() <-chan Event { return w.events }

// Run atiende el inbox hasta que ctx se cancela; solo el host lo detiene.
func (w *Worker) Run(ctx context.Context) {
	defer func() {
		w.wg.Wait()
		close(w.events)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-w.inbox:
			key := pairKey(msg)
			w.mu.Lock()
			dup := w.running[key]
			w.running[key] = true
			w.mu.Unlock()
			if dup {
				w.log.Warn("store pair already replicating, message ignored", logger.Collection(string(msg.Collection)))
				continue
			}
			w.wg.Add(1)
			go func() {
				defer w.wg.Done()
				w.runPair(ctx, msg)
			}()
		}
	}
}

func pairKey(msg Message) string { return msg.Local.String() + "|" + msg.Remote.String() }

func (w *Worker) emit(ctx context.Context, ev Event) {
	select {
	case w.events <- ev:
	case <-ctx.Done():
	}
}

func (w *Worker) emitError(ctx context.Context, c model.Collection, m Method, dir string, err error) {
	w.emit(ctx, Event{Collection: c, Event: EventError, Method: m, Info: ErrorInfo{
		Message: err.Error(), Class: Classify(err), Direction: dir,
	}})
}

func (w *Worker) retryer() Retryer {
	if w.cfg.NewRetryer != nil {
		return w.cfg.NewRetryer()
	}
	return NewExponentialBackoffRetryer(0, 0)
}

// openRetry abre un store reintentando; un store remoto puede no estar
// disponible al arrancar.
func (w *Worker) openRetry(ctx context.Context, c model.Collection, d docstore.Descriptor) (docstore.Store, error) {
	r := w.retryer()
	for attempt := 0; ; attempt++ {
		s, err := docstore.Open(ctx, d)
		if err == nil {
			return s, nil
		}
		w.emitError(ctx, c, MethodReplicate, "", err)
		delay, ok := r.NextDelay(attempt, err)
		if !ok {
			return nil, err
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (w *Worker) runPair(ctx context.Context, msg Message) {
	// Al salir, un mensaje posterior para el mismo par vuelve a arrancarlo.
	defer func() {
		w.mu.Lock()
		delete(w.running, pairKey(msg))
		w.mu.Unlock()
	}()
	c := msg.Collection
	log := w.log.With(logger.Collection(string(c)))

	local, err := w.openRetry(ctx, c, msg.Local)
	if err != nil {
		return
	}
	defer local.Close()
	remote, err := w.openRetry(ctx, c, msg.Remote)
	if err != nil {
		return
	}
	defer remote.Close()

	opts := Options{BatchSize: w.cfg.BatchSize, Direction: "pull", NewRetryer: w.cfg.NewRetryer, Logger: w.cfg.Logger}
	if w.cfg.EmitProgress {
		opts.OnProgress = func(p Progress) {
			w.emit(ctx, Event{Collection: c, Event: EventChange, Method: MethodReplicate, Info: p})
		}
	}
	res, replErr := Once(ctx, remote, local, opts)
	if ctx.Err() != nil {
		return
	}

	// El feed arranca en la secuencia actual, antes de anunciar el resultado:
	// lo que llegue después de que el host recargue queda cubierto.
	since := docstore.SinceNow
	if info, err := local.Info(ctx); err == nil {
		since = info.UpdateSeq
	}

	if replErr != nil {
		// Aun así se inicia la sync: una falla de arranque sin red no debe
		// impedir converger cuando vuelva la conexión.
		log.Warn("initial replication failed", logger.Err(replErr))
		w.emitError(ctx, c, MethodReplicate, "pull", replErr)
	} else {
		log.Info("initial replication complete", logger.Count(res.DocsWritten), logger.Seq(res.LastSeq))
		w.emit(ctx, Event{Collection: c, Event: EventComplete, Method: MethodReplicate, Info: res})
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		syncOpts := Options{
			BatchSize:  w.cfg.BatchSize,
			NewRetryer: w.cfg.NewRetryer,
			Logger:     w.cfg.Logger,
		}
		syncOpts.OnError = func(err error) {
			w.emitError(ctx, c, MethodSync, "", err)
		}
		_ = Sync(ctx, local, remote, syncOpts)
	}()
	go func() {
		defer wg.Done()
		w.forwardChanges(ctx, c, local, since)
	}()
	wg.Wait()
}

// forwardChanges reenvía el change feed local como eventos deleted/upsert,
// en orden de commit. Si el feed falla, lo reporta y lo retoma desde la
// última secuencia entregada.
func (w *Worker) forwardChanges(ctx context.Context, c model.Collection, local docstore.Store, since string) {
	r := w.retryer()
	attempt := 0
	for {
		err := local.Watch(ctx, since, func(ch docstore.Change) error {
			attempt = 0
			ev := model.ChangeEvent{ID: ch.ID, Seq: ch.Seq, Doc: ch.Doc.Wire()}
			kind := EventUpsert
			ev.Kind = model.ChangeUpsert
			if ch.Deleted {
				kind = EventDeleted
				ev.Kind = model.ChangeDelete
			}
			w.emit(ctx, Event{Collection: c, Event: kind, Method: MethodChanges, Info: ev})
			since = ch.Seq
			return nil
		})
		if ctx.Err() != nil {
			return
		}
		w.emitError(ctx, c, MethodChanges, "", err)
		delay, ok := r.NextDelay(attempt, err)
		if !ok {
			return
		}
		attempt++
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}
