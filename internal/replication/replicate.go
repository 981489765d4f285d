// Package replication mueve documentos entre dos docstore.Store: replicación
// one-shot por lotes, sesiones live unidireccionales con reintento, sync
// bidireccional y el Worker que orquesta todo por collection.
package replication

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xumingyi/offline-shop-ionic3/internal/docstore"
	"github.com/xumingyi/offline-shop-ionic3/internal/observability/logger"
)

// DefaultBatchSize es el tamaño de lote de la replicación one-shot.
const DefaultBatchSize = 50

// DefaultCheckpointInterval: en live el checkpoint se guarda a lo sumo una
// vez por intervalo y al cerrar la sesión.
const DefaultCheckpointInterval = time.Second

var checkpointNamespace = uuid.MustParse("0b6f7f3e-4d0e-4c59-9a5b-3f0f3c6f8a21")

// CheckpointID deriva un id estable para el par src→dst.
func CheckpointID(src, dst docstore.Store) string {
	return uuid.NewSHA1(checkpointNamespace, []byte(src.Name()+"\x00"+dst.Name())).String()
}

// Progress se reporta después de cada lote.
type Progress struct {
	Direction   string `json:"direction,omitempty"`
	DocsRead    int    `json:"docs_read"`
	DocsWritten int    `json:"docs_written"`
	LastSeq     string `json:"last_seq"`
}

// Result resume una replicación one-shot.
type Result struct {
	DocsRead    int    `json:"docs_read"`
	DocsWritten int    `json:"docs_written"`
	Batches     int    `json:"batches"`
	LastSeq     string `json:"last_seq"`
}

// Options configura replicaciones y sesiones live.
type Options struct {
	BatchSize int
	// Direction etiqueta logs y eventos ("pull", "push", "bridge").
	Direction string
	// NewRetryer crea el retryer de cada sesión live; nil usa backoff
	// exponencial por defecto.
	NewRetryer func() Retryer
	OnProgress func(Progress)
	// OnError recibe los errores de sesiones live antes de reintentar.
	OnError func(err error)
	// CheckpointInterval limita cada cuánto una sesión live guarda su
	// checkpoint; 0 usa DefaultCheckpointInterval.
	CheckpointInterval time.Duration
	Logger             *zap.Logger
}

func (o Options) checkpointInterval() time.Duration {
	if o.CheckpointInterval > 0 {
		return o.CheckpointInterval
	}
	return DefaultCheckpointInterval
}

func (o Options) batchSize() int {
	if o.BatchSize > 0 {
		return o.BatchSize
	}
	return DefaultBatchSize
}

func (o Options) retryer() Retryer {
	if o.NewRetryer != nil {
		return o.NewRetryer()
	}
	return NewExponentialBackoffRetryer(0, 0)
}

func (o Options) log() *zap.Logger {
	l := logger.OrNamed(o.Logger, "replication")
	if o.Direction != "" {
		l = l.With(logger.String("direction", o.Direction))
	}
	return l
}

// readCheckpoint lee el checkpoint de ambos lados. Si difieren (uno se
// perdió o se destruyó) arranca desde cero: reescribir revisiones ya
// presentes es un no-op.
func readCheckpoint(ctx context.Context, src, dst docstore.Store, id string) (string, error) {
	read := func(s docstore.Store) (string, error) {
		seq, err := s.GetCheckpoint(ctx, id)
		if docstore.IsNotFound(err) {
			return "", nil
		}
		if err != nil {
			return "", &docstore.CheckpointError{Err: err}
		}
		return seq, nil
	}
	a, err := read(src)
	if err != nil {
		return "", err
	}
	b, err := read(dst)
	if err != nil {
		return "", err
	}
	if a != b {
		return "", nil
	}
	return b, nil
}

func writeCheckpoint(ctx context.Context, src, dst docstore.Store, id, seq string) error {
	if err := dst.PutCheckpoint(ctx, id, seq); err != nil {
		return fmt.Errorf("replication: write target checkpoint: %w", err)
	}
	if err := src.PutCheckpoint(ctx, id, seq); err != nil {
		return fmt.Errorf("replication: write source checkpoint: %w", err)
	}
	return nil
}

// Once copia a dst todo lo que src tiene después del último checkpoint,
// en lotes de BatchSize, y termina. No tiene timeout propio: corre hasta
// agotar el change feed o fallar.
func Once(ctx context.Context, src, dst docstore.Store, opts Options) (Result, error) {
	id := CheckpointID(src, dst)
	log := opts.log()
	since, err := readCheckpoint(ctx, src, dst, id)
	if err != nil {
		return Result{}, err
	}
	batch := opts.batchSize()
	res := Result{LastSeq: since}
	for {
		page, err := src.Changes(ctx, since, batch)
		if err != nil {
			return res, fmt.Errorf("replication: read changes: %w", err)
		}
		if len(page.Results) > 0 {
			docs := make([]docstore.Doc, 0, len(page.Results))
			for _, c := range page.Results {
				docs = append(docs, c.Doc)
			}
			n, err := dst.BulkReplicate(ctx, docs)
			if err != nil {
				return res, fmt.Errorf("replication: write batch: %w", err)
			}
			res.DocsRead += len(docs)
			res.DocsWritten += n
			res.Batches++
		}
		if page.LastSeq != "" && page.LastSeq != since {
			if err := writeCheckpoint(ctx, src, dst, id, page.LastSeq); err != nil {
				return res, err
			}
			since = page.LastSeq
			res.LastSeq = since
		}
		if len(page.Results) > 0 && opts.OnProgress != nil {
			opts.OnProgress(Progress{Direction: opts.Direction, DocsRead: res.DocsRead, DocsWritten: res.DocsWritten, LastSeq: since})
		}
		if len(page.Results) < batch {
			break
		}
	}
	log.Debug("one-shot replication finished",
		logger.Store(src.Name()), logger.Count(res.DocsWritten), logger.Seq(res.LastSeq))
	return res, nil
}
