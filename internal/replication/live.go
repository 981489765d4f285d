package replication

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xumingyi/offline-shop-ionic3/internal/docstore"
	"github.com/xumingyi/offline-shop-ionic3/internal/observability/logger"
)

// Live mantiene dst al día con src hasta que ctx se cancela: alcanza el
// checkpoint con Once y después sigue el change feed de src. Ante un error
// lo reporta por OnError y reintenta según el Retryer. Solo retorna antes
// de la cancelación si el Retryer deja de reintentar.
func Live(ctx context.Context, src, dst docstore.Store, opts Options) error {
	log := opts.log()
	r := opts.retryer()
	attempt := 0
	for {
		err := liveSession(ctx, src, dst, opts, func() {
			if attempt > 0 {
				log.Info("live replication resumed", logger.Store(src.Name()))
			}
			attempt = 0
			r.Reset()
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if opts.OnError != nil {
			opts.OnError(err)
		}
		delay, ok := r.NextDelay(attempt, err)
		if !ok {
			log.Warn("live replication gave up", logger.Store(src.Name()), logger.Err(err))
			return err
		}
		log.Debug("live replication interrupted, retrying",
			logger.Store(src.Name()), logger.Int("attempt", attempt), logger.Duration(delay), logger.Err(err))
		attempt++
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func liveSession(ctx context.Context, src, dst docstore.Store, opts Options, progressed func()) error {
	res, err := Once(ctx, src, dst, opts)
	if err != nil {
		return err
	}
	progressed()
	cp := &checkpointer{src: src, dst: dst, id: CheckpointID(src, dst), every: opts.checkpointInterval(),
		saved: res.LastSeq, seq: res.LastSeq, last: time.Now()}

	wctx, stop := context.WithCancel(ctx)
	flushed := make(chan struct{})
	go func() {
		defer close(flushed)
		t := time.NewTicker(cp.every)
		defer t.Stop()
		for {
			select {
			case <-wctx.Done():
				return
			case <-t.C:
				if err := cp.flush(wctx, false); err != nil && wctx.Err() == nil {
					opts.log().Debug("live checkpoint not saved", logger.Store(src.Name()), logger.Err(err))
				}
			}
		}
	}()
	defer func() {
		stop()
		<-flushed
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := cp.flush(fctx, true); err != nil {
			opts.log().Debug("final live checkpoint not saved", logger.Store(src.Name()), logger.Err(err))
		}
	}()

	return src.Watch(wctx, res.LastSeq, func(c docstore.Change) error {
		n, err := dst.BulkReplicate(wctx, []docstore.Doc{c.Doc})
		if err != nil {
			return err
		}
		cp.note(c.Seq)
		if n > 0 && opts.OnProgress != nil {
			opts.OnProgress(Progress{Direction: opts.Direction, DocsRead: 1, DocsWritten: n, LastSeq: c.Seq})
		}
		return nil
	})
}

// checkpointer acumula el último seq aplicado en live y lo guarda en ambos
// lados a lo sumo una vez por intervalo.
type checkpointer struct {
	src, dst docstore.Store
	id       string
	every    time.Duration

	mu    sync.Mutex
	seq   string
	saved string
	last  time.Time
}

func (c *checkpointer) note(seq string) {
	c.mu.Lock()
	c.seq = seq
	c.mu.Unlock()
}

// flush guarda el seq pendiente si pasó el intervalo (o siempre con force).
func (c *checkpointer) flush(ctx context.Context, force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seq == "" || c.seq == c.saved {
		return nil
	}
	if !force && time.Since(c.last) < c.every {
		return nil
	}
	if err := writeCheckpoint(ctx, c.src, c.dst, c.id, c.seq); err != nil {
		return err
	}
	c.saved = c.seq
	c.last = time.Now()
	return nil
}

// Sync corre dos sesiones Live (a→b como "push", b→a como "pull") hasta
// que ctx se cancela. Las revisiones idénticas no se re-escriben, así que
// lo que una dirección copia no rebota por la otra.
func Sync(ctx context.Context, a, b docstore.Store, opts Options) error {
	g, gctx := errgroup.WithContext(ctx)
	push, pull := opts, opts
	push.Direction = join(opts.Direction, "push")
	pull.Direction = join(opts.Direction, "pull")
	g.Go(func() error { return Live(gctx, a, b, push) })
	g.Go(func() error { return Live(gctx, b, a, pull) })
	return g.Wait()
}

func join(prefix, dir string) string {
	if prefix == "" {
		return dir
	}
	return prefix + "/" + dir
}
