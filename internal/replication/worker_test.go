package replication

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xumingyi/offline-shop-ionic3/internal/docstore"
	"github.com/xumingyi/offline-shop-ionic3/internal/docstore/adapters/couch/couchtest"
	"github.com/xumingyi/offline-shop-ionic3/internal/domain/model"
)

func waitEvent(t *testing.T, events <-chan Event, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("events channel closed")
			}
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for worker event")
		}
	}
}

func startWorker(t *testing.T, srv *couchtest.Server, db string) (*Worker, context.CancelFunc) {
	t.Helper()
	w := NewWorker(WorkerConfig{NewRetryer: fastRetry, EmitProgress: true})
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	w.Inbox() <- Message{
		Collection: model.CollectionOrders,
		Local:      docstore.Descriptor{Adapter: "memory", Name: t.Name() + "/local"},
		Remote:     docstore.Descriptor{Adapter: "couch", Name: srv.DBURL(db), Options: docstore.Options{Timeout: 5 * time.Second}},
	}
	t.Cleanup(func() {
		cancel()
		for range w.Events() {
		}
	})
	return w, cancel
}

func TestWorker_CompleteThenForwardsChanges(t *testing.T) {
	srv := couchtest.NewServer()
	t.Cleanup(srv.Close)
	remote := srv.DB("ordenes")
	put(t, remote, "100", "a")
	put(t, remote, "101", "b")

	w, _ := startWorker(t, srv, "ordenes")

	ev := waitEvent(t, w.Events(), func(e Event) bool { return e.Event == EventComplete })
	require.Equal(t, MethodReplicate, ev.Method)
	require.Equal(t, model.CollectionOrders, ev.Collection)
	require.Equal(t, 2, ev.Info.(Result).DocsWritten)

	// Un cambio remoto llega por la sync y sale como upsert del feed local.
	put(t, remote, "102", "c")
	ev = waitEvent(t, w.Events(), func(e Event) bool { return e.Event == EventUpsert })
	require.Equal(t, MethodChanges, ev.Method)
	ce := ev.Info.(model.ChangeEvent)
	require.Equal(t, "102", ce.ID)
	require.Equal(t, model.ChangeUpsert, ce.Kind)

	d, err := remote.Get(context.Background(), "101")
	require.NoError(t, err)
	_, err = remote.Put(context.Background(), docstore.Doc{ID: "101", Rev: d.Rev, Deleted: true})
	require.NoError(t, err)
	ev = waitEvent(t, w.Events(), func(e Event) bool { return e.Event == EventDeleted })
	require.Equal(t, "101", ev.Info.(model.ChangeEvent).ID)
}

func TestWorker_InitialFailureStillSyncs(t *testing.T) {
	srv := couchtest.NewServer()
	t.Cleanup(srv.Close)
	srv.SetDown(true)

	w, _ := startWorker(t, srv, "ordenes")

	ev := waitEvent(t, w.Events(), func(e Event) bool { return e.Event == EventError && e.Method == MethodReplicate })
	info := ev.Info.(ErrorInfo)
	require.NotEqual(t, ClassUnexpected, info.Class)

	srv.SetDown(false)
	put(t, srv.DB("ordenes"), "200", "x")
	ev = waitEvent(t, w.Events(), func(e Event) bool { return e.Event == EventUpsert })
	require.Equal(t, "200", ev.Info.(model.ChangeEvent).ID)
}

func TestWorker_SyncErrorsAreEvents(t *testing.T) {
	srv := couchtest.NewServer()
	t.Cleanup(srv.Close)
	w, _ := startWorker(t, srv, "ordenes")
	waitEvent(t, w.Events(), func(e Event) bool { return e.Event == EventComplete })

	srv.SetForbidden(true)
	// Una escritura local obliga al push a tocar el remoto.
	local, err := docstore.Open(context.Background(), docstore.Descriptor{Adapter: "memory", Name: t.Name() + "/local"})
	require.NoError(t, err)
	put(t, local, "300", "x")
	ev := waitEvent(t, w.Events(), func(e Event) bool {
		return e.Event == EventError && e.Method == MethodSync && e.Info.(ErrorInfo).Class == ClassDenied
	})
	require.NotEmpty(t, ev.Info.(ErrorInfo).Message)
}

func TestWorker_PairCanRestartAfterGivingUp(t *testing.T) {
	w := NewWorker(WorkerConfig{NewRetryer: func() Retryer { return NewFixedDelayRetryer(time.Millisecond, 1) }})
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	t.Cleanup(func() {
		cancel()
		for range w.Events() {
		}
	})
	msg := Message{
		Collection: model.CollectionClients,
		Local:      docstore.Descriptor{Adapter: "memory", Name: t.Name() + "/local"},
		Remote:     docstore.Descriptor{Adapter: "no-such-adapter", Name: "clientes"},
	}
	isError := func(e Event) bool { return e.Event == EventError && e.Method == MethodReplicate }

	w.Inbox() <- msg
	waitEvent(t, w.Events(), isError)
	waitEvent(t, w.Events(), isError)
	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return !w.running[pairKey(msg)]
	}, 2*time.Second, 5*time.Millisecond)

	// El mismo par vuelve a intentarse en vez de descartarse como duplicado.
	w.Inbox() <- msg
	waitEvent(t, w.Events(), isError)
}
