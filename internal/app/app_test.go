package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/xumingyi/offline-shop-ionic3/internal/config"
	"github.com/xumingyi/offline-shop-ionic3/internal/docstore"
	"github.com/xumingyi/offline-shop-ionic3/internal/docstore/adapters/couch/couchtest"
	"github.com/xumingyi/offline-shop-ionic3/internal/domain/model"
	"github.com/xumingyi/offline-shop-ionic3/internal/kv"
	"github.com/xumingyi/offline-shop-ionic3/internal/reconcile"
	"github.com/xumingyi/offline-shop-ionic3/internal/replication"
)

func testConfig(t *testing.T, remoteURL string) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Session.AdvisorID = "A7"
	cfg.Session.UserID = "u1"
	cfg.Remote.Adapter = "couch"
	cfg.Remote.URL = remoteURL
	cfg.Remote.Timeout = 5 * time.Second
	cfg.Local.Dir = t.TempDir()
	cfg.Replication.RetryInitial = 20 * time.Millisecond
	cfg.Replication.RetryMax = 50 * time.Millisecond
	cfg.Replication.PollInterval = 20 * time.Millisecond
	cfg.ERP.Interval = time.Hour
	cfg.KV.Kind = "memory"
	cfg.HTTP.Addr = ""
	return cfg
}

func offline() reconcile.Prober {
	return reconcile.ProbeFunc(func(context.Context) error { return reconcile.ErrOffline })
}

func putRemote(t *testing.T, s docstore.Store, v any) {
	t.Helper()
	d, err := docstore.NewDoc(v)
	require.NoError(t, err)
	_, err = s.Put(context.Background(), d)
	require.NoError(t, err)
}

func TestEngine_ReplicatesAndServesMirrors(t *testing.T) {
	srv := couchtest.NewServer()
	t.Cleanup(srv.Close)
	putRemote(t, srv.DB("clientes"), model.Client{ID: "c1", AdvisorID: "A7", Name: "Tienda Uno"})
	putRemote(t, srv.DB("ordenes"), model.Order{ID: "1700000000000", Items: []model.LineItem{{Reference: "P", Total: 10}}})

	flags := kv.NewMemory("")
	e, err := New(context.Background(), testConfig(t, srv.URL), Deps{
		Registerer: prometheus.NewRegistry(),
		KV:         flags,
		Prober:     offline(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool {
		st := e.Status()
		return st.Collections[model.CollectionClients].Ready && st.Collections[model.CollectionOrders].Ready
	}, 5*time.Second, 20*time.Millisecond)

	c, ok := e.Clients().Get("c1")
	require.True(t, ok)
	require.Equal(t, "Tienda Uno", c.Name)
	require.Equal(t, 1, e.Status().Collections[model.CollectionOrders].Pending)

	ready, err := kv.GetBool(context.Background(), flags, model.CollectionClients.StatusKey())
	require.NoError(t, err)
	require.True(t, ready)

	// Una orden creada en el dispositivo llega al Mirror por el feed y al
	// remoto por la sync.
	o, err := e.Orders().Create(context.Background(), model.Order{Items: []model.LineItem{{Reference: "Q", Total: 5}}})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := e.Orders().Get(o.ID)
		return ok
	}, 5*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		_, err := srv.DB("ordenes").Get(context.Background(), o.ID)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	sum, _, err := e.Scheduler().Trigger(context.Background())
	require.True(t, reconcile.IsOffline(err))
	require.True(t, sum.Offline)
	require.NotNil(t, e.Status().LastRun)

	require.ErrorIs(t, e.Run(context.Background()), ErrAlreadyRunning)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}
}

func TestEngine_RunWaitsForReconcileBeforeReturning(t *testing.T) {
	srv := couchtest.NewServer()
	t.Cleanup(srv.Close)
	putRemote(t, srv.DB("ordenes"), model.Order{ID: "1700000000000", Items: []model.LineItem{{Reference: "P", Total: 10}}})

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	prober := reconcile.ProbeFunc(func(context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return reconcile.ErrOffline
	})
	cfg := testConfig(t, srv.URL)
	cfg.ERP.Interval = 20 * time.Millisecond
	e, err := New(context.Background(), cfg, Deps{Registerer: prometheus.NewRegistry(), KV: kv.NewMemory(""), Prober: prober})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("reconcile never started")
	}
	cancel()
	select {
	case <-done:
		t.Fatal("Run returned with a reconcile in flight")
	case <-time.After(100 * time.Millisecond):
	}
	require.True(t, e.Status().Reconciling)

	close(release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}
	require.False(t, e.Status().Reconciling)
	require.NotNil(t, e.Status().LastRun)
	require.NoError(t, e.Close())
}

func TestEngine_ReopenKeepsReadyFlag(t *testing.T) {
	srv := couchtest.NewServer()
	t.Cleanup(srv.Close)
	cfg := testConfig(t, srv.URL)
	flags := kv.NewMemory("")
	require.NoError(t, kv.SetBool(context.Background(), flags, model.CollectionOrders.StatusKey(), true))

	e, err := New(context.Background(), cfg, Deps{Registerer: prometheus.NewRegistry(), KV: flags, Prober: offline()})
	require.NoError(t, err)
	defer e.Close()
	st := e.Status()
	require.True(t, st.Collections[model.CollectionOrders].Ready)
	require.False(t, st.Collections[model.CollectionClients].Ready)
	require.Equal(t, "A7", st.AdvisorID)
}

func TestNeedsReload(t *testing.T) {
	allow := []string{"getCheckpoint rejected with "}
	ev := func(m replication.Method, class replication.ErrorClass, msg string) replication.Event {
		return replication.Event{Event: replication.EventError, Method: m, Info: replication.ErrorInfo{Message: msg, Class: class}}
	}

	require.True(t, NeedsReload(ev(replication.MethodReplicate, replication.ClassUnexpected, "database is corrupt"), allow))
	require.False(t, NeedsReload(ev(replication.MethodReplicate, replication.ClassUnexpected, "getCheckpoint rejected with 500"), allow))
	require.False(t, NeedsReload(ev(replication.MethodReplicate, replication.ClassTransient, "connection refused"), allow))
	require.False(t, NeedsReload(ev(replication.MethodSync, replication.ClassUnexpected, "boom"), allow))
	require.False(t, NeedsReload(replication.Event{Event: replication.EventComplete, Method: replication.MethodReplicate}, allow))
}

func TestRemoteDescriptor(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Remote.URL = "https://couch.example.com/"
	d := RemoteDescriptor(cfg, "clientes")
	require.Equal(t, "couch", d.Adapter)
	require.Equal(t, "https://couch.example.com/clientes", d.Name)

	cfg.Remote.Adapter = "postgres"
	cfg.Remote.DSN = "postgres://localhost/shop"
	d = RemoteDescriptor(cfg, "ordenes")
	require.Equal(t, "postgres", d.Adapter)
	require.Equal(t, "ordenes", d.Name)
	require.Equal(t, "postgres://localhost/shop", d.Options.DSN)
}

func TestNewRejectsNilConfig(t *testing.T) {
	_, err := New(context.Background(), nil, Deps{})
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrReload))
}
