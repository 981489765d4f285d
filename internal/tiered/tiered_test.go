package tiered

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xumingyi/offline-shop-ionic3/internal/docstore"
	"github.com/xumingyi/offline-shop-ionic3/internal/docstore/adapters/sqlite"
	"github.com/xumingyi/offline-shop-ionic3/internal/replication"
)

func testOptions(dir string) Options {
	return Options{
		Dir:            dir,
		RevsLimit:      5,
		AutoCompaction: true,
		SearchFields:   []string{"nombre_cliente"},
		ScopeField:     "asesor",
		NewRetryer:     func() replication.Retryer { return replication.NewFixedDelayRetryer(20*time.Millisecond, 0) },
	}
}

func putClient(t *testing.T, s docstore.Store, id, name string) {
	t.Helper()
	_, err := docstore.Upsert(context.Background(), s, id, func(*docstore.Doc) (docstore.Doc, bool, error) {
		return docstore.Doc{Body: json.RawMessage(`{"nombre_cliente":"` + name + `","asesor":"A7"}`)}, true, nil
	})
	require.NoError(t, err)
}

func TestBridgeCopiesDurableToVolatile(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, "clientes", testOptions(t.TempDir()))
	require.NoError(t, err)
	defer s.Close()

	putClient(t, s.Durable(), "c1", "Tienda Uno")
	require.Eventually(t, func() bool {
		_, err := s.Reader().Get(ctx, "c1")
		return err == nil
	}, 3*time.Second, 10*time.Millisecond)
}

func TestSettleIsSynchronous(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, "clientes", testOptions(t.TempDir()))
	require.NoError(t, err)
	defer s.Close()

	putClient(t, s.Durable(), "c2", "Ferretería")
	require.NoError(t, s.Settle(ctx))
	d, err := s.Reader().Get(ctx, "c2")
	require.NoError(t, err)
	require.Equal(t, "c2", d.ID)
}

func TestVolatileIsFreshButReloadedOnOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := Open(ctx, "clientes", testOptions(dir))
	require.NoError(t, err)
	putClient(t, s.Durable(), "c3", "Droguería")
	require.NoError(t, s.Close())

	s2, err := Open(ctx, "clientes", testOptions(dir))
	require.NoError(t, err)
	defer s2.Close()
	require.NotEqual(t, s.Reader().Name(), s2.Reader().Name())

	info, err := s2.Reader().Info(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, info.DocCount)
}

func TestSearcherAndDescriptor(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := Open(ctx, "clientes", testOptions(dir))
	require.NoError(t, err)
	defer s.Close()

	_, ok := s.Searcher()
	require.True(t, ok)
	d := s.DurableDescriptor()
	require.Equal(t, "sqlite", d.Adapter)
	require.Equal(t, "clientes", d.Name)
}

func TestDestroyRemovesDurableFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := Open(ctx, "ordenes", testOptions(dir))
	require.NoError(t, err)
	putClient(t, s.Durable(), "o1", "x")
	require.NoError(t, s.Destroy(ctx))

	_, err = os.Stat(sqlite.Path(dir, "ordenes"))
	require.True(t, os.IsNotExist(err))
}

func TestOpenRejectsEmptyName(t *testing.T) {
	_, err := Open(context.Background(), "", Options{})
	require.Error(t, err)
}
