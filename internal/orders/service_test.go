package orders

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xumingyi/offline-shop-ionic3/internal/docstore"
	"github.com/xumingyi/offline-shop-ionic3/internal/docstore/adapters/sqlite"
	"github.com/xumingyi/offline-shop-ionic3/internal/domain/model"
	"github.com/xumingyi/offline-shop-ionic3/internal/kv"
	"github.com/xumingyi/offline-shop-ionic3/internal/replication"
)

func openService(t *testing.T) (*Service, docstore.Store) {
	t.Helper()
	s, err := sqlite.Open(context.Background(), "ordenes", docstore.Options{Dir: t.TempDir(), RevsLimit: 5, AutoCompaction: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	svc := New(s, kv.NewMemory(""), nil)
	svc.now = func() time.Time { return time.UnixMilli(1700000000000) }
	require.NoError(t, svc.Open(context.Background()))
	return svc, s
}

func TestCreateStoresPendingOrder(t *testing.T) {
	ctx := context.Background()
	svc, s := openService(t)

	o, err := svc.Create(ctx, model.Order{
		ClientTaxID: "900123",
		Items: []model.LineItem{
			{Reference: "P1", Quantity: 2, Total: 2000},
			{Reference: "P2", Quantity: 1, Total: 500},
		},
		Submitted: true, Error: "basura",
	})
	require.NoError(t, err)
	require.Equal(t, "1700000000000", o.ID)
	require.Equal(t, 2500.0, o.Total)
	require.False(t, o.Submitted)
	require.Empty(t, o.Error)
	require.NotEmpty(t, o.Rev)

	d, err := s.Get(ctx, o.ID)
	require.NoError(t, err)
	var stored model.Order
	require.NoError(t, d.Decode(&stored))
	require.True(t, stored.Pending())

	_, err = svc.Create(ctx, model.Order{})
	require.ErrorIs(t, err, ErrEmptyOrder)
	_, err = svc.Create(ctx, model.Order{ID: "x", Items: []model.LineItem{{Reference: "P"}}})
	require.ErrorIs(t, err, model.ErrInvalidOrderID)
	// Numérico pero corto: rompería el orden por id.
	_, err = svc.Create(ctx, model.Order{ID: "5", Items: []model.LineItem{{Reference: "P"}}})
	require.ErrorIs(t, err, model.ErrInvalidOrderID)
	_, err = svc.Create(ctx, model.Order{ID: "17000000000000", Items: []model.LineItem{{Reference: "P"}}})
	require.ErrorIs(t, err, model.ErrInvalidOrderID)

	_, err = svc.Create(ctx, model.Order{ID: o.ID, Items: []model.LineItem{{Reference: "P"}}})
	require.True(t, docstore.IsConflict(err))
}

func TestMirrorViewsAfterReload(t *testing.T) {
	ctx := context.Background()
	svc, _ := openService(t)
	for _, id := range []string{"1700000000001", "1700000000003", "1700000000002"} {
		_, err := svc.Create(ctx, model.Order{ID: id, Items: []model.LineItem{{Reference: "P", Total: 1}}})
		require.NoError(t, err)
	}
	pending, err := svc.Store().PendingOrders(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)

	_, err = svc.Store().UpdateOrder(ctx, "1700000000002", func(o model.Order) (model.Order, bool, error) {
		o.Submitted, o.DocEntry = true, "D2"
		return o, true, nil
	})
	require.NoError(t, err)

	require.NoError(t, svc.Handle(ctx, replication.Event{Event: replication.EventComplete}))
	ids := func(os []model.Order) []string {
		out := []string{}
		for _, o := range os {
			out = append(out, o.ID)
		}
		return out
	}
	require.Equal(t, []string{"1700000000003", "1700000000002", "1700000000001"}, ids(svc.MostRecentFirst()))
	require.Equal(t, []string{"1700000000001", "1700000000003"}, ids(svc.Pending()))
	o, ok := svc.Get("1700000000002")
	require.True(t, ok)
	require.Equal(t, "D2", o.DocEntry)
}

func TestDestroy(t *testing.T) {
	ctx := context.Background()
	svc, _ := openService(t)
	_, err := svc.Create(ctx, model.Order{Items: []model.LineItem{{Reference: "P"}}})
	require.NoError(t, err)
	require.NoError(t, svc.Reload(ctx))
	require.Len(t, svc.All(), 1)
	require.NoError(t, svc.Destroy(ctx))
	require.Empty(t, svc.All())
}
