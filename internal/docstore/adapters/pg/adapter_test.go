package pg

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/xumingyi/offline-shop-ionic3/internal/docstore"
)

func TestTableName(t *testing.T) {
	n, err := tableName("Clientes-Prod")
	require.NoError(t, err)
	require.Equal(t, "docs_clientes_prod", n)
	_, err = tableName(strings.Repeat("x", 70))
	require.Error(t, err)
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("OFFLINE_SHOP_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("OFFLINE_SHOP_TEST_PG_DSN not set")
	}
	name := "t_" + uuid.NewString()[:8]
	s, err := Open(context.Background(), dsn, name, docstore.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Destroy(context.Background()) })
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	rev, err := s.Put(ctx, docstore.Doc{ID: "o1", Body: []byte(`{"estado":false}`)})
	require.NoError(t, err)
	_, err = s.Put(ctx, docstore.Doc{ID: "o1", Body: []byte(`{}`)})
	require.ErrorIs(t, err, docstore.ErrConflict)

	n, err := s.BulkReplicate(ctx, []docstore.Doc{{ID: "o2", Rev: "1-aa", Body: []byte(`{}`)}})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	page, err := s.Changes(ctx, "0", 0)
	require.NoError(t, err)
	require.Len(t, page.Results, 2)
	require.Equal(t, rev, page.Results[0].Rev)

	require.NoError(t, s.PutCheckpoint(ctx, "rep", page.LastSeq))
	seq, err := s.GetCheckpoint(ctx, "rep")
	require.NoError(t, err)
	require.Equal(t, page.LastSeq, seq)
}
