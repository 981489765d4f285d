package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/xumingyi/offline-shop-ionic3/internal/kv"
)

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "app", "exp": exp.Unix()}).
		SignedString([]byte("k"))
	require.NoError(t, err)
	return tok
}

func TestKVTokens(t *testing.T) {
	ctx := context.Background()
	erp := newFakeERP(t)

	t.Run("refresh when missing", func(t *testing.T) {
		store := kv.NewMemory("")
		src := &KVTokens{Store: store, ERPURL: erp.URL, Username: "admin", Password: "secret"}
		tok, err := src.Token(ctx)
		require.NoError(t, err)
		require.Equal(t, "fresh-token", tok)
		stored, err := store.Get(ctx, TokenKey)
		require.NoError(t, err)
		require.Equal(t, "fresh-token", stored)
	})

	t.Run("valid jwt is reused", func(t *testing.T) {
		store := kv.NewMemory("")
		valid := signed(t, time.Now().Add(time.Hour))
		require.NoError(t, store.Set(ctx, TokenKey, valid))
		before := erp.authCalls()
		src := &KVTokens{Store: store, ERPURL: erp.URL, Username: "admin", Password: "secret"}
		tok, err := src.Token(ctx)
		require.NoError(t, err)
		require.Equal(t, valid, tok)
		require.Equal(t, before, erp.authCalls())
	})

	t.Run("expired jwt is refreshed", func(t *testing.T) {
		store := kv.NewMemory("")
		require.NoError(t, store.Set(ctx, TokenKey, signed(t, time.Now().Add(-time.Minute))))
		src := &KVTokens{Store: store, ERPURL: erp.URL, Username: "admin", Password: "secret"}
		tok, err := src.Token(ctx)
		require.NoError(t, err)
		require.Equal(t, "fresh-token", tok)
	})

	t.Run("bad credentials", func(t *testing.T) {
		src := &KVTokens{Store: kv.NewMemory(""), ERPURL: erp.URL, Username: "admin", Password: "nope"}
		_, err := src.Token(ctx)
		require.ErrorIs(t, err, ErrNoCredential)
	})

	t.Run("nothing stored and no credentials", func(t *testing.T) {
		src := &KVTokens{Store: kv.NewMemory("")}
		_, err := src.Token(ctx)
		require.ErrorIs(t, err, ErrNoCredential)
	})

	t.Run("opaque token without refresh", func(t *testing.T) {
		store := kv.NewMemory("")
		require.NoError(t, store.Set(ctx, TokenKey, "opaque"))
		tok, err := (&KVTokens{Store: store}).Token(ctx)
		require.NoError(t, err)
		require.Equal(t, "opaque", tok)
	})
}

func TestHTTPProbe(t *testing.T) {
	erp := newFakeERP(t)
	p := HTTPProbe{BaseURL: erp.URL + "/"}
	require.NoError(t, p.Online(context.Background()))

	erp.setOnline(false)
	require.ErrorIs(t, p.Online(context.Background()), ErrOffline)

	require.ErrorIs(t, HTTPProbe{BaseURL: "http://127.0.0.1:1"}.Online(context.Background()), ErrOffline)
}
