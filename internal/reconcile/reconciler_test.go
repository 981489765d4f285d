package reconcile

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xumingyi/offline-shop-ionic3/internal/docstore"
	_ "github.com/xumingyi/offline-shop-ionic3/internal/docstore/adapters/memory"
	"github.com/xumingyi/offline-shop-ionic3/internal/domain/model"
	"github.com/xumingyi/offline-shop-ionic3/internal/kv"
)

type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }

type fixture struct {
	erp   *fakeERP
	store docstore.Store
	rec   *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	erp := newFakeERP(t)
	s, err := docstore.Open(context.Background(), docstore.Descriptor{Adapter: "memory", Name: "reconcile/" + t.Name()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Destroy(context.Background()) })
	rec := New(Config{URL: erp.URL, AppVersion: "1.4.0"},
		HTTPProbe{BaseURL: erp.URL}, staticToken("tok"), DocOrders{Store: s},
		ident{"A7", "u-1", "ana@example.com"}, nil, nil)
	return &fixture{erp: erp, store: s, rec: rec}
}

func (f *fixture) putOrder(t *testing.T, o model.Order) string {
	t.Helper()
	d, err := docstore.NewDoc(o)
	require.NoError(t, err)
	rev, err := f.store.Put(context.Background(), d)
	require.NoError(t, err)
	return rev
}

func (f *fixture) order(t *testing.T, id string) (model.Order, string) {
	t.Helper()
	d, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	var o model.Order
	require.NoError(t, d.Decode(&o))
	return o, d.Rev
}

func TestAcceptedOrderIsMarkedSubmitted(t *testing.T) {
	f := newFixture(t)
	f.putOrder(t, model.Order{ID: "100", Total: 10})
	f.erp.reply("100", 201, `{"code":201,"data":{"DocumentParams":{"DocEntry":"D1"}}}`)

	out, err := f.rec.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].Accepted)
	assert.True(t, out[0].Written)
	assert.False(t, out[0].Failed())

	o, _ := f.order(t, "100")
	assert.True(t, o.Submitted)
	assert.Empty(t, o.Error)
	assert.Equal(t, "D1", o.DocEntry)
	assert.NotEmpty(t, o.UpdatedAt)
	require.NoError(t, o.Validate())
	assert.Equal(t, "Bearer tok", f.erp.authHeader())
}

func TestSameSubCodeIsNotRewritten(t *testing.T) {
	f := newFixture(t)
	rev := f.putOrder(t, model.Order{ID: "200", Error: `{"code":"A1"}`})
	f.erp.reply("200", 400, `{"code":400,"data":{"message":"cliente bloqueado","code":"A1"}}`)

	out, err := f.rec.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.False(t, out[0].Written)
	assert.True(t, out[0].Failed())

	o, rev2 := f.order(t, "200")
	assert.Equal(t, rev, rev2)
	assert.Equal(t, `{"code":"A1"}`, o.Error)
	require.Len(t, f.erp.calls(), 1)
}

func TestDifferentSubCodeIsWritten(t *testing.T) {
	f := newFixture(t)
	rev := f.putOrder(t, model.Order{ID: "200", Error: `{"code":"A1"}`})
	f.erp.reply("200", 400, `{"code":400,"data":{"code":"B2"}}`)

	out, err := f.rec.Reconcile(context.Background())
	require.NoError(t, err)
	assert.True(t, out[0].Written)
	assert.Equal(t, 400, out[0].Code)

	o, rev2 := f.order(t, "200")
	assert.NotEqual(t, rev, rev2)
	assert.Equal(t, `{"code":"B2"}`, o.Error)
	assert.False(t, o.Submitted)
}

func TestAcceptedOrdersAreNeverResubmitted(t *testing.T) {
	f := newFixture(t)
	f.putOrder(t, model.Order{ID: "300"})
	f.putOrder(t, model.Order{ID: "301", Submitted: true, DocEntry: "D0"})
	f.erp.reply("300", 201, `{"code":201,"data":{"DocumentParams":{"DocEntry":"D3"}}}`)

	_, err := f.rec.Reconcile(context.Background())
	require.NoError(t, err)
	out, err := f.rec.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Empty(t, out)

	calls := f.erp.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "300", calls[0].ID)
}

func TestOfflineShortCircuit(t *testing.T) {
	f := newFixture(t)
	f.putOrder(t, model.Order{ID: "400"})
	f.erp.setOnline(false)

	out, err := f.rec.Reconcile(context.Background())
	require.ErrorIs(t, err, ErrOffline)
	assert.Nil(t, out)
	assert.Empty(t, f.erp.calls())

	down := New(Config{URL: "http://127.0.0.1:1"}, HTTPProbe{BaseURL: "http://127.0.0.1:1"},
		staticToken("tok"), DocOrders{Store: f.store}, ident{}, nil, nil)
	_, err = down.Reconcile(context.Background())
	require.True(t, IsOffline(err))
}

func TestPartialFailureDoesNotAbortBatch(t *testing.T) {
	f := newFixture(t)
	f.putOrder(t, model.Order{ID: "500"})
	f.putOrder(t, model.Order{ID: "501"})
	f.putOrder(t, model.Order{ID: "not-a-timestamp"})
	f.erp.reply("500", 201, `{"code":201,"data":{"DocumentParams":{"DocEntry":"D5"}}}`)
	f.erp.reply("501", 500, `{"code":500,"data":{"soap_res":{"Code":{"Subcode":{"Value":"SAP-1"}}}}}`)

	out, err := f.rec.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 3)
	byID := map[string]Outcome{}
	for _, o := range out {
		byID[o.OrderID] = o
	}
	assert.True(t, byID["500"].Accepted)
	assert.Equal(t, 500, byID["501"].Code)
	assert.True(t, byID["501"].Written)
	assert.ErrorIs(t, byID["not-a-timestamp"].Err, model.ErrInvalidOrderID)
	assert.False(t, byID["not-a-timestamp"].Written)

	s := Summarize(out, nil)
	assert.Equal(t, Summary{Total: 3, Accepted: 1, Failed: 2}, s)
}

func TestTransportFailureIsNotPersisted(t *testing.T) {
	f := newFixture(t)
	rev := f.putOrder(t, model.Order{ID: "600"})
	rec := New(Config{URL: "http://127.0.0.1:1"}, ProbeFunc(func(context.Context) error { return nil }),
		staticToken("tok"), DocOrders{Store: f.store}, ident{}, &http.Client{}, nil)

	out, err := rec.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Error(t, out[0].Err)
	assert.True(t, out[0].Failed())
	_, rev2 := f.order(t, "600")
	assert.Equal(t, rev, rev2)
}

func TestTokenFromKVIsUsed(t *testing.T) {
	f := newFixture(t)
	f.putOrder(t, model.Order{ID: "700"})
	store := kv.NewMemory("")
	require.NoError(t, store.Set(context.Background(), TokenKey, "stored"))
	rec := New(Config{URL: f.erp.URL}, HTTPProbe{BaseURL: f.erp.URL},
		&KVTokens{Store: store}, DocOrders{Store: f.store}, ident{}, nil, nil)

	_, err := rec.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer stored", f.erp.authHeader())
}

func TestNoPendingOrdersNoCalls(t *testing.T) {
	f := newFixture(t)
	out, err := f.rec.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Empty(t, f.erp.calls())
}
