package mirror

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xumingyi/offline-shop-ionic3/internal/domain/model"
)

func ids[T Entity[T]](items []T) []string {
	out := make([]string, 0, len(items))
	for _, v := range items {
		out = append(out, v.Key())
	}
	return out
}

func orders(idList ...string) []model.Order {
	out := make([]model.Order, 0, len(idList))
	for _, id := range idList {
		out = append(out, model.Order{ID: id})
	}
	return out
}

func TestInsertBetween(t *testing.T) {
	m := New(Options[model.Order]{})
	m.Reload(orders("1", "3", "5"))
	m.InsertOrUpdate(model.Order{ID: "4"})
	require.Equal(t, []string{"1", "3", "4", "5"}, ids(m.All()))
}

func TestUpdateInPlace(t *testing.T) {
	m := New(Options[model.Order]{})
	m.Reload(orders("1", "2", "3"))
	m.InsertOrUpdate(model.Order{ID: "2", Comments: "nuevo"})
	all := m.All()
	require.Len(t, all, 3)
	require.Equal(t, "nuevo", all[1].Comments)
}

func TestRemoveUnknownIsNoop(t *testing.T) {
	m := New(Options[model.Order]{})
	m.Reload(orders("1", "2"))
	require.False(t, m.Remove("9"))
	require.Equal(t, []string{"1", "2"}, ids(m.All()))
	require.True(t, m.Remove("1"))
	require.False(t, m.Remove("1"))
	require.Equal(t, []string{"2"}, ids(m.All()))
}

func TestSortInvariantUnderRandomOps(t *testing.T) {
	m := New(Options[model.Client]{})
	rng := rand.New(rand.NewSource(42))
	ref := map[string]bool{}
	for i := 0; i < 2000; i++ {
		id := fmt.Sprintf("c%02d", rng.Intn(60))
		if rng.Intn(3) == 0 {
			m.Remove(id)
			delete(ref, id)
		} else {
			m.InsertOrUpdate(model.Client{ID: id})
			ref[id] = true
		}
		all := ids(m.All())
		for j := 1; j < len(all); j++ {
			require.Less(t, all[j-1], all[j])
		}
		require.Len(t, all, len(ref))
	}
}

func TestReadsAreIsolatedCopies(t *testing.T) {
	m := New(Options[model.Order]{})
	m.InsertOrUpdate(model.Order{ID: "1", Items: []model.LineItem{{Reference: "p1", Quantity: 1}}})

	got := m.All()
	got[0].Items[0].Quantity = 99
	got[0].Comments = "x"

	again, ok := m.Get("1")
	require.True(t, ok)
	assert.Equal(t, 1, again.Items[0].Quantity)
	assert.Empty(t, again.Comments)

	// Mutar lo insertado tampoco alcanza al mirror.
	in := model.Order{ID: "2", Items: []model.LineItem{{Reference: "p2", Quantity: 2}}}
	m.InsertOrUpdate(in)
	in.Items[0].Quantity = 7
	o, _ := m.Get("2")
	assert.Equal(t, 2, o.Items[0].Quantity)
}

func TestPendingAndMostRecentFirst(t *testing.T) {
	m := New(Options[model.Order]{Pending: model.Order.Pending})
	m.Reload([]model.Order{
		{ID: "1700000000001", Submitted: true, DocEntry: "D1"},
		{ID: "1700000000003"},
		{ID: "1700000000002"},
	})
	require.Equal(t, []string{"1700000000002", "1700000000003"}, ids(m.Pending()))
	require.Equal(t, []string{"1700000000003", "1700000000002", "1700000000001"}, ids(m.MostRecentFirst()))

	empty := New(Options[model.Order]{})
	empty.Reload(orders("1"))
	require.Empty(t, empty.Pending())
}

func TestReloadDeduplicatesKeepingLast(t *testing.T) {
	m := New(Options[model.Order]{})
	m.Reload([]model.Order{{ID: "2"}, {ID: "1", Comments: "a"}, {ID: "1", Comments: "b"}})
	all := m.All()
	require.Equal(t, []string{"1", "2"}, ids(all))
	require.Equal(t, "b", all[0].Comments)
}

func TestApply(t *testing.T) {
	var sizes []int
	m := New(Options[model.Client]{OnSize: func(n int) { sizes = append(sizes, n) }})

	doc, _ := json.Marshal(model.Client{ID: "c1", Name: "Tienda"})
	require.NoError(t, m.Apply(model.ChangeEvent{Kind: model.ChangeUpsert, ID: "c1", Doc: doc}))
	c, ok := m.Get("c1")
	require.True(t, ok)
	require.Equal(t, "Tienda", c.Name)

	require.NoError(t, m.Apply(model.ChangeEvent{Kind: model.ChangeDelete, ID: "c1"}))
	require.NoError(t, m.Apply(model.ChangeEvent{Kind: model.ChangeDelete, ID: "c1"}))
	require.Zero(t, m.Len())
	require.Equal(t, []int{1, 0}, sizes)

	require.Error(t, m.Apply(model.ChangeEvent{Kind: model.ChangeUpsert, ID: "c2", Doc: doc}))
	require.Error(t, m.Apply(model.ChangeEvent{Kind: "bogus", ID: "c1"}))
	require.Error(t, m.Apply(model.ChangeEvent{Kind: model.ChangeUpsert, ID: "c1", Doc: []byte("{")}))
}
