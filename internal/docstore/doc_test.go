package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDoc_WireRoundTrip(t *testing.T) {
	var d Doc
	require.NoError(t, json.Unmarshal([]byte(`{"_id":"1","_rev":"1-a","_deleted":true,"n":2}`), &d))
	require.Equal(t, "1", d.ID)
	require.Equal(t, "1-a", d.Rev)
	require.True(t, d.Deleted)
	require.JSONEq(t, `{"n":2}`, string(d.Body))
	require.JSONEq(t, `{"_id":"1","_rev":"1-a","_deleted":true,"n":2}`, string(d.Wire()))
}

func TestNewDocAndDecode(t *testing.T) {
	type rec struct {
		ID   string `json:"_id"`
		Rev  string `json:"_rev,omitempty"`
		Name string `json:"name"`
	}
	d, err := NewDoc(rec{ID: "c1", Name: "Ana"})
	require.NoError(t, err)
	require.Equal(t, "Ana", d.Field("name"))
	d.Rev = "3-x"
	var out rec
	require.NoError(t, d.Decode(&out))
	require.Equal(t, rec{ID: "c1", Rev: "3-x", Name: "Ana"}, out)

	_, err = NewDoc(rec{})
	require.ErrorIs(t, err, ErrInvalidDoc)
}

func TestNextRevDeterministic(t *testing.T) {
	a := NextRev("1-abc", []byte(`{"a":1,"b":2}`), false)
	b := NextRev("1-abc", []byte(`{"b":2,"a":1}`), false)
	require.Equal(t, a, b)
	gen, _, err := ParseRev(a)
	require.NoError(t, err)
	require.Equal(t, 2, gen)
	require.NotEqual(t, a, NextRev("1-abc", []byte(`{"a":1,"b":2}`), true))
}

func TestWins(t *testing.T) {
	require.True(t, Wins("3-a", "2-z"))
	require.True(t, Wins("2-b", "2-a"))
	require.False(t, Wins("2-a", "2-b"))
	require.True(t, Wins("1-a", "garbage"))
}

func TestCheckWrite(t *testing.T) {
	_, err := CheckWrite(nil, Doc{ID: "a", Rev: "1-x"})
	require.ErrorIs(t, err, ErrConflict)

	cur := &Doc{ID: "a", Rev: "2-x"}
	_, err = CheckWrite(cur, Doc{ID: "a", Rev: "1-x"})
	require.ErrorIs(t, err, ErrConflict)
	rev, err := CheckWrite(cur, Doc{ID: "a", Rev: "2-x", Body: []byte(`{}`)})
	require.NoError(t, err)
	require.Equal(t, "3-", rev[:2])

	tomb := &Doc{ID: "a", Rev: "4-t", Deleted: true}
	rev, err = CheckWrite(tomb, Doc{ID: "a", Body: []byte(`{}`)})
	require.NoError(t, err)
	require.Equal(t, "5-", rev[:2])
}

func TestIsCheckpoint(t *testing.T) {
	err := fmt.Errorf("replicate: %w", &CheckpointError{Err: ErrUnreachable})
	require.True(t, IsCheckpoint(err))
	require.True(t, IsUnreachable(err))
	require.True(t, IsCheckpoint(errors.New(CheckpointRejectedPrefix+"timeout")))
	require.False(t, IsCheckpoint(errors.New("boom")))
}
