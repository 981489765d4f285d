package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOrder_CloneIsolatesItems(t *testing.T) {
	o := Order{ID: "1", Items: []LineItem{{Reference: "R1", Quantity: 1}}}
	c := o.Clone()
	c.Items[0].Quantity = 99
	require.Equal(t, 1, o.Items[0].Quantity)
}

func TestOrder_Validate(t *testing.T) {
	require.ErrorIs(t, Order{Submitted: true}.Validate(), ErrSubmittedWithoutDocEntry)
	require.ErrorIs(t, Order{Submitted: true, DocEntry: "D1", Error: "x"}.Validate(), ErrErrorOnSubmitted)
	require.NoError(t, Order{Error: "x"}.Validate())
	require.NoError(t, Order{Submitted: true, DocEntry: "D1"}.Validate())
}

func TestOrder_CreatedAt(t *testing.T) {
	ts := time.Date(2024, 3, 9, 15, 4, 5, 0, time.UTC)
	o := Order{ID: NewOrderID(ts)}
	got, err := o.CreatedAt()
	require.NoError(t, err)
	require.True(t, got.Equal(ts))

	_, err = Order{ID: "abc"}.CreatedAt()
	require.ErrorIs(t, err, ErrInvalidOrderID)
}

func TestOrder_WireFormat(t *testing.T) {
	raw := `{"_id":"100","_rev":"1-a","nitCliente":"900","transp":"TCC","observaciones":"x",
		"items":[{"_id":"R1","cantidad":2,"titulo":"T","totalPrice":10.5}],"total":10.5,"estado":false,"error":""}`
	var o Order
	require.NoError(t, json.Unmarshal([]byte(raw), &o))
	require.Equal(t, "900", o.ClientTaxID)
	require.Equal(t, "R1", o.Items[0].Reference)
	require.True(t, o.Pending())
	require.Equal(t, 10.5, o.ComputeTotal())
}

func TestCollection(t *testing.T) {
	c, err := ParseCollection("clients")
	require.NoError(t, err)
	require.Equal(t, "clientes-db-status", c.StatusKey())
	_, err = ParseCollection("productos")
	require.Error(t, err)
}
