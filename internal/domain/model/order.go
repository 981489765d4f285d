package model

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrSubmittedWithoutDocEntry = errors.New("model: submitted order without external doc entry")
	ErrErrorOnSubmitted         = errors.New("model: submitted order carries an error")
	ErrInvalidOrderID           = errors.New("model: order id is not a millisecond timestamp")
)

// LineItem es un renglón del carrito.
type LineItem struct {
	Reference string  `json:"_id"`
	Quantity  int     `json:"cantidad"`
	Title     string  `json:"titulo"`
	Total     float64 `json:"totalPrice"`
}

// Order es un snapshot del carrito más su estado frente al ERP.
//
// El id es el timestamp de creación en milisegundos, así que el orden
// lexicográfico de ids coincide con el de creación mientras tengan el mismo
// largo.
type Order struct {
	ID      string `json:"_id"`
	Rev     string `json:"_rev,omitempty"`
	Deleted bool   `json:"_deleted,omitempty"`

	ClientTaxID string     `json:"nitCliente"`
	Carrier     string     `json:"transp"`
	Comments    string     `json:"observaciones"`
	Items       []LineItem `json:"items"`
	Total       float64    `json:"total"`

	// Submitted: false = pendiente, true = aceptada por el ERP.
	Submitted bool   `json:"estado"`
	DocEntry  string `json:"docEntry,omitempty"`
	Error     string `json:"error"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

func (o Order) Key() string { return o.ID }

func (o Order) Clone() Order {
	if o.Items != nil {
		items := make([]LineItem, len(o.Items))
		copy(items, o.Items)
		o.Items = items
	}
	return o
}

// Pending: todavía no aceptada por el ERP.
func (o Order) Pending() bool { return !o.Submitted }

// CreatedAt deriva la fecha de creación del id.
func (o Order) CreatedAt() (time.Time, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(o.ID), 10, 64)
	if err != nil {
		return time.Time{}, ErrInvalidOrderID
	}
	return time.UnixMilli(ms), nil
}

// Validate revisa los invariantes de estado.
func (o Order) Validate() error {
	if o.Submitted && o.DocEntry == "" {
		return ErrSubmittedWithoutDocEntry
	}
	if o.Submitted && o.Error != "" {
		return ErrErrorOnSubmitted
	}
	return nil
}

// ComputeTotal suma los totales de los renglones.
func (o Order) ComputeTotal() float64 {
	var t float64
	for _, it := range o.Items {
		t += it.Total
	}
	return t
}

// OrderIDLen es el largo de un id en milisegundos (años 2001 a 2286). Con
// largo fijo el orden lexicográfico de los ids es el de creación.
const OrderIDLen = 13

// NewOrderID genera un id a partir del instante dado.
func NewOrderID(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
