package model

import "encoding/json"

// ChangeKind es el tipo de mutación que reporta el change feed.
type ChangeKind string

const (
	ChangeUpsert ChangeKind = "upsert"
	ChangeDelete ChangeKind = "delete"
)

// ChangeEvent es la única entrada incremental de un mirror. Doc lleva el
// cuerpo completo del documento en formato de wire (_id, _rev, ...).
type ChangeEvent struct {
	Kind ChangeKind      `json:"kind"`
	ID   string          `json:"id"`
	Seq  string          `json:"seq,omitempty"`
	Doc  json.RawMessage `json:"doc,omitempty"`
}

// Decode deserializa el documento del evento en v.
func (e ChangeEvent) Decode(v any) error {
	return json.Unmarshal(e.Doc, v)
}
