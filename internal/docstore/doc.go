package docstore

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Doc es un documento revisionado. Body es el objeto JSON sin los campos
// reservados (_id, _rev, _deleted); MarshalJSON/UnmarshalJSON los mezclan
// con el cuerpo en el formato de CouchDB.
type Doc struct {
	ID      string
	Rev     string
	Deleted bool
	Body    json.RawMessage
}

var reserved = map[string]bool{"_id": true, "_rev": true, "_deleted": true, "_revisions": true, "_conflicts": true}

func (d Doc) MarshalJSON() ([]byte, error) {
	m := map[string]json.RawMessage{}
	if len(d.Body) > 0 && !bytes.Equal(bytes.TrimSpace(d.Body), []byte("null")) {
		if err := json.Unmarshal(d.Body, &m); err != nil {
			return nil, fmt.Errorf("%w: body: %v", ErrInvalidDoc, err)
		}
	}
	for k := range reserved {
		delete(m, k)
	}
	m["_id"], _ = json.Marshal(d.ID)
	if d.Rev != "" {
		m["_rev"], _ = json.Marshal(d.Rev)
	}
	if d.Deleted {
		m["_deleted"] = json.RawMessage("true")
	}
	return json.Marshal(m)
}

func (d *Doc) UnmarshalJSON(b []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDoc, err)
	}
	var out Doc
	if v, ok := m["_id"]; ok {
		if err := json.Unmarshal(v, &out.ID); err != nil {
			return fmt.Errorf("%w: _id: %v", ErrInvalidDoc, err)
		}
	}
	if v, ok := m["_rev"]; ok {
		_ = json.Unmarshal(v, &out.Rev)
	}
	if v, ok := m["_deleted"]; ok {
		_ = json.Unmarshal(v, &out.Deleted)
	}
	for k := range reserved {
		delete(m, k)
	}
	body, err := json.Marshal(m)
	if err != nil {
		return err
	}
	out.Body = body
	*d = out
	return nil
}

// NewDoc serializa v (un struct con tags _id/_rev) como Doc.
func NewDoc(v any) (Doc, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Doc{}, err
	}
	var d Doc
	if err := json.Unmarshal(b, &d); err != nil {
		return Doc{}, err
	}
	if d.ID == "" {
		return Doc{}, fmt.Errorf("%w: missing _id", ErrInvalidDoc)
	}
	return d, nil
}

// Decode deserializa el documento completo (incluye _id/_rev) en v.
func (d Doc) Decode(v any) error {
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// Wire retorna el documento en formato de wire; nunca falla para docs
// construidos por este paquete.
func (d Doc) Wire() json.RawMessage {
	b, err := json.Marshal(d)
	if err != nil {
		return nil
	}
	return b
}

// Field extrae un campo string del cuerpo; "" si no existe o no es string.
func (d Doc) Field(name string) string {
	var m map[string]json.RawMessage
	if json.Unmarshal(d.Body, &m) != nil {
		return ""
	}
	var s string
	if json.Unmarshal(m[name], &s) != nil {
		return ""
	}
	return s
}

// ─── Revisiones ───

// ParseRev separa "N-hash" en generación y hash. Un rev vacío es generación 0.
func ParseRev(rev string) (int, string, error) {
	if rev == "" {
		return 0, "", nil
	}
	i := strings.IndexByte(rev, '-')
	if i <= 0 {
		return 0, "", fmt.Errorf("docstore: malformed rev %q", rev)
	}
	gen, err := strconv.Atoi(rev[:i])
	if err != nil || gen < 1 {
		return 0, "", fmt.Errorf("docstore: malformed rev %q", rev)
	}
	return gen, rev[i+1:], nil
}

// NextRev calcula la revisión que sigue a prev para el contenido dado.
// Es determinística: mismo prev y mismo contenido dan el mismo rev.
func NextRev(prev string, body []byte, deleted bool) string {
	gen, _, err := ParseRev(prev)
	if err != nil {
		gen = 0
	}
	h := md5.New()
	h.Write([]byte(prev))
	if deleted {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	h.Write(canonical(body))
	return strconv.Itoa(gen+1) + "-" + hex.EncodeToString(h.Sum(nil))
}

// Wins reporta si la revisión a gana sobre b: mayor generación y, a igual
// generación, mayor hash. Ambos lados de una replicación eligen el mismo
// ganador sin coordinarse.
func Wins(a, b string) bool {
	ga, ha, errA := ParseRev(a)
	gb, hb, errB := ParseRev(b)
	if errA != nil {
		return false
	}
	if errB != nil {
		return true
	}
	if ga != gb {
		return ga > gb
	}
	return ha > hb
}

// canonical re-serializa un objeto JSON con claves ordenadas para que el
// hash de revisión no dependa del orden de los campos.
func canonical(b []byte) []byte {
	var v any
	if json.Unmarshal(b, &v) != nil {
		return b
	}
	out, err := json.Marshal(v)
	if err != nil {
		return b
	}
	return out
}

// CheckWrite valida una escritura lógica contra el documento vigente
// (cur == nil si no existe). Retorna el rev que tendrá el documento.
func CheckWrite(cur *Doc, next Doc) (string, error) {
	if next.ID == "" {
		return "", fmt.Errorf("%w: missing _id", ErrInvalidDoc)
	}
	switch {
	case cur == nil:
		if next.Rev != "" {
			return "", ErrConflict
		}
	case cur.Deleted:
		// Recrear sobre un tombstone sigue la historia del tombstone.
		if next.Rev != "" && next.Rev != cur.Rev {
			return "", ErrConflict
		}
	default:
		if next.Rev != cur.Rev {
			return "", ErrConflict
		}
	}
	prev := ""
	if cur != nil {
		prev = cur.Rev
	}
	return NextRev(prev, next.Body, next.Deleted), nil
}

// ShouldReplicate decide si una revisión replicada reemplaza a la vigente.
// Las revisiones idénticas se descartan para que una sync bidireccional no
// genere eco.
func ShouldReplicate(cur *Doc, incoming Doc) bool {
	if cur == nil {
		return true
	}
	if cur.Rev == incoming.Rev {
		return false
	}
	return Wins(incoming.Rev, cur.Rev)
}
