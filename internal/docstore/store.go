// Package docstore define el contrato de los document stores revisionados
// (tier volátil, tier durable y store remoto) y el registry de adapters.
//
// Escrituras lógicas (Put/Upsert) generan una revisión nueva y validan la
// vigente. Escrituras replicadas (BulkReplicate) preservan la revisión de
// origen y resuelven por ganador determinístico (ver Wins).
package docstore

import (
	"context"
	"time"
)

// SinceNow pide un change feed que arranque en la secuencia actual.
const SinceNow = "now"

// Info resume el estado de un store.
type Info struct {
	Name      string `json:"name"`
	Adapter   string `json:"adapter"`
	DocCount  int    `json:"doc_count"`
	UpdateSeq string `json:"update_seq"`
}

// Change es una entrada del change feed: la última revisión de un documento
// al momento de Seq.
type Change struct {
	Seq     string
	ID      string
	Rev     string
	Deleted bool
	Doc     Doc
}

// ChangesPage es una página one-shot del change feed.
type ChangesPage struct {
	Results []Change
	LastSeq string
}

// Store es un document store revisionado y replicable.
type Store interface {
	Name() string
	Info(ctx context.Context) (Info, error)

	// Get retorna la revisión vigente; ErrNotFound si no existe o es tombstone.
	Get(ctx context.Context, id string) (Doc, error)

	// Put es una escritura lógica. doc.Rev debe ser la revisión vigente
	// (vacío al crear). Retorna la nueva revisión o ErrConflict.
	Put(ctx context.Context, doc Doc) (string, error)

	// BulkReplicate escribe revisiones ya asignadas por otro store.
	// Retorna cuántas se aplicaron (las idénticas o perdedoras se omiten).
	BulkReplicate(ctx context.Context, docs []Doc) (int, error)

	// AllDocs lista los documentos vivos ordenados por id ascendente.
	AllDocs(ctx context.Context) ([]Doc, error)

	// Changes retorna hasta limit cambios posteriores a since, en orden de
	// commit. since "" o "0" arranca desde el principio.
	Changes(ctx context.Context, since string, limit int) (ChangesPage, error)

	// Watch entrega cambios posteriores a since (o SinceNow) en orden de
	// commit hasta que ctx se cancela o fn retorna error.
	Watch(ctx context.Context, since string, fn func(Change) error) error

	GetCheckpoint(ctx context.Context, id string) (string, error)
	PutCheckpoint(ctx context.Context, id, seq string) error

	Close() error
	// Destroy elimina todos los datos del store y lo cierra.
	Destroy(ctx context.Context) error
}

// SearchRequest es una consulta full-text local.
type SearchRequest struct {
	Query string
	// ScopeValue restringe a documentos cuyo campo de scope coincide.
	ScopeValue string
	Limit      int
	Highlight  bool
}

// SearchHit es un resultado rankeado (Score mayor = más relevante).
type SearchHit struct {
	ID         string
	Score      float64
	Highlights map[string]string
	Doc        Doc
}

// Searcher lo implementan los stores con índice full-text.
type Searcher interface {
	Search(ctx context.Context, req SearchRequest) ([]SearchHit, error)
	// Rebuild reconstruye el índice desde los documentos vigentes.
	Rebuild(ctx context.Context) error
}

// Options son las opciones de apertura comunes a todos los adapters; cada
// adapter ignora las que no aplican.
type Options struct {
	// RevsLimit acota la historia de revisiones por documento.
	RevsLimit int
	// AutoCompaction descarta cuerpos de revisiones no vigentes al escribir.
	AutoCompaction bool

	Username string
	Password string
	Timeout  time.Duration
	DSN      string
	Dir      string

	// PollInterval para adapters cuyo Watch consulta periódicamente.
	PollInterval time.Duration

	// SearchFields/ScopeField configuran el índice full-text.
	SearchFields []string
	ScopeField   string
}

// Descriptor identifica un store a abrir: adapter + nombre + opciones.
// Es un valor serializable; viaja en los mensajes al worker.
type Descriptor struct {
	Adapter string  `json:"adapter"`
	Name    string  `json:"name"`
	Options Options `json:"-"`
}

func (d Descriptor) String() string { return d.Adapter + ":" + d.Name }
