package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/xumingyi/offline-shop-ionic3/internal/docstore"
	"github.com/xumingyi/offline-shop-ionic3/internal/util/textfold"
)

// ErrNoIndex: el store se abrió sin campos de búsqueda.
var ErrNoIndex = errors.New("sqlite: store has no search index")

var _ docstore.Searcher = (*Store)(nil)

func (s *Store) indexSignature() string {
	return s.opts.ScopeField + "|" + strings.Join(s.fields, ",")
}

// ensureIndex crea docs_fts con una columna por campo. Si la configuración
// de campos cambió desde la última apertura, recrea y reconstruye.
func (s *Store) ensureIndex(ctx context.Context) error {
	if len(s.fields) == 0 {
		return nil
	}
	var stored string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'fts'`).Scan(&stored)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	sig := s.indexSignature()
	if stored == sig {
		return nil
	}

	cols := make([]string, 0, len(s.fields))
	for _, f := range s.fields {
		cols = append(cols, `"`+f+`"`)
	}
	ddl := fmt.Sprintf(`CREATE VIRTUAL TABLE docs_fts USING fts5(id UNINDEXED, scope UNINDEXED, %s, tokenize = 'unicode61 remove_diacritics 2')`,
		strings.Join(cols, ", "))
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS docs_fts`); err != nil {
		return fmt.Errorf("sqlite: drop fts: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("sqlite: create fts: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES ('fts', ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, sig); err != nil {
		return err
	}
	return s.rebuild(ctx)
}

// index actualiza la fila FTS de doc dentro de tx.
func (s *Store) index(ctx context.Context, tx *sql.Tx, doc docstore.Doc) error {
	if len(s.fields) == 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM docs_fts WHERE id = ?`, doc.ID); err != nil {
		return err
	}
	if doc.Deleted {
		return nil
	}
	return s.insertFTS(ctx, tx, doc)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insertFTS(ctx context.Context, ex execer, doc docstore.Doc) error {
	args := []any{doc.ID, ""}
	if s.opts.ScopeField != "" {
		args[1] = doc.Field(s.opts.ScopeField)
	}
	marks := make([]string, 0, len(s.fields))
	for _, f := range s.fields {
		args = append(args, doc.Field(f))
		marks = append(marks, "?")
	}
	q := fmt.Sprintf(`INSERT INTO docs_fts VALUES (?, ?, %s)`, strings.Join(marks, ", "))
	_, err := ex.ExecContext(ctx, q, args...)
	return err
}

// Rebuild reconstruye el índice full-text desde los documentos vigentes.
func (s *Store) Rebuild(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if len(s.fields) == 0 {
		return ErrNoIndex
	}
	return s.rebuild(ctx)
}

func (s *Store) rebuild(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, rev, body FROM docs WHERE deleted = 0`)
	if err != nil {
		return err
	}
	var docs []docstore.Doc
	for rows.Next() {
		var d docstore.Doc
		var body string
		if err := rows.Scan(&d.ID, &d.Rev, &body); err != nil {
			rows.Close()
			return err
		}
		d.Body = []byte(body)
		docs = append(docs, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM docs_fts`); err != nil {
		return err
	}
	for _, d := range docs {
		if err := s.insertFTS(ctx, tx, d); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// matchExpr arma una expresión FTS5: cada palabra como prefijo, todas
// requeridas.
func matchExpr(query string) string {
	toks := textfold.Tokens(query)
	for i, t := range toks {
		toks[i] = `"` + t + `"*`
	}
	return strings.Join(toks, " ")
}

// Search consulta el índice. Los resultados vienen ordenados por relevancia
// descendente (bm25) y, a igual relevancia, en orden del índice.
func (s *Store) Search(ctx context.Context, req docstore.SearchRequest) ([]docstore.SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	if len(s.fields) == 0 {
		return nil, ErrNoIndex
	}
	match := matchExpr(req.Query)
	if match == "" {
		return nil, nil
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}

	sel := []string{"id", "bm25(docs_fts)"}
	if req.Highlight {
		for i := range s.fields {
			sel = append(sel, fmt.Sprintf("highlight(docs_fts, %d, '<strong>', '</strong>')", i+2))
		}
	}
	q := fmt.Sprintf(`SELECT %s FROM docs_fts WHERE docs_fts MATCH ? AND (? = '' OR scope = ?) ORDER BY rank LIMIT ?`,
		strings.Join(sel, ", "))
	rows, err := s.db.QueryContext(ctx, q, match, req.ScopeValue, req.ScopeValue, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: search: %w", err)
	}

	var hits []docstore.SearchHit
	for rows.Next() {
		var h docstore.SearchHit
		var bm25 float64
		dest := []any{&h.ID, &bm25}
		hl := make([]string, len(sel)-2)
		for i := range hl {
			dest = append(dest, &hl[i])
		}
		if err := rows.Scan(dest...); err != nil {
			rows.Close()
			return nil, err
		}
		// bm25 es menor cuanto más relevante.
		h.Score = -bm25
		if req.Highlight {
			h.Highlights = make(map[string]string, len(s.fields))
			for i, f := range s.fields {
				if strings.Contains(hl[i], "<strong>") {
					h.Highlights[f] = hl[i]
				}
			}
		}
		hits = append(hits, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := hits[:0]
	for _, h := range hits {
		d, err := getDoc(ctx, s.db, h.ID)
		if docstore.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if d.Deleted {
			continue
		}
		h.Doc = *d
		out = append(out, h)
	}
	return out, nil
}
