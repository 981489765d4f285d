// Package sqlite implementa el tier durable sobre SQLite (ncruces/go-sqlite3,
// vía database/sql). Guarda una historia de revisiones acotada por documento
// y, si se configuran campos de búsqueda, un índice FTS5 con scope.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/xumingyi/offline-shop-ionic3/internal/docstore"
)

func init() {
	docstore.RegisterAdapter(&sqliteAdapter{})
}

type sqliteAdapter struct{}

func (a *sqliteAdapter) Name() string { return "sqlite" }

func (a *sqliteAdapter) Open(ctx context.Context, d docstore.Descriptor) (docstore.Store, error) {
	return Open(ctx, d.Name, d.Options)
}

const schema = `
CREATE TABLE IF NOT EXISTS docs (
    id TEXT PRIMARY KEY,
    rev TEXT NOT NULL,
    deleted INTEGER NOT NULL DEFAULT 0,
    body TEXT NOT NULL,
    seq INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_docs_seq ON docs(seq);

-- Generador de secuencias del change feed; una fila viva por documento.
CREATE TABLE IF NOT EXISTS seqs (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_seqs_id ON seqs(id);

-- Historia de revisiones, acotada a revs_limit por documento.
CREATE TABLE IF NOT EXISTS revs (
    id TEXT NOT NULL,
    rev TEXT NOT NULL,
    gen INTEGER NOT NULL,
    deleted INTEGER NOT NULL DEFAULT 0,
    body TEXT,
    PRIMARY KEY (id, rev)
);

CREATE TABLE IF NOT EXISTS checkpoints (
    id TEXT PRIMARY KEY,
    seq TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

var validField = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// notifiers es por path: dos handles del mismo archivo en el proceso se
// despiertan mutuamente sin esperar el polling.
var (
	notifiersMu sync.Mutex
	notifiers   = map[string]*docstore.Notifier{}
)

func notifierFor(path string) *docstore.Notifier {
	notifiersMu.Lock()
	defer notifiersMu.Unlock()
	n, ok := notifiers[path]
	if !ok {
		n = docstore.NewNotifier()
		notifiers[path] = n
	}
	return n
}

// Store es el tier durable.
type Store struct {
	mu   sync.RWMutex
	db   *sql.DB
	name string
	path string
	opts docstore.Options

	fields []string
	notify *docstore.Notifier
	closed bool
}

// Path resuelve el archivo de un store: name dentro de dir, o ":memory:".
func Path(dir, name string) string {
	if name == ":memory:" {
		return name
	}
	if filepath.IsAbs(name) || dir == "" {
		return name + ".db"
	}
	return filepath.Join(dir, name+".db")
}

// Open abre (o crea) el store durable name en opts.Dir.
func Open(ctx context.Context, name string, opts docstore.Options) (*Store, error) {
	for _, f := range opts.SearchFields {
		if !validField.MatchString(f) {
			return nil, fmt.Errorf("sqlite: invalid search field %q", f)
		}
	}
	if opts.ScopeField != "" && !validField.MatchString(opts.ScopeField) {
		return nil, fmt.Errorf("sqlite: invalid scope field %q", opts.ScopeField)
	}
	if opts.RevsLimit <= 0 {
		opts.RevsLimit = 1000
	}

	path := Path(opts.Dir, name)
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: mkdir: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(10000)&_pragma=journal_mode(wal)"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Una sola conexión: ":memory:" no se comparte entre conexiones y las
	// escrituras de SQLite se serializan igual.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	s := &Store{db: db, name: name, path: path, opts: opts, fields: opts.SearchFields, notify: notifierFor(path)}
	if err := s.ensureIndex(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Name() string { return s.name }

func (s *Store) check() error {
	if s.closed {
		return docstore.ErrClosed
	}
	return nil
}

func (s *Store) Info(ctx context.Context) (docstore.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return docstore.Info{}, err
	}
	var n int
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM docs WHERE deleted = 0), (SELECT COALESCE(MAX(seq), 0) FROM docs)`).Scan(&n, &seq)
	if err != nil {
		return docstore.Info{}, err
	}
	return docstore.Info{Name: s.name, Adapter: "sqlite", DocCount: n, UpdateSeq: strconv.FormatInt(seq, 10)}, nil
}

func (s *Store) Get(ctx context.Context, id string) (docstore.Doc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return docstore.Doc{}, err
	}
	d, err := getDoc(ctx, s.db, id)
	if err != nil {
		return docstore.Doc{}, err
	}
	if d.Deleted {
		return docstore.Doc{}, docstore.ErrNotFound
	}
	return *d, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// getDoc retorna la revisión vigente, tombstones incluidos.
func getDoc(ctx context.Context, q queryer, id string) (*docstore.Doc, error) {
	var d docstore.Doc
	var deleted int
	var body string
	err := q.QueryRowContext(ctx, `SELECT id, rev, deleted, body FROM docs WHERE id = ?`, id).
		Scan(&d.ID, &d.Rev, &deleted, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.Deleted = deleted != 0
	d.Body = []byte(body)
	return &d, nil
}

func (s *Store) Put(ctx context.Context, doc docstore.Doc) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return "", err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	cur, err := getDoc(ctx, tx, doc.ID)
	if err != nil && !docstore.IsNotFound(err) {
		return "", err
	}
	rev, err := docstore.CheckWrite(cur, doc)
	if err != nil {
		return "", err
	}
	doc.Rev = rev
	if err := s.write(ctx, tx, doc); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	s.notify.Broadcast()
	return rev, nil
}

func (s *Store) BulkReplicate(ctx context.Context, docs []docstore.Doc) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	n := 0
	for _, d := range docs {
		if _, _, err := docstore.ParseRev(d.Rev); err != nil || d.Rev == "" {
			return n, fmt.Errorf("sqlite: replicate %q: %w", d.ID, docstore.ErrInvalidDoc)
		}
		cur, err := getDoc(ctx, tx, d.ID)
		if err != nil && !docstore.IsNotFound(err) {
			return 0, err
		}
		if !docstore.ShouldReplicate(cur, d) {
			continue
		}
		if err := s.write(ctx, tx, d); err != nil {
			return 0, err
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if n > 0 {
		s.notify.Broadcast()
	}
	return n, nil
}

// write persiste doc como revisión vigente dentro de tx.
func (s *Store) write(ctx context.Context, tx *sql.Tx, doc docstore.Doc) error {
	body := string(doc.Body)
	if body == "" {
		body = "{}"
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO seqs (id) VALUES (?)`, doc.ID)
	if err != nil {
		return err
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM seqs WHERE id = ? AND seq < ?`, doc.ID, seq); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO docs (id, rev, deleted, body, seq) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET rev = excluded.rev, deleted = excluded.deleted,
			body = excluded.body, seq = excluded.seq
	`, doc.ID, doc.Rev, boolToInt(doc.Deleted), body, seq)
	if err != nil {
		return err
	}

	gen, _, _ := docstore.ParseRev(doc.Rev)
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO revs (id, rev, gen, deleted, body) VALUES (?, ?, ?, ?, ?)`,
		doc.ID, doc.Rev, gen, boolToInt(doc.Deleted), body); err != nil {
		return err
	}
	if s.opts.AutoCompaction {
		if _, err := tx.ExecContext(ctx,
			`UPDATE revs SET body = NULL WHERE id = ? AND rev <> ? AND body IS NOT NULL`, doc.ID, doc.Rev); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM revs WHERE id = ? AND rev NOT IN (
			SELECT rev FROM revs WHERE id = ? ORDER BY gen DESC, rev DESC LIMIT ?
		)`, doc.ID, doc.ID, s.opts.RevsLimit); err != nil {
		return err
	}
	return s.index(ctx, tx, doc)
}

func (s *Store) AllDocs(ctx context.Context) ([]docstore.Doc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, rev, body FROM docs WHERE deleted = 0 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []docstore.Doc
	for rows.Next() {
		var d docstore.Doc
		var body string
		if err := rows.Scan(&d.ID, &d.Rev, &body); err != nil {
			return nil, err
		}
		d.Body = []byte(body)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) Changes(ctx context.Context, since string, limit int) (docstore.ChangesPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return docstore.ChangesPage{}, err
	}
	from, err := parseSeq(since)
	if err != nil {
		return docstore.ChangesPage{}, err
	}
	if since == docstore.SinceNow {
		if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM docs`).Scan(&from); err != nil {
			return docstore.ChangesPage{}, err
		}
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, id, rev, deleted, body FROM docs WHERE seq > ? ORDER BY seq LIMIT ?`, from, limit)
	if err != nil {
		return docstore.ChangesPage{}, err
	}
	defer rows.Close()

	page := docstore.ChangesPage{LastSeq: strconv.FormatInt(from, 10)}
	for rows.Next() {
		var seq int64
		var deleted int
		var body string
		var c docstore.Change
		if err := rows.Scan(&seq, &c.ID, &c.Rev, &deleted, &body); err != nil {
			return docstore.ChangesPage{}, err
		}
		c.Seq = strconv.FormatInt(seq, 10)
		c.Deleted = deleted != 0
		c.Doc = docstore.Doc{ID: c.ID, Rev: c.Rev, Deleted: c.Deleted, Body: []byte(body)}
		page.Results = append(page.Results, c)
		page.LastSeq = c.Seq
	}
	return page, rows.Err()
}

func (s *Store) Watch(ctx context.Context, since string, fn func(docstore.Change) error) error {
	interval := s.opts.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return docstore.Follow(ctx, s, since, interval, s.notify.Wait, fn)
}

func (s *Store) GetCheckpoint(ctx context.Context, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return "", err
	}
	var seq string
	err := s.db.QueryRowContext(ctx, `SELECT seq FROM checkpoints WHERE id = ?`, id).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return "", docstore.ErrNotFound
	}
	return seq, err
}

func (s *Store) PutCheckpoint(ctx context.Context, id, seq string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (id, seq) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET seq = excluded.seq`, id, seq)
	return err
}

// Revisions lista la historia retenida de un documento, más reciente primero.
func (s *Store) Revisions(ctx context.Context, id string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT rev FROM revs WHERE id = ? ORDER BY gen DESC, rev DESC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Destroy cierra el store y borra sus archivos.
func (s *Store) Destroy(ctx context.Context) error {
	if err := s.Close(); err != nil {
		return err
	}
	if s.path == ":memory:" {
		return nil
	}
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(s.path + suffix); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	notifiersMu.Lock()
	delete(notifiers, s.path)
	notifiersMu.Unlock()
	return nil
}

func parseSeq(since string) (int64, error) {
	switch strings.TrimSpace(since) {
	case "", "0", docstore.SinceNow:
		return 0, nil
	}
	return strconv.ParseInt(since, 10, 64)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
