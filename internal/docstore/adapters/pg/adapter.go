// Package pg implementa un store remoto sobre PostgreSQL (pgx). Cada base
// lógica es una tabla con cuerpo jsonb y una secuencia para el change feed.
package pg

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xumingyi/offline-shop-ionic3/internal/docstore"
)

func init() {
	docstore.RegisterAdapter(&postgresAdapter{})
}

type postgresAdapter struct{}

func (a *postgresAdapter) Name() string { return "postgres" }

func (a *postgresAdapter) Open(ctx context.Context, d docstore.Descriptor) (docstore.Store, error) {
	return Open(ctx, d.Options.DSN, d.Name, d.Options)
}

var validIdentifier = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// tableName normaliza un nombre de base a identificador PostgreSQL.
func tableName(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == '-' || r == ' ' || r == '.' || r == '/':
			b.WriteRune('_')
		}
	}
	t := "docs_" + b.String()
	if !validIdentifier.MatchString(t) || len(t) > 63 {
		return "", fmt.Errorf("pg: invalid database name %q", name)
	}
	return t, nil
}

// Store es una tabla de documentos en PostgreSQL.
type Store struct {
	pool  *pgxpool.Pool
	name  string
	table string
	poll  time.Duration
}

// Open conecta y crea la tabla si no existe.
func Open(ctx context.Context, dsn, name string, opts docstore.Options) (*Store, error) {
	table, err := tableName(name)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: parse DSN: %w", err)
	}
	poolCfg.MaxConns = 4
	if opts.Timeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = opts.Timeout
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", docstore.ErrUnreachable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", docstore.ErrUnreachable, err)
	}
	s := &Store{pool: pool, name: name, table: table, poll: opts.PollInterval}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE SEQUENCE IF NOT EXISTS %[1]s_seq;
CREATE TABLE IF NOT EXISTS %[1]s (
    id TEXT PRIMARY KEY,
    rev TEXT NOT NULL,
    deleted BOOLEAN NOT NULL DEFAULT FALSE,
    body JSONB NOT NULL,
    seq BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_seq_idx ON %[1]s (seq);
CREATE TABLE IF NOT EXISTS docstore_checkpoints (
    db TEXT NOT NULL,
    id TEXT NOT NULL,
    seq TEXT NOT NULL,
    PRIMARY KEY (db, id)
);`, s.table)
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

func (s *Store) Name() string { return s.name }

func (s *Store) Info(ctx context.Context) (docstore.Info, error) {
	var n int
	var seq int64
	q := fmt.Sprintf(`SELECT (SELECT COUNT(*) FROM %[1]s WHERE NOT deleted), (SELECT COALESCE(MAX(seq), 0) FROM %[1]s)`, s.table)
	if err := s.pool.QueryRow(ctx, q).Scan(&n, &seq); err != nil {
		return docstore.Info{}, wrap(err)
	}
	return docstore.Info{Name: s.name, Adapter: "postgres", DocCount: n, UpdateSeq: strconv.FormatInt(seq, 10)}, nil
}

func (s *Store) getDoc(ctx context.Context, q pgx.Tx, id string, lock bool) (*docstore.Doc, error) {
	sql := fmt.Sprintf(`SELECT id, rev, deleted, body FROM %s WHERE id = $1`, s.table)
	if lock {
		sql += " FOR UPDATE"
	}
	var d docstore.Doc
	var body []byte
	var row pgx.Row
	if q != nil {
		row = q.QueryRow(ctx, sql, id)
	} else {
		row = s.pool.QueryRow(ctx, sql, id)
	}
	if err := row.Scan(&d.ID, &d.Rev, &d.Deleted, &body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, docstore.ErrNotFound
		}
		return nil, wrap(err)
	}
	d.Body = body
	return &d, nil
}

func (s *Store) Get(ctx context.Context, id string) (docstore.Doc, error) {
	d, err := s.getDoc(ctx, nil, id, false)
	if err != nil {
		return docstore.Doc{}, err
	}
	if d.Deleted {
		return docstore.Doc{}, docstore.ErrNotFound
	}
	return *d, nil
}

// begin abre una transacción serializada por tabla: el orden de commit
// coincide con el orden de seq, requisito del change feed.
func (s *Store) begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, wrap(err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, s.table); err != nil {
		_ = tx.Rollback(ctx)
		return nil, wrap(err)
	}
	return tx, nil
}

func (s *Store) write(ctx context.Context, tx pgx.Tx, d docstore.Doc) error {
	body := string(d.Body)
	if body == "" {
		body = "{}"
	}
	q := fmt.Sprintf(`
		INSERT INTO %[1]s (id, rev, deleted, body, seq) VALUES ($1, $2, $3, $4::jsonb, nextval('%[1]s_seq'))
		ON CONFLICT (id) DO UPDATE SET rev = EXCLUDED.rev, deleted = EXCLUDED.deleted,
			body = EXCLUDED.body, seq = EXCLUDED.seq`, s.table)
	_, err := tx.Exec(ctx, q, d.ID, d.Rev, d.Deleted, body)
	return wrap(err)
}

func (s *Store) Put(ctx context.Context, doc docstore.Doc) (string, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	cur, err := s.getDoc(ctx, tx, doc.ID, true)
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
	if err := tx.Commit(ctx); err != nil {
		return "", wrap(err)
	}
	return rev, nil
}

func (s *Store) BulkReplicate(ctx context.Context, docs []docstore.Doc) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	tx, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)
	n := 0
	for _, d := range docs {
		cur, err := s.getDoc(ctx, tx, d.ID, true)
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
	if err := tx.Commit(ctx); err != nil {
		return 0, wrap(err)
	}
	return n, nil
}

func (s *Store) AllDocs(ctx context.Context) ([]docstore.Doc, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT id, rev, body FROM %s WHERE NOT deleted ORDER BY id`, s.table))
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()
	var out []docstore.Doc
	for rows.Next() {
		var d docstore.Doc
		var body []byte
		if err := rows.Scan(&d.ID, &d.Rev, &body); err != nil {
			return nil, wrap(err)
		}
		d.Body = body
		out = append(out, d)
	}
	return out, wrap(rows.Err())
}

func (s *Store) Changes(ctx context.Context, since string, limit int) (docstore.ChangesPage, error) {
	var from int64
	switch since {
	case "", "0":
	case docstore.SinceNow:
		info, err := s.Info(ctx)
		if err != nil {
			return docstore.ChangesPage{}, err
		}
		from, _ = strconv.ParseInt(info.UpdateSeq, 10, 64)
	default:
		v, err := strconv.ParseInt(since, 10, 64)
		if err != nil {
			return docstore.ChangesPage{}, fmt.Errorf("pg: invalid seq %q", since)
		}
		from = v
	}
	q := fmt.Sprintf(`SELECT seq, id, rev, deleted, body FROM %s WHERE seq > $1 ORDER BY seq`, s.table)
	args := []any{from}
	if limit > 0 {
		q += " LIMIT $2"
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return docstore.ChangesPage{}, wrap(err)
	}
	defer rows.Close()
	page := docstore.ChangesPage{LastSeq: strconv.FormatInt(from, 10)}
	for rows.Next() {
		var seq int64
		var body []byte
		var c docstore.Change
		if err := rows.Scan(&seq, &c.ID, &c.Rev, &c.Deleted, &body); err != nil {
			return docstore.ChangesPage{}, wrap(err)
		}
		c.Seq = strconv.FormatInt(seq, 10)
		c.Doc = docstore.Doc{ID: c.ID, Rev: c.Rev, Deleted: c.Deleted, Body: body}
		page.Results = append(page.Results, c)
		page.LastSeq = c.Seq
	}
	return page, wrap(rows.Err())
}

func (s *Store) Watch(ctx context.Context, since string, fn func(docstore.Change) error) error {
	interval := s.poll
	if interval <= 0 {
		interval = time.Second
	}
	return docstore.Follow(ctx, s, since, interval, nil, fn)
}

func (s *Store) GetCheckpoint(ctx context.Context, id string) (string, error) {
	var seq string
	err := s.pool.QueryRow(ctx, `SELECT seq FROM docstore_checkpoints WHERE db = $1 AND id = $2`, s.table, id).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", docstore.ErrNotFound
	}
	return seq, wrap(err)
}

func (s *Store) PutCheckpoint(ctx context.Context, id, seq string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO docstore_checkpoints (db, id, seq) VALUES ($1, $2, $3)
		ON CONFLICT (db, id) DO UPDATE SET seq = EXCLUDED.seq`, s.table, id, seq)
	return wrap(err)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Destroy(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %[1]s; DROP SEQUENCE IF EXISTS %[1]s_seq`, s.table))
	if err == nil {
		_, err = s.pool.Exec(ctx, `DELETE FROM docstore_checkpoints WHERE db = $1`, s.table)
	}
	s.pool.Close()
	return wrap(err)
}

// wrap clasifica errores de conexión como ErrUnreachable.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		switch pgErr.SQLState() {
		case "28000", "28P01", "42501":
			return fmt.Errorf("%w: %v", docstore.ErrForbidden, err)
		}
		return err
	}
	if strings.Contains(err.Error(), "connect") || strings.Contains(err.Error(), "closed pool") {
		return fmt.Errorf("%w: %v", docstore.ErrUnreachable, err)
	}
	return err
}
