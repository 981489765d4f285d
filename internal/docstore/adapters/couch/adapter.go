// Package couch implementa el store remoto sobre la API HTTP de CouchDB /
// Cloudant. El nombre del descriptor es la URL completa de la base.
package couch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/xumingyi/offline-shop-ionic3/internal/docstore"
)

func init() {
	docstore.RegisterAdapter(&couchAdapter{})
}

type couchAdapter struct{}

func (a *couchAdapter) Name() string { return "couch" }

func (a *couchAdapter) Open(ctx context.Context, d docstore.Descriptor) (docstore.Store, error) {
	return New(d.Name, d.Options, nil)
}

// Store habla con una base remota. No guarda estado más allá del cliente
// HTTP; Close es un no-op.
type Store struct {
	base    *url.URL
	user    string
	pass    string
	hc      *http.Client
	longest time.Duration
}

// New crea un Store para dbURL. hc nil usa un cliente con opts.Timeout.
func New(dbURL string, opts docstore.Options, hc *http.Client) (*Store, error) {
	u, err := url.Parse(strings.TrimRight(dbURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("couch: invalid database url %q", dbURL)
	}
	user, pass := opts.Username, opts.Password
	if u.User != nil {
		if user == "" {
			user = u.User.Username()
			pass, _ = u.User.Password()
		}
		u.User = nil
	}
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	// El longpoll de _changes tiene que cerrar antes que el timeout del cliente.
	longest := 25 * time.Second
	if hc.Timeout > 0 && hc.Timeout/2 < longest {
		longest = hc.Timeout / 2
	}
	return &Store{base: u, user: user, pass: pass, hc: hc, longest: longest}, nil
}

func (s *Store) Name() string { return s.base.String() }

func (s *Store) endpoint(path string, q url.Values) string {
	u := *s.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// do ejecuta la petición y decodifica la respuesta JSON en out.
func (s *Store) do(ctx context.Context, method, path string, q url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.endpoint(path, q), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.user != "" {
		req.SetBasicAuth(s.user, s.pass)
	}
	resp, err := s.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", docstore.ErrUnreachable, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", docstore.ErrUnreachable, err)
	}
	if resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

type couchError struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

func statusError(code int, raw []byte) error {
	var ce couchError
	_ = json.Unmarshal(raw, &ce)
	msg := strings.TrimSpace(ce.Error + ": " + ce.Reason)
	switch {
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", docstore.ErrNotFound, msg)
	case code == http.StatusConflict:
		return fmt.Errorf("%w: %s", docstore.ErrConflict, msg)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: %s", docstore.ErrForbidden, msg)
	case code >= 500:
		return fmt.Errorf("%w: status %d %s", docstore.ErrUnreachable, code, msg)
	}
	return fmt.Errorf("couch: status %d %s", code, msg)
}

func docPath(id string) string {
	if strings.HasPrefix(id, "_design/") {
		return "/_design/" + url.PathEscape(strings.TrimPrefix(id, "_design/"))
	}
	return "/" + url.PathEscape(id)
}

type infoResponse struct {
	DBName    string          `json:"db_name"`
	DocCount  int             `json:"doc_count"`
	UpdateSeq json.RawMessage `json:"update_seq"`
}

func (s *Store) Info(ctx context.Context) (docstore.Info, error) {
	var r infoResponse
	if err := s.do(ctx, http.MethodGet, "", nil, nil, &r); err != nil {
		return docstore.Info{}, err
	}
	return docstore.Info{Name: r.DBName, Adapter: "couch", DocCount: r.DocCount, UpdateSeq: seqString(r.UpdateSeq)}, nil
}

func (s *Store) Get(ctx context.Context, id string) (docstore.Doc, error) {
	var d docstore.Doc
	if err := s.do(ctx, http.MethodGet, docPath(id), nil, nil, &d); err != nil {
		return docstore.Doc{}, err
	}
	return d, nil
}

type putResponse struct {
	OK  bool   `json:"ok"`
	ID  string `json:"id"`
	Rev string `json:"rev"`
}

func (s *Store) Put(ctx context.Context, doc docstore.Doc) (string, error) {
	if doc.ID == "" {
		return "", docstore.ErrInvalidDoc
	}
	var r putResponse
	if err := s.do(ctx, http.MethodPut, docPath(doc.ID), nil, doc, &r); err != nil {
		return "", err
	}
	return r.Rev, nil
}

type bulkRequest struct {
	Docs     []docstore.Doc `json:"docs"`
	NewEdits bool           `json:"new_edits"`
}

type bulkResult struct {
	ID     string `json:"id"`
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// BulkReplicate usa _bulk_docs con new_edits=false: CouchDB conserva las
// revisiones y elige ganador con la misma regla que los stores locales.
// Con new_edits=false CouchDB no informa si la revisión ya existía, así que
// el conteo incluye las repetidas.
func (s *Store) BulkReplicate(ctx context.Context, docs []docstore.Doc) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	var res []bulkResult
	if err := s.do(ctx, http.MethodPost, "/_bulk_docs", nil, bulkRequest{Docs: docs, NewEdits: false}, &res); err != nil {
		return 0, err
	}
	n := len(docs)
	for _, r := range res {
		if r.Error == "" {
			continue
		}
		if r.Error == "forbidden" || r.Error == "unauthorized" {
			return 0, fmt.Errorf("%w: %s: %s", docstore.ErrForbidden, r.ID, r.Reason)
		}
		n--
	}
	return n, nil
}

type allDocsResponse struct {
	Rows []struct {
		ID  string        `json:"id"`
		Doc *docstore.Doc `json:"doc"`
	} `json:"rows"`
}

func (s *Store) AllDocs(ctx context.Context) ([]docstore.Doc, error) {
	var r allDocsResponse
	q := url.Values{"include_docs": {"true"}}
	if err := s.do(ctx, http.MethodGet, "/_all_docs", q, nil, &r); err != nil {
		return nil, err
	}
	out := make([]docstore.Doc, 0, len(r.Rows))
	for _, row := range r.Rows {
		if row.Doc == nil || strings.HasPrefix(row.ID, "_design/") {
			continue
		}
		out = append(out, *row.Doc)
	}
	return out, nil
}

type changesResponse struct {
	Results []struct {
		Seq     json.RawMessage `json:"seq"`
		ID      string          `json:"id"`
		Deleted bool            `json:"deleted"`
		Changes []struct {
			Rev string `json:"rev"`
		} `json:"changes"`
		Doc *docstore.Doc `json:"doc"`
	} `json:"results"`
	LastSeq json.RawMessage `json:"last_seq"`
}

func (s *Store) changes(ctx context.Context, q url.Values) (docstore.ChangesPage, error) {
	var r changesResponse
	if err := s.do(ctx, http.MethodGet, "/_changes", q, nil, &r); err != nil {
		return docstore.ChangesPage{}, err
	}
	page := docstore.ChangesPage{LastSeq: seqString(r.LastSeq)}
	for _, row := range r.Results {
		if strings.HasPrefix(row.ID, "_design/") {
			continue
		}
		c := docstore.Change{Seq: seqString(row.Seq), ID: row.ID, Deleted: row.Deleted}
		if len(row.Changes) > 0 {
			c.Rev = row.Changes[0].Rev
		}
		if row.Doc != nil {
			c.Doc = *row.Doc
			c.Rev = row.Doc.Rev
		} else {
			c.Doc = docstore.Doc{ID: row.ID, Rev: c.Rev, Deleted: row.Deleted}
		}
		c.Doc.Deleted = c.Deleted || c.Doc.Deleted
		c.Deleted = c.Doc.Deleted
		page.Results = append(page.Results, c)
	}
	return page, nil
}

func (s *Store) Changes(ctx context.Context, since string, limit int) (docstore.ChangesPage, error) {
	q := url.Values{"include_docs": {"true"}, "style": {"main_only"}}
	if since != "" {
		q.Set("since", since)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return s.changes(ctx, q)
}

// Watch usa feed=longpoll; CouchDB resuelve since=now del lado servidor.
func (s *Store) Watch(ctx context.Context, since string, fn func(docstore.Change) error) error {
	if since == "" {
		since = "0"
	}
	for {
		q := url.Values{
			"include_docs": {"true"},
			"feed":         {"longpoll"},
			"since":        {since},
			"timeout":      {strconv.FormatInt(s.longest.Milliseconds(), 10)},
			"limit":        {"100"},
		}
		page, err := s.changes(ctx, q)
		if err != nil {
			return err
		}
		for _, c := range page.Results {
			if err := fn(c); err != nil {
				return err
			}
		}
		if page.LastSeq != "" {
			since = page.LastSeq
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

type localDoc struct {
	ID      string          `json:"_id"`
	Rev     string          `json:"_rev,omitempty"`
	LastSeq json.RawMessage `json:"last_seq"`
}

func (s *Store) GetCheckpoint(ctx context.Context, id string) (string, error) {
	var d localDoc
	if err := s.do(ctx, http.MethodGet, "/_local/"+url.PathEscape(id), nil, nil, &d); err != nil {
		return "", err
	}
	return seqString(d.LastSeq), nil
}

func (s *Store) PutCheckpoint(ctx context.Context, id, seq string) error {
	path := "/_local/" + url.PathEscape(id)
	var cur localDoc
	err := s.do(ctx, http.MethodGet, path, nil, nil, &cur)
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return err
	}
	lastSeq, _ := json.Marshal(seq)
	next := localDoc{ID: "_local/" + id, Rev: cur.Rev, LastSeq: lastSeq}
	return s.do(ctx, http.MethodPut, path, nil, next, nil)
}

func (s *Store) Close() error { return nil }

func (s *Store) Destroy(ctx context.Context) error {
	return s.do(ctx, http.MethodDelete, "", nil, nil, nil)
}

// seqString normaliza seqs de CouchDB 1.x (números) y 2.x+ (strings).
func seqString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}
