// Package search busca clientes online primero (índice de búsqueda del
// store remoto) y, si esa llamada falla por cualquier motivo, en el índice
// FTS local del tier durable. Los dos caminos nunca se mezclan.
package search

import (
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

	"go.uber.org/zap"

	"github.com/xumingyi/offline-shop-ionic3/internal/docstore"
	"github.com/xumingyi/offline-shop-ionic3/internal/metrics"
	"github.com/xumingyi/offline-shop-ionic3/internal/observability/logger"
)

const DefaultLimit = 50

// Source indica qué camino respondió.
type Source string

const (
	SourceRemote Source = "remote"
	SourceLocal  Source = "local"
)

var (
	ErrEmptyQuery = errors.New("search: empty query")
	ErrNoScope    = errors.New("search: no advisor in session")
	// ErrUnavailable: falló el remoto y no hay índice local.
	ErrUnavailable = errors.New("search: no search path available")
)

// Scope entrega el valor de tenencia (asesor) de la sesión actual.
type Scope interface {
	AdvisorID() string
}

type Config struct {
	// URL del endpoint _search remoto. Vacía = solo local.
	URL        string
	Username   string
	Password   string
	Limit      int
	Fields     []string
	ScopeField string
	Timeout    time.Duration
}

type Hit struct {
	ID         string            `json:"id"`
	Score      float64           `json:"score"`
	Highlights map[string]string `json:"highlights,omitempty"`
	Doc        docstore.Doc      `json:"doc"`
}

type Result struct {
	Source    Source `json:"source"`
	TotalRows int    `json:"total_rows"`
	Hits      []Hit  `json:"hits"`
}

type Engine struct {
	cfg   Config
	hc    *http.Client
	local docstore.Searcher
	scope Scope
	log   *zap.Logger
}

// New arma el buscador. local puede ser nil (sin fallback); hc nil usa un
// cliente con cfg.Timeout.
func New(cfg Config, local docstore.Searcher, scope Scope, hc *http.Client, log *zap.Logger) *Engine {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if len(cfg.Fields) == 0 {
		cfg.Fields = []string{"nombre_cliente"}
	}
	if cfg.ScopeField == "" {
		cfg.ScopeField = "asesor"
	}
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Engine{cfg: cfg, hc: hc, local: local, scope: scope, log: logger.OrNamed(log, "search")}
}

// Search corre la consulta remota y, ante cualquier error, la local.
func (e *Engine) Search(ctx context.Context, query string) (Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Result{}, ErrEmptyQuery
	}
	advisor := e.scope.AdvisorID()
	if advisor == "" {
		return Result{}, ErrNoScope
	}

	if e.cfg.URL != "" {
		res, err := e.remote(ctx, query, advisor)
		if err == nil {
			metrics.SearchRequests.WithLabelValues(string(SourceRemote)).Inc()
			return res, nil
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		e.log.Warn("online search failed, using local index", logger.Err(err))
	}

	if e.local == nil {
		metrics.SearchRequests.WithLabelValues("failed").Inc()
		return Result{}, ErrUnavailable
	}
	res, err := e.localSearch(ctx, query, advisor)
	if err != nil {
		metrics.SearchRequests.WithLabelValues("failed").Inc()
		return Result{}, err
	}
	metrics.SearchRequests.WithLabelValues(string(SourceLocal)).Inc()
	return res, nil
}

// Rebuild fuerza la construcción del índice local.
func (e *Engine) Rebuild(ctx context.Context) error {
	if e.local == nil {
		return ErrUnavailable
	}
	return e.local.Rebuild(ctx)
}

// Expression arma la consulta Lucene: texto difuso en los campos
// configurados AND el scope del asesor.
func Expression(fields []string, scopeField, query, scope string) string {
	q := quote(query)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+":"+q+"~")
	}
	text := strings.Join(parts, " OR ")
	if len(parts) > 1 {
		text = "(" + text + ")"
	}
	return text + " AND " + scopeField + ":" + quote(scope)
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

type remoteResponse struct {
	TotalRows int `json:"total_rows"`
	Rows      []struct {
		ID     string          `json:"id"`
		Order  []any           `json:"order"`
		Fields json.RawMessage `json:"fields"`
		Doc    *docstore.Doc   `json:"doc"`
	} `json:"rows"`
}

func (e *Engine) remote(ctx context.Context, query, advisor string) (Result, error) {
	u, err := url.Parse(e.cfg.URL)
	if err != nil {
		return Result{}, fmt.Errorf("search: bad url: %w", err)
	}
	q := u.Query()
	q.Set("q", Expression(e.cfg.Fields, e.cfg.ScopeField, query, advisor))
	q.Set("limit", strconv.Itoa(e.cfg.Limit))
	q.Set("include_docs", "true")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Accept", "application/json")
	if e.cfg.Username != "" {
		req.SetBasicAuth(e.cfg.Username, e.cfg.Password)
	}
	resp, err := e.hc.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("search: remote status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var rr remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return Result{}, fmt.Errorf("search: decode remote response: %w", err)
	}

	res := Result{Source: SourceRemote, TotalRows: rr.TotalRows, Hits: make([]Hit, 0, len(rr.Rows))}
	for _, row := range rr.Rows {
		h := Hit{ID: row.ID}
		if len(row.Order) > 0 {
			if f, ok := row.Order[0].(float64); ok {
				h.Score = f
			}
		}
		if row.Doc != nil {
			h.Doc = *row.Doc
		}
		res.Hits = append(res.Hits, h)
	}
	return res, nil
}

func (e *Engine) localSearch(ctx context.Context, query, advisor string) (Result, error) {
	hits, err := e.local.Search(ctx, docstore.SearchRequest{
		Query:      query,
		ScopeValue: advisor,
		Limit:      e.cfg.Limit,
		Highlight:  true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("search: local: %w", err)
	}
	res := Result{Source: SourceLocal, TotalRows: len(hits), Hits: make([]Hit, 0, len(hits))}
	for _, h := range hits {
		res.Hits = append(res.Hits, Hit{ID: h.ID, Score: h.Score, Highlights: h.Highlights, Doc: h.Doc})
	}
	return res, nil
}
