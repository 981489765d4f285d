// Package couchtest levanta un servidor HTTP con el subconjunto de la API de
// CouchDB que usa el adapter couch, respaldado por stores en memoria. Sirve
// como store remoto en tests de replicación y del motor.
package couchtest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/xumingyi/offline-shop-ionic3/internal/docstore"
	_ "github.com/xumingyi/offline-shop-ionic3/internal/docstore/adapters/memory"
)

// Server es un CouchDB falso.
type Server struct {
	*httptest.Server

	ns        string
	mu        sync.Mutex
	dbs       map[string]docstore.Store
	down      atomic.Bool
	forbidden atomic.Bool
	failLocal atomic.Bool
	requests  atomic.Int64
}

// NewServer arranca el servidor; llamar Close al terminar.
func NewServer() *Server {
	s := &Server{ns: uuid.NewString(), dbs: map[string]docstore.Store{}}
	r := chi.NewRouter()
	r.Use(s.gate)
	r.Get("/{db}", s.info)
	r.Delete("/{db}", s.destroy)
	r.Get("/{db}/_all_docs", s.allDocs)
	r.Get("/{db}/_changes", s.changes)
	r.Post("/{db}/_bulk_docs", s.bulkDocs)
	r.Get("/{db}/_local/{id}", s.getLocal)
	r.Put("/{db}/_local/{id}", s.putLocal)
	r.Get("/{db}/{id}", s.getDoc)
	r.Put("/{db}/{id}", s.putDoc)
	s.Server = httptest.NewServer(r)
	return s
}

// DBURL retorna la URL de la base name.
func (s *Server) DBURL(name string) string { return s.URL + "/" + name }

// DB retorna el store que respalda la base name (lo crea si no existe).
func (s *Server) DB(name string) docstore.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.dbs[name]
	if !ok {
		var err error
		db, err = docstore.Open(context.Background(), docstore.Descriptor{Adapter: "memory", Name: "couchtest/" + s.ns + "/" + name,
			Options: docstore.Options{PollInterval: 10 * time.Millisecond}})
		if err != nil {
			panic(err)
		}
		s.dbs[name] = db
	}
	return db
}

// SetDown hace que toda petición responda 503.
func (s *Server) SetDown(v bool) { s.down.Store(v) }

// SetForbidden hace que toda petición responda 401.
func (s *Server) SetForbidden(v bool) { s.forbidden.Store(v) }

// SetFailCheckpoints hace fallar las lecturas de _local con 500.
func (s *Server) SetFailCheckpoints(v bool) { s.failLocal.Store(v) }

// Requests cuenta las peticiones recibidas.
func (s *Server) Requests() int64 { return s.requests.Load() }

func (s *Server) gate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		switch {
		case s.down.Load():
			writeErr(w, http.StatusServiceUnavailable, "service_unavailable", "down")
		case s.forbidden.Load():
			writeErr(w, http.StatusUnauthorized, "unauthorized", "Name or password is incorrect.")
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, e, reason string) {
	writeJSON(w, code, map[string]string{"error": e, "reason": reason})
}

func writeStoreErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		writeErr(w, http.StatusNotFound, "not_found", "missing")
	case errors.Is(err, docstore.ErrConflict):
		writeErr(w, http.StatusConflict, "conflict", "Document update conflict.")
	default:
		writeErr(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func (s *Server) info(w http.ResponseWriter, r *http.Request) {
	db := s.DB(chi.URLParam(r, "db"))
	info, err := db.Info(r.Context())
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"db_name": chi.URLParam(r, "db"), "doc_count": info.DocCount, "update_seq": info.UpdateSeq})
}

func (s *Server) destroy(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "db")
	db := s.DB(name)
	_ = db.Destroy(r.Context())
	s.mu.Lock()
	delete(s.dbs, name)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) allDocs(w http.ResponseWriter, r *http.Request) {
	docs, err := s.DB(chi.URLParam(r, "db")).AllDocs(r.Context())
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	rows := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		rows = append(rows, map[string]any{"id": d.ID, "key": d.ID, "value": map[string]string{"rev": d.Rev}, "doc": d})
	}
	writeJSON(w, http.StatusOK, map[string]any{"total_rows": len(rows), "rows": rows})
}

func (s *Server) changes(w http.ResponseWriter, r *http.Request) {
	db := s.DB(chi.URLParam(r, "db"))
	q := r.URL.Query()
	since := q.Get("since")
	limit, _ := strconv.Atoi(q.Get("limit"))
	if since == docstore.SinceNow {
		info, err := db.Info(r.Context())
		if err != nil {
			writeStoreErr(w, err)
			return
		}
		since = info.UpdateSeq
	}
	page, err := db.Changes(r.Context(), since, limit)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	if q.Get("feed") == "longpoll" && len(page.Results) == 0 {
		ms, _ := strconv.Atoi(q.Get("timeout"))
		deadline := time.Now().Add(time.Duration(ms) * time.Millisecond)
		for len(page.Results) == 0 && time.Now().Before(deadline) && r.Context().Err() == nil {
			time.Sleep(10 * time.Millisecond)
			page, err = db.Changes(r.Context(), since, limit)
			if err != nil {
				writeStoreErr(w, err)
				return
			}
		}
	}
	results := make([]map[string]any, 0, len(page.Results))
	for _, c := range page.Results {
		row := map[string]any{"seq": c.Seq, "id": c.ID, "changes": []map[string]string{{"rev": c.Rev}}}
		if c.Deleted {
			row["deleted"] = true
		}
		if q.Get("include_docs") == "true" {
			row["doc"] = c.Doc
		}
		results = append(results, row)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results, "last_seq": page.LastSeq})
}

func (s *Server) bulkDocs(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Docs     []docstore.Doc `json:"docs"`
		NewEdits *bool          `json:"new_edits"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.NewEdits == nil || *req.NewEdits {
		writeErr(w, http.StatusBadRequest, "bad_request", "only new_edits=false is supported")
		return
	}
	if _, err := s.DB(chi.URLParam(r, "db")).BulkReplicate(r.Context(), req.Docs); err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, []any{})
}

func (s *Server) getLocal(w http.ResponseWriter, r *http.Request) {
	if s.failLocal.Load() {
		writeErr(w, http.StatusInternalServerError, "unknown_error", "checkpoint read failed")
		return
	}
	id := chi.URLParam(r, "id")
	seq, err := s.DB(chi.URLParam(r, "db")).GetCheckpoint(r.Context(), id)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"_id": "_local/" + id, "_rev": "0-1", "last_seq": seq})
}

func (s *Server) putLocal(w http.ResponseWriter, r *http.Request) {
	var body struct {
		LastSeq string `json:"last_seq"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := s.DB(chi.URLParam(r, "db")).PutCheckpoint(r.Context(), chi.URLParam(r, "id"), body.LastSeq); err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "rev": "0-1"})
}

func (s *Server) getDoc(w http.ResponseWriter, r *http.Request) {
	d, err := s.DB(chi.URLParam(r, "db")).Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) putDoc(w http.ResponseWriter, r *http.Request) {
	var d docstore.Doc
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	d.ID = chi.URLParam(r, "id")
	rev, err := s.DB(chi.URLParam(r, "db")).Put(r.Context(), d)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "id": d.ID, "rev": rev})
}
