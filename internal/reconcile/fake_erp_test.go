package reconcile

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

// fakeERP simula el API del ERP: /ping, /authenticate y /sap/order.
type fakeERP struct {
	*httptest.Server

	mu        sync.Mutex
	online    bool
	replies   map[string]reply
	submitted []OrderPayload
	auths     int
	lastAuth  string
}

type reply struct {
	status int
	body   string
}

func newFakeERP(t *testing.T) *fakeERP {
	t.Helper()
	f := &fakeERP{online: true, replies: map[string]reply{}}
	r := chi.NewRouter()
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if !f.online {
			_, _ = w.Write([]byte(`{"status":"down"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Post("/authenticate", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.auths++
		f.mu.Unlock()
		u, p, ok := r.BasicAuth()
		if !ok || u != "admin" || p != "secret" {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"token":"fresh-token"}}`))
	})
	r.Post("/sap/order", func(w http.ResponseWriter, r *http.Request) {
		var p OrderPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		f.mu.Lock()
		f.submitted = append(f.submitted, p)
		f.lastAuth = r.Header.Get("Authorization")
		rep, ok := f.replies[p.ID]
		f.mu.Unlock()
		if !ok {
			rep = reply{status: http.StatusBadRequest, body: `{"code":400,"data":{"code":"UNKNOWN"}}`}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(rep.status)
		_, _ = w.Write([]byte(rep.body))
	})
	f.Server = httptest.NewServer(r)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeERP) setOnline(v bool) {
	f.mu.Lock()
	f.online = v
	f.mu.Unlock()
}

func (f *fakeERP) reply(id string, status int, body string) {
	f.mu.Lock()
	f.replies[id] = reply{status: status, body: body}
	f.mu.Unlock()
}

func (f *fakeERP) calls() []OrderPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]OrderPayload(nil), f.submitted...)
}

func (f *fakeERP) authHeader() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastAuth
}

func (f *fakeERP) authCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.auths
}
