package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Prober reporta si el backend de autenticación/API está alcanzable.
type Prober interface {
	Online(ctx context.Context) error
}

// HTTPProbe hace GET {base}/ping y espera {"status":"ok"}.
type HTTPProbe struct {
	BaseURL string
	Client  *http.Client
}

func (p HTTPProbe) Online(ctx context.Context) error {
	hc := p.Client
	if hc == nil {
		hc = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(p.BaseURL, "/")+"/ping", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOffline, err)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOffline, err)
	}
	defer resp.Body.Close()
	var body struct {
		Status *string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("%w: ping: %v", ErrOffline, err)
	}
	if body.Status == nil || *body.Status != "ok" {
		return fmt.Errorf("%w: ping status not ok", ErrOffline)
	}
	return nil
}

// ProbeFunc adapta una función a Prober.
type ProbeFunc func(ctx context.Context) error

func (f ProbeFunc) Online(ctx context.Context) error { return f(ctx) }
