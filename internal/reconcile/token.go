package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/xumingyi/offline-shop-ionic3/internal/kv"
	"github.com/xumingyi/offline-shop-ionic3/internal/observability/logger"
	"github.com/xumingyi/offline-shop-ionic3/internal/util"
)

// TokenKey es la clave del bearer token del ERP en el kv.
const TokenKey = "josefa-token"

type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// KVTokens lee el token del kv. Si falta o es un JWT vencido y hay
// credenciales, pide uno nuevo a {ERPURL}/authenticate y lo guarda.
type KVTokens struct {
	Store    kv.Store
	ERPURL   string
	Username string
	Password string
	Client   *http.Client
	Logger   *zap.Logger
	// Leeway antes del exp para considerar el token vencido.
	Leeway time.Duration
	now    func() time.Time
}

func (k *KVTokens) clock() time.Time {
	if k.now != nil {
		return k.now()
	}
	return time.Now()
}

func (k *KVTokens) Token(ctx context.Context) (string, error) {
	tok, err := k.Store.Get(ctx, TokenKey)
	if err != nil && !kv.IsNotFound(err) {
		return "", fmt.Errorf("reconcile: read token: %w", err)
	}
	if tok != "" && !k.expired(tok) {
		return tok, nil
	}
	if k.Username == "" || k.ERPURL == "" {
		if tok != "" {
			// Sin forma de renovar, se usa el que hay y el ERP decide.
			return tok, nil
		}
		return "", ErrNoCredential
	}
	fresh, err := k.Refresh(ctx)
	if err != nil {
		if tok != "" {
			return tok, nil
		}
		return "", err
	}
	return fresh, nil
}

// expired solo mira exp de tokens JWT; cualquier otro formato es válido.
func (k *KVTokens) expired(tok string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !k.clock().Add(k.Leeway).Before(exp.Time)
}

// Refresh pide un token nuevo y lo persiste.
func (k *KVTokens) Refresh(ctx context.Context) (string, error) {
	hc := k.Client
	if hc == nil {
		hc = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(k.ERPURL, "/")+"/authenticate", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(k.Username, k.Password)
	req.Header.Set("Accept", "application/json")
	resp, err := hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: authenticate: %v", ErrNoCredential, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: authenticate status %d", ErrNoCredential, resp.StatusCode)
	}
	var body struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.Unmarshal(b, &body); err != nil || body.Data.Token == "" {
		return "", fmt.Errorf("%w: authenticate: missing data.token", ErrNoCredential)
	}
	if err := k.Store.Set(ctx, TokenKey, body.Data.Token); err != nil {
		return "", fmt.Errorf("reconcile: store token: %w", err)
	}
	logger.OrNamed(k.Logger, "reconcile").Info("ERP token refreshed", logger.String("token", util.MaskToken(body.Data.Token)))
	return body.Data.Token, nil
}
