// Package kv guarda flags y tokens del dispositivo (estado de sync inicial,
// bearer token del ERP). Es un colaborador chico: strings por clave, sin TTL.
//
// Drivers:
//   - memory (go-cache, se pierde al reiniciar)
//   - file (JSON en disco, escritura atómica)
//   - redis
//
// Con Encrypt los valores se guardan sellados con secretbox.
package kv

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/xumingyi/offline-shop-ionic3/internal/security/secretbox"
)

// Store define las operaciones del almacenamiento clave/valor.
type Store interface {
	// Get obtiene un valor. Retorna ErrNotFound si no existe.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// Delete de una key inexistente no es error.
	Delete(ctx context.Context, key string) error
	Close() error
}

var ErrNotFound = errors.New("kv: key not found")

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// Config para crear un Store.
type Config struct {
	Kind      string // "memory" | "file" | "redis"
	Path      string
	Prefix    string
	RedisAddr string
	RedisDB   int
	// Box, si no es nil, cifra los valores.
	Box *secretbox.Box
}

// New crea un Store según la configuración.
func New(ctx context.Context, cfg Config) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Kind {
	case "memory", "":
		s = NewMemory(cfg.Prefix)
	case "file":
		s, err = NewFile(cfg.Path, cfg.Prefix)
	case "redis":
		s, err = NewRedis(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.Prefix)
	default:
		return nil, fmt.Errorf("kv: unknown kind %q", cfg.Kind)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Box != nil {
		s = Sealed(s, cfg.Box)
	}
	return s, nil
}

// GetBool lee un flag. Una key ausente es false.
func GetBool(ctx context.Context, s Store, key string) (bool, error) {
	v, err := s.Get(ctx, key)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("kv: %s is not a bool: %w", key, err)
	}
	return b, nil
}

func SetBool(ctx context.Context, s Store, key string, v bool) error {
	return s.Set(ctx, key, strconv.FormatBool(v))
}
