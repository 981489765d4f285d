package kv

import (
	"context"
	"fmt"

	"github.com/xumingyi/offline-shop-ionic3/internal/security/secretbox"
)

type sealedStore struct {
	Store
	box *secretbox.Box
}

// Sealed cifra los valores de s con box. Las claves quedan en claro.
func Sealed(s Store, box *secretbox.Box) Store {
	return &sealedStore{Store: s, box: box}
}

func (s *sealedStore) Get(ctx context.Context, key string) (string, error) {
	ct, err := s.Store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	pt, err := s.box.Open(ct)
	if err != nil {
		return "", fmt.Errorf("kv: open %s: %w", key, err)
	}
	return pt, nil
}

func (s *sealedStore) Set(ctx context.Context, key, value string) error {
	ct, err := s.box.Seal(value)
	if err != nil {
		return err
	}
	return s.Store.Set(ctx, key, ct)
}
