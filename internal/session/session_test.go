package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xumingyi/offline-shop-ionic3/internal/config"
)

func TestFromConfig(t *testing.T) {
	var cfg config.Config
	cfg.Session.AdvisorID = " A7 "
	cfg.Session.UserID = "u-1"
	cfg.Session.UserEmail = "ana@example.com"
	cfg.Session.AdvisorName = "Ana"

	s := FromConfig(&cfg)
	require.Equal(t, "A7", s.AdvisorID())
	require.Equal(t, "u-1", s.UserID())
	require.Equal(t, "ana@example.com", s.UserEmail())
	require.Equal(t, "Ana", s.AdvisorName())
}
