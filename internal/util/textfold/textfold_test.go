package textfold

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFold(t *testing.T) {
	require.Equal(t, "pena nino", Fold("Peña NIÑO"))
	require.Equal(t, "medellin", Fold("Medellín"))
}

func TestTokens(t *testing.T) {
	require.Equal(t, []string{"distribuidora", "jose", "ltda"}, Tokens("  Distribuidora José, Ltda. "))
	require.Empty(t, Tokens(" -- "))
}
