package atomicwrite

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteFileReplacesAndLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "sub", "state.json")

	require.NoError(t, WriteFile(p, []byte("uno"), 0o600))
	require.NoError(t, WriteFile(p, []byte("dos"), 0o600))

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	require.Equal(t, "dos", string(b))

	entries, err := os.ReadDir(filepath.Dir(p))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestWriteJSON(t *testing.T) {
	p := filepath.Join(t.TempDir(), "kv.json")
	require.NoError(t, WriteJSON(p, map[string]string{"josefa-token": "t"}, 0o600))
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	require.JSONEq(t, `{"josefa-token":"t"}`, string(b))

	require.Error(t, WriteJSON(p, make(chan int), 0o600))
}
