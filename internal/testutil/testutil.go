// Package testutil provides shared test helpers for setting up vaults and
// revision logs.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/starford/inkwell/internal/revlog"
	"github.com/starford/inkwell/internal/storage"
)

// TestRevlog creates a temporary revision log that is closed on cleanup.
func TestRevlog(t *testing.T) *revlog.DB {
	t.Helper()
	db, err := revlog.Open(filepath.Join(t.TempDir(), "revlog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// TestVault creates a temporary vault directory with a storage.Provider.
func TestVault(t *testing.T) (string, storage.Provider) {
	t.Helper()
	vaultDir := t.TempDir()
	store, err := storage.NewFS(vaultDir)
	require.NoError(t, err)
	return vaultDir, store
}

// WriteDoc writes a document into the vault, failing the test on error.
func WriteDoc(t *testing.T, store storage.Provider, path, content string) {
	t.Helper()
	require.NoError(t, store.Write(path, []byte(content)))
}
