package archive

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/panelsim/panelsim/internal/config"
)

func TestBuildLibsqlDSN(t *testing.T) {
	t.Run("URLUsesRawValue", func(t *testing.T) {
		dsn, err := buildLibsqlDSN(config.StoreConfig{
			URL:       "libsql://panel.turso.io",
			AuthToken: "token123",
		})
		require.NoError(t, err)
		require.Equal(t, "libsql://panel.turso.io?authToken=token123", dsn)
	})

	t.Run("URLKeepsExistingToken", func(t *testing.T) {
		dsn, err := buildLibsqlDSN(config.StoreConfig{
			URL:       "libsql://panel.turso.io?authToken=abc",
			AuthToken: "token123",
		})
		require.NoError(t, err)
		require.Equal(t, "libsql://panel.turso.io?authToken=abc", dsn)
	})

	t.Run("PathWithFilePrefix", func(t *testing.T) {
		dsn, err := buildLibsqlDSN(config.StoreConfig{Path: "file:./panelsim.db"})
		require.NoError(t, err)
		require.Equal(t, "file:./panelsim.db", dsn)
	})

	t.Run("PlainPathCreatesDirectory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "panelsim.db")
		dsn, err := buildLibsqlDSN(config.StoreConfig{Path: path})
		require.NoError(t, err)
		require.Equal(t, "file:"+path, dsn)
		require.DirExists(t, filepath.Dir(path))
	})

	t.Run("PathMissing", func(t *testing.T) {
		_, err := buildLibsqlDSN(config.StoreConfig{})
		require.Error(t, err)
	})

	t.Run("MemoryPath", func(t *testing.T) {
		dsn, err := buildLibsqlDSN(config.StoreConfig{Path: ":memory:"})
		require.NoError(t, err)
		require.Equal(t, ":memory:", dsn)
	})
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(t.Context(), config.StoreConfig{Driver: "mysql"})
	require.ErrorContains(t, err, "unsupported store driver")
}

func TestOpenPostgresRequiresURL(t *testing.T) {
	_, err := Open(t.Context(), config.StoreConfig{Driver: "postgres"})
	require.ErrorContains(t, err, "store url is required")
}

func TestNilArchiveIsNotReady(t *testing.T) {
	var a *Archive
	require.Error(t, a.Migrate(t.Context()))
	_, err := a.Batch(t.Context(), "x")
	require.Error(t, err)
	require.NoError(t, a.Close())
	require.Equal(t, "", a.Driver())
}
