package db

import (
	"io"
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrations(t *testing.T) {
	t.Parallel()

	source, err := iofs.New(migrations, "migrations")
	require.NoError(t, err)
	defer source.Close()

	version, err := source.First()
	require.NoError(t, err)
	require.EqualValues(t, 1, version)

	up, _, err := source.ReadUp(version)
	require.NoError(t, err)
	defer up.Close()
	sql, err := io.ReadAll(up)
	require.NoError(t, err)
	require.Contains(t, string(sql), "processed_records")
	require.Contains(t, string(sql), "checkpoints")

	down, _, err := source.ReadDown(version)
	require.NoError(t, err)
	require.NoError(t, down.Close())
}

func TestIgnoreErrNotFound(t *testing.T) {
	t.Parallel()

	require.NoError(t, IgnoreErrNotFound(nil))
	require.NoError(t, IgnoreErrNotFound(ErrNotFound))
	require.Error(t, IgnoreErrNotFound(io.EOF))
}
