package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/klokku/taskmanager/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	query := "UPDATE events SET name = ?, etag = ? WHERE id = ?"

	assert.Equal(t, query, Rebind(config.DriverSQLite, query))
	assert.Equal(t, "UPDATE events SET name = $1, etag = $2 WHERE id = $3", Rebind(config.DriverPostgres, query))
}

func TestOpenSQLite_MigratesSchema(t *testing.T) {
	// given
	db, err := Open(config.Database{Driver: config.DriverSQLite, Path: filepath.Join(t.TempDir(), "nested", "tm.sqlite3")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// when
	err = Migrate(db)
	require.NoError(t, err)
	// migrating twice is a no-op
	err = Migrate(db)

	// then
	require.NoError(t, err)
	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM events").Scan(&count)
	assert.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(config.Database{Driver: "oracle"})

	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestInTransaction_RollsBackOnError(t *testing.T) {
	// given
	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(db))
	ctx := context.Background()
	failure := errors.New("boom")

	// when
	err = db.InTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO accounts (email, account_type) VALUES (?, ?)", "a@b.c", 0)
		require.NoError(t, err)
		return failure
	})

	// then
	assert.ErrorIs(t, err, failure)
	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM accounts").Scan(&count))
	assert.Equal(t, 0, count)
}
