package migrations

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "m.db")+"?_pragma=foreign_keys(1)")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n))
	return n == 1
}

func TestUp_IsIdempotent(t *testing.T) {
	db := openSQLite(t)

	require.NoError(t, Up(db, "sqlite"))
	require.NoError(t, Up(db, "sqlite"))

	assert.True(t, tableExists(t, db, "users"))
	assert.True(t, tableExists(t, db, "predictions"))
}

func TestNew_VersionAndDown(t *testing.T) {
	db := openSQLite(t)
	require.NoError(t, Up(db, "sqlite"))

	m, err := New(db, "sqlite")
	require.NoError(t, err)

	v, dirty, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
	assert.False(t, dirty)

	require.NoError(t, m.Steps(-1))
	assert.False(t, tableExists(t, db, "predictions"))
	assert.True(t, tableExists(t, db, "users"))
}

func TestNew_UnsupportedDriver(t *testing.T) {
	_, err := New(openSQLite(t), "mysql")
	assert.Error(t, err)
}
