package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	q := `SELECT a FROM t WHERE x=? AND y=?`
	assert.Equal(t, q, Rebind(DialectSQLite, q))
	assert.Equal(t, `SELECT a FROM t WHERE x=$1 AND y=$2`, Rebind(DialectPostgres, q))
}

func TestOpenSQLiteCreatesWorkspace(t *testing.T) {
	dir := t.TempDir()
	conn, d, err := Open(Config{Workspace: dir})
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, DialectSQLite, d)
	require.NoError(t, conn.Ping())
	assert.FileExists(t, filepath.Join(dir, ".missionline", "missionline.db"))
}
