package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missionline/internal/db"
)

func TestLoadMigrationsFiltersDialect(t *testing.T) {
	lite, err := loadMigrations(db.DialectSQLite)
	require.NoError(t, err)
	require.Len(t, lite, 2)
	assert.Equal(t, "0002_events.sqlite.sql", lite[1].Name)

	pg, err := loadMigrations(db.DialectPostgres)
	require.NoError(t, err)
	require.Len(t, pg, 2)
	assert.Equal(t, "0002_events.pgx.sql", pg[1].Name)
}

func TestMigrateIsIdempotent(t *testing.T) {
	conn, d, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, Migrate(conn, d))
	require.NoError(t, Migrate(conn, d))

	var version int
	require.NoError(t, conn.QueryRow(`SELECT version FROM schema_version`).Scan(&version))
	assert.Equal(t, 2, version)
	for _, table := range []string{"goals", "mission_fingerprints", "refresh_quotas", "api_keys", "events"} {
		var name string
		err := conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, table)
	}
}
