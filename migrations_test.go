package courier

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationFiles_EveryDialect(t *testing.T) {
	for _, dialect := range []string{"mysql", "postgres", "sqlite3"} {
		t.Run(dialect, func(t *testing.T) {
			body, err := fs.ReadFile(MigrationFiles, "migrations/"+dialect+"/001_init.sql")
			require.NoError(t, err)

			stmts := splitStatements(string(body))
			assert.NotEmpty(t, stmts)
			for _, table := range []string{"courier_message", "courier_event", "courier_subscription", "courier_preference", "courier_user"} {
				assert.Contains(t, string(body), "CREATE TABLE IF NOT EXISTS "+table+" (")
			}
			assert.Contains(t, string(body), "idempotency_key")
			assert.Contains(t, string(body), "provider_event_id")
		})
	}
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("CREATE TABLE a (x INT);\n\nCREATE INDEX i ON a (x);\n")
	assert.Equal(t, []string{"CREATE TABLE a (x INT)", "CREATE INDEX i ON a (x)"}, stmts)
}

func TestMigrationDialect(t *testing.T) {
	assert.Equal(t, "postgres", migrationDialect("pgx"))
	assert.Equal(t, "sqlite3", migrationDialect("sqlite"))
	assert.Equal(t, "mysql", migrationDialect("mysql"))
	assert.Equal(t, "$2", placeholder("postgres", 2))
	assert.Equal(t, "?", placeholder("sqlite3", 2))
}
