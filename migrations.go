package courier

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

// MigrationFiles contains the schema of every supported dialect, one
// directory per database/sql driver name (mysql, postgres, sqlite3).
// The tables use the default "courier_" prefix.
//
// Use ApplyMigrations, or hand the files to your migration tool:
//
//	sub, _ := fs.Sub(courier.MigrationFiles, "migrations/postgres")
//	goose.SetBaseFS(sub)
//
//go:embed migrations/*/*.sql
var MigrationFiles embed.FS

const migrationsTable = "courier_schema_migrations"

// ApplyMigrations runs every embedded migration of driver that has not been
// applied yet, in file name order, and records it in courier_schema_migrations.
// It returns the names of the files it applied.
func ApplyMigrations(ctx context.Context, db *sql.DB, driver string) ([]string, error) {
	dir := path.Join("migrations", migrationDialect(driver))
	entries, err := fs.ReadDir(MigrationFiles, dir)
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeConfiguration, fmt.Sprintf("no migrations for driver %q", driver), err)
	}

	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS "+migrationsTable+
		" (version VARCHAR(255) NOT NULL PRIMARY KEY, applied_at VARCHAR(64) NOT NULL)"); err != nil {
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to create migrations table", err)
	}

	applied, err := appliedMigrations(ctx, db)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var done []string
	for _, name := range names {
		if applied[name] {
			continue
		}
		body, err := fs.ReadFile(MigrationFiles, path.Join(dir, name))
		if err != nil {
			return done, NewErrorWithCause(ErrCodeConfiguration, "failed to read migration "+name, err)
		}
		// The MySQL driver rejects multi-statement Exec unless the DSN opts in.
		for _, stmt := range splitStatements(string(body)) {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return done, NewErrorWithCause(ErrCodeDatabase, "migration "+name+" failed", err)
			}
		}
		insert := "INSERT INTO " + migrationsTable + " (version, applied_at) VALUES (" +
			placeholder(driver, 1) + ", " + placeholder(driver, 2) + ")"
		if _, err := db.ExecContext(ctx, insert, name, time.Now().UTC().Format(time.RFC3339)); err != nil {
			return done, NewErrorWithCause(ErrCodeDatabase, "failed to record migration "+name, err)
		}
		done = append(done, name)
	}
	return done, nil
}

func appliedMigrations(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM "+migrationsTable)
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to read applied migrations", err)
	}
	defer rows.Close()

	applied := map[string]bool{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, NewErrorWithCause(ErrCodeDatabase, "failed to scan migration version", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// migrationDialect maps driver aliases onto a migrations directory.
func migrationDialect(driver string) string {
	switch driver {
	case "pgx", "postgresql":
		return "postgres"
	case "sqlite":
		return "sqlite3"
	}
	return driver
}

func placeholder(driver string, n int) string {
	if migrationDialect(driver) == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// splitStatements splits a migration file on semicolons that end a line.
func splitStatements(body string) []string {
	var out []string
	for _, part := range strings.Split(body, ";\n") {
		stmt := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(part), ";"))
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
