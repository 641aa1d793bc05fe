package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
)

//go:embed migrations/*/*.sql
var migrationsFS embed.FS

type DBDriver string

const (
	DBSQLite   DBDriver = "sqlite"
	DBPostgres DBDriver = "postgres"
)

const migrationsTable = "creditgate_schema_migrations"

// Migrate brings db up to the embedded schema for driver and returns the
// versions it applied, oldest first. A version is recorded in the same
// transaction as its DDL, so a failed file leaves no bookkeeping row.
func Migrate(ctx context.Context, db *sql.DB, driver DBDriver) ([]string, error) {
	if db == nil {
		return nil, fmt.Errorf("missing db")
	}
	dir, err := migrationDir(driver)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+migrationsTable+` (
  version TEXT PRIMARY KEY,
  applied_at TEXT NOT NULL
)`); err != nil {
		return nil, fmt.Errorf("create %s: %w", migrationsTable, err)
	}

	files, err := listMigrationFiles(dir)
	if err != nil {
		return nil, err
	}

	applied := []string{}
	for _, file := range files {
		version := strings.TrimSuffix(path.Base(file), ".sql")
		ok, err := applyMigration(ctx, db, driver, file, version)
		if err != nil {
			return applied, fmt.Errorf("migration %s: %w", version, err)
		}
		if ok {
			applied = append(applied, version)
		}
	}
	return applied, nil
}

func applyMigration(ctx context.Context, db *sql.DB, driver DBDriver, file, version string) (bool, error) {
	ddl, err := migrationsFS.ReadFile(file)
	if err != nil {
		return false, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	fresh, err := recordMigration(ctx, tx, driver, version, time.Now().UTC())
	if err != nil || !fresh {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, string(ddl)); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func migrationDir(driver DBDriver) (string, error) {
	switch driver {
	case DBSQLite:
		return "migrations/sqlite", nil
	case DBPostgres:
		return "migrations/postgres", nil
	default:
		return "", fmt.Errorf("unsupported db driver: %s", driver)
	}
}

func recordMigration(ctx context.Context, tx *sql.Tx, driver DBDriver, version string, now time.Time) (bool, error) {
	q := `INSERT INTO ` + migrationsTable + `(version, applied_at) VALUES(?, ?) ON CONFLICT(version) DO NOTHING`
	if driver == DBPostgres {
		q = Rebind(q)
	}
	res, err := tx.ExecContext(ctx, q, version, FormatTime(now))
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func listMigrationFiles(dir string) ([]string, error) {
	entries, err := migrationsFS.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		out = append(out, path.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// Rebind rewrites ? placeholders to Postgres $n form. Queries in this
// module never carry a literal question mark.
func Rebind(q string) string {
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
