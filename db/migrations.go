package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"
)

//go:embed migrations/*
var migrationsFS embed.FS

// Migrate applies every embedded migration for d's dialect that is not yet
// recorded in schema_migrations. It returns the versions applied by this call.
func Migrate(ctx context.Context, d *CompatDB) ([]string, error) {
	return RunMigrations(ctx, d.DB, d.Dialect)
}

func RunMigrations(ctx context.Context, rawDB *sql.DB, dialect Dialect) ([]string, error) {
	createTableSQL := `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`
	if dialect == DialectPostgres {
		createTableSQL = `CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`
	}
	if _, err := rawDB.ExecContext(ctx, createTableSQL); err != nil {
		return nil, fmt.Errorf("create schema_migrations table: %w", err)
	}

	dir := "migrations/" + string(dialect)
	entries, err := migrationsFS.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("no migrations for dialect %s: %w", dialect, err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	checkSQL := "SELECT 1 FROM schema_migrations WHERE version = ?"
	recordSQL := "INSERT INTO schema_migrations (version) VALUES (?)"
	if dialect == DialectPostgres {
		checkSQL = rewritePlaceholders(checkSQL)
		recordSQL = rewritePlaceholders(recordSQL)
	}

	var applied []string
	for _, file := range files {
		var seen int
		if err := rawDB.QueryRowContext(ctx, checkSQL, file).Scan(&seen); err == nil && seen == 1 {
			continue
		}

		content, err := migrationsFS.ReadFile(dir + "/" + file)
		if err != nil {
			return applied, fmt.Errorf("read migration %s: %w", file, err)
		}

		tx, err := rawDB.BeginTx(ctx, nil)
		if err != nil {
			return applied, fmt.Errorf("begin transaction for migration %s: %w", file, err)
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			tx.Rollback()
			return applied, fmt.Errorf("exec migration %s: %w", file, err)
		}
		if _, err := tx.ExecContext(ctx, recordSQL, file); err != nil {
			tx.Rollback()
			return applied, fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return applied, fmt.Errorf("commit migration %s: %w", file, err)
		}
		applied = append(applied, file)
	}
	return applied, nil
}
