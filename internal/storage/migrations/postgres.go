package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"swap-escrow/internal/storage/postgres"
)

const createSchemaMigrations = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		name       TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)
`

// RunPostgresMigrations applies embedded SQL files in lexical order, each in
// its own transaction, skipping files already recorded in schema_migrations.
// Returns the names of the files applied by this call.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) ([]string, error) {
	if _, err := pool.Exec(ctx, createSchemaMigrations); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	files, err := sqlFiles(PostgresFS, "postgres")
	if err != nil {
		return nil, fmt.Errorf("read embedded postgres migrations: %w", err)
	}

	var applied []string
	for _, file := range files {
		data, err := fs.ReadFile(PostgresFS, "postgres/"+file)
		if err != nil {
			return applied, fmt.Errorf("read migration %s: %w", file, err)
		}

		ran := false
		err = pool.InTx(ctx, func(ctx context.Context) error {
			db := pool.DB(ctx)
			tag, err := db.Exec(ctx,
				`INSERT INTO schema_migrations (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, file)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return nil
			}
			if strings.TrimSpace(string(data)) != "" {
				if _, err := db.Exec(ctx, string(data)); err != nil {
					return err
				}
			}
			ran = true
			return nil
		})
		if err != nil {
			return applied, fmt.Errorf("apply migration %s: %w", file, err)
		}
		if ran {
			applied = append(applied, file)
		}
	}

	return applied, nil
}

// sqlFiles lists the .sql files of dir in fsys, sorted by name.
func sqlFiles(fsys fs.FS, dir string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}
