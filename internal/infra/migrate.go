package infra

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const qCreateSchemaMigrations = `--sql 4ccda3b4-4c9b-4f5f-ba4c-12cdaa3e1f2f
create table if not exists schema_migrations (
  version text primary key,
  applied_at timestamptz not null default now()
);
`

const qMigrationApplied = `--sql a38bd235-1075-4e10-9da5-474a5ade0c49
select exists(select 1 from schema_migrations where version = $1::text);
`

const qRecordMigration = `--sql 4aa3328b-e0e9-421e-96e0-26b74cd207c0
insert into schema_migrations(version) values ($1::text);
`

// Migrate applies embedded schema migrations in lexical order, each inside
// its own transaction.
func Migrate(ctx context.Context, runner TxRunner, logger Logger) error {
	if _, err := runner.Exec(ctx, qCreateSchemaMigrations); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	names, err := migrationNames()
	if err != nil {
		return err
	}
	for _, name := range names {
		body, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		version := strings.TrimSuffix(name, ".sql")
		applied := false
		err = runner.InTx(ctx, func(exec SQLExecutor) error {
			if err := exec.QueryRow(ctx, qMigrationApplied, version).Scan(&applied); err != nil {
				return err
			}
			if applied {
				return nil
			}
			// Migration files carry no marker; wrap them with the migration version marker.
			if _, err := exec.Exec(ctx, migrationMarker+"\n"+string(body)); err != nil {
				return err
			}
			_, err := exec.Exec(ctx, qRecordMigration, version)
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if !applied {
			logger.Info().Str("version", version).Msg("migration applied")
		}
	}
	return nil
}

const migrationMarker = "--sql 95aeef00-e919-4b39-8e82-06379493aaff"

func migrationNames() ([]string, error) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
