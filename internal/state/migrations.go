package state

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
)

// The schema is a single kv table: every durable record (device id, cloud
// settings, profiles, refresh tokens) is one JSON value under a fixed key,
// so new record kinds need a key constant rather than a migration.
//
//go:embed migrations/*.sql
var schemaFS embed.FS

// migrate brings the kv schema up to date and returns its version.
func migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) (int64, error) {
	scripts, err := fs.Sub(schemaFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("state: reading embedded schema: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, scripts)
	if err != nil {
		return 0, fmt.Errorf("state: loading schema migrations: %w", err)
	}

	applied, err := provider.Up(ctx)
	if err != nil {
		return 0, fmt.Errorf("state: migrating kv schema: %w", err)
	}

	for _, r := range applied {
		logger.Info("kv schema migrated",
			slog.Int64("version", r.Source.Version),
			slog.Duration("took", r.Duration),
		)
	}

	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("state: reading kv schema version: %w", err)
	}

	return version, nil
}
