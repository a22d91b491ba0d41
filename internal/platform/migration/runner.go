// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

// Package migration applies versioned SQL schema migrations at startup via
// golang-migrate. The server refuses to take traffic against a schema it does
// not recognize, so main.go calls [RunUp] before constructing any store.
package migration

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	// pgx5 driver registers the "pgx5" database scheme.
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	// file source reads *.up.sql / *.down.sql pairs from disk.
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// RunUp brings the schema to the latest version.
//
// A dirty version marker is fatal rather than auto-repaired: it means a
// previous migration died halfway and a human has to look at the damage
// before anything else writes to that database.
func RunUp(databaseURL, sourcePath string, logger *slog.Logger) error {
	migrator, err := migrate.New("file://"+sourcePath, pgx5URL(databaseURL))
	if err != nil {
		return fmt.Errorf("migration: open: %w", err)
	}
	migrator.Log = slogBridge{logger: logger}

	defer func() {
		if sourceErr, databaseErr := migrator.Close(); sourceErr != nil || databaseErr != nil {
			logger.Warn("migration_close_failed",
				slog.Any("source_error", sourceErr),
				slog.Any("database_error", databaseErr),
			)
		}
	}()

	before, dirty, err := migrator.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		logger.Info("migration_fresh_database")
	case err != nil:
		return fmt.Errorf("migration: read version: %w", err)
	case dirty:
		return fmt.Errorf("migration: schema dirty at version %d, refusing to continue", before)
	}

	if err := migrator.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("migration_schema_current", slog.Uint64("version", uint64(before)))
			return nil
		}
		return fmt.Errorf("migration: apply: %w", err)
	}

	after, _, _ := migrator.Version()
	logger.Info("migration_schema_upgraded",
		slog.Uint64("from_version", uint64(before)),
		slog.Uint64("to_version", uint64(after)),
	)
	return nil
}

// pgx5URL rewrites a postgres:// or postgresql:// URL onto the pgx5://
// scheme golang-migrate's pgx/v5 driver registers under.
func pgx5URL(dsn string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if rest, ok := strings.CutPrefix(dsn, scheme); ok {
			return "pgx5://" + rest
		}
	}
	return dsn
}

// slogBridge adapts golang-migrate's printf logger onto slog at debug level.
type slogBridge struct {
	logger *slog.Logger
}

func (bridge slogBridge) Printf(format string, args ...any) {
	bridge.logger.Debug("migration_step", slog.String("detail", fmt.Sprintf(strings.TrimSpace(format), args...)))
}

func (bridge slogBridge) Verbose() bool { return false }
