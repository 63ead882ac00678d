package database

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"

	"github.com/m3rciful/walletbot/core/logger"
)

// RunMigrations applies every up migration found in files (a flat directory of
// NNN_name.up.sql / NNN_name.down.sql pairs).
//
// Postgres migrations run on a dedicated connection opened from cfg.URL().
// SQLite migrations run on db itself so in-memory databases see the schema.
func RunMigrations(ctx context.Context, cfg Config, db *sqlx.DB, files fs.FS) error {
	src, err := iofs.New(files, ".")
	if err != nil {
		return fmt.Errorf("open migration source: %w", err)
	}

	var m *migrate.Migrate
	switch cfg.Driver {
	case DriverSQLite:
		driver, derr := sqlite.WithInstance(db.DB, &sqlite.Config{})
		if derr != nil {
			return fmt.Errorf("sqlite migrate driver: %w", derr)
		}
		// Closing m would close db, so it is left open on purpose.
		m, err = migrate.NewWithInstance("iofs", src, DriverSQLite, driver)
	default:
		if werr := WaitForPostgres(ctx, cfg.DSN(), 30*time.Second); werr != nil {
			logger.MIG.Error("db not ready", slog.String("event", "db.migrate"), logger.Err(werr))
			return fmt.Errorf("database not ready: %w", werr)
		}
		m, err = migrate.NewWithSourceInstance("iofs", src, cfg.URL())
		if err == nil {
			defer m.Close()
		}
	}
	if err != nil {
		logger.MIG.Error("init failed", slog.String("event", "db.migrate"), logger.Err(err))
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}

	names := upFiles(files)
	fromVer, _, _ := m.Version()

	start := time.Now()
	upErr := m.Up()
	took := logger.Took(start)
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		logger.MIG.Error("migration failed",
			slog.String("event", "apply"),
			slog.Duration("duration", took),
			logger.Err(upErr),
		)
		return fmt.Errorf("migration execution failed: %w", upErr)
	}

	toVer, _, _ := m.Version()
	applied := appliedBetween(names, uint64(fromVer), uint64(toVer))
	if len(applied) > 0 {
		logger.MIG.Debug("applied files",
			slog.String("event", "apply"),
			slog.String("files", strings.Join(applied, ", ")),
		)
	}
	logger.MIG.Info("migrations summary",
		slog.String("event", "summary"),
		slog.String("driver", cfg.Driver),
		slog.Uint64("from_ver", uint64(fromVer)),
		slog.Uint64("to_ver", uint64(toVer)),
		slog.Int("files", len(applied)),
		slog.Duration("duration", took),
	)
	return nil
}

func upFiles(files fs.FS) []string {
	names, err := fs.Glob(files, "*.up.sql")
	if err != nil {
		return nil
	}
	sort.Strings(names)
	return names
}

func fileVersion(name string) uint64 {
	head, _, _ := strings.Cut(name, "_")
	v, _ := strconv.ParseUint(head, 10, 64)
	return v
}

func appliedBetween(files []string, from, to uint64) []string {
	var out []string
	for _, f := range files {
		if v := fileVersion(f); v > from && v <= to {
			out = append(out, f)
		}
	}
	return out
}
