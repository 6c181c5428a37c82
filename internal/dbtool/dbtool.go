package dbtool

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rewindlabs/rewind/internal/constants"
	"github.com/rewindlabs/rewind/internal/helpers"
)

// Tool rolls the application database back to an earlier schema version
// through goose migrations, taking a pg_dump snapshot first so a bad
// rollback is itself recoverable.
type Tool struct {
	db            *sql.DB
	dsn           string
	migrationsDir string
	snapshotDir   string
	logger        *slog.Logger
}

func New(dsn, migrationsDir, snapshotDir string, logger *slog.Logger) (*Tool, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := goose.SetDialect("postgres"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set goose dialect: %w", err)
	}

	return &Tool{
		db:            db,
		dsn:           dsn,
		migrationsDir: migrationsDir,
		snapshotDir:   snapshotDir,
		logger:        logger,
	}, nil
}

func (t *Tool) Close() error {
	return t.db.Close()
}

// Ping reports whether the database is reachable. The monitor's database
// connection check rides on this.
func (t *Tool) Ping(ctx context.Context) error {
	return t.db.PingContext(ctx)
}

// Query runs a configured liveness query and discards its rows. Checks that
// want more than reachability (replica lag, queue depth) use this.
func (t *Tool) Query(ctx context.Context, query string) error {
	rows, err := t.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("liveness query failed: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
	}
	return rows.Err()
}

// CurrentVersion returns the schema version the database is on.
func (t *Tool) CurrentVersion(ctx context.Context) (int64, error) {
	version, err := goose.GetDBVersionContext(ctx, t.db)
	if err != nil {
		return 0, fmt.Errorf("failed to get database version: %w", err)
	}
	return version, nil
}

// MigrateDownTo runs down migrations until the database sits at the target
// version.
func (t *Tool) MigrateDownTo(ctx context.Context, version int64) error {
	current, err := t.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	if current <= version {
		t.logger.Info("database already at or below target version",
			"current", current, "target", version)
		return nil
	}

	t.logger.Info("migrating database down", "from", current, "to", version)
	if err := goose.DownToContext(ctx, t.db, t.migrationsDir, version); err != nil {
		return fmt.Errorf("failed to migrate down to version %d: %w", version, err)
	}
	return nil
}

// Snapshot writes a pg_dump archive of the database to the snapshot
// directory and returns its path. The label becomes part of the file name.
func (t *Tool) Snapshot(ctx context.Context, label string) (string, error) {
	if err := os.MkdirAll(t.snapshotDir, constants.ModeDirPrivate); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	fileName := fmt.Sprintf("%s-%s.dump", helpers.SanitizeString(label), time.Now().UTC().Format("20060102T150405Z"))
	path := filepath.Join(t.snapshotDir, fileName)

	cmd := exec.CommandContext(ctx, "pg_dump", "--format=custom", "--file", path, "--dbname", t.dsn)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ee, ok := err.(*exec.Error); ok && ee.Err == exec.ErrNotFound {
			return "", fmt.Errorf("pg_dump not found. Is the postgres client installed and in PATH?")
		}
		return "", fmt.Errorf("pg_dump failed: %s: %w", strings.TrimSpace(string(output)), err)
	}

	t.logger.Info("database snapshot written", "path", path)
	return path, nil
}
