package adapters

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/rewindlabs/rewind/internal/rollback"
)

// MigrationTool is the slice of the database tooling the adapter needs.
type MigrationTool interface {
	Ping(ctx context.Context) error
	CurrentVersion(ctx context.Context) (int64, error)
	MigrateDownTo(ctx context.Context, version int64) error
	Snapshot(ctx context.Context, label string) (string, error)
}

// DatabaseAdapter reverts schema migrations. It snapshots before touching
// anything, so a rollback that itself goes wrong still leaves a way back.
type DatabaseAdapter struct {
	tool   MigrationTool
	logger *slog.Logger
}

func NewDatabaseAdapter(tool MigrationTool, logger *slog.Logger) *DatabaseAdapter {
	return &DatabaseAdapter{tool: tool, logger: logger}
}

func (a *DatabaseAdapter) Service() rollback.Service {
	return rollback.ServiceDatabase
}

// targetVersion parses the required target_migration option.
func targetVersion(target rollback.Target) (int64, error) {
	raw := target.Option("target_migration", "")
	if raw == "" {
		return 0, errors.New("database rollbacks require a target_migration option")
	}
	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid target_migration %q: %w", raw, err)
	}
	if version < 0 {
		return 0, fmt.Errorf("target_migration must not be negative, got %d", version)
	}
	return version, nil
}

func (a *DatabaseAdapter) Validate(target rollback.Target) error {
	if a.tool == nil {
		return errors.New("no database is configured")
	}
	_, err := targetVersion(target)
	return err
}

func (a *DatabaseAdapter) Plan(ctx context.Context, executionID string, target rollback.Target) ([]PlannedStep, error) {
	version, err := targetVersion(target)
	if err != nil {
		return nil, err
	}

	var steps []PlannedStep
	if target.Option("skip_snapshot", "false") != "true" {
		steps = append(steps, PlannedStep{
			Name:          "create-data-snapshot",
			TargetService: rollback.ServiceDatabase,
			Environment:   target.Environment,
			Run: func(ctx context.Context) (string, error) {
				path, err := a.tool.Snapshot(ctx, executionID)
				if err != nil {
					// Never revert schema without a way back.
					return "", Permanent(target, "snapshot_failed", err)
				}
				return fmt.Sprintf("snapshot written to %s", path), nil
			},
		})
	} else {
		a.logger.Warn("database snapshot disabled for this rollback", "execution_id", executionID)
	}

	steps = append(steps, PlannedStep{
		Name:          "migrate-down",
		TargetService: rollback.ServiceDatabase,
		Environment:   target.Environment,
		Run: func(ctx context.Context) (string, error) {
			current, err := a.tool.CurrentVersion(ctx)
			if err != nil {
				return "", Retryable(target, "database_unreachable", err)
			}
			if current == version {
				return fmt.Sprintf("schema already at version %d", current), nil
			}
			if current < version {
				return "", Permanent(target, "target_ahead_of_current",
					fmt.Errorf("schema is at version %d, cannot roll down to %d", current, version))
			}

			if err := a.tool.MigrateDownTo(ctx, version); err != nil {
				// A reachable database that rejects the migration will keep
				// rejecting it.
				if pingErr := a.tool.Ping(ctx); pingErr != nil {
					return "", Retryable(target, "database_unreachable", err)
				}
				return "", Permanent(target, "migration_failed", err)
			}

			applied, err := a.tool.CurrentVersion(ctx)
			if err != nil {
				return "", Retryable(target, "database_unreachable", err)
			}
			if applied > version {
				return "", Permanent(target, "migration_failed",
					fmt.Errorf("schema is at version %d after rollback, expected %d", applied, version))
			}
			return fmt.Sprintf("schema migrated down from %d to %d", current, applied), nil
		},
	})
	return steps, nil
}

func (a *DatabaseAdapter) Verify(ctx context.Context, target rollback.Target) error {
	version, err := targetVersion(target)
	if err != nil {
		return err
	}
	if err := a.tool.Ping(ctx); err != nil {
		return fmt.Errorf("database is unreachable: %w", err)
	}
	current, err := a.tool.CurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if current > version {
		return fmt.Errorf("schema is at version %d, expected at most %d", current, version)
	}
	return nil
}
