package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rewindlabs/rewind/internal/rollback"
)

const executionsSchema = `
CREATE TABLE IF NOT EXISTS executions (
	id TEXT PRIMARY KEY,                -- ULID, sorts chronologically
	deployment_id TEXT NOT NULL,        -- Deployment this rollback acts on
	environment TEXT NOT NULL,          -- Environment of the first target
	status TEXT NOT NULL,               -- State machine position
	trigger_json TEXT NOT NULL,         -- Full trigger as JSON
	targets_json TEXT NOT NULL,         -- Resolved targets as JSON
	verification_json TEXT,             -- Post-rollback verification, set at terminal transition
	started_at DATETIME NOT NULL,
	completed_at DATETIME,              -- NULL while non-terminal
	duration_minutes REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_executions_deployment_id ON executions (deployment_id);
CREATE INDEX IF NOT EXISTS idx_executions_status ON executions (status);
`

const stepsSchema = `
CREATE TABLE IF NOT EXISTS steps (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	execution_id TEXT NOT NULL,
	step_id TEXT NOT NULL,
	target_service TEXT NOT NULL,
	target_environment TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL,
	outcome TEXT NOT NULL,              -- succeeded, failed or skipped
	detail TEXT NOT NULL DEFAULT '',
	attempt INTEGER NOT NULL DEFAULT 1, -- Retries append rows, they never rewrite
	started_at DATETIME NOT NULL,
	finished_at DATETIME NOT NULL,
	FOREIGN KEY (execution_id) REFERENCES executions (id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_steps_execution_id ON steps (execution_id);
`

// terminalStatuses mirrors rollback.Status.IsTerminal for SQL predicates.
const terminalStatuses = `('completed', 'partially_completed', 'failed', 'cancelled')`

func createExecutionsTable(s *Store) error {
	if _, err := s.Exec(executionsSchema); err != nil {
		return fmt.Errorf("failed to create executions table: %w", err)
	}
	return nil
}

func createStepsTable(s *Store) error {
	if _, err := s.Exec(stepsSchema); err != nil {
		return fmt.Errorf("failed to create steps table: %w", err)
	}
	return nil
}

type executionRow struct {
	ID               string         `db:"id"`
	DeploymentID     string         `db:"deployment_id"`
	Environment      string         `db:"environment"`
	Status           string         `db:"status"`
	TriggerJSON      string         `db:"trigger_json"`
	TargetsJSON      string         `db:"targets_json"`
	VerificationJSON sql.NullString `db:"verification_json"`
	StartedAt        time.Time      `db:"started_at"`
	CompletedAt      *time.Time     `db:"completed_at"`
	DurationMinutes  float64        `db:"duration_minutes"`
}

type stepRow struct {
	ID                int64     `db:"id"`
	ExecutionID       string    `db:"execution_id"`
	StepID            string    `db:"step_id"`
	TargetService     string    `db:"target_service"`
	TargetEnvironment string    `db:"target_environment"`
	Name              string    `db:"name"`
	Outcome           string    `db:"outcome"`
	Detail            string    `db:"detail"`
	Attempt           int       `db:"attempt"`
	StartedAt         time.Time `db:"started_at"`
	FinishedAt        time.Time `db:"finished_at"`
}

func (r executionRow) toExecution() (*rollback.Execution, error) {
	exec := &rollback.Execution{
		ExecutionID:     r.ID,
		Status:          rollback.Status(r.Status),
		StartedAt:       r.StartedAt,
		CompletedAt:     r.CompletedAt,
		DurationMinutes: r.DurationMinutes,
	}
	if err := json.Unmarshal([]byte(r.TriggerJSON), &exec.Trigger); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger for execution %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.TargetsJSON), &exec.Targets); err != nil {
		return nil, fmt.Errorf("failed to unmarshal targets for execution %s: %w", r.ID, err)
	}
	if r.VerificationJSON.Valid && r.VerificationJSON.String != "" {
		var verification rollback.Verification
		if err := json.Unmarshal([]byte(r.VerificationJSON.String), &verification); err != nil {
			return nil, fmt.Errorf("failed to unmarshal verification for execution %s: %w", r.ID, err)
		}
		exec.Verification = &verification
	}
	return exec, nil
}

func (r stepRow) toStep() rollback.Step {
	return rollback.Step{
		StepID:            r.StepID,
		TargetService:     rollback.Service(r.TargetService),
		TargetEnvironment: r.TargetEnvironment,
		Name:              r.Name,
		Outcome:           rollback.Outcome(r.Outcome),
		Detail:            r.Detail,
		Attempt:           r.Attempt,
		StartedAt:         r.StartedAt,
		FinishedAt:        r.FinishedAt,
	}
}

// SaveExecution inserts a new execution record. Steps carried on the value are
// ignored; they arrive through AppendStep as the run progresses.
func (s *Store) SaveExecution(exec *rollback.Execution) error {
	triggerJSON, err := json.Marshal(exec.Trigger)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger: %w", err)
	}
	targetsJSON, err := json.Marshal(exec.Targets)
	if err != nil {
		return fmt.Errorf("failed to marshal targets: %w", err)
	}

	environment := ""
	if len(exec.Targets) > 0 {
		environment = exec.Targets[0].Environment
	}

	query := `INSERT INTO executions
		(id, deployment_id, environment, status, trigger_json, targets_json, started_at, duration_minutes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.Exec(query,
		exec.ExecutionID,
		exec.DeploymentID(),
		environment,
		string(exec.Status),
		string(triggerJSON),
		string(targetsJSON),
		exec.StartedAt,
		exec.DurationMinutes,
	)
	if err != nil {
		return fmt.Errorf("failed to save execution %s: %w", exec.ExecutionID, err)
	}
	return nil
}

// UpdateExecutionStatus moves an execution to a new non-terminal status.
func (s *Store) UpdateExecutionStatus(executionID string, status rollback.Status) error {
	result, err := s.Exec(`UPDATE executions SET status = ? WHERE id = ?`, string(status), executionID)
	if err != nil {
		return fmt.Errorf("failed to update status for execution %s: %w", executionID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update status for execution %s: %w", executionID, err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteExecution records the terminal transition: final status, completion
// time, duration and the optional verification result.
func (s *Store) CompleteExecution(executionID string, status rollback.Status, completedAt time.Time, durationMinutes float64, verification *rollback.Verification) error {
	var verificationJSON sql.NullString
	if verification != nil {
		data, err := json.Marshal(verification)
		if err != nil {
			return fmt.Errorf("failed to marshal verification: %w", err)
		}
		verificationJSON = sql.NullString{String: string(data), Valid: true}
	}

	query := `UPDATE executions
		SET status = ?, completed_at = ?, duration_minutes = ?, verification_json = ?
		WHERE id = ?`
	result, err := s.Exec(query, string(status), completedAt, durationMinutes, verificationJSON, executionID)
	if err != nil {
		return fmt.Errorf("failed to complete execution %s: %w", executionID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to complete execution %s: %w", executionID, err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendStep records one step attempt. Rows are never updated or deleted while
// the execution lives, so the step history reads back in insertion order.
func (s *Store) AppendStep(executionID string, step rollback.Step) error {
	query := `INSERT INTO steps
		(execution_id, step_id, target_service, target_environment, name, outcome, detail, attempt, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.Exec(query,
		executionID,
		step.StepID,
		string(step.TargetService),
		step.TargetEnvironment,
		step.Name,
		string(step.Outcome),
		step.Detail,
		step.Attempt,
		step.StartedAt,
		step.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append step for execution %s: %w", executionID, err)
	}
	return nil
}

func (s *Store) loadSteps(executionID string) ([]rollback.Step, error) {
	var rows []stepRow
	err := s.Select(&rows, `SELECT * FROM steps WHERE execution_id = ? ORDER BY id ASC`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load steps for execution %s: %w", executionID, err)
	}
	steps := make([]rollback.Step, 0, len(rows))
	for _, row := range rows {
		steps = append(steps, row.toStep())
	}
	return steps, nil
}

// GetExecution returns one execution with its full step history.
func (s *Store) GetExecution(executionID string) (*rollback.Execution, error) {
	var row executionRow
	err := s.Get(&row, `SELECT * FROM executions WHERE id = ?`, executionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get execution %s: %w", executionID, err)
	}
	exec, err := row.toExecution()
	if err != nil {
		return nil, err
	}
	exec.Steps, err = s.loadSteps(executionID)
	if err != nil {
		return nil, err
	}
	return exec, nil
}

// ListExecutions returns the most recent executions for a deployment, newest
// first, each with its steps. A limit of 0 means no limit.
func (s *Store) ListExecutions(deploymentID string, limit int) ([]*rollback.Execution, error) {
	query := `SELECT * FROM executions WHERE deployment_id = ? ORDER BY id DESC`
	args := []any{deploymentID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []executionRow
	if err := s.Select(&rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list executions for %s: %w", deploymentID, err)
	}

	executions := make([]*rollback.Execution, 0, len(rows))
	for _, row := range rows {
		exec, err := row.toExecution()
		if err != nil {
			return nil, err
		}
		exec.Steps, err = s.loadSteps(exec.ExecutionID)
		if err != nil {
			return nil, err
		}
		executions = append(executions, exec)
	}
	return executions, nil
}

// ActiveExecution returns the non-terminal execution for a deployment, or
// ErrNotFound when the deployment has none in flight.
func (s *Store) ActiveExecution(deploymentID string) (*rollback.Execution, error) {
	var row executionRow
	query := `SELECT * FROM executions
		WHERE deployment_id = ? AND status NOT IN ` + terminalStatuses + `
		ORDER BY id DESC LIMIT 1`
	err := s.Get(&row, query, deploymentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get active execution for %s: %w", deploymentID, err)
	}
	exec, err := row.toExecution()
	if err != nil {
		return nil, err
	}
	exec.Steps, err = s.loadSteps(exec.ExecutionID)
	if err != nil {
		return nil, err
	}
	return exec, nil
}

// ListActiveExecutions returns every non-terminal execution across all
// deployments. Used on startup to recover runs orphaned by a crash.
func (s *Store) ListActiveExecutions() ([]*rollback.Execution, error) {
	var rows []executionRow
	query := `SELECT * FROM executions WHERE status NOT IN ` + terminalStatuses + ` ORDER BY id ASC`
	if err := s.Select(&rows, query); err != nil {
		return nil, fmt.Errorf("failed to list active executions: %w", err)
	}

	executions := make([]*rollback.Execution, 0, len(rows))
	for _, row := range rows {
		exec, err := row.toExecution()
		if err != nil {
			return nil, err
		}
		exec.Steps, err = s.loadSteps(exec.ExecutionID)
		if err != nil {
			return nil, err
		}
		executions = append(executions, exec)
	}
	return executions, nil
}

// PruneExecutions deletes all but the keep most recent executions for a
// deployment. Steps go with them through the foreign key cascade.
func (s *Store) PruneExecutions(deploymentID string, keep int) error {
	query := `DELETE FROM executions
		WHERE deployment_id = ?
		AND id NOT IN (
			SELECT id FROM executions
			WHERE deployment_id = ?
			ORDER BY id DESC
			LIMIT ?
		)`
	if _, err := s.Exec(query, deploymentID, deploymentID, keep); err != nil {
		return fmt.Errorf("failed to prune executions for %s: %w", deploymentID, err)
	}
	return nil
}

func (s *Store) CountExecutions() (int, error) {
	var count int
	if err := s.Get(&count, `SELECT COUNT(*) FROM executions`); err != nil {
		return 0, fmt.Errorf("failed to count executions: %w", err)
	}
	return count, nil
}

func (s *Store) CountActiveExecutions() (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM executions WHERE status NOT IN ` + terminalStatuses
	if err := s.Get(&count, query); err != nil {
		return 0, fmt.Errorf("failed to count active executions: %w", err)
	}
	return count, nil
}
