package rollback

import "time"

// Status is the execution state machine position.
//
// pending -> resolving -> executing -> verifying -> completed | partially_completed | failed
// cancelled is reachable from any non-terminal state.
type Status string

const (
	StatusPending            Status = "pending"
	StatusResolving          Status = "resolving"
	StatusExecuting          Status = "executing"
	StatusVerifying          Status = "verifying"
	StatusCompleted          Status = "completed"
	StatusPartiallyCompleted Status = "partially_completed"
	StatusFailed             Status = "failed"
	StatusCancelled          Status = "cancelled"
)

func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusPartiallyCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Outcome is the result of one recorded step.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// Step is one recorded unit of rollback work. Steps are append-only: a retry
// appends a new row with a higher attempt number, it never rewrites the
// earlier one.
type Step struct {
	StepID            string    `json:"step_id"`
	TargetService     Service   `json:"target_service"`
	TargetEnvironment string    `json:"target_environment,omitempty"`
	Name              string    `json:"name"`
	Outcome           Outcome   `json:"outcome"`
	Detail            string    `json:"detail,omitempty"`
	Attempt           int       `json:"attempt"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
}

// Verification is the post-rollback health result recorded on the execution
// at its terminal transition.
type Verification struct {
	Status    HealthStatus `json:"status"`
	Detail    string       `json:"detail,omitempty"`
	CheckedAt time.Time    `json:"checked_at"`
}

// Execution is the aggregate root tracking one rollback run. Once terminal it
// is immutable except for living on in history.
type Execution struct {
	ExecutionID     string        `json:"execution_id"`
	Trigger         Trigger       `json:"trigger"`
	Targets         []Target      `json:"targets"`
	Status          Status        `json:"status"`
	Steps           []Step        `json:"steps"`
	StartedAt       time.Time     `json:"started_at"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	DurationMinutes float64       `json:"duration_minutes"`
	Verification    *Verification `json:"verification,omitempty"`
}

func (e *Execution) DeploymentID() string {
	return e.Trigger.DeploymentID
}

// CountOutcomes returns the number of succeeded, failed and skipped steps.
// Retried steps count once, by their final attempt.
func (e *Execution) CountOutcomes() (succeeded, failed, skipped int) {
	// Latest attempt per (service, name) wins.
	type key struct {
		service Service
		name    string
	}
	latest := make(map[key]Outcome)
	for _, step := range e.Steps {
		latest[key{step.TargetService, step.Name}] = step.Outcome
	}
	for _, outcome := range latest {
		switch outcome {
		case OutcomeSucceeded:
			succeeded++
		case OutcomeFailed:
			failed++
		case OutcomeSkipped:
			skipped++
		}
	}
	return succeeded, failed, skipped
}

// TerminalStatus derives the terminal state from step outcomes and the
// post-rollback verification. Verification only decides between completed and
// partially_completed when every step succeeded.
func (e *Execution) TerminalStatus(verification *Verification) Status {
	succeeded, failed, skipped := e.CountOutcomes()
	if succeeded == 0 {
		return StatusFailed
	}
	if failed > 0 || skipped > 0 {
		return StatusPartiallyCompleted
	}
	if verification != nil && verification.Status != StatusHealthy && verification.Status != StatusUnknown {
		return StatusPartiallyCompleted
	}
	return StatusCompleted
}
