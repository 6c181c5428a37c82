package adapters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rewindlabs/rewind/internal/rollback"
)

// RetryPolicy bounds the attempt loop for one step.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     maxAttempts,
		InitialInterval: 2 * time.Second,
		MaxInterval:     30 * time.Second,
	}
}

// ExecuteStep runs one planned step with bounded exponential backoff. Every
// attempt is recorded through record before any retry decision, so the step
// history stays complete even if the process dies mid-loop. Failures marked
// non-retryable stop the loop immediately. The returned step is the final
// attempt's record.
func ExecuteStep(ctx context.Context, planned PlannedStep, policy RetryPolicy, record func(rollback.Step) error) (rollback.Step, error) {
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	attempt := 0
	var final rollback.Step

	operation := func() error {
		attempt++
		startedAt := time.Now()
		detail, runErr := planned.Run(ctx)

		step := rollback.Step{
			StepID:            rollback.NewID(startedAt),
			TargetService:     planned.TargetService,
			TargetEnvironment: planned.Environment,
			Name:              planned.Name,
			Attempt:           attempt,
			StartedAt:         startedAt,
			FinishedAt:        time.Now(),
		}
		if runErr != nil {
			step.Outcome = rollback.OutcomeFailed
			step.Detail = runErr.Error()
		} else {
			step.Outcome = rollback.OutcomeSucceeded
			step.Detail = detail
		}
		final = step

		if recordErr := record(step); recordErr != nil {
			// Losing the audit trail is worse than losing a retry.
			return backoff.Permanent(fmt.Errorf("failed to record step attempt: %w", recordErr))
		}
		if runErr == nil {
			return nil
		}

		var adapterErr *AdapterError
		if errors.As(runErr, &adapterErr) && !adapterErr.Retryable {
			return backoff.Permanent(runErr)
		}
		return runErr
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = policy.InitialInterval
	expBackoff.MaxInterval = policy.MaxInterval
	expBackoff.MaxElapsedTime = 0 // Attempts bound the loop, not wall time.

	retryPolicy := backoff.WithContext(backoff.WithMaxRetries(expBackoff, uint64(maxAttempts-1)), ctx)
	err := backoff.Retry(operation, retryPolicy)
	return final, err
}

// SkippedStep builds the record for a step that never ran because an earlier
// failure blocked it.
func SkippedStep(planned PlannedStep, reason string, now time.Time) rollback.Step {
	return rollback.Step{
		StepID:            rollback.NewID(now),
		TargetService:     planned.TargetService,
		TargetEnvironment: planned.Environment,
		Name:              planned.Name,
		Outcome:           rollback.OutcomeSkipped,
		Detail:            reason,
		Attempt:           1,
		StartedAt:         now,
		FinishedAt:        now,
	}
}
