package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rewindlabs/rewind/internal/adapters"
	"github.com/rewindlabs/rewind/internal/apitypes"
	"github.com/rewindlabs/rewind/internal/constants"
	"github.com/rewindlabs/rewind/internal/logging"
	"github.com/rewindlabs/rewind/internal/metrics"
	"github.com/rewindlabs/rewind/internal/rollback"
	"github.com/rewindlabs/rewind/internal/store"
)

// Sentinel errors the API layer maps to response codes.
var (
	ErrValidation     = errors.New("validation error")
	ErrNoValidTargets = errors.New("no valid targets")
	ErrConflict       = errors.New("concurrent execution exists")
	ErrTerminal       = errors.New("execution is already terminal")
)

// ExecutionFinishedMessage is the log line finalize emits once per terminal
// execution. The integration layer and event-stream clients key their
// completion watchers on it.
const ExecutionFinishedMessage = apitypes.ExecutionFinishedMessage

// ConflictError carries the execution already holding the deployment lock so
// clients can watch it instead of retrying blindly.
type ConflictError struct {
	ExistingExecutionID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("a rollback execution is already running: %s", e.ExistingExecutionID)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// HealthVerifier produces the post-rollback health report.
type HealthVerifier interface {
	GenerateReport(ctx context.Context, deploymentID string) rollback.Report
}

// Options tunes the execution driver. Zero values fall back to the built-in
// defaults.
type Options struct {
	RetryPolicy    adapters.RetryPolicy
	StepTimeout    time.Duration
	StrictOrdering bool
	// BlockingServices lists extra tiers whose failure skips later tiers.
	// Database failures always block.
	BlockingServices []rollback.Service
	Now              func() time.Time
}

type execState struct {
	executionID  string
	deploymentID string
	cancel       context.CancelFunc
	cancelled    atomic.Bool
	stepMu       sync.Mutex
}

// errInterrupted marks a target that stopped between steps on cancellation
// or shutdown: neither succeeded nor failed for blocking purposes.
var errInterrupted = errors.New("target interrupted")

// Orchestrator owns the rollback state machine. Each execution gets its own
// driver goroutine; the active map enforces one non-terminal execution per
// deployment.
type Orchestrator struct {
	store    *store.Store
	registry *adapters.Registry
	verifier HealthVerifier
	metrics  *metrics.Metrics
	logger   *slog.Logger

	retryPolicy      adapters.RetryPolicy
	stepTimeout      time.Duration
	strictOrdering   bool
	blockingServices []rollback.Service
	now              func() time.Time

	mu     sync.Mutex
	active map[string]*execState
	wg     sync.WaitGroup
	closed bool
}

func New(st *store.Store, registry *adapters.Registry, verifier HealthVerifier, m *metrics.Metrics, logger *slog.Logger, opts Options) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = time.Duration(constants.DefaultStepTimeoutMinutes) * time.Minute
	}
	if opts.RetryPolicy.MaxAttempts == 0 {
		opts.RetryPolicy = adapters.DefaultRetryPolicy(constants.DefaultRetryMaxAttempts)
	}
	return &Orchestrator{
		store:            st,
		registry:         registry,
		verifier:         verifier,
		metrics:          m,
		logger:           logger,
		retryPolicy:      opts.RetryPolicy,
		stepTimeout:      opts.StepTimeout,
		strictOrdering:   opts.StrictOrdering,
		blockingServices: slices.Clone(opts.BlockingServices),
		now:              opts.Now,
		active:           make(map[string]*execState),
	}
}

// InitiateRollback validates the request, claims the deployment lock and
// launches the driver. It returns the pending execution immediately;
// progress is observed through GetRollbackStatus.
func (o *Orchestrator) InitiateRollback(ctx context.Context, trigger rollback.Trigger, targets []rollback.Target) (*rollback.Execution, error) {
	if err := trigger.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: request contains no targets", ErrNoValidTargets)
	}
	seen := make(map[string]bool, len(targets))
	for _, target := range targets {
		if err := o.registry.ValidateTarget(target); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		key := string(target.Service) + "|" + target.Environment
		if seen[key] {
			return nil, fmt.Errorf("%w: duplicate target %s/%s", ErrValidation, target.Service, target.Environment)
		}
		seen[key] = true
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, errors.New("orchestrator is shutting down")
	}

	deploymentID := trigger.DeploymentID
	if state, ok := o.active[deploymentID]; ok {
		return nil, &ConflictError{ExistingExecutionID: state.executionID}
	}
	// The store check keeps mutual exclusion intact across daemon restarts.
	existing, err := o.store.ActiveExecution(deploymentID)
	if err == nil {
		return nil, &ConflictError{ExistingExecutionID: existing.ExecutionID}
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to check for active executions: %w", err)
	}

	now := o.now()
	execution := &rollback.Execution{
		ExecutionID: rollback.NewID(now),
		Trigger:     trigger,
		Targets:     slices.Clone(targets),
		Status:      rollback.StatusPending,
		StartedAt:   now,
	}
	if err := o.store.SaveExecution(execution); err != nil {
		return nil, fmt.Errorf("failed to persist execution: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	state := &execState{
		executionID:  execution.ExecutionID,
		deploymentID: deploymentID,
		cancel:       cancel,
	}
	o.active[deploymentID] = state
	o.metrics.ActiveExecutions.Inc()

	o.wg.Add(1)
	go o.drive(runCtx, state, execution)

	snapshot := *execution
	snapshot.Targets = slices.Clone(execution.Targets)
	return &snapshot, nil
}

// GetRollbackStatus returns the execution with its full step history.
func (o *Orchestrator) GetRollbackStatus(executionID string) (*rollback.Execution, error) {
	return o.store.GetExecution(executionID)
}

// GetRollbackHistory returns a deployment's executions, most recent first.
func (o *Orchestrator) GetRollbackHistory(deploymentID string, limit int) ([]*rollback.Execution, error) {
	return o.store.ListExecutions(deploymentID, limit)
}

// CancelRollback requests cooperative cancellation: the in-flight step
// finishes naturally, everything after it is skipped.
func (o *Orchestrator) CancelRollback(executionID string) error {
	o.mu.Lock()
	for _, state := range o.active {
		if state.executionID == executionID {
			state.cancelled.Store(true)
			o.mu.Unlock()
			o.logger.Info("rollback cancellation requested", "execution_id", executionID)
			return nil
		}
	}
	o.mu.Unlock()

	execution, err := o.store.GetExecution(executionID)
	if err != nil {
		return err
	}
	if execution.Status.IsTerminal() {
		return fmt.Errorf("%w: execution %s is %s", ErrTerminal, executionID, execution.Status)
	}

	// Non-terminal but no driver: left over from a crash. Close it out
	// directly.
	completedAt := o.now()
	duration := completedAt.Sub(execution.StartedAt).Minutes()
	if err := o.store.CompleteExecution(executionID, rollback.StatusCancelled, completedAt, duration, nil); err != nil {
		return fmt.Errorf("failed to cancel execution: %w", err)
	}
	o.metrics.ExecutionsTotal.WithLabelValues(string(rollback.StatusCancelled)).Inc()
	return nil
}

// ActiveCount reports the number of in-flight executions.
func (o *Orchestrator) ActiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

// TotalCount reports all executions ever recorded.
func (o *Orchestrator) TotalCount() (int, error) {
	return o.store.CountExecutions()
}

// RecoverOrphans marks non-terminal executions from a previous daemon run as
// failed. Their drivers died with the old process, nothing is resumable.
func (o *Orchestrator) RecoverOrphans() (int, error) {
	orphans, err := o.store.ListActiveExecutions()
	if err != nil {
		return 0, fmt.Errorf("failed to list active executions: %w", err)
	}

	var recoveryErrors []error
	for _, execution := range orphans {
		completedAt := o.now()
		verification := &rollback.Verification{
			Status:    rollback.StatusUnknown,
			Detail:    "orphaned_by_restart: the daemon restarted while this execution was in flight",
			CheckedAt: completedAt,
		}
		duration := completedAt.Sub(execution.StartedAt).Minutes()
		if err := o.store.CompleteExecution(execution.ExecutionID, rollback.StatusFailed, completedAt, duration, verification); err != nil {
			recoveryErrors = append(recoveryErrors, fmt.Errorf("execution %s: %w", execution.ExecutionID, err))
			continue
		}
		o.metrics.ExecutionsTotal.WithLabelValues(string(rollback.StatusFailed)).Inc()
		o.logger.Warn("orphaned execution marked failed",
			"execution_id", execution.ExecutionID, "deployment_id", execution.DeploymentID(),
			"previous_status", execution.Status)
	}
	return len(orphans), errors.Join(recoveryErrors...)
}

// Shutdown cancels every in-flight driver and waits for them to record
// terminal state.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	o.closed = true
	for _, state := range o.active {
		state.cancel()
	}
	o.mu.Unlock()
	o.wg.Wait()
}

// drive walks one execution through the state machine. It always leaves the
// execution terminal unless the process dies outright.
func (o *Orchestrator) drive(ctx context.Context, state *execState, execution *rollback.Execution) {
	defer o.wg.Done()
	logger := logging.NewExecutionLogger(o.logger, execution.DeploymentID(), execution.ExecutionID)
	logger.Info("rollback execution started",
		"reason", execution.Trigger.Reason,
		"triggered_by", execution.Trigger.TriggeredBy,
		"targets", len(execution.Targets))

	o.advance(execution, rollback.StatusResolving, logger)
	batches := TierBatches(execution.Targets)

	o.advance(execution, rollback.StatusExecuting, logger)

	var successful []rollback.Target
	blocked := ""
	for _, batch := range batches {
		if state.cancelled.Load() {
			o.skipBatch(state, execution, batch, "execution cancelled", logger)
			continue
		}
		if ctx.Err() != nil {
			o.skipBatch(state, execution, batch, "daemon shutting down", logger)
			continue
		}
		if blocked != "" {
			o.skipBatch(state, execution, batch, blocked, logger)
			continue
		}

		batchOK, failedServices := o.runBatch(ctx, state, execution, batch, logger)
		successful = append(successful, batchOK...)
		if len(failedServices) == 0 {
			continue
		}
		if o.strictOrdering {
			blocked = fmt.Sprintf("blocked by failed %s rollback", failedServices[0])
		} else if service, ok := o.blockingFailure(failedServices); ok {
			blocked = fmt.Sprintf("blocked by failed %s rollback", service)
		}
	}

	if state.cancelled.Load() {
		o.finalize(state, execution, rollback.StatusCancelled, nil, logger)
		return
	}
	if ctx.Err() != nil {
		o.finalize(state, execution, rollback.StatusFailed, nil, logger)
		return
	}

	o.advance(execution, rollback.StatusVerifying, logger)
	verification := o.runVerification(ctx, execution, successful, logger)
	o.finalize(state, execution, execution.TerminalStatus(&verification), &verification, logger)
}

// blockingFailure picks the first failed tier that must halt the tiers after
// it. Later tiers depend on the schema the database rollback failed to
// restore, so database always blocks; operators can declare more.
func (o *Orchestrator) blockingFailure(failed []rollback.Service) (rollback.Service, bool) {
	for _, service := range failed {
		if service == rollback.ServiceDatabase || slices.Contains(o.blockingServices, service) {
			return service, true
		}
	}
	return "", false
}

// runBatch executes one tier's targets concurrently.
func (o *Orchestrator) runBatch(ctx context.Context, state *execState, execution *rollback.Execution, batch []rollback.Target, logger *slog.Logger) (successful []rollback.Target, failed []rollback.Service) {
	results := make([]error, len(batch))
	var wg sync.WaitGroup
	for i := range batch {
		wg.Add(1)
		go func(i int, target rollback.Target) {
			defer wg.Done()
			results[i] = o.runTarget(ctx, state, execution, target, logger)
		}(i, batch[i])
	}
	wg.Wait()

	for i, err := range results {
		switch {
		case err == nil:
			successful = append(successful, batch[i])
		case errors.Is(err, errInterrupted):
			// Neither succeeded nor a blocking failure.
		default:
			failed = append(failed, batch[i].Service)
		}
	}
	return successful, failed
}

// runTarget plans and executes all steps for one target. The first failed
// step skips the target's remaining steps.
func (o *Orchestrator) runTarget(ctx context.Context, state *execState, execution *rollback.Execution, target rollback.Target, logger *slog.Logger) error {
	adapter, err := o.registry.ForService(target.Service)
	if err != nil {
		o.recordPlanFailure(state, execution, target, err, logger)
		return err
	}

	steps, err := adapter.Plan(ctx, execution.ExecutionID, target)
	if err != nil {
		logger.Error("rollback planning failed", "service", target.Service, "error", err)
		o.recordPlanFailure(state, execution, target, err, logger)
		return err
	}

	for i, planned := range steps {
		if state.cancelled.Load() || ctx.Err() != nil {
			reason := "execution cancelled"
			if ctx.Err() != nil {
				reason = "daemon shutting down"
			}
			for _, rest := range steps[i:] {
				o.recordStep(state, execution, adapters.SkippedStep(rest, reason, o.now()), logger)
			}
			return errInterrupted
		}

		stepCtx, cancel := context.WithTimeout(ctx, o.stepTimeout)
		final, err := adapters.ExecuteStep(stepCtx, planned, o.retryPolicy, func(step rollback.Step) error {
			return o.appendStep(state, execution, step)
		})
		cancel()

		if err != nil {
			logger.Error("rollback step failed",
				"service", target.Service, "step", planned.Name, "attempts", final.Attempt, "error", err)
			for _, rest := range steps[i+1:] {
				o.recordStep(state, execution, adapters.SkippedStep(rest, fmt.Sprintf("blocked by failed step %q", planned.Name), o.now()), logger)
			}
			return err
		}
		logger.Info("rollback step completed",
			"service", target.Service, "step", planned.Name, "detail", final.Detail)
	}
	return nil
}

// runVerification synthesizes the post-rollback health verdict from the
// monitor's report and each successful target's own verification.
func (o *Orchestrator) runVerification(ctx context.Context, execution *rollback.Execution, successful []rollback.Target, logger *slog.Logger) rollback.Verification {
	verification := rollback.Verification{Status: rollback.StatusUnknown, CheckedAt: o.now()}
	var details []string

	if o.verifier != nil {
		report := o.verifier.GenerateReport(ctx, execution.DeploymentID())
		verification.Status = report.OverallStatus
		if len(report.FailedChecks) > 0 {
			details = append(details, "failing checks: "+strings.Join(report.FailedChecks, ", "))
		}
	} else {
		details = append(details, "no health verifier configured")
	}

	for _, target := range successful {
		adapter, err := o.registry.ForService(target.Service)
		if err != nil {
			continue
		}
		if err := adapter.Verify(ctx, target); err != nil {
			verification.Status = rollback.Worse(verification.Status, rollback.StatusCritical)
			details = append(details, fmt.Sprintf("%s: %v", target.Service, err))
			logger.Warn("post-rollback verification failed", "service", target.Service, "error", err)
		}
	}

	verification.Detail = strings.Join(details, "; ")
	return verification
}

func (o *Orchestrator) finalize(state *execState, execution *rollback.Execution, status rollback.Status, verification *rollback.Verification, logger *slog.Logger) {
	completedAt := o.now()
	duration := completedAt.Sub(execution.StartedAt).Minutes()

	// Persisting the terminal row and releasing the deployment lock happen
	// under one critical section so CancelRollback and InitiateRollback never
	// observe one without the other.
	o.mu.Lock()
	if err := o.store.CompleteExecution(execution.ExecutionID, status, completedAt, duration, verification); err != nil {
		logger.Error("failed to persist terminal status", "status", status, "error", err)
	}
	if current, ok := o.active[state.deploymentID]; ok && current == state {
		delete(o.active, state.deploymentID)
	}
	o.mu.Unlock()

	execution.Status = status
	execution.CompletedAt = &completedAt
	execution.DurationMinutes = duration
	execution.Verification = verification

	o.metrics.ActiveExecutions.Dec()
	o.metrics.ExecutionsTotal.WithLabelValues(string(status)).Inc()

	succeeded, failedSteps, skipped := execution.CountOutcomes()
	logger.Info(ExecutionFinishedMessage,
		"status", status,
		"duration_minutes", duration,
		"steps_succeeded", succeeded,
		"steps_failed", failedSteps,
		"steps_skipped", skipped)
}

func (o *Orchestrator) advance(execution *rollback.Execution, status rollback.Status, logger *slog.Logger) {
	if err := o.store.UpdateExecutionStatus(execution.ExecutionID, status); err != nil {
		// Keep driving: finishing the rollback matters more than the
		// bookkeeping of one transition.
		logger.Error("failed to persist status transition", "status", status, "error", err)
	}
	execution.Status = status
	logger.Info("rollback execution status", "status", status)
}

// appendStep persists the step and mirrors it on the in-memory execution.
func (o *Orchestrator) appendStep(state *execState, execution *rollback.Execution, step rollback.Step) error {
	if err := o.store.AppendStep(execution.ExecutionID, step); err != nil {
		return err
	}
	state.stepMu.Lock()
	execution.Steps = append(execution.Steps, step)
	state.stepMu.Unlock()

	o.metrics.StepsTotal.WithLabelValues(string(step.TargetService), string(step.Outcome)).Inc()
	o.metrics.StepDuration.WithLabelValues(string(step.TargetService)).Observe(step.FinishedAt.Sub(step.StartedAt).Seconds())
	return nil
}

func (o *Orchestrator) recordStep(state *execState, execution *rollback.Execution, step rollback.Step, logger *slog.Logger) {
	if err := o.appendStep(state, execution, step); err != nil {
		logger.Error("failed to record step", "step", step.Name, "error", err)
	}
}

func (o *Orchestrator) recordPlanFailure(state *execState, execution *rollback.Execution, target rollback.Target, planErr error, logger *slog.Logger) {
	now := o.now()
	o.recordStep(state, execution, rollback.Step{
		StepID:            rollback.NewID(now),
		TargetService:     target.Service,
		TargetEnvironment: target.Environment,
		Name:              fmt.Sprintf("plan-%s", target.Service),
		Outcome:           rollback.OutcomeFailed,
		Detail:            planErr.Error(),
		Attempt:           1,
		StartedAt:         now,
		FinishedAt:        now,
	}, logger)
}

// skipBatch records one skipped row per target that never got to run.
func (o *Orchestrator) skipBatch(state *execState, execution *rollback.Execution, batch []rollback.Target, reason string, logger *slog.Logger) {
	for _, target := range batch {
		now := o.now()
		o.recordStep(state, execution, rollback.Step{
			StepID:            rollback.NewID(now),
			TargetService:     target.Service,
			TargetEnvironment: target.Environment,
			Name:              fmt.Sprintf("rollback-%s", target.Service),
			Outcome:           rollback.OutcomeSkipped,
			Detail:            reason,
			Attempt:           1,
			StartedAt:         now,
			FinishedAt:        now,
		}, logger)
	}
}
