package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rewindlabs/rewind/internal/adapters"
	"github.com/rewindlabs/rewind/internal/metrics"
	"github.com/rewindlabs/rewind/internal/rollback"
	"github.com/rewindlabs/rewind/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stepLog records step executions across all fake adapters so tests can
// assert cross-tier ordering.
type stepLog struct {
	mu    sync.Mutex
	names []string
}

func (l *stepLog) add(name string) {
	l.mu.Lock()
	l.names = append(l.names, name)
	l.mu.Unlock()
}

func (l *stepLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.names)
}

func (l *stepLog) indexOf(name string) int {
	for i, n := range l.list() {
		if n == name {
			return i
		}
	}
	return -1
}

type fakeAdapter struct {
	service rollback.Service
	steps   []string
	log     *stepLog

	planErr   error
	verifyErr error
	gate      chan struct{}
	started   chan string

	mu          sync.Mutex
	stepErrs    map[string][]error
	executed    []string
	verifyCalls int
}

func newFakeAdapter(service rollback.Service, log *stepLog) *fakeAdapter {
	return &fakeAdapter{
		service:  service,
		steps:    []string{"rollback-" + string(service)},
		log:      log,
		stepErrs: make(map[string][]error),
	}
}

// failStep queues errors for a step; each run consumes one, further runs
// succeed.
func (a *fakeAdapter) failStep(name string, errs ...error) {
	a.mu.Lock()
	a.stepErrs[name] = append(a.stepErrs[name], errs...)
	a.mu.Unlock()
}

func (a *fakeAdapter) executedSteps() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.executed)
}

func (a *fakeAdapter) verifyCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.verifyCalls
}

func (a *fakeAdapter) Service() rollback.Service { return a.service }

func (a *fakeAdapter) Validate(rollback.Target) error { return nil }

func (a *fakeAdapter) Plan(ctx context.Context, executionID string, target rollback.Target) ([]adapters.PlannedStep, error) {
	if a.planErr != nil {
		return nil, a.planErr
	}
	planned := make([]adapters.PlannedStep, 0, len(a.steps))
	for _, name := range a.steps {
		name := name
		planned = append(planned, adapters.PlannedStep{
			Name:          name,
			TargetService: a.service,
			Environment:   target.Environment,
			Run: func(ctx context.Context) (string, error) {
				if a.started != nil {
					a.started <- name
				}
				if a.gate != nil {
					select {
					case <-a.gate:
					case <-ctx.Done():
						return "", ctx.Err()
					}
				}
				a.mu.Lock()
				a.executed = append(a.executed, name)
				var err error
				if queue := a.stepErrs[name]; len(queue) > 0 {
					err, a.stepErrs[name] = queue[0], queue[1:]
				}
				a.mu.Unlock()
				a.log.add(name)
				if err != nil {
					return "", err
				}
				return name + " done", nil
			},
		})
	}
	return planned, nil
}

func (a *fakeAdapter) Verify(ctx context.Context, target rollback.Target) error {
	a.mu.Lock()
	a.verifyCalls++
	a.mu.Unlock()
	return a.verifyErr
}

type fakeVerifier struct {
	mu     sync.Mutex
	report rollback.Report
	calls  int
}

func (v *fakeVerifier) GenerateReport(ctx context.Context, deploymentID string) rollback.Report {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	report := v.report
	report.DeploymentID = deploymentID
	return report
}

func (v *fakeVerifier) callCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

type testHarness struct {
	store    *store.Store
	orch     *Orchestrator
	log      *stepLog
	backend  *fakeAdapter
	frontend *fakeAdapter
	database *fakeAdapter
	custom   *fakeAdapter
	verifier *fakeVerifier
}

func newTestHarness(t *testing.T, opts Options) *testHarness {
	t.Helper()
	st, err := store.New(t.TempDir(), nil)
	require.NoError(t, err)
	require.NoError(t, st.Migrate())
	t.Cleanup(func() { st.Close() })

	log := &stepLog{}
	h := &testHarness{
		store:    st,
		log:      log,
		backend:  newFakeAdapter(rollback.ServiceBackend, log),
		frontend: newFakeAdapter(rollback.ServiceFrontend, log),
		database: newFakeAdapter(rollback.ServiceDatabase, log),
		custom:   newFakeAdapter(rollback.ServiceCustom, log),
		verifier: &fakeVerifier{report: rollback.Report{OverallStatus: rollback.StatusHealthy}},
	}

	if opts.RetryPolicy.MaxAttempts == 0 {
		opts.RetryPolicy = adapters.RetryPolicy{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
		}
	}
	if opts.StepTimeout == 0 {
		opts.StepTimeout = 5 * time.Second
	}

	registry := adapters.NewRegistry(h.backend, h.frontend, h.database, h.custom)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.orch = New(st, registry, h.verifier, metrics.New(), logger, opts)
	t.Cleanup(h.orch.Shutdown)
	return h
}

func testTrigger(deploymentID string) rollback.Trigger {
	return rollback.NewTrigger(rollback.ReasonManual, "ops@example.com", deploymentID, "latency regression", time.Now())
}

func backendTarget() rollback.Target {
	return rollback.Target{Service: rollback.ServiceBackend, Environment: "production", Strategy: rollback.StrategyBlueGreen}
}

func frontendTarget() rollback.Target {
	return rollback.Target{Service: rollback.ServiceFrontend, Environment: "production", Strategy: rollback.StrategyFrontendMultiPlatform}
}

func databaseTarget() rollback.Target {
	return rollback.Target{Service: rollback.ServiceDatabase, Environment: "production", Strategy: rollback.StrategyDatabaseMigration}
}

func customTarget() rollback.Target {
	return rollback.Target{Service: rollback.ServiceCustom, Environment: "production", Strategy: rollback.StrategyCommand}
}

func waitTerminal(t *testing.T, orch *Orchestrator, executionID string) *rollback.Execution {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		execution, err := orch.GetRollbackStatus(executionID)
		require.NoError(t, err)
		if execution.Status.IsTerminal() {
			return execution
		}
		select {
		case <-deadline:
			t.Fatalf("execution %s never reached a terminal status, last seen %s", executionID, execution.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func stepRows(execution *rollback.Execution, name string) []rollback.Step {
	var rows []rollback.Step
	for _, step := range execution.Steps {
		if step.Name == name {
			rows = append(rows, step)
		}
	}
	return rows
}

func TestRollbackRunsToCompletion(t *testing.T) {
	h := newTestHarness(t, Options{})

	pending, err := h.orch.InitiateRollback(context.Background(), testTrigger("deploy-2025-11-20"),
		[]rollback.Target{backendTarget(), frontendTarget()})
	require.NoError(t, err)
	assert.Equal(t, rollback.StatusPending, pending.Status)
	assert.NotEmpty(t, pending.ExecutionID)

	execution := waitTerminal(t, h.orch, pending.ExecutionID)
	assert.Equal(t, rollback.StatusCompleted, execution.Status)

	backendRows := stepRows(execution, "rollback-backend")
	require.Len(t, backendRows, 1)
	assert.Equal(t, rollback.OutcomeSucceeded, backendRows[0].Outcome)
	assert.Equal(t, 1, backendRows[0].Attempt)
	frontendRows := stepRows(execution, "rollback-frontend")
	require.Len(t, frontendRows, 1)
	assert.Equal(t, rollback.OutcomeSucceeded, frontendRows[0].Outcome)

	require.NotNil(t, execution.Verification)
	assert.Equal(t, rollback.StatusHealthy, execution.Verification.Status)
	assert.False(t, execution.Verification.CheckedAt.IsZero())
	require.NotNil(t, execution.CompletedAt)
	assert.GreaterOrEqual(t, execution.DurationMinutes, 0.0)
	assert.Equal(t, 1, h.verifier.callCount())

	assert.Equal(t, 0, h.orch.ActiveCount())
	total, err := h.orch.TotalCount()
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestTiersRunInDependencyOrder(t *testing.T) {
	h := newTestHarness(t, Options{})

	// Submitted deliberately out of order.
	pending, err := h.orch.InitiateRollback(context.Background(), testTrigger("deploy-2025-11-20"),
		[]rollback.Target{frontendTarget(), customTarget(), backendTarget(), databaseTarget()})
	require.NoError(t, err)

	execution := waitTerminal(t, h.orch, pending.ExecutionID)
	assert.Equal(t, rollback.StatusCompleted, execution.Status)

	order := h.log.list()
	require.Len(t, order, 4)
	assert.Less(t, h.log.indexOf("rollback-database"), h.log.indexOf("rollback-backend"))
	assert.Less(t, h.log.indexOf("rollback-backend"), h.log.indexOf("rollback-frontend"))
	assert.Less(t, h.log.indexOf("rollback-frontend"), h.log.indexOf("rollback-custom"))
}

func TestInitiateRollbackRejectsInvalidRequests(t *testing.T) {
	h := newTestHarness(t, Options{})
	ctx := context.Background()

	tests := []struct {
		name    string
		trigger rollback.Trigger
		targets []rollback.Target
		wantErr error
	}{
		{
			name:    "missing deployment ID",
			trigger: testTrigger(""),
			targets: []rollback.Target{backendTarget()},
			wantErr: ErrValidation,
		},
		{
			name:    "no targets",
			trigger: testTrigger("deploy-2025-11-20"),
			targets: nil,
			wantErr: ErrNoValidTargets,
		},
		{
			name:    "unsupported strategy",
			trigger: testTrigger("deploy-2025-11-20"),
			targets: []rollback.Target{{Service: rollback.ServiceBackend, Strategy: rollback.StrategyDatabaseMigration}},
			wantErr: ErrValidation,
		},
		{
			name:    "unknown service",
			trigger: testTrigger("deploy-2025-11-20"),
			targets: []rollback.Target{{Service: rollback.Service("mainframe"), Strategy: rollback.StrategyImmediate}},
			wantErr: ErrValidation,
		},
		{
			name:    "duplicate target",
			trigger: testTrigger("deploy-2025-11-20"),
			targets: []rollback.Target{backendTarget(), backendTarget()},
			wantErr: ErrValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.orch.InitiateRollback(ctx, tt.trigger, tt.targets)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	// Nothing was persisted for any rejected request.
	total, err := h.orch.TotalCount()
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestConcurrentExecutionConflict(t *testing.T) {
	h := newTestHarness(t, Options{})
	h.backend.gate = make(chan struct{})
	h.backend.started = make(chan string, 4)
	ctx := context.Background()

	first, err := h.orch.InitiateRollback(ctx, testTrigger("deploy-2025-11-20"),
		[]rollback.Target{backendTarget()})
	require.NoError(t, err)
	<-h.backend.started

	// Same deployment is locked while the first execution is in flight.
	_, err = h.orch.InitiateRollback(ctx, testTrigger("deploy-2025-11-20"),
		[]rollback.Target{frontendTarget()})
	require.ErrorIs(t, err, ErrConflict)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, first.ExecutionID, conflict.ExistingExecutionID)

	// A different deployment proceeds unaffected.
	other, err := h.orch.InitiateRollback(ctx, testTrigger("deploy-2025-11-21"),
		[]rollback.Target{frontendTarget()})
	require.NoError(t, err)
	waitTerminal(t, h.orch, other.ExecutionID)

	close(h.backend.gate)
	waitTerminal(t, h.orch, first.ExecutionID)

	// The lock is released once the execution is terminal.
	third, err := h.orch.InitiateRollback(ctx, testTrigger("deploy-2025-11-20"),
		[]rollback.Target{frontendTarget()})
	require.NoError(t, err)
	waitTerminal(t, h.orch, third.ExecutionID)
}

func TestConflictDetectedAcrossRestart(t *testing.T) {
	h := newTestHarness(t, Options{})

	// An execution left non-terminal by a previous daemon run exists only in
	// the store, not in the orchestrator's memory.
	now := time.Now()
	orphan := &rollback.Execution{
		ExecutionID: rollback.NewID(now),
		Trigger:     testTrigger("deploy-2025-11-20"),
		Targets:     []rollback.Target{backendTarget()},
		Status:      rollback.StatusPending,
		StartedAt:   now,
	}
	require.NoError(t, h.store.SaveExecution(orphan))

	_, err := h.orch.InitiateRollback(context.Background(), testTrigger("deploy-2025-11-20"),
		[]rollback.Target{backendTarget()})
	require.ErrorIs(t, err, ErrConflict)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, orphan.ExecutionID, conflict.ExistingExecutionID)
}

func TestPartialFailureContinuesIndependentTargets(t *testing.T) {
	h := newTestHarness(t, Options{})
	h.backend.failStep("rollback-backend",
		adapters.Permanent(backendTarget(), "no_previous_stable_version", errors.New("registry has one release")))

	pending, err := h.orch.InitiateRollback(context.Background(), testTrigger("deploy-2025-11-20"),
		[]rollback.Target{backendTarget(), frontendTarget()})
	require.NoError(t, err)

	execution := waitTerminal(t, h.orch, pending.ExecutionID)
	assert.Equal(t, rollback.StatusPartiallyCompleted, execution.Status)

	backendRows := stepRows(execution, "rollback-backend")
	require.Len(t, backendRows, 1)
	assert.Equal(t, rollback.OutcomeFailed, backendRows[0].Outcome)
	assert.Contains(t, backendRows[0].Detail, "no_previous_stable_version")

	frontendRows := stepRows(execution, "rollback-frontend")
	require.Len(t, frontendRows, 1)
	assert.Equal(t, rollback.OutcomeSucceeded, frontendRows[0].Outcome)

	// Only targets that fully succeeded are verified.
	assert.Equal(t, 0, h.backend.verifyCount())
	assert.Equal(t, 1, h.frontend.verifyCount())
}

func TestRetryableFailureRecordsEveryAttempt(t *testing.T) {
	h := newTestHarness(t, Options{})
	h.backend.failStep("rollback-backend",
		adapters.Retryable(backendTarget(), "health_check_timeout", errors.New("gateway timeout")),
		adapters.Retryable(backendTarget(), "health_check_timeout", errors.New("gateway timeout")))

	pending, err := h.orch.InitiateRollback(context.Background(), testTrigger("deploy-2025-11-20"),
		[]rollback.Target{backendTarget()})
	require.NoError(t, err)

	execution := waitTerminal(t, h.orch, pending.ExecutionID)
	assert.Equal(t, rollback.StatusCompleted, execution.Status)

	// Each attempt is its own row; earlier rows are never rewritten.
	rows := stepRows(execution, "rollback-backend")
	require.Len(t, rows, 3)
	for i, row := range rows {
		assert.Equal(t, i+1, row.Attempt)
	}
	assert.Equal(t, rollback.OutcomeFailed, rows[0].Outcome)
	assert.Equal(t, rollback.OutcomeFailed, rows[1].Outcome)
	assert.Equal(t, rollback.OutcomeSucceeded, rows[2].Outcome)
}

func TestRetryExhaustionFailsExecution(t *testing.T) {
	h := newTestHarness(t, Options{})
	transient := adapters.Retryable(backendTarget(), "health_check_timeout", errors.New("gateway timeout"))
	h.backend.failStep("rollback-backend", transient, transient, transient)

	pending, err := h.orch.InitiateRollback(context.Background(), testTrigger("deploy-2025-11-20"),
		[]rollback.Target{backendTarget()})
	require.NoError(t, err)

	execution := waitTerminal(t, h.orch, pending.ExecutionID)
	assert.Equal(t, rollback.StatusFailed, execution.Status)

	rows := stepRows(execution, "rollback-backend")
	require.Len(t, rows, 3)
	for _, row := range rows {
		assert.Equal(t, rollback.OutcomeFailed, row.Outcome)
	}
}

func TestDatabaseFailureBlocksLaterTiers(t *testing.T) {
	h := newTestHarness(t, Options{})
	h.database.failStep("rollback-database",
		adapters.Permanent(databaseTarget(), "migration_failed", errors.New("constraint violation")))

	pending, err := h.orch.InitiateRollback(context.Background(), testTrigger("deploy-2025-11-20"),
		[]rollback.Target{databaseTarget(), backendTarget(), frontendTarget()})
	require.NoError(t, err)

	execution := waitTerminal(t, h.orch, pending.ExecutionID)
	assert.Equal(t, rollback.StatusFailed, execution.Status)

	// The backend and frontend tiers never ran.
	assert.Empty(t, h.backend.executedSteps())
	assert.Empty(t, h.frontend.executedSteps())

	backendRows := stepRows(execution, "rollback-backend")
	require.Len(t, backendRows, 1)
	assert.Equal(t, rollback.OutcomeSkipped, backendRows[0].Outcome)
	assert.Contains(t, backendRows[0].Detail, "blocked by failed database rollback")
	frontendRows := stepRows(execution, "rollback-frontend")
	require.Len(t, frontendRows, 1)
	assert.Equal(t, rollback.OutcomeSkipped, frontendRows[0].Outcome)
}

func TestConfiguredBlockingServiceBlocksLaterTiers(t *testing.T) {
	h := newTestHarness(t, Options{BlockingServices: []rollback.Service{rollback.ServiceBackend}})
	h.backend.failStep("rollback-backend",
		adapters.Permanent(backendTarget(), "image_not_found", errors.New("manifest unknown")))

	pending, err := h.orch.InitiateRollback(context.Background(), testTrigger("deploy-2025-11-20"),
		[]rollback.Target{backendTarget(), frontendTarget()})
	require.NoError(t, err)

	execution := waitTerminal(t, h.orch, pending.ExecutionID)
	assert.Equal(t, rollback.StatusFailed, execution.Status)

	assert.Empty(t, h.frontend.executedSteps())
	frontendRows := stepRows(execution, "rollback-frontend")
	require.Len(t, frontendRows, 1)
	assert.Equal(t, rollback.OutcomeSkipped, frontendRows[0].Outcome)
	assert.Contains(t, frontendRows[0].Detail, "blocked by failed backend rollback")
}

func TestStrictOrderingBlocksAfterAnyFailure(t *testing.T) {
	h := newTestHarness(t, Options{StrictOrdering: true})
	h.backend.failStep("rollback-backend",
		adapters.Permanent(backendTarget(), "image_not_found", errors.New("manifest unknown")))

	pending, err := h.orch.InitiateRollback(context.Background(), testTrigger("deploy-2025-11-20"),
		[]rollback.Target{backendTarget(), frontendTarget()})
	require.NoError(t, err)

	execution := waitTerminal(t, h.orch, pending.ExecutionID)
	assert.Equal(t, rollback.StatusFailed, execution.Status)

	assert.Empty(t, h.frontend.executedSteps())
	frontendRows := stepRows(execution, "rollback-frontend")
	require.Len(t, frontendRows, 1)
	assert.Equal(t, rollback.OutcomeSkipped, frontendRows[0].Outcome)
	assert.Contains(t, frontendRows[0].Detail, "blocked by failed backend rollback")
}

func TestCancelSkipsRemainingWork(t *testing.T) {
	h := newTestHarness(t, Options{})
	h.backend.gate = make(chan struct{})
	h.backend.started = make(chan string, 4)

	pending, err := h.orch.InitiateRollback(context.Background(), testTrigger("deploy-2025-11-20"),
		[]rollback.Target{backendTarget(), frontendTarget()})
	require.NoError(t, err)

	// Cancel while the backend step is in flight, then let it finish.
	<-h.backend.started
	require.NoError(t, h.orch.CancelRollback(pending.ExecutionID))
	close(h.backend.gate)

	execution := waitTerminal(t, h.orch, pending.ExecutionID)
	assert.Equal(t, rollback.StatusCancelled, execution.Status)

	// The in-flight step completed naturally; everything after it was skipped.
	backendRows := stepRows(execution, "rollback-backend")
	require.Len(t, backendRows, 1)
	assert.Equal(t, rollback.OutcomeSucceeded, backendRows[0].Outcome)
	frontendRows := stepRows(execution, "rollback-frontend")
	require.Len(t, frontendRows, 1)
	assert.Equal(t, rollback.OutcomeSkipped, frontendRows[0].Outcome)
	assert.Contains(t, frontendRows[0].Detail, "execution cancelled")

	// Terminal executions cannot be cancelled again.
	err = h.orch.CancelRollback(pending.ExecutionID)
	require.ErrorIs(t, err, ErrTerminal)
}

func TestCancelUnknownExecution(t *testing.T) {
	h := newTestHarness(t, Options{})
	err := h.orch.CancelRollback("01JCZX00000000000000000000")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCancelOrphanWithoutDriver(t *testing.T) {
	h := newTestHarness(t, Options{})

	now := time.Now()
	orphan := &rollback.Execution{
		ExecutionID: rollback.NewID(now),
		Trigger:     testTrigger("deploy-2025-11-20"),
		Targets:     []rollback.Target{backendTarget()},
		Status:      rollback.StatusPending,
		StartedAt:   now,
	}
	require.NoError(t, h.store.SaveExecution(orphan))

	require.NoError(t, h.orch.CancelRollback(orphan.ExecutionID))

	got, err := h.store.GetExecution(orphan.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, rollback.StatusCancelled, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestPlanFailureRecordsFailedStep(t *testing.T) {
	h := newTestHarness(t, Options{})
	h.backend.planErr = errors.New("release registry unavailable")

	pending, err := h.orch.InitiateRollback(context.Background(), testTrigger("deploy-2025-11-20"),
		[]rollback.Target{backendTarget(), frontendTarget()})
	require.NoError(t, err)

	execution := waitTerminal(t, h.orch, pending.ExecutionID)
	assert.Equal(t, rollback.StatusPartiallyCompleted, execution.Status)

	planRows := stepRows(execution, "plan-backend")
	require.Len(t, planRows, 1)
	assert.Equal(t, rollback.OutcomeFailed, planRows[0].Outcome)
	assert.Contains(t, planRows[0].Detail, "release registry unavailable")

	frontendRows := stepRows(execution, "rollback-frontend")
	require.Len(t, frontendRows, 1)
	assert.Equal(t, rollback.OutcomeSucceeded, frontendRows[0].Outcome)
}

func TestUnhealthyVerificationDegradesTerminalStatus(t *testing.T) {
	h := newTestHarness(t, Options{})
	h.verifier.report = rollback.Report{
		OverallStatus: rollback.StatusCritical,
		FailedChecks:  []string{"api-latency-p95"},
	}

	pending, err := h.orch.InitiateRollback(context.Background(), testTrigger("deploy-2025-11-20"),
		[]rollback.Target{backendTarget()})
	require.NoError(t, err)

	execution := waitTerminal(t, h.orch, pending.ExecutionID)
	assert.Equal(t, rollback.StatusPartiallyCompleted, execution.Status)
	require.NotNil(t, execution.Verification)
	assert.Equal(t, rollback.StatusCritical, execution.Verification.Status)
	assert.Contains(t, execution.Verification.Detail, "api-latency-p95")
}

func TestAdapterVerifyFailureDegradesTerminalStatus(t *testing.T) {
	h := newTestHarness(t, Options{})
	h.frontend.verifyErr = errors.New("cdn still serves v2.1.0")

	pending, err := h.orch.InitiateRollback(context.Background(), testTrigger("deploy-2025-11-20"),
		[]rollback.Target{frontendTarget()})
	require.NoError(t, err)

	execution := waitTerminal(t, h.orch, pending.ExecutionID)
	assert.Equal(t, rollback.StatusPartiallyCompleted, execution.Status)
	require.NotNil(t, execution.Verification)
	assert.Equal(t, rollback.StatusCritical, execution.Verification.Status)
	assert.Contains(t, execution.Verification.Detail, "cdn still serves v2.1.0")
}

func TestMissingVerifierLeavesStatusUnknown(t *testing.T) {
	h := newTestHarness(t, Options{})
	h.orch.verifier = nil

	pending, err := h.orch.InitiateRollback(context.Background(), testTrigger("deploy-2025-11-20"),
		[]rollback.Target{backendTarget()})
	require.NoError(t, err)

	// Unknown health does not demote an otherwise clean rollback.
	execution := waitTerminal(t, h.orch, pending.ExecutionID)
	assert.Equal(t, rollback.StatusCompleted, execution.Status)
	require.NotNil(t, execution.Verification)
	assert.Equal(t, rollback.StatusUnknown, execution.Verification.Status)
	assert.Contains(t, execution.Verification.Detail, "no health verifier configured")
}

func TestRecoverOrphans(t *testing.T) {
	h := newTestHarness(t, Options{})
	now := time.Now()

	save := func(deploymentID string, status rollback.Status) *rollback.Execution {
		execution := &rollback.Execution{
			ExecutionID: rollback.NewID(now),
			Trigger:     testTrigger(deploymentID),
			Targets:     []rollback.Target{backendTarget()},
			Status:      rollback.StatusPending,
			StartedAt:   now,
		}
		require.NoError(t, h.store.SaveExecution(execution))
		if status != rollback.StatusPending {
			require.NoError(t, h.store.UpdateExecutionStatus(execution.ExecutionID, status))
		}
		return execution
	}

	first := save("deploy-2025-11-18", rollback.StatusExecuting)
	second := save("deploy-2025-11-19", rollback.StatusPending)
	finished := save("deploy-2025-11-20", rollback.StatusVerifying)
	require.NoError(t, h.store.CompleteExecution(finished.ExecutionID, rollback.StatusCompleted, now, 1.5, nil))

	recovered, err := h.orch.RecoverOrphans()
	require.NoError(t, err)
	assert.Equal(t, 2, recovered)

	for _, id := range []string{first.ExecutionID, second.ExecutionID} {
		got, err := h.store.GetExecution(id)
		require.NoError(t, err)
		assert.Equal(t, rollback.StatusFailed, got.Status)
		require.NotNil(t, got.Verification)
		assert.True(t, strings.HasPrefix(got.Verification.Detail, "orphaned_by_restart"))
	}

	// The already-terminal execution is untouched.
	got, err := h.store.GetExecution(finished.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, rollback.StatusCompleted, got.Status)

	// A second pass finds nothing left to recover.
	recovered, err = h.orch.RecoverOrphans()
	require.NoError(t, err)
	assert.Equal(t, 0, recovered)
}

func TestShutdownFinalizesInFlightExecutions(t *testing.T) {
	h := newTestHarness(t, Options{})
	h.backend.gate = make(chan struct{})
	h.backend.started = make(chan string, 4)

	pending, err := h.orch.InitiateRollback(context.Background(), testTrigger("deploy-2025-11-20"),
		[]rollback.Target{backendTarget()})
	require.NoError(t, err)
	<-h.backend.started

	// The gate is never released: shutdown must interrupt the step itself.
	h.orch.Shutdown()

	execution, err := h.orch.GetRollbackStatus(pending.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, rollback.StatusFailed, execution.Status)

	_, err = h.orch.InitiateRollback(context.Background(), testTrigger("deploy-2025-11-21"),
		[]rollback.Target{backendTarget()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shutting down")
}
