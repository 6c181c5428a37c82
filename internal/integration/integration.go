package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rewindlabs/rewind/internal/config"
	"github.com/rewindlabs/rewind/internal/logging"
	"github.com/rewindlabs/rewind/internal/notify"
	"github.com/rewindlabs/rewind/internal/orchestrator"
	"github.com/rewindlabs/rewind/internal/rollback"
)

// RollbackDriver is the slice of the orchestrator the engine drives.
type RollbackDriver interface {
	InitiateRollback(ctx context.Context, trigger rollback.Trigger, targets []rollback.Target) (*rollback.Execution, error)
	GetRollbackStatus(executionID string) (*rollback.Execution, error)
	ActiveCount() int
	TotalCount() (int, error)
}

// HealthSource produces health reports on demand.
type HealthSource interface {
	GenerateReport(ctx context.Context, deploymentID string) rollback.Report
}

// Notifier delivers events without blocking the caller.
type Notifier interface {
	Dispatch(event notify.Event)
}

// Engine binds the monitor's rule firings to the orchestrator. It is the only
// component allowed to turn health data into rollback executions.
type Engine struct {
	deploymentID string
	environment  string
	autoRollback bool
	specs        []config.TargetSpec

	monitor  HealthSource
	driver   RollbackDriver
	notifier Notifier
	broker   *logging.Broker
	logger   *slog.Logger
	now      func() time.Time

	mu             sync.Mutex
	running        bool
	lastReportTime time.Time
}

func New(cfg config.Config, mon HealthSource, driver RollbackDriver, notifier Notifier, broker *logging.Broker, logger *slog.Logger) *Engine {
	return &Engine{
		deploymentID: cfg.Deployment.DeploymentID,
		environment:  cfg.Deployment.Environment,
		autoRollback: cfg.Rollback.AutoRollbackEnabled,
		specs:        cfg.Rollback.Targets,
		monitor:      mon,
		driver:       driver,
		notifier:     notifier,
		broker:       broker,
		logger:       logger,
		now:          time.Now,
	}
}

// Run watches execution completions until the context ends. Every terminal
// execution gets a fresh health report and an outcome notification.
func (e *Engine) Run(ctx context.Context) error {
	events, id := e.broker.SubscribeGeneral()
	defer e.broker.Unsubscribe(id)

	e.setRunning(true)
	defer e.setRunning(false)
	e.logger.Info("integration engine started", "auto_rollback", e.autoRollback)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("integration engine stopped")
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if event.Message != orchestrator.ExecutionFinishedMessage || event.ExecutionID == "" {
				continue
			}
			e.verifyCompletion(ctx, event.ExecutionID)
		}
	}
}

// RollbackRequested is the monitor's action sink. A fired rule lands here and
// either becomes an execution or, with auto-rollback off, an alert.
func (e *Engine) RollbackRequested(ctx context.Context, rule config.RuleConfig, service string) {
	if !e.autoRollback {
		e.logger.Warn("auto-rollback disabled, downgrading to alert",
			"rule_id", rule.ID, "service", service)
		e.notifier.Dispatch(notify.Event{
			Type:         notify.EventAlert,
			DeploymentID: e.deploymentID,
			Title:        fmt.Sprintf("Rule %s requested a rollback", rule.ID),
			Message:      fmt.Sprintf("auto-rollback is disabled; service %q needs attention", service),
			Severity:     "warning",
			Time:         e.now(),
		})
		return
	}

	targets := e.targetsFor("")
	if len(targets) == 0 {
		e.logger.Warn("rule requested a rollback but no targets are configured", "rule_id", rule.ID)
		return
	}

	message := fmt.Sprintf("rule %s fired for service %s", rule.ID, service)
	if rule.Description != "" {
		message += ": " + rule.Description
	}
	trigger := rollback.NewTrigger(rollback.ReasonHealthCheckFailure, "health_monitor", e.deploymentID, message, e.now())

	execution, err := e.driver.InitiateRollback(ctx, trigger, targets)
	if err != nil {
		if errors.Is(err, orchestrator.ErrConflict) {
			e.logger.Debug("rollback already in flight, ignoring rule request",
				"rule_id", rule.ID, "service", service)
			return
		}
		e.logger.Error("failed to initiate automatic rollback", "rule_id", rule.ID, "error", err)
		return
	}
	e.logger.Info("automatic rollback initiated",
		"rule_id", rule.ID, "execution_id", execution.ExecutionID, "targets", len(targets))
}

// ManualRollback starts an operator-requested execution, bypassing the rule
// engine. Empty targets fall back to the configured set.
func (e *Engine) ManualRollback(ctx context.Context, deploymentID, environment, reason, actor string, targets []rollback.Target) (*rollback.Execution, error) {
	if deploymentID == "" {
		deploymentID = e.deploymentID
	}
	if deploymentID != e.deploymentID {
		return nil, fmt.Errorf("%w: unknown deployment %q, this daemon manages %q",
			orchestrator.ErrValidation, deploymentID, e.deploymentID)
	}
	if len(targets) == 0 {
		targets = e.targetsFor(environment)
	}

	message := reason
	if message == "" {
		message = "manual rollback"
	}
	trigger := rollback.NewTrigger(rollback.ReasonManual, actor, deploymentID, message, e.now())
	return e.driver.InitiateRollback(ctx, trigger, targets)
}

// targetsFor materializes the configured target specs. Specs without their
// own environment inherit the given one, or the deployment default.
func (e *Engine) targetsFor(environment string) []rollback.Target {
	if environment == "" {
		environment = e.environment
	}
	targets := make([]rollback.Target, 0, len(e.specs))
	for _, spec := range e.specs {
		targets = append(targets, spec.ToTarget(environment))
	}
	return targets
}

// Status is the consolidated view served by the status endpoint.
type Status struct {
	IntegrationRunning  bool                  `json:"integration_running"`
	DeploymentID        string                `json:"deployment_id"`
	Environment         string                `json:"environment"`
	HealthStatus        rollback.HealthStatus `json:"health_status"`
	ActiveRollbacks     int                   `json:"active_rollbacks"`
	TotalRollbacks      int                   `json:"total_rollbacks"`
	AutoRollbackEnabled bool                  `json:"auto_rollback_enabled"`
	LastReportTime      *time.Time            `json:"last_report_time,omitempty"`
}

func (e *Engine) Status(ctx context.Context) (Status, error) {
	total, err := e.driver.TotalCount()
	if err != nil {
		return Status{}, fmt.Errorf("failed to count executions: %w", err)
	}
	report := e.monitor.GenerateReport(ctx, e.deploymentID)

	e.mu.Lock()
	running := e.running
	last := e.lastReportTime
	e.mu.Unlock()

	status := Status{
		IntegrationRunning:  running,
		DeploymentID:        e.deploymentID,
		Environment:         e.environment,
		HealthStatus:        report.OverallStatus,
		ActiveRollbacks:     e.driver.ActiveCount(),
		TotalRollbacks:      total,
		AutoRollbackEnabled: e.autoRollback,
	}
	if !last.IsZero() {
		status.LastReportTime = &last
	}
	return status, nil
}

// HealthReport returns a fresh report for the engine's deployment.
func (e *Engine) HealthReport(ctx context.Context) rollback.Report {
	report := e.monitor.GenerateReport(ctx, e.deploymentID)
	e.mu.Lock()
	e.lastReportTime = report.GeneratedAt
	e.mu.Unlock()
	return report
}

func (e *Engine) verifyCompletion(ctx context.Context, executionID string) {
	execution, err := e.driver.GetRollbackStatus(executionID)
	if err != nil {
		e.logger.Error("failed to load finished execution", "execution_id", executionID, "error", err)
		return
	}

	report := e.monitor.GenerateReport(ctx, execution.DeploymentID())
	e.mu.Lock()
	e.lastReportTime = report.GeneratedAt
	e.mu.Unlock()

	eventType := notify.EventExecutionCompleted
	severity := "info"
	switch execution.Status {
	case rollback.StatusFailed:
		eventType = notify.EventExecutionFailed
		severity = "critical"
	case rollback.StatusPartiallyCompleted:
		severity = "warning"
	}

	e.notifier.Dispatch(notify.Event{
		Type:         eventType,
		DeploymentID: execution.DeploymentID(),
		ExecutionID:  execution.ExecutionID,
		Title:        fmt.Sprintf("Rollback %s", execution.Status),
		Message:      fmt.Sprintf("post-rollback health: %s", report.OverallStatus),
		Severity:     severity,
		Time:         e.now(),
	})
	e.logger.Info("post-rollback verification recorded",
		"execution_id", execution.ExecutionID,
		"status", execution.Status,
		"health", report.OverallStatus)
}

func (e *Engine) setRunning(running bool) {
	e.mu.Lock()
	e.running = running
	e.mu.Unlock()
}
