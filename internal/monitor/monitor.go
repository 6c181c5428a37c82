package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/rewindlabs/rewind/internal/config"
	"github.com/rewindlabs/rewind/internal/constants"
	"github.com/rewindlabs/rewind/internal/metrics"
	"github.com/rewindlabs/rewind/internal/notify"
	"github.com/rewindlabs/rewind/internal/rollback"
)

// ActionSink receives rollback requests from fired rules. The monitor never
// talks to the orchestrator directly.
type ActionSink interface {
	RollbackRequested(ctx context.Context, rule config.RuleConfig, service string)
}

// Notifier is the slice of the notification fan-out the rule engine needs.
type Notifier interface {
	Dispatch(event notify.Event)
}

// Archiver snapshots logs when a preserve_logs action fires and returns the
// archive location.
type Archiver interface {
	PreserveLogs(label string) (string, error)
}

// RuleStateStore persists rule fire times so cooldowns survive restarts.
type RuleStateStore interface {
	SetRuleLastFired(ruleID string, firedAt time.Time) error
	AllRuleLastFired() (map[string]time.Time, error)
}

// Deps wires the monitor's collaborators. Nil optional fields fall back to
// in-memory or no-op implementations.
type Deps struct {
	RuleState RuleStateStore
	Sink      ActionSink
	Notifier  Notifier
	Archiver  Archiver
	Database  DatabaseProber
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

// Monitor runs the periodic health checks and the rule engine over their
// results. One Run loop owns all probing; collaborators receive actions.
type Monitor struct {
	deploymentID  string
	checks        []config.CheckConfig
	rules         []config.RuleConfig
	checkServices map[string]string
	serviceKinds  map[string]string
	interval      time.Duration
	retention     time.Duration

	store     *MetricStore
	ruleState RuleStateStore
	sink      ActionSink
	notifier  Notifier
	archiver  Archiver
	db        DatabaseProber
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time

	httpClient *http.Client
	procRoot   string
	diskPath   string

	fireMu    sync.Mutex
	lastFired map[string]time.Time

	// lastRun is only touched from the tick loop.
	lastRun map[string]time.Time
}

func New(deployment config.DeploymentConfig, cfg config.MonitoringConfig, deps Deps) *Monitor {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.RuleState == nil {
		deps.RuleState = &memRuleState{}
	}
	if deps.Notifier == nil {
		deps.Notifier = noopNotifier{}
	}
	if deps.Archiver == nil {
		deps.Archiver = noopArchiver{}
	}

	interval := time.Duration(constants.DefaultMonitorIntervalSeconds) * time.Second
	if cfg.IntervalSeconds != nil {
		interval = time.Duration(*cfg.IntervalSeconds) * time.Second
	}
	retention := time.Duration(constants.DefaultMetricsRetentionMinutes) * time.Minute
	if cfg.RetentionMinutes != nil {
		retention = time.Duration(*cfg.RetentionMinutes) * time.Minute
	}

	checkServices := make(map[string]string, len(cfg.Checks))
	for _, check := range cfg.Checks {
		checkServices[check.ID] = check.Service
	}
	serviceKinds := make(map[string]string, len(deployment.Services))
	for _, service := range deployment.Services {
		serviceKinds[service.Name] = service.Kind
	}

	rules := slices.Clone(cfg.Rules)
	slices.SortStableFunc(rules, func(a, b config.RuleConfig) int {
		return b.Priority - a.Priority
	})

	return &Monitor{
		deploymentID:  deployment.DeploymentID,
		checks:        slices.Clone(cfg.Checks),
		rules:         rules,
		checkServices: checkServices,
		serviceKinds:  serviceKinds,
		interval:      interval,
		retention:     retention,
		store:         NewMetricStore(retention),
		ruleState:     deps.RuleState,
		sink:          deps.Sink,
		notifier:      deps.Notifier,
		archiver:      deps.Archiver,
		db:            deps.Database,
		metrics:       deps.Metrics,
		logger:        deps.Logger,
		now:           deps.Now,
		httpClient:    &http.Client{Timeout: time.Duration(constants.DefaultCheckTimeoutSeconds) * time.Second},
		procRoot:      "/proc",
		diskPath:      "/",
		lastFired:     make(map[string]time.Time),
		lastRun:       make(map[string]time.Time),
	}
}

// Run executes the check loop until the context is cancelled. Persisted rule
// fire times are loaded first so cooldowns hold across restarts.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.loadRuleState(); err != nil {
		return err
	}

	m.logger.Info("health monitor started",
		"checks", len(m.checks), "rules", len(m.rules), "interval", m.interval)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("health monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) loadRuleState() error {
	fired, err := m.ruleState.AllRuleLastFired()
	if err != nil {
		return fmt.Errorf("failed to load rule state: %w", err)
	}
	m.fireMu.Lock()
	maps.Copy(m.lastFired, fired)
	m.fireMu.Unlock()
	return nil
}

// tick runs every due check concurrently, stores the samples and evaluates
// the rules against the refreshed window.
func (m *Monitor) tick(ctx context.Context) {
	now := m.now()
	due := m.dueChecks(now)

	results := make([]rollback.CheckResult, len(due))
	var wg sync.WaitGroup
	for i := range due {
		wg.Add(1)
		go func(i int, check config.CheckConfig) {
			defer wg.Done()
			timeout := time.Duration(constants.DefaultCheckTimeoutSeconds) * time.Second
			if check.TimeoutSeconds != nil {
				timeout = time.Duration(*check.TimeoutSeconds) * time.Second
			}
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			started := time.Now()
			results[i] = m.runCheck(checkCtx, check)
			m.metrics.CheckDuration.WithLabelValues(check.ID).Observe(time.Since(started).Seconds())
		}(i, due[i])
	}
	wg.Wait()

	for _, result := range results {
		m.store.Append(result)
		m.metrics.HealthChecksTotal.WithLabelValues(result.CheckID, string(result.Status)).Inc()
		if !result.Healthy() {
			m.logger.Warn("health check is not healthy",
				"check_id", result.CheckID,
				"service", result.Service,
				"status", result.Status,
				"value", result.Value,
				"message", result.Message)
		}
	}
	m.store.Evict(now)

	snap, err := m.store.Snapshot()
	if err != nil {
		m.logger.Error("failed to snapshot metric windows", "error", err)
		return
	}
	m.evaluateRules(ctx, snap)
}

// dueChecks picks the checks whose own interval has elapsed. A check without
// an interval runs on every tick.
func (m *Monitor) dueChecks(now time.Time) []config.CheckConfig {
	var due []config.CheckConfig
	for _, check := range m.checks {
		if check.IntervalSeconds != nil {
			interval := time.Duration(*check.IntervalSeconds) * time.Second
			if last, ran := m.lastRun[check.ID]; ran && now.Sub(last) < interval {
				continue
			}
		}
		m.lastRun[check.ID] = now
		due = append(due, check)
	}
	return due
}

// FailureCount reports how many of the service's last window samples were not
// healthy, pooled across the service's checks.
func (m *Monitor) FailureCount(service string, window int) int {
	return m.store.FailureCount(service, window)
}

// GenerateReport synthesizes current health across all monitored services.
// It also serves as the orchestrator's post-rollback verifier.
func (m *Monitor) GenerateReport(ctx context.Context, deploymentID string) rollback.Report {
	report := rollback.Report{
		DeploymentID: deploymentID,
		GeneratedAt:  m.now(),
		Services:     m.store.LatestByService(),
	}
	if len(report.Services) == 0 {
		report.OverallStatus = rollback.StatusUnknown
		report.Recommendations = []string{"no health check results yet; the monitor may still be warming up"}
		return report
	}

	overall := rollback.StatusHealthy
	for _, status := range report.Services {
		overall = rollback.Worse(overall, status)
	}
	report.OverallStatus = overall

	latest := m.store.LatestResults()
	for _, checkID := range slices.Sorted(maps.Keys(latest)) {
		result := latest[checkID]
		switch result.Status {
		case rollback.StatusCritical:
			report.FailedChecks = append(report.FailedChecks, describeResult(result))
		case rollback.StatusWarning:
			report.Warnings = append(report.Warnings, describeResult(result))
		}
	}
	report.Recommendations = m.recommendations(report.Services)
	return report
}

func describeResult(result rollback.CheckResult) string {
	if result.Message == "" {
		return result.CheckID
	}
	return result.CheckID + ": " + result.Message
}

func (m *Monitor) recommendations(services map[string]rollback.HealthStatus) []string {
	var degraded []string
	for service, status := range services {
		if status == rollback.StatusCritical || status == rollback.StatusWarning {
			degraded = append(degraded, service)
		}
	}
	slices.Sort(degraded)

	var recs []string
	switch len(degraded) {
	case 0:
	case 1:
		recs = append(recs, fmt.Sprintf("investigate service %q", degraded[0]))
	default:
		recs = append(recs, "multiple services degraded; consider rolling back the deployment")
	}
	for _, service := range degraded {
		if m.serviceKinds[service] == string(rollback.ServiceDatabase) && services[service] == rollback.StatusCritical {
			recs = append(recs, fmt.Sprintf("database %q is critical; verify connectivity before rolling back dependent services", service))
		}
	}
	return recs
}

// memRuleState backs monitors constructed without a persistent store, so
// cooldowns hold for the process lifetime only.
type memRuleState struct {
	mu    sync.Mutex
	fired map[string]time.Time
}

func (s *memRuleState) SetRuleLastFired(ruleID string, firedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fired == nil {
		s.fired = make(map[string]time.Time)
	}
	s.fired[ruleID] = firedAt
	return nil
}

func (s *memRuleState) AllRuleLastFired() (map[string]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.fired), nil
}

type noopNotifier struct{}

func (noopNotifier) Dispatch(notify.Event) {}

type noopArchiver struct{}

func (noopArchiver) PreserveLogs(string) (string, error) {
	return "", fmt.Errorf("no log archiver is configured")
}
