package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewindlabs/rewind/internal/config"
	"github.com/rewindlabs/rewind/internal/metrics"
	"github.com/rewindlabs/rewind/internal/notify"
	"github.com/rewindlabs/rewind/internal/rollback"
)

func intp(v int) *int           { return &v }
func floatp(v float64) *float64 { return &v }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock { return &fakeClock{now: start} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type firedAction struct {
	ruleID  string
	service string
}

type fakeSink struct {
	mu      sync.Mutex
	actions []firedAction
}

func (s *fakeSink) RollbackRequested(_ context.Context, rule config.RuleConfig, service string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, firedAction{ruleID: rule.ID, service: service})
}

func (s *fakeSink) calls() []firedAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]firedAction(nil), s.actions...)
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *fakeNotifier) Dispatch(event notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *fakeNotifier) sent() []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Event(nil), n.events...)
}

type fakeArchiver struct {
	mu     sync.Mutex
	path   string
	err    error
	labels []string
}

func (a *fakeArchiver) PreserveLogs(label string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.labels = append(a.labels, label)
	return a.path, a.err
}

func (a *fakeArchiver) preserved() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.labels...)
}

type fakeProber struct {
	err     error
	queries []string
}

func (p *fakeProber) Ping(context.Context) error { return p.err }

func (p *fakeProber) Query(_ context.Context, query string) error {
	p.queries = append(p.queries, query)
	return p.err
}

func testDeployment() config.DeploymentConfig {
	return config.DeploymentConfig{
		DeploymentID: "deploy-2025-11-20",
		Environment:  "production",
		Services: []config.ServiceConfig{
			{Name: "api", Kind: "backend", Image: "registry.example.com/api"},
			{Name: "maindb", Kind: "database"},
		},
	}
}

type monitorHarness struct {
	monitor  *Monitor
	clock    *fakeClock
	sink     *fakeSink
	notifier *fakeNotifier
	archiver *fakeArchiver
	state    *memRuleState
}

func newMonitorHarness(t *testing.T, cfg config.MonitoringConfig) *monitorHarness {
	t.Helper()
	h := &monitorHarness{
		clock:    newFakeClock(testEpoch),
		sink:     &fakeSink{},
		notifier: &fakeNotifier{},
		archiver: &fakeArchiver{path: "/var/lib/rewind/logs/archive.tar.gz"},
		state:    &memRuleState{},
	}
	h.monitor = New(testDeployment(), cfg, Deps{
		RuleState: h.state,
		Sink:      h.sink,
		Notifier:  h.notifier,
		Archiver:  h.archiver,
		Metrics:   metrics.New(),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:       h.clock.Now,
	})
	require.NoError(t, h.monitor.loadRuleState())
	return h
}

func (h *monitorHarness) tick() {
	h.monitor.tick(context.Background())
}

func (h *monitorHarness) tickAfter(d time.Duration) {
	h.clock.Advance(d)
	h.tick()
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		value     float64
		warnAbove *float64
		critAbove *float64
		want      rollback.HealthStatus
	}{
		{"below both thresholds", 50, floatp(70), floatp(90), rollback.StatusHealthy},
		{"at warn threshold", 70, floatp(70), floatp(90), rollback.StatusWarning},
		{"at crit threshold", 90, floatp(70), floatp(90), rollback.StatusCritical},
		{"no thresholds", 95, nil, nil, rollback.StatusHealthy},
		{"crit only", 95, nil, floatp(90), rollback.StatusCritical},
		{"warn only", 95, floatp(70), nil, rollback.StatusWarning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.value, tt.warnAbove, tt.critAbove))
		})
	}
}

func TestRunCheckHTTP(t *testing.T) {
	h := newMonitorHarness(t, config.MonitoringConfig{})

	t.Run("healthy response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		result := h.monitor.runCheck(context.Background(), config.CheckConfig{
			ID: "api-http", Type: config.CheckTypeHTTPResponse, Service: "api", URL: server.URL,
		})
		assert.Equal(t, rollback.StatusHealthy, result.Status)
		assert.Equal(t, "api-http", result.CheckID)
		assert.Equal(t, "api", result.Service)
		assert.Equal(t, testEpoch, result.Timestamp)
	})

	t.Run("unexpected status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		result := h.monitor.runCheck(context.Background(), config.CheckConfig{
			ID: "api-http", Type: config.CheckTypeHTTPResponse, Service: "api", URL: server.URL,
		})
		assert.Equal(t, rollback.StatusCritical, result.Status)
		assert.Equal(t, "status 503, expected 200", result.Message)
	})

	t.Run("expected status override", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		result := h.monitor.runCheck(context.Background(), config.CheckConfig{
			ID: "api-http", Type: config.CheckTypeHTTPResponse, Service: "api",
			URL: server.URL, ExpectedStatus: http.StatusNotFound,
		})
		assert.Equal(t, rollback.StatusHealthy, result.Status)
	})

	t.Run("unreachable endpoint", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := server.URL
		server.Close()

		result := h.monitor.runCheck(context.Background(), config.CheckConfig{
			ID: "api-http", Type: config.CheckTypeHTTPResponse, Service: "api", URL: url,
		})
		assert.Equal(t, rollback.StatusCritical, result.Status)
		assert.NotEmpty(t, result.Message)
	})

	t.Run("latency over warn threshold", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		result := h.monitor.runCheck(context.Background(), config.CheckConfig{
			ID: "api-http", Type: config.CheckTypeHTTPResponse, Service: "api",
			URL: server.URL, WarnAbove: floatp(0),
		})
		assert.Equal(t, rollback.StatusWarning, result.Status)
		assert.Contains(t, result.Message, "latency")
	})
}

func TestRunCheckDatabase(t *testing.T) {
	check := config.CheckConfig{
		ID: "db-conn", Type: config.CheckTypeDatabaseConnection, Service: "maindb",
	}

	t.Run("no database configured", func(t *testing.T) {
		h := newMonitorHarness(t, config.MonitoringConfig{})
		result := h.monitor.runCheck(context.Background(), check)
		assert.Equal(t, rollback.StatusUnknown, result.Status)
		assert.Equal(t, "no database is configured", result.Message)
	})

	t.Run("ping succeeds", func(t *testing.T) {
		h := newMonitorHarness(t, config.MonitoringConfig{})
		prober := &fakeProber{}
		h.monitor.db = prober
		result := h.monitor.runCheck(context.Background(), check)
		assert.Equal(t, rollback.StatusHealthy, result.Status)
		assert.Empty(t, prober.queries)
	})

	t.Run("ping fails", func(t *testing.T) {
		h := newMonitorHarness(t, config.MonitoringConfig{})
		h.monitor.db = &fakeProber{err: errors.New("connection refused")}
		result := h.monitor.runCheck(context.Background(), check)
		assert.Equal(t, rollback.StatusCritical, result.Status)
		assert.Equal(t, "connection refused", result.Message)
	})

	t.Run("configured query replaces the ping", func(t *testing.T) {
		h := newMonitorHarness(t, config.MonitoringConfig{})
		prober := &fakeProber{}
		h.monitor.db = prober
		withQuery := check
		withQuery.Query = "SELECT count(*) FROM pg_stat_activity"
		result := h.monitor.runCheck(context.Background(), withQuery)
		assert.Equal(t, rollback.StatusHealthy, result.Status)
		assert.Equal(t, []string{"SELECT count(*) FROM pg_stat_activity"}, prober.queries)
	})
}

func TestRunCheckCustom(t *testing.T) {
	h := newMonitorHarness(t, config.MonitoringConfig{})

	t.Run("numeric output is classified", func(t *testing.T) {
		result := h.monitor.runCheck(context.Background(), config.CheckConfig{
			ID: "queue-depth", Type: config.CheckTypeCustom, Service: "api",
			Command: "echo 7.5", CritAbove: floatp(5),
		})
		assert.Equal(t, rollback.StatusCritical, result.Status)
		assert.Equal(t, 7.5, result.Value)
	})

	t.Run("healthy below thresholds", func(t *testing.T) {
		result := h.monitor.runCheck(context.Background(), config.CheckConfig{
			ID: "queue-depth", Type: config.CheckTypeCustom, Service: "api",
			Command: "echo 2", CritAbove: floatp(5),
		})
		assert.Equal(t, rollback.StatusHealthy, result.Status)
		assert.Equal(t, 2.0, result.Value)
	})

	t.Run("command failure", func(t *testing.T) {
		result := h.monitor.runCheck(context.Background(), config.CheckConfig{
			ID: "queue-depth", Type: config.CheckTypeCustom, Service: "api",
			Command: "echo broken >&2; exit 3",
		})
		assert.Equal(t, rollback.StatusCritical, result.Status)
		assert.Contains(t, result.Message, "command failed")
		assert.Contains(t, result.Message, "broken")
	})

	t.Run("non-numeric output", func(t *testing.T) {
		result := h.monitor.runCheck(context.Background(), config.CheckConfig{
			ID: "queue-depth", Type: config.CheckTypeCustom, Service: "api",
			Command: "echo pending",
		})
		assert.Equal(t, rollback.StatusCritical, result.Status)
		assert.Contains(t, result.Message, "is not numeric")
	})
}

func TestRunCheckSystemResource(t *testing.T) {
	h := newMonitorHarness(t, config.MonitoringConfig{})
	procRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(procRoot, "loadavg"),
		[]byte("2.00 1.50 1.00 2/345 6789\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(procRoot, "meminfo"),
		[]byte("MemTotal:        8000000 kB\nMemFree:         1000000 kB\nMemAvailable:    2000000 kB\n"), 0o644))
	h.monitor.procRoot = procRoot
	h.monitor.diskPath = t.TempDir()

	t.Run("cpu", func(t *testing.T) {
		result := h.monitor.runCheck(context.Background(), config.CheckConfig{
			ID: "cpu", Type: config.CheckTypeSystemResource, Service: "api", Resource: "cpu",
		})
		want := 2.0 / float64(runtime.NumCPU()) * 100
		assert.InDelta(t, want, result.Value, 0.01)
		assert.Equal(t, rollback.StatusHealthy, result.Status)
	})

	t.Run("memory", func(t *testing.T) {
		result := h.monitor.runCheck(context.Background(), config.CheckConfig{
			ID: "memory", Type: config.CheckTypeSystemResource, Service: "api", Resource: "memory",
			WarnAbove: floatp(70),
		})
		assert.InDelta(t, 75.0, result.Value, 0.01)
		assert.Equal(t, rollback.StatusWarning, result.Status)
		assert.Equal(t, "memory at 75.0%", result.Message)
	})

	t.Run("disk", func(t *testing.T) {
		result := h.monitor.runCheck(context.Background(), config.CheckConfig{
			ID: "disk", Type: config.CheckTypeSystemResource, Service: "api", Resource: "disk",
		})
		assert.Equal(t, rollback.StatusHealthy, result.Status)
		assert.GreaterOrEqual(t, result.Value, 0.0)
		assert.LessOrEqual(t, result.Value, 100.0)
	})

	t.Run("missing proc files are critical", func(t *testing.T) {
		h.monitor.procRoot = filepath.Join(procRoot, "missing")
		defer func() { h.monitor.procRoot = procRoot }()
		result := h.monitor.runCheck(context.Background(), config.CheckConfig{
			ID: "cpu", Type: config.CheckTypeSystemResource, Service: "api", Resource: "cpu",
		})
		assert.Equal(t, rollback.StatusCritical, result.Status)
	})
}

func TestTickHonorsPerCheckIntervals(t *testing.T) {
	var fastHits, slowHits atomic.Int32
	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fastHits.Add(1)
	}))
	defer fast.Close()
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slowHits.Add(1)
	}))
	defer slow.Close()

	h := newMonitorHarness(t, config.MonitoringConfig{
		Enabled: true,
		Checks: []config.CheckConfig{
			{ID: "fast", Type: config.CheckTypeHTTPResponse, Service: "api", URL: fast.URL},
			{ID: "slow", Type: config.CheckTypeHTTPResponse, Service: "api", URL: slow.URL, IntervalSeconds: intp(60)},
		},
	})

	h.tick()
	assert.Equal(t, int32(1), fastHits.Load())
	assert.Equal(t, int32(1), slowHits.Load())

	h.tickAfter(30 * time.Second)
	assert.Equal(t, int32(2), fastHits.Load())
	assert.Equal(t, int32(1), slowHits.Load(), "slow check ran before its interval elapsed")

	h.tickAfter(30 * time.Second)
	assert.Equal(t, int32(3), fastHits.Load())
	assert.Equal(t, int32(2), slowHits.Load())
}

func failingCheckConfig(url string) config.MonitoringConfig {
	return config.MonitoringConfig{
		Enabled: true,
		Checks: []config.CheckConfig{
			{ID: "api-http", Type: config.CheckTypeHTTPResponse, Service: "api", URL: url},
		},
		Rules: []config.RuleConfig{{
			ID:       "backend-degraded",
			Priority: 50,
			When: config.Condition{FailureCount: &config.FailureCountCondition{
				Service: "api", Window: 5, MinFailures: 3,
			}},
			Actions: []string{config.ActionRollback, config.ActionAlert},
		}},
	}
}

func TestFailureCountRuleFiresOnce(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	h := newMonitorHarness(t, failingCheckConfig(server.URL))

	h.tick()
	h.tickAfter(30 * time.Second)
	assert.Empty(t, h.sink.calls(), "two failures must not reach the threshold of three")

	h.tickAfter(30 * time.Second)
	calls := h.sink.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "backend-degraded", calls[0].ruleID)
	assert.Equal(t, "api", calls[0].service)

	events := h.notifier.sent()
	require.Len(t, events, 1)
	assert.Equal(t, notify.EventRuleFired, events[0].Type)
	assert.Equal(t, "deploy-2025-11-20", events[0].DeploymentID)
	assert.Equal(t, "Rule backend-degraded fired", events[0].Title)
	assert.Equal(t, "warning", events[0].Severity)

	// The condition still holds on later ticks but the cooldown suppresses
	// a second firing.
	h.tickAfter(30 * time.Second)
	h.tickAfter(30 * time.Second)
	assert.Len(t, h.sink.calls(), 1)
	assert.Equal(t, 5, h.monitor.FailureCount("api", 5))
}

func TestRuleRefiresAfterCooldown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := failingCheckConfig(server.URL)
	cfg.Rules[0].CooldownMinutes = intp(1)
	h := newMonitorHarness(t, cfg)

	h.tick()
	h.tickAfter(30 * time.Second)
	h.tickAfter(30 * time.Second)
	require.Len(t, h.sink.calls(), 1, "third consecutive failure fires the rule")

	h.tickAfter(30 * time.Second)
	assert.Len(t, h.sink.calls(), 1, "thirty seconds into a one-minute cooldown")

	h.tickAfter(30 * time.Second)
	assert.Len(t, h.sink.calls(), 2, "cooldown elapsed and the condition still holds")
}

func TestRuleCooldownSurvivesRestart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	h := newMonitorHarness(t, failingCheckConfig(server.URL))
	h.tick()
	h.tickAfter(30 * time.Second)
	h.tickAfter(30 * time.Second)
	require.Len(t, h.sink.calls(), 1)

	// A new monitor over the same rule state inherits the fire time.
	sink2 := &fakeSink{}
	restarted := New(testDeployment(), failingCheckConfig(server.URL), Deps{
		RuleState: h.state,
		Sink:      sink2,
		Notifier:  &fakeNotifier{},
		Metrics:   metrics.New(),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:       h.clock.Now,
	})
	require.NoError(t, restarted.loadRuleState())

	for i := 0; i < 3; i++ {
		h.clock.Advance(30 * time.Second)
		restarted.tick(context.Background())
	}
	assert.Empty(t, sink2.calls(), "persisted fire time keeps the cooldown active")

	h.clock.Advance(5 * time.Minute)
	restarted.tick(context.Background())
	assert.Len(t, sink2.calls(), 1)
}

func TestThresholdRuleRequiresConsecutiveSamples(t *testing.T) {
	h := newMonitorHarness(t, config.MonitoringConfig{
		Enabled: true,
		Checks: []config.CheckConfig{
			{ID: "api-latency", Type: config.CheckTypeCustom, Service: "api", Command: "echo 0"},
		},
		Rules: []config.RuleConfig{{
			ID:       "latency-regression",
			Priority: 50,
			When: config.Condition{Threshold: &config.ThresholdCondition{
				CheckID: "api-latency", Operator: "gt", Value: 200, Samples: 2,
			}},
			Actions: []string{config.ActionAlert},
		}},
	})

	evaluate := func() {
		snap, err := h.monitor.store.Snapshot()
		require.NoError(t, err)
		h.monitor.evaluateRules(context.Background(), snap)
	}
	appendValue := func(value float64, at time.Time) {
		result := sample("api-latency", "api", rollback.StatusHealthy, at)
		result.Value = value
		h.monitor.store.Append(result)
	}

	appendValue(250, testEpoch)
	evaluate()
	assert.Empty(t, h.notifier.sent(), "one violating sample out of two required")

	appendValue(180, testEpoch.Add(30*time.Second))
	evaluate()
	assert.Empty(t, h.notifier.sent(), "latest sample is back under the threshold")

	appendValue(250, testEpoch.Add(60*time.Second))
	appendValue(260, testEpoch.Add(90*time.Second))
	evaluate()
	assert.Len(t, h.notifier.sent(), 1)
}

func TestStatusConditions(t *testing.T) {
	t.Run("service status", func(t *testing.T) {
		h := newMonitorHarness(t, config.MonitoringConfig{
			Rules: []config.RuleConfig{{
				ID: "api-down", Priority: 50,
				When:    config.Condition{StatusIs: &config.StatusCondition{Service: "api", Status: "critical"}},
				Actions: []string{config.ActionAlert},
			}},
		})
		h.monitor.store.Append(sample("api-http", "api", rollback.StatusCritical, testEpoch))
		snap, err := h.monitor.store.Snapshot()
		require.NoError(t, err)
		h.monitor.evaluateRules(context.Background(), snap)
		assert.Len(t, h.notifier.sent(), 1)
	})

	t.Run("missing check matches unknown", func(t *testing.T) {
		h := newMonitorHarness(t, config.MonitoringConfig{
			Checks: []config.CheckConfig{
				{ID: "db-conn", Type: config.CheckTypeDatabaseConnection, Service: "maindb"},
			},
			Rules: []config.RuleConfig{{
				ID: "db-silent", Priority: 50,
				When:    config.Condition{StatusIs: &config.StatusCondition{CheckID: "db-conn", Status: "unknown"}},
				Actions: []string{config.ActionAlert},
			}},
		})
		snap, err := h.monitor.store.Snapshot()
		require.NoError(t, err)
		h.monitor.evaluateRules(context.Background(), snap)
		require.Len(t, h.notifier.sent(), 1)
	})
}

func TestCombinatorConditions(t *testing.T) {
	all := config.Condition{All: []config.Condition{
		{FailureCount: &config.FailureCountCondition{Service: "api", Window: 3, MinFailures: 2}},
		{StatusIs: &config.StatusCondition{Service: "api", Status: "critical"}},
	}}
	anyOf := config.Condition{Any: []config.Condition{
		{StatusIs: &config.StatusCondition{Service: "maindb", Status: "critical"}},
		{StatusIs: &config.StatusCondition{Service: "api", Status: "critical"}},
	}}

	tests := []struct {
		name     string
		when     config.Condition
		failures int
		wantFire bool
	}{
		{"all holds when every child holds", all, 2, true},
		{"all misses when one child misses", all, 1, false},
		{"any holds on a single child", anyOf, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newMonitorHarness(t, config.MonitoringConfig{
				Rules: []config.RuleConfig{{
					ID: "combo", Priority: 50, When: tt.when, Actions: []string{config.ActionAlert},
				}},
			})
			h.monitor.store.Append(sample("api-http", "api", rollback.StatusCritical, testEpoch))
			if tt.failures > 1 {
				h.monitor.store.Append(sample("api-http", "api", rollback.StatusCritical, testEpoch.Add(30*time.Second)))
			}
			snap, err := h.monitor.store.Snapshot()
			require.NoError(t, err)
			h.monitor.evaluateRules(context.Background(), snap)
			if tt.wantFire {
				assert.Len(t, h.notifier.sent(), 1)
			} else {
				assert.Empty(t, h.notifier.sent())
			}
		})
	}
}

func TestPreserveLogsAction(t *testing.T) {
	h := newMonitorHarness(t, config.MonitoringConfig{
		Rules: []config.RuleConfig{{
			ID: "capture-evidence", Priority: 50,
			When:    config.Condition{StatusIs: &config.StatusCondition{Service: "api", Status: "critical"}},
			Actions: []string{config.ActionPreserveLogs},
		}},
	})
	h.monitor.store.Append(sample("api-http", "api", rollback.StatusCritical, testEpoch))

	snap, err := h.monitor.store.Snapshot()
	require.NoError(t, err)
	h.monitor.evaluateRules(context.Background(), snap)
	assert.Equal(t, []string{"capture-evidence"}, h.archiver.preserved())
}

func TestRollbackActionWithoutSinkIsLoggedNotPanicked(t *testing.T) {
	h := newMonitorHarness(t, config.MonitoringConfig{
		Rules: []config.RuleConfig{{
			ID: "api-down", Priority: 50,
			When:    config.Condition{StatusIs: &config.StatusCondition{Service: "api", Status: "critical"}},
			Actions: []string{config.ActionRollback},
		}},
	})
	h.monitor.sink = nil
	h.monitor.store.Append(sample("api-http", "api", rollback.StatusCritical, testEpoch))

	snap, err := h.monitor.store.Snapshot()
	require.NoError(t, err)
	h.monitor.evaluateRules(context.Background(), snap)
}

func TestRulesEvaluateInPriorityOrder(t *testing.T) {
	holds := config.Condition{StatusIs: &config.StatusCondition{Service: "api", Status: "critical"}}
	h := newMonitorHarness(t, config.MonitoringConfig{
		Rules: []config.RuleConfig{
			{ID: "low", Priority: 10, When: holds, Actions: []string{config.ActionAlert}},
			{ID: "high", Priority: 90, When: holds, Actions: []string{config.ActionAlert}},
		},
	})
	h.monitor.store.Append(sample("api-http", "api", rollback.StatusCritical, testEpoch))

	snap, err := h.monitor.store.Snapshot()
	require.NoError(t, err)
	h.monitor.evaluateRules(context.Background(), snap)

	events := h.notifier.sent()
	require.Len(t, events, 2)
	assert.Equal(t, "Rule high fired", events[0].Title)
	assert.Equal(t, "Rule low fired", events[1].Title)
}

func TestGenerateReportWithoutSamples(t *testing.T) {
	h := newMonitorHarness(t, config.MonitoringConfig{})
	report := h.monitor.GenerateReport(context.Background(), "deploy-2025-11-20")

	assert.Equal(t, rollback.StatusUnknown, report.OverallStatus)
	assert.Equal(t, "deploy-2025-11-20", report.DeploymentID)
	assert.Equal(t, testEpoch, report.GeneratedAt)
	require.Len(t, report.Recommendations, 1)
	assert.Contains(t, report.Recommendations[0], "warming up")
}

func TestGenerateReportAggregatesServices(t *testing.T) {
	h := newMonitorHarness(t, config.MonitoringConfig{})
	critical := sample("api-http", "api", rollback.StatusCritical, testEpoch)
	critical.Message = "status 503, expected 200"
	h.monitor.store.Append(critical)
	warning := sample("api-latency", "api", rollback.StatusWarning, testEpoch)
	warning.Message = "latency 812ms"
	h.monitor.store.Append(warning)
	h.monitor.store.Append(sample("db-conn", "maindb", rollback.StatusHealthy, testEpoch))

	report := h.monitor.GenerateReport(context.Background(), "deploy-2025-11-20")

	assert.Equal(t, rollback.StatusCritical, report.OverallStatus)
	assert.Equal(t, rollback.StatusCritical, report.Services["api"])
	assert.Equal(t, rollback.StatusHealthy, report.Services["maindb"])
	assert.Equal(t, []string{"api-http: status 503, expected 200"}, report.FailedChecks)
	assert.Equal(t, []string{"api-latency: latency 812ms"}, report.Warnings)
	require.NotEmpty(t, report.Recommendations)
	assert.Contains(t, report.Recommendations[0], `investigate service "api"`)
}

func TestGenerateReportRecommendsDatabaseChecks(t *testing.T) {
	h := newMonitorHarness(t, config.MonitoringConfig{})
	h.monitor.store.Append(sample("db-conn", "maindb", rollback.StatusCritical, testEpoch))
	h.monitor.store.Append(sample("api-http", "api", rollback.StatusCritical, testEpoch))

	report := h.monitor.GenerateReport(context.Background(), "deploy-2025-11-20")

	assert.Equal(t, rollback.StatusCritical, report.OverallStatus)
	require.Len(t, report.Recommendations, 2)
	assert.Contains(t, report.Recommendations[0], "multiple services degraded")
	assert.Contains(t, report.Recommendations[1], `database "maindb" is critical`)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	h := newMonitorHarness(t, config.MonitoringConfig{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.monitor.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop after cancellation")
	}
}

func TestRunFailsWhenRuleStateCannotLoad(t *testing.T) {
	h := newMonitorHarness(t, config.MonitoringConfig{})
	h.monitor.ruleState = failingRuleState{}

	err := h.monitor.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load rule state")
}

type failingRuleState struct{}

func (failingRuleState) SetRuleLastFired(string, time.Time) error { return errors.New("disk full") }
func (failingRuleState) AllRuleLastFired() (map[string]time.Time, error) {
	return nil, errors.New("disk full")
}
