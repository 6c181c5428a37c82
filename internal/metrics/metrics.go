package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rewind"

// Metrics holds the engine's Prometheus collectors. Construct once in the
// daemon and share by reference.
type Metrics struct {
	HealthChecksTotal *prometheus.CounterVec
	CheckDuration     *prometheus.HistogramVec
	RuleFiredTotal    *prometheus.CounterVec
	ExecutionsTotal   *prometheus.CounterVec
	StepsTotal        *prometheus.CounterVec
	StepDuration      *prometheus.HistogramVec
	ActiveExecutions  prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		HealthChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_checks_total",
			Help:      "Health check results by check and status.",
		}, []string{"check_id", "status"}),
		CheckDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "check_duration_seconds",
			Help:      "Health check probe duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"check_id"}),
		RuleFiredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_fired_total",
			Help:      "Monitoring rule firings by rule and action.",
		}, []string{"rule_id", "action"}),
		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollback_executions_total",
			Help:      "Rollback executions reaching a terminal status.",
		}, []string{"status"}),
		StepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollback_steps_total",
			Help:      "Recorded rollback steps by target service and outcome.",
		}, []string{"service", "outcome"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Rollback step duration by target service.",
			Buckets:   []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"service"}),
		ActiveExecutions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_executions",
			Help:      "Rollback executions currently in a non-terminal state.",
		}),
	}
}

// Register registers all collectors. Already-registered collectors are fine;
// the daemon may rebuild Metrics on config reload without restarting the
// process.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.HealthChecksTotal,
		m.CheckDuration,
		m.RuleFiredTotal,
		m.ExecutionsTotal,
		m.StepsTotal,
		m.StepDuration,
		m.ActiveExecutions,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}
