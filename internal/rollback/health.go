package rollback

import "time"

// HealthStatus is the severity of a check result or report.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusWarning  HealthStatus = "warning"
	StatusCritical HealthStatus = "critical"
	StatusUnknown  HealthStatus = "unknown"
)

var healthSeverity = map[HealthStatus]int{
	StatusHealthy:  0,
	StatusUnknown:  1,
	StatusWarning:  2,
	StatusCritical: 3,
}

// Worse returns the more severe of two statuses.
func Worse(a, b HealthStatus) HealthStatus {
	if healthSeverity[b] > healthSeverity[a] {
		return b
	}
	return a
}

// CheckResult is one probe sample. Results are read-only once created and are
// retained in a bounded rolling window per check.
type CheckResult struct {
	CheckID   string       `json:"check_id"`
	Service   string       `json:"service"`
	Status    HealthStatus `json:"status"`
	Value     float64      `json:"value"`
	Timestamp time.Time    `json:"timestamp"`
	Message   string       `json:"message,omitempty"`
}

func (r CheckResult) Healthy() bool {
	return r.Status == StatusHealthy
}

// Report is a point-in-time synthesis of health across all monitored
// services.
type Report struct {
	DeploymentID    string                  `json:"deployment_id"`
	OverallStatus   HealthStatus            `json:"overall_status"`
	Services        map[string]HealthStatus `json:"services"`
	FailedChecks    []string                `json:"failed_checks,omitempty"`
	Warnings        []string                `json:"warnings,omitempty"`
	Recommendations []string                `json:"recommendations,omitempty"`
	GeneratedAt     time.Time               `json:"generated_at"`
}
