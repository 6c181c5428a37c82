// Package apitypes holds the wire types shared by the API server, the HTTP
// client and the CLI. It depends only on the rollback domain types so client
// binaries stay small.
package apitypes

import (
	"time"

	"github.com/rewindlabs/rewind/internal/rollback"
)

// ExecutionFinishedMessage is the event message the daemon publishes when an
// execution reaches a terminal status. Stream consumers key completion on it.
const ExecutionFinishedMessage = "rollback execution finished"

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Service string `json:"service"`
}

type VersionResponse struct {
	Version string `json:"version"`
}

// RollbackRequest triggers a manual rollback. Targets may be omitted, the
// daemon then falls back to the configured target set.
type RollbackRequest struct {
	DeploymentID string            `json:"deployment_id"`
	Environment  string            `json:"environment,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	TriggeredBy  string            `json:"triggered_by,omitempty"`
	Targets      []rollback.Target `json:"targets,omitempty"`
}

type RollbackResponse struct {
	ExecutionID string          `json:"execution_id"`
	Status      rollback.Status `json:"status"`
}

type HistoryResponse struct {
	Executions []*rollback.Execution `json:"executions"`
}

type StatusResponse struct {
	IntegrationRunning  bool                  `json:"integration_running"`
	DeploymentID        string                `json:"deployment_id"`
	Environment         string                `json:"environment"`
	HealthStatus        rollback.HealthStatus `json:"health_status"`
	ActiveRollbacks     int                   `json:"active_rollbacks"`
	TotalRollbacks      int                   `json:"total_rollbacks"`
	AutoRollbackEnabled bool                  `json:"auto_rollback_enabled"`
	LastReportTime      *time.Time            `json:"last_report_time,omitempty"`
}

// ErrorResponse is the body of every non-2xx JSON response. ExecutionID is
// set on conflict errors so callers can watch the execution already running.
type ErrorResponse struct {
	Error       string `json:"error"`
	ReasonCode  string `json:"reason_code,omitempty"`
	ExecutionID string `json:"execution_id,omitempty"`
}

type SecretListItem struct {
	Name      string    `json:"name"`
	Digest    string    `json:"digest"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SecretsListResponse struct {
	Secrets []SecretListItem `json:"secrets"`
}

type SetSecretRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}
