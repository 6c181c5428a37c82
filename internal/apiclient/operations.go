package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/rewindlabs/rewind/internal/apitypes"
	"github.com/rewindlabs/rewind/internal/logging"
	"github.com/rewindlabs/rewind/internal/rollback"
	"github.com/rewindlabs/rewind/internal/ui"
)

// TriggerRollback starts a manual rollback and returns the pending execution
// reference to poll.
func (c *APIClient) TriggerRollback(ctx context.Context, request apitypes.RollbackRequest) (*apitypes.RollbackResponse, error) {
	var response apitypes.RollbackResponse
	if err := c.post(ctx, "rollback", request, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// Execution fetches one execution with its full step history.
func (c *APIClient) Execution(ctx context.Context, executionID string) (*rollback.Execution, error) {
	if executionID == "" {
		return nil, fmt.Errorf("execution ID is required")
	}

	path := fmt.Sprintf("rollback/%s", url.PathEscape(executionID))
	var execution rollback.Execution
	if err := c.get(ctx, path, &execution); err != nil {
		return nil, err
	}
	return &execution, nil
}

// CancelExecution requests cooperative cancellation of a running execution.
func (c *APIClient) CancelExecution(ctx context.Context, executionID string) error {
	if executionID == "" {
		return fmt.Errorf("execution ID is required")
	}

	path := fmt.Sprintf("rollback/%s/cancel", url.PathEscape(executionID))
	return c.post(ctx, path, nil, nil)
}

// History lists a deployment's executions, most recent first. A limit of zero
// uses the server default.
func (c *APIClient) History(ctx context.Context, deploymentID string, limit int) (*apitypes.HistoryResponse, error) {
	if deploymentID == "" {
		return nil, fmt.Errorf("deployment ID is required")
	}

	path := fmt.Sprintf("rollback/history/%s", url.PathEscape(deploymentID))
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var response apitypes.HistoryResponse
	if err := c.get(ctx, path, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// Status fetches the daemon's consolidated status.
func (c *APIClient) Status(ctx context.Context) (*apitypes.StatusResponse, error) {
	var response apitypes.StatusResponse
	if err := c.get(ctx, "status", &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// HealthReport asks the daemon for a fresh health report.
func (c *APIClient) HealthReport(ctx context.Context) (*rollback.Report, error) {
	var report rollback.Report
	if err := c.get(ctx, "health-report", &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *APIClient) SecretsList(ctx context.Context) (*apitypes.SecretsListResponse, error) {
	var response apitypes.SecretsListResponse
	if err := c.get(ctx, "secrets", &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func (c *APIClient) SetSecret(ctx context.Context, name, value string) error {
	request := apitypes.SetSecretRequest{
		Name:  name,
		Value: value,
	}
	return c.post(ctx, "secrets", request, nil)
}

func (c *APIClient) DeleteSecret(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("secret name is required")
	}
	return c.delete(ctx, "secrets/"+url.PathEscape(name))
}

// Version retrieves the daemon's build version.
func (c *APIClient) Version(ctx context.Context) (*apitypes.VersionResponse, error) {
	var response apitypes.VersionResponse
	if err := c.get(ctx, "version", &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// StreamEvents follows the daemon's event stream and prints each event.
// With an execution ID the stream narrows to that execution and stops once
// it finishes.
func (c *APIClient) StreamEvents(ctx context.Context, executionID string) error {
	path := "events"
	scoped := executionID != ""
	if scoped {
		path += "?execution_id=" + url.QueryEscape(executionID)
	}

	return c.stream(ctx, path, func(data string) (bool, error) {
		var event logging.Event
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return false, fmt.Errorf("failed to parse event: %w", err)
		}

		ui.DisplayEvent(event, scoped)

		// A scoped follow ends with the execution.
		if scoped && event.Message == apitypes.ExecutionFinishedMessage {
			return true, nil
		}
		return false, nil
	})
}
