// Package apiclient is the typed HTTP client the CLI uses to talk to a
// rewindd daemon.
package apiclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rewindlabs/rewind/internal/apitypes"
	"github.com/rewindlabs/rewind/internal/config"
	"github.com/rewindlabs/rewind/internal/constants"
	"github.com/rewindlabs/rewind/internal/ui"
)

// APIClient handles communication with the rewindd API.
type APIClient struct {
	client   *http.Client
	baseURL  string
	apiToken string
}

func New(serverURL string) *APIClient {
	token, err := config.LoadAPIToken(serverURL)
	if err != nil {
		ui.Error("Failed to load API token: %v", err)
		ui.Info("Set %s environment variable or create a %s file", constants.EnvVarAPIToken, constants.ConfigEnvFileName)
		// Continue without token - let API calls fail with proper auth errors
	}
	return &APIClient{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:  strings.TrimRight(serverURL, "/"),
		apiToken: token,
	}
}

func (c *APIClient) setAuthHeader(req *http.Request) {
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}
}

func (c *APIClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	// Health endpoint doesn't require auth
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("server not reachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	return nil
}

// apiError turns a non-2xx response into an error, preferring the server's
// structured body over the bare status code.
func apiError(resp *http.Response) error {
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("authentication failed - check your %s", constants.EnvVarAPIToken)
	}

	var body apitypes.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		if body.ExecutionID != "" {
			return fmt.Errorf("%s (execution %s)", body.Error, body.ExecutionID)
		}
		return errors.New(body.Error)
	}
	return fmt.Errorf("request failed with status %d", resp.StatusCode)
}

func (c *APIClient) get(ctx context.Context, path string, v any) error {
	if err := c.HealthCheck(ctx); err != nil {
		return fmt.Errorf("server not available at %s: %w", c.baseURL, err)
	}

	url := fmt.Sprintf("%s/v1/%s", c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create GET request: %w", err)
	}
	c.setAuthHeader(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apiError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

func (c *APIClient) post(ctx context.Context, path string, request, response any) error {
	if err := c.HealthCheck(ctx); err != nil {
		return fmt.Errorf("server not available at %s: %w", c.baseURL, err)
	}

	var jsonData []byte
	var err error

	// Some endpoints, cancel for one, take no request body.
	if request != nil {
		jsonData, err = json.Marshal(request)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	url := fmt.Sprintf("%s/v1/%s", c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if request != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuthHeader(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apiError(resp)
	}

	if response != nil {
		if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

func (c *APIClient) delete(ctx context.Context, path string) error {
	url := fmt.Sprintf("%s/v1/%s", c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, "DELETE", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create DELETE request: %w", err)
	}
	c.setAuthHeader(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send DELETE request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apiError(resp)
	}

	return nil
}

// stream handles any SSE endpoint. The handler gets each data payload and
// returns true to stop following.
func (c *APIClient) stream(ctx context.Context, path string, handler func(data string) (bool, error)) error {
	streamingClient := &http.Client{Timeout: 0}

	url := fmt.Sprintf("%s/v1/%s", c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create SSE request: %w", err)
	}

	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.setAuthHeader(req)

	resp, err := streamingClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()

		// Skip empty lines and SSE comment lines
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}

		if strings.HasPrefix(line, "data: ") {
			data := strings.TrimPrefix(line, "data: ")

			shouldStop, err := handler(data)
			if err != nil {
				ui.Warn("Failed to handle stream data: %v", err)
				continue
			}
			if shouldStop {
				return nil
			}
		}
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("error reading stream: %w", err)
	}

	return nil
}
