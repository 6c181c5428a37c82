package cdn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Client talks to the CDN's management API to repoint web assets at a
// previous release and flush cached copies of the bad one.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

func New(baseURL, apiKey string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger,
	}
}

type activateRequest struct {
	Service string `json:"service"`
	Version string `json:"version"`
}

// ActivateVersion points the CDN origin for a service at the given release.
func (c *Client) ActivateVersion(ctx context.Context, service, version string) error {
	body := activateRequest{Service: service, Version: version}
	if err := c.post(ctx, "/v1/releases/activate", body); err != nil {
		return fmt.Errorf("failed to activate version %s for %s: %w", version, service, err)
	}
	c.logger.Info("cdn origin switched", "service", service, "version", version)
	return nil
}

type purgeRequest struct {
	Paths []string `json:"paths"`
}

// Purge invalidates cached paths so clients stop receiving the rolled-back
// assets. An empty path list purges everything.
func (c *Client) Purge(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		paths = []string{"/*"}
	}
	if err := c.post(ctx, "/v1/cache/purge", purgeRequest{Paths: paths}); err != nil {
		return fmt.Errorf("failed to purge cdn cache: %w", err)
	}
	c.logger.Info("cdn cache purged", "paths", len(paths))
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("cdn returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}
	return nil
}

type activeResponse struct {
	Service string `json:"service"`
	Version string `json:"version"`
}

// ActiveVersion reports which release the CDN currently serves for a service.
func (c *Client) ActiveVersion(ctx context.Context, service string) (string, error) {
	url := fmt.Sprintf("%s/v1/releases/active?service=%s", c.baseURL, service)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("cdn returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var active activeResponse
	if err := json.NewDecoder(resp.Body).Decode(&active); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return active.Version, nil
}
