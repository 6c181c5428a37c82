// Package api serves the rewindd HTTP API: manual rollback triggers,
// execution status and history, the consolidated daemon status, on-demand
// health reports, the SSE event stream and secrets management.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rewindlabs/rewind/internal/apitypes"
	"github.com/rewindlabs/rewind/internal/constants"
	"github.com/rewindlabs/rewind/internal/integration"
	"github.com/rewindlabs/rewind/internal/logging"
	"github.com/rewindlabs/rewind/internal/rollback"
	"github.com/rewindlabs/rewind/internal/store"
)

const shutdownTimeout = 10 * time.Second

// Engine is the slice of the integration engine the API exposes.
type Engine interface {
	ManualRollback(ctx context.Context, deploymentID, environment, reason, actor string, targets []rollback.Target) (*rollback.Execution, error)
	Status(ctx context.Context) (integration.Status, error)
	HealthReport(ctx context.Context) rollback.Report
}

// Driver is the slice of the orchestrator the API reads and cancels through.
type Driver interface {
	GetRollbackStatus(executionID string) (*rollback.Execution, error)
	GetRollbackHistory(deploymentID string, limit int) ([]*rollback.Execution, error)
	CancelRollback(executionID string) error
}

// SecretStore stores encrypted secrets; values never leave the daemon.
type SecretStore interface {
	SetSecret(name, value string) error
	GetSecretsList() ([]store.SecretInfo, error)
	DeleteSecret(name string) error
}

type Config struct {
	Engine   Engine
	Driver   Driver
	Secrets  SecretStore
	Broker   *logging.Broker
	Registry *prometheus.Registry
	APIToken string
	Logger   *slog.Logger
}

type APIServer struct {
	router   *http.ServeMux
	engine   Engine
	driver   Driver
	secrets  SecretStore
	broker   *logging.Broker
	registry *prometheus.Registry
	apiToken string
	logger   *slog.Logger
}

func New(cfg Config) *APIServer {
	s := &APIServer{
		router:   http.NewServeMux(),
		engine:   cfg.Engine,
		driver:   cfg.Driver,
		secrets:  cfg.Secrets,
		broker:   cfg.Broker,
		registry: cfg.Registry,
		apiToken: cfg.APIToken,
		logger:   cfg.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.setupRoutes()
	return s
}

// Handler exposes the routed mux, mainly for tests.
func (s *APIServer) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then drains in-flight requests. Request
// contexts derive from ctx so open SSE streams end during shutdown instead
// of holding the drain open.
func (s *APIServer) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.logger.Info("api server listening", "addr", addr)

	select {
	case err := <-errCh:
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	s.logger.Info("api server stopped")
	return ctx.Err()
}

func (s *APIServer) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := apitypes.HealthResponse{
			Status:  "ok",
			Version: constants.Version,
			Service: "rewindd",
		}
		if err := writeJSON(w, http.StatusOK, response); err != nil {
			s.logger.Error("failed to write health response", "error", err)
		}
	}
}
