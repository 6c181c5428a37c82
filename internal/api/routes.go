package api

import (
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *APIServer) setupRoutes() {
	authMiddleware := s.bearerTokenAuthMiddleware
	logMiddleware := s.loggingMiddleware

	// Liveness and scrape endpoints stay unauthenticated.
	s.router.Handle("GET /health", s.handleHealth())
	s.router.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	// Rollback routes
	s.router.Handle("POST /v1/rollback", logMiddleware(authMiddleware(s.handleTriggerRollback())))
	s.router.Handle("GET /v1/rollback/history/{deploymentID}", authMiddleware(s.handleRollbackHistory()))
	s.router.Handle("GET /v1/rollback/{executionID}", authMiddleware(s.handleRollbackStatus()))
	s.router.Handle("POST /v1/rollback/{executionID}/cancel", logMiddleware(authMiddleware(s.handleCancelRollback())))

	// Status routes
	s.router.Handle("GET /v1/status", authMiddleware(s.handleStatus()))
	s.router.Handle("GET /v1/health-report", authMiddleware(s.handleHealthReport()))

	// Event stream
	s.router.Handle("GET /v1/events", authMiddleware(s.handleEvents()))

	// Secrets routes
	s.router.Handle("GET /v1/secrets", authMiddleware(s.handleSecretsList()))
	s.router.Handle("POST /v1/secrets", logMiddleware(authMiddleware(s.handleSetSecret())))
	s.router.Handle("DELETE /v1/secrets/{name}", logMiddleware(authMiddleware(s.handleDeleteSecret())))

	s.router.Handle("GET /v1/version", authMiddleware(s.handleVersion()))
}
