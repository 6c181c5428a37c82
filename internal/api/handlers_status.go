package api

import (
	"net/http"

	"github.com/rewindlabs/rewind/internal/apitypes"
)

func (s *APIServer) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := s.engine.Status(r.Context())
		if err != nil {
			s.writeError(w, err)
			return
		}

		response := apitypes.StatusResponse{
			IntegrationRunning:  status.IntegrationRunning,
			DeploymentID:        status.DeploymentID,
			Environment:         status.Environment,
			HealthStatus:        status.HealthStatus,
			ActiveRollbacks:     status.ActiveRollbacks,
			TotalRollbacks:      status.TotalRollbacks,
			AutoRollbackEnabled: status.AutoRollbackEnabled,
			LastReportTime:      status.LastReportTime,
		}
		if err := writeJSON(w, http.StatusOK, response); err != nil {
			s.logger.Error("failed to write status response", "error", err)
		}
	}
}

// handleHealthReport generates a report from the monitor's current metric
// windows. The report is computed on demand, not served from a cache.
func (s *APIServer) handleHealthReport() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := s.engine.HealthReport(r.Context())
		if err := writeJSON(w, http.StatusOK, report); err != nil {
			s.logger.Error("failed to write health report response", "error", err)
		}
	}
}
