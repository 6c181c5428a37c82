package api

import (
	"net/http"
	"strconv"

	"github.com/rewindlabs/rewind/internal/apitypes"
	"github.com/rewindlabs/rewind/internal/constants"
)

// handleTriggerRollback starts a manual rollback. The orchestrator executes
// asynchronously, the response carries the pending execution to poll.
func (s *APIServer) handleTriggerRollback() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req apitypes.RollbackRequest
		if err := decodeJSON(r.Body, &req); err != nil {
			s.writeErrorCode(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		actor := req.TriggeredBy
		if actor == "" {
			actor = "api"
		}

		execution, err := s.engine.ManualRollback(r.Context(), req.DeploymentID, req.Environment, req.Reason, actor, req.Targets)
		if err != nil {
			s.writeError(w, err)
			return
		}

		s.logger.Info("manual rollback accepted",
			"execution_id", execution.ExecutionID, "deployment_id", execution.DeploymentID(), "actor", actor)

		response := apitypes.RollbackResponse{
			ExecutionID: execution.ExecutionID,
			Status:      execution.Status,
		}
		if err := writeJSON(w, http.StatusAccepted, response); err != nil {
			s.logger.Error("failed to write rollback response", "error", err)
		}
	}
}

func (s *APIServer) handleRollbackStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		executionID := r.PathValue("executionID")
		if executionID == "" {
			s.writeErrorCode(w, http.StatusBadRequest, "validation_error", "execution ID is required")
			return
		}

		execution, err := s.driver.GetRollbackStatus(executionID)
		if err != nil {
			s.writeError(w, err)
			return
		}

		if err := writeJSON(w, http.StatusOK, execution); err != nil {
			s.logger.Error("failed to write execution response", "error", err)
		}
	}
}

// handleCancelRollback requests cooperative cancellation. Running steps
// finish first, so the response is 202 rather than a final state.
func (s *APIServer) handleCancelRollback() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		executionID := r.PathValue("executionID")
		if executionID == "" {
			s.writeErrorCode(w, http.StatusBadRequest, "validation_error", "execution ID is required")
			return
		}

		if err := s.driver.CancelRollback(executionID); err != nil {
			s.writeError(w, err)
			return
		}

		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *APIServer) handleRollbackHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deploymentID := r.PathValue("deploymentID")
		if deploymentID == "" {
			s.writeErrorCode(w, http.StatusBadRequest, "validation_error", "deployment ID is required")
			return
		}

		limit := constants.DefaultHistoryLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 {
				s.writeErrorCode(w, http.StatusBadRequest, "validation_error", "limit must be a positive integer")
				return
			}
			limit = parsed
		}

		executions, err := s.driver.GetRollbackHistory(deploymentID, limit)
		if err != nil {
			s.writeError(w, err)
			return
		}

		response := apitypes.HistoryResponse{Executions: executions}
		if err := writeJSON(w, http.StatusOK, response); err != nil {
			s.logger.Error("failed to write history response", "error", err)
		}
	}
}
