package api

import (
	"net/http"

	"github.com/rewindlabs/rewind/internal/apitypes"
	"github.com/rewindlabs/rewind/internal/constants"
)

func (s *APIServer) handleVersion() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := apitypes.VersionResponse{
			Version: constants.Version,
		}
		if err := writeJSON(w, http.StatusOK, response); err != nil {
			s.logger.Error("failed to write version response", "error", err)
		}
	}
}
