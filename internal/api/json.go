package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rewindlabs/rewind/internal/apitypes"
	"github.com/rewindlabs/rewind/internal/orchestrator"
	"github.com/rewindlabs/rewind/internal/store"
)

// writeJSON marshals a value to JSON, sets the Content-Type header,
// writes the status code, and sends the response.
func writeJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")

	// The status code must go out before the body.
	w.WriteHeader(status)

	// Stream the JSON straight to the ResponseWriter instead of marshaling
	// to a byte slice first.
	return json.NewEncoder(w).Encode(data)
}

// decodeJSON reads a JSON-encoded value from an io.Reader and decodes it
// into the provided destination value 'v'.
func decodeJSON(r io.Reader, v any) error {
	dec := json.NewDecoder(r)

	// Reject fields the struct does not declare so client typos surface as
	// errors instead of silently dropped options.
	dec.DisallowUnknownFields()

	err := dec.Decode(v)
	if err != nil {
		// Return a more specific error for common cases.
		var syntaxError *json.SyntaxError
		var unmarshalTypeError *json.UnmarshalTypeError

		switch {
		case errors.As(err, &syntaxError):
			return errors.New("request body contains badly-formed JSON")

		case errors.As(err, &unmarshalTypeError):
			return errors.New("request body contains an invalid value for the " + unmarshalTypeError.Field + " field")

		case errors.Is(err, io.EOF):
			return errors.New("request body must not be empty")

		default:
			return err
		}
	}

	return nil
}

// apiError maps a domain error onto a status code and wire body.
func apiError(err error) (int, apitypes.ErrorResponse) {
	response := apitypes.ErrorResponse{Error: err.Error()}
	var conflict *orchestrator.ConflictError

	switch {
	case errors.As(err, &conflict):
		response.ReasonCode = "concurrent_execution_exists"
		response.ExecutionID = conflict.ExistingExecutionID
		return http.StatusConflict, response

	case errors.Is(err, orchestrator.ErrTerminal):
		response.ReasonCode = "execution_terminal"
		return http.StatusConflict, response

	case errors.Is(err, orchestrator.ErrNoValidTargets):
		response.ReasonCode = "no_valid_targets"
		return http.StatusBadRequest, response

	case errors.Is(err, orchestrator.ErrValidation):
		response.ReasonCode = "validation_error"
		return http.StatusBadRequest, response

	case errors.Is(err, store.ErrNotFound):
		response.ReasonCode = "not_found"
		return http.StatusNotFound, response

	default:
		return http.StatusInternalServerError, response
	}
}

func (s *APIServer) writeError(w http.ResponseWriter, err error) {
	status, response := apiError(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	if writeErr := writeJSON(w, status, response); writeErr != nil {
		s.logger.Error("failed to write error response", "error", writeErr)
	}
}

// writeErrorCode writes a response for errors that never pass through the
// domain layer, request decoding and parameter validation mostly.
func (s *APIServer) writeErrorCode(w http.ResponseWriter, status int, reasonCode, message string) {
	response := apitypes.ErrorResponse{Error: message, ReasonCode: reasonCode}
	if writeErr := writeJSON(w, status, response); writeErr != nil {
		s.logger.Error("failed to write error response", "error", writeErr)
	}
}
