package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/rewindlabs/rewind/internal/apitypes"
)

func (s *APIServer) handleSecretsList() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := s.secrets.GetSecretsList()
		if err != nil {
			s.writeError(w, err)
			return
		}

		items := make([]apitypes.SecretListItem, len(list))
		for i, secret := range list {
			items[i] = apitypes.SecretListItem{
				Name:      secret.Name,
				Digest:    secret.Digest,
				UpdatedAt: secret.UpdatedAt,
			}
		}
		response := apitypes.SecretsListResponse{Secrets: items}
		if err := writeJSON(w, http.StatusOK, response); err != nil {
			s.logger.Error("failed to write secrets response", "error", err)
		}
	}
}

func (s *APIServer) handleSetSecret() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req apitypes.SetSecretRequest
		if err := decodeJSON(r.Body, &req); err != nil {
			s.writeErrorCode(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		if err := validateSetSecretRequest(req); err != nil {
			s.writeErrorCode(w, http.StatusBadRequest, "validation_error", err.Error())
			return
		}

		if err := s.secrets.SetSecret(req.Name, req.Value); err != nil {
			s.writeError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *APIServer) handleDeleteSecret() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		if name == "" {
			s.writeErrorCode(w, http.StatusBadRequest, "validation_error", "secret name is required")
			return
		}

		if err := s.secrets.DeleteSecret(name); err != nil {
			s.writeError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func validateSetSecretRequest(req apitypes.SetSecretRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return fmt.Errorf("secret name is required")
	}

	if strings.TrimSpace(req.Value) == "" {
		return fmt.Errorf("secret value is required")
	}

	if len(req.Name) > 255 {
		return fmt.Errorf("secret name too long (max 255 characters)")
	}

	if !isValidSecretName(req.Name) {
		return fmt.Errorf("secret name can only contain letters, numbers, underscores, hyphens, and dots")
	}

	if len(req.Value) > 10000 {
		return fmt.Errorf("secret value too long (max 10000 characters)")
	}

	return nil
}

func isValidSecretName(name string) bool {
	for _, char := range name {
		if !((char >= 'a' && char <= 'z') ||
			(char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') ||
			char == '_' || char == '-' || char == '.') {
			return false
		}
	}
	return true
}
