// Package handlers provides the localhost REST API consumed by the UI shell.
package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/claricoach/backend/internal/errors"
	"github.com/claricoach/backend/internal/logging"
)

// writeJSON encodes v as the response body.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			logging.Error("Failed to encode response", err)
		}
	}
}

// writeError maps an application error onto an HTTP status and JSON body.
func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case apperrors.ErrNotFound:
		status = http.StatusNotFound
	case apperrors.ErrValidation, apperrors.ErrInvalid:
		status = http.StatusBadRequest
	case apperrors.ErrAuthFailed, apperrors.ErrNoCurrentUser:
		status = http.StatusUnauthorized
	case apperrors.ErrRemoteUnavailable:
		status = http.StatusBadGateway
	case apperrors.ErrSyncInProgress:
		status = http.StatusConflict
	}

	writeJSON(w, status, map[string]interface{}{
		"error_code": string(code),
		"message":    err.Error(),
	})
}
