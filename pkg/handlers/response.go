package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-press/pkg/apperrors"
)

// ApiResponse is the standard success envelope.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// WriteServiceError maps a service error onto an HTTP status and writes it.
// Unclassified errors are logged and reported without detail.
func WriteServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	status, code, message := classifyError(err)
	if status == http.StatusInternalServerError {
		logger.Error("Request failed", zap.Error(err))
	}
	if err := ErrorResponse(w, status, code, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}

func classifyError(err error) (int, string, string) {
	var validationErr *apperrors.ValidationError
	var transitionErr *apperrors.TransitionError
	var permissionErr *apperrors.PermissionError
	var liveErr *apperrors.LiveRevisionError

	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, "validation_failed", validationErr.Error()
	case errors.Is(err, apperrors.ErrValidation):
		return http.StatusBadRequest, "validation_failed", err.Error()
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "not_found", "resource not found"
	case errors.As(err, &transitionErr):
		return http.StatusForbidden, "invalid_transition", transitionErr.Error()
	case errors.As(err, &permissionErr):
		return http.StatusForbidden, "forbidden", permissionErr.Error()
	case errors.Is(err, apperrors.ErrForbidden):
		return http.StatusForbidden, "forbidden", "forbidden"
	case errors.As(err, &liveErr):
		return http.StatusConflict, "live_revision_exists", liveErr.Error()
	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict, "conflict", err.Error()
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}
