package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/apperrors"
)

// ApiResponse is the envelope of every successful JSON response.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	return errorBody(w, statusCode, map[string]any{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// WriteError maps err onto its HTTP status and writes it. Categorized errors
// keep their kind as the error code and carry their details; anything else
// is reported as an opaque internal error.
func WriteError(w http.ResponseWriter, logger *zap.Logger, err error) {
	kind := apperrors.KindOf(err)
	status := kind.HTTPStatus()
	body := map[string]any{
		"error":   string(kind),
		"message": apperrors.MessageOf(err),
	}
	if ae, ok := asAppError(err); ok && ae.Details != nil {
		body["details"] = ae.Details
	}
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", zap.String("kind", string(kind)), zap.Error(err))
		if kind == apperrors.KindInternal {
			body["message"] = "internal error"
		}
	}
	if werr := errorBody(w, status, body); werr != nil {
		logger.Error("Failed to write error response", zap.Error(werr))
	}
}

func errorBody(w http.ResponseWriter, statusCode int, body map[string]any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(body)
}

func writeOK(w http.ResponseWriter, logger *zap.Logger, status int, data any) {
	if err := WriteJSON(w, status, ApiResponse{Success: true, Data: data}); err != nil {
		logger.Error("Failed to write response", zap.Error(err))
	}
}

func asAppError(err error) (*apperrors.Error, bool) {
	var ae *apperrors.Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
