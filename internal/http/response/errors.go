package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vpass-io/vpass-server/internal/domain"
	"github.com/vpass-io/vpass-server/pkg/logger"
)

// ErrorResponse is the JSON body for every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func WriteError(w http.ResponseWriter, statusCode int, message string, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: message, Code: code}); err != nil {
		logger.Error("failed to encode error response", "error", err)
	}
}

func WriteJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

// Error codes.
const (
	CodeInvalidInput      = "INVALID_INPUT"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeNotFound          = "NOT_FOUND"
	CodeConflict          = "CONFLICT"
	CodeRateLimit         = "RATE_LIMIT_EXCEEDED"
	CodeInternalError     = "INTERNAL_ERROR"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeWrongGate         = "WRONG_GATE"
	CodeAlreadyProcessed  = "ALREADY_PROCESSED"
	CodeTokenInvalid      = "INVALID_TOKEN"
	CodeTokenExpired      = "EXPIRED_TOKEN"
	CodeGateRequired      = "GATE_REQUIRED"
	CodeEntryExpired      = "ENTRY_WINDOW_CLOSED"
)

func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, message, CodeInvalidInput)
}

func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, message, CodeUnauthorized)
}

func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, message, CodeForbidden)
}

func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, message, CodeNotFound)
}

func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, message, CodeInternalError)
}

func RateLimit(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, message, CodeRateLimit)
}

func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, message, CodeConflict)
}

// DomainError maps engine errors onto 4xx codes, reserving 5xx for genuine
// infrastructure failure.
func DomainError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsValidation(err):
		WriteError(w, http.StatusBadRequest, err.Error(), CodeInvalidInput)
	case domain.IsInvalidTransition(err):
		WriteError(w, http.StatusConflict, err.Error(), CodeInvalidTransition)
	case domain.IsWrongGate(err):
		WriteError(w, http.StatusForbidden, err.Error(), CodeWrongGate)
	case errors.Is(err, domain.ErrNotFound):
		WriteError(w, http.StatusNotFound, "visitor not found", CodeNotFound)
	case errors.Is(err, domain.ErrAlreadyProcessed):
		WriteError(w, http.StatusConflict, "approval already processed", CodeAlreadyProcessed)
	case errors.Is(err, domain.ErrTokenInvalid):
		WriteError(w, http.StatusNotFound, "approval link invalid", CodeTokenInvalid)
	case errors.Is(err, domain.ErrTokenExpired):
		WriteError(w, http.StatusGone, "approval link expired", CodeTokenExpired)
	case errors.Is(err, domain.ErrEntryWindowClosed):
		WriteError(w, http.StatusConflict, "entry window closed", CodeEntryExpired)
	case errors.Is(err, domain.ErrVersionConflict):
		WriteError(w, http.StatusConflict, "concurrent update, retry", CodeConflict)
	default:
		logger.Error("internal error", "error", err)
		InternalError(w, "internal server error")
	}
}
