package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"oldruby-market/internal/domain"
	"oldruby-market/internal/service"

	"go.uber.org/zap"
)

// RetryAfterSeconds is advertised on 503 responses. Every multi-step
// operation is safe to repeat with the same arguments.
const RetryAfterSeconds = 5

// ErrorResponse represents a structured error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp string                 `json:"timestamp"`
}

// RespondWithError sends a structured error response
func RespondWithError(w http.ResponseWriter, statusCode int, message string) {
	RespondWithErrorDetails(w, statusCode, message, nil)
}

// RespondWithErrorDetails sends a structured error response with additional details
func RespondWithErrorDetails(w http.ResponseWriter, statusCode int, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: ErrorDetail{
			Code:      http.StatusText(statusCode),
			Message:   message,
			Details:   details,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	}

	json.NewEncoder(w).Encode(response)
}

// RespondWithValidationErrors sends validation error response
func RespondWithValidationErrors(w http.ResponseWriter, errors []ValidationError) {
	details := make(map[string]interface{})
	details["validation_errors"] = errors

	RespondWithErrorDetails(w, http.StatusBadRequest, "validation failed", details)
}

// RespondWithDomainError maps the domain error taxonomy onto HTTP statuses.
// A partial failure carries its step outcome so the client knows what to retry.
func RespondWithDomainError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var validationErr *domain.ValidationError
	var partialErr *service.PartialFailureError

	switch {
	case errors.As(err, &validationErr):
		RespondWithValidationErrors(w, []ValidationError{{Field: validationErr.Field, Message: validationErr.Reason}})
	case errors.Is(err, domain.ErrValidation):
		RespondWithError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &partialErr):
		logger.Warn("Responding with partial failure", zap.Error(err))
		w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
		RespondWithErrorDetails(w, http.StatusServiceUnavailable, "operation partially applied, retry the same request", map[string]interface{}{
			"operation":   partialErr.Outcome.Operation,
			"failed_step": partialErr.FailedStep,
			"completed":   partialErr.Outcome.Completed(),
			"pending":     partialErr.Outcome.Pending(),
		})
	case errors.Is(err, domain.ErrNotFound):
		RespondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		RespondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrStoreUnavailable):
		logger.Error("Store unavailable", zap.Error(err))
		w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
		RespondWithError(w, http.StatusServiceUnavailable, "store unavailable")
	default:
		logger.Error("Unhandled error", zap.Error(err))
		RespondWithError(w, http.StatusInternalServerError, "internal server error")
	}
}

// ErrorHandlingMiddleware catches panics and converts them to 500 errors
func ErrorHandlingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					logger.Error("Panic recovered",
						zap.Any("error", err),
						zap.String("path", r.URL.Path),
						zap.String("method", r.Method),
					)

					RespondWithError(w, http.StatusInternalServerError, "internal server error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// RespondWithJSON sends a JSON response
func RespondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}
