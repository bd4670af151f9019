package httpapi

import (
	"encoding/json"
	"net/http"

	"chatd/internal/engine"
	"chatd/internal/governor"
	"chatd/internal/lifecycle"
	"chatd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps well-known service errors to HTTP status codes.
func statusFor(err error) int {
	if he, ok := err.(HTTPError); ok {
		return he.StatusCode()
	}
	switch {
	case engine.IsInvalidRequest(err), lifecycle.IsValidation(err):
		return http.StatusBadRequest
	case lifecycle.IsModelNotLoaded(err):
		return http.StatusConflict
	case lifecycle.IsBusy(err):
		return http.StatusTooManyRequests
	case governor.IsRateLimited(err), governor.IsBudgetExceeded(err):
		return http.StatusTooManyRequests
	case governor.IsContextTooLarge(err), governor.IsInvalidTokenCount(err):
		return http.StatusRequestEntityTooLarge
	case governor.IsMemoryPressure(err):
		return http.StatusServiceUnavailable
	case lifecycle.IsLoadFailed(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// backpressureReason labels 429 rejections for the backpressure counter.
func backpressureReason(err error) string {
	switch {
	case lifecycle.IsBusy(err):
		return "busy"
	case governor.IsRateLimited(err):
		return "rate_limited"
	case governor.IsBudgetExceeded(err):
		return "budget"
	default:
		return "unspecified"
	}
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}
