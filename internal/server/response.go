package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/desertthunder/songroom/internal/models"
	"github.com/desertthunder/songroom/internal/shared"
)

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// writeErr maps a domain error onto a status and public code. user distinguishes an
// anonymous caller (401) from one lacking a role (403).
func writeErr(w http.ResponseWriter, err error, user *models.User) {
	code := shared.ErrorCode(err)
	status := StatusFor(err)
	if status == http.StatusForbidden && user == nil {
		status = http.StatusUnauthorized
	}

	message := err.Error()
	if code == "Internal" {
		message = "internal error"
	}
	writeError(w, status, code, message)
}

// StatusFor returns the HTTP status for a domain error.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, shared.ErrInvalidReference),
		errors.Is(err, shared.ErrTrackNotFound),
		errors.Is(err, shared.ErrInvalidArgument),
		errors.Is(err, shared.ErrMissingArgument):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, shared.ErrBusy), errors.Is(err, shared.ErrNoActiveDevice):
		return http.StatusConflict
	case errors.Is(err, shared.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, shared.ErrProviderRejected):
		return http.StatusBadGateway
	case errors.Is(err, shared.ErrProviderUnavailable),
		errors.Is(err, shared.ErrSessionInvalid),
		errors.Is(err, shared.ErrNotAuthenticated):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
