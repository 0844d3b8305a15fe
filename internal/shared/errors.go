package shared

import (
	"errors"
	"fmt"
)

var (
	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Controller session errors
	ErrNotAuthenticated = fmt.Errorf("controller not authenticated")
	ErrSessionInvalid   = fmt.Errorf("controller session invalid")
	ErrTimeout          = fmt.Errorf("operation timed out")

	// Provider errors
	ErrProviderUnavailable = fmt.Errorf("provider unavailable")
	ErrNoActiveDevice      = fmt.Errorf("no active playback device")
	ErrTrackNotFound       = fmt.Errorf("track not found")
	ErrProviderRejected    = fmt.Errorf("provider rejected the request")

	// Room errors
	ErrInvalidReference = fmt.Errorf("invalid track reference")
	ErrForbidden        = fmt.Errorf("forbidden")
	ErrBusy             = fmt.Errorf("another control command is in progress")
	ErrRateLimited      = fmt.Errorf("too many requests")

	// Input validation errors
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrInvalidReference, "InvalidReference"},
	{ErrTrackNotFound, "InvalidReference"},
	{ErrForbidden, "Forbidden"},
	{ErrBusy, "Busy"},
	{ErrSessionInvalid, "SessionInvalid"},
	{ErrNotAuthenticated, "SessionInvalid"},
	{ErrNoActiveDevice, "NoActiveDevice"},
	{ErrProviderUnavailable, "ProviderUnavailable"},
	{ErrProviderRejected, "ProviderRejected"},
	{ErrRateLimited, "RateLimited"},
	{ErrInvalidArgument, "InvalidArgument"},
	{ErrMissingArgument, "InvalidArgument"},
}

// ErrorCode maps err to the public code reported to viewers. Unknown errors are "Internal".
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "Internal"
}
