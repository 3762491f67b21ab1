package shared

import (
	"errors"
	"fmt"
)

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Authentication errors
	ErrAuthFailed       = fmt.Errorf("authentication failed")
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrAuthExpired      = fmt.Errorf("authorization expired")
	ErrInvalidGrant     = fmt.Errorf("invalid grant")
	ErrInvalidState     = fmt.Errorf("invalid authorization state")
	ErrTimeout          = fmt.Errorf("operation timed out")

	// Transport errors
	ErrNetwork     = fmt.Errorf("network error")
	ErrUnreachable = fmt.Errorf("service unreachable")
	ErrAPIRequest  = fmt.Errorf("API request failed")

	// Playback errors
	ErrPlaybackForbidden       = fmt.Errorf("playback forbidden")
	ErrDeviceNotFound          = fmt.Errorf("playback device not found")
	ErrDeviceActivationTimeout = fmt.Errorf("playback device did not become active")
	ErrCommandInFlight         = fmt.Errorf("playback command already in flight")
	ErrNothingPlaying          = fmt.Errorf("nothing is playing")

	// Card and session errors
	ErrInvalidCard       = fmt.Errorf("invalid card")
	ErrStaleSession      = fmt.Errorf("stale card session")
	ErrInvalidTransition = fmt.Errorf("invalid card state transition")

	// Relay errors
	ErrRelayClosed = fmt.Errorf("relay channel closed")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)

// IsRetryable reports whether err belongs to the transient class that is retried with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// RequiresLogin reports whether err can only be resolved by a fresh authorization.
func RequiresLogin(err error) bool {
	return errors.Is(err, ErrAuthExpired) || errors.Is(err, ErrInvalidGrant) || errors.Is(err, ErrNotAuthenticated)
}

// UserMessage maps err to a short, actionable sentence that is safe to show a player.
//
// The raw error is never included; callers log it separately.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case RequiresLogin(err):
		return "Log in again: run 'qrdeck auth login'."
	case errors.Is(err, ErrPlaybackForbidden):
		return "Spotify refused playback. A Premium account is required."
	case errors.Is(err, ErrRelayClosed):
		return "The host is not reachable. Ask the host to restart."
	case errors.Is(err, ErrDeviceActivationTimeout), errors.Is(err, ErrDeviceNotFound):
		return "No Spotify device is available. Open your speaker or Spotify app and try again."
	case errors.Is(err, ErrUnreachable), errors.Is(err, ErrNetwork), errors.Is(err, ErrTimeout):
		return "Spotify could not be reached. Check the connection and tap again."
	case errors.Is(err, ErrInvalidCard):
		return "That card could not be read. Scan it again."
	default:
		return "Something went wrong. Tap to try again."
	}
}
