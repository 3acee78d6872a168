package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned for empty or malformed user input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrBusy is returned when a session already has a submission in flight.
	ErrBusy = errors.New("a reply is already being generated")
	// ErrRateLimited is returned when a user exceeds the request budget.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrSessionEnded is returned for writes to a session that was reset or expired.
	ErrSessionEnded = errors.New("session has ended")
)

// InvalidInput wraps ErrInvalidInput with a human-readable reason.
func InvalidInput(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, reason)
}

// AuthenticationError reports a missing or rejected credential.
type AuthenticationError struct {
	Message string
	Err     error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return "authentication failed: " + e.Message + ": " + e.Err.Error()
	}
	return "authentication failed: " + e.Message
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// ServiceError reports any other failure of the remote completion call.
// Message is safe to show to the user.
type ServiceError struct {
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return "completion service error: " + e.Message + ": " + e.Err.Error()
	}
	return "completion service error: " + e.Message
}

func (e *ServiceError) Unwrap() error { return e.Err }

// ErrorKind classifies err for transport layers.
func ErrorKind(err error) string {
	var authErr *AuthenticationError
	var svcErr *ServiceError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.As(err, &authErr):
		return "authentication"
	case errors.As(err, &svcErr):
		return "service"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrSessionEnded):
		return "session_ended"
	default:
		return "internal"
	}
}

// Reason returns a short description of err that is safe to log. For
// completion failures it is the classified message without the provider's
// raw response.
func Reason(err error) string {
	var authErr *AuthenticationError
	var svcErr *ServiceError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &authErr):
		return authErr.Message
	case errors.As(err, &svcErr):
		return svcErr.Message
	default:
		return err.Error()
	}
}

// UserMessage returns the text shown to the user for err.
func UserMessage(err error) string {
	var authErr *AuthenticationError
	var svcErr *ServiceError
	switch {
	case errors.As(err, &authErr):
		return "Your API key was not accepted (" + authErr.Message + "). Please check it and try again."
	case errors.As(err, &svcErr):
		return "An error occurred: " + svcErr.Message
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrBusy), errors.Is(err, ErrRateLimited), errors.Is(err, ErrSessionEnded):
		return err.Error()
	default:
		return "internal error"
	}
}
