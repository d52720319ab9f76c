package gobwt

import (
	"errors"
	"fmt"
)

// ErrorType classifies session errors so embedders can react without
// string matching.
type ErrorType int

const (
	// ErrorConfiguration covers unparsable or invalid configuration.
	// Nothing was started when this is returned.
	ErrorConfiguration ErrorType = iota
	// ErrorStartup covers boot failures: unreachable bitcoind, wallet
	// problems, unbindable server addresses.
	ErrorStartup
	// ErrorInvalidHandle is returned for handles that were never issued
	// or were already shut down.
	ErrorInvalidHandle
	// ErrorAlreadyRunning is returned when an exclusive session exists.
	ErrorAlreadyRunning
)

func (t ErrorType) String() string {
	switch t {
	case ErrorConfiguration:
		return "configuration"
	case ErrorStartup:
		return "startup"
	case ErrorInvalidHandle:
		return "invalid_handle"
	case ErrorAlreadyRunning:
		return "already_running"
	default:
		return "unknown"
	}
}

// SessionError is the error type returned by Start and Shutdown.
type SessionError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *SessionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *SessionError) Unwrap() error { return e.Cause }

func newError(t ErrorType, msg string) *SessionError {
	return &SessionError{Type: t, Message: msg}
}

func wrapError(t ErrorType, msg string, cause error) *SessionError {
	return &SessionError{Type: t, Message: msg, Cause: cause}
}

// IsErrorType reports whether err is a SessionError of the given type.
func IsErrorType(err error, t ErrorType) bool {
	var sessionErr *SessionError
	return errors.As(err, &sessionErr) && sessionErr.Type == t
}
