package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a transport failure talking to the backend.
// The engine never retries it; Retriable is informational for the caller.
type NetworkError struct {
	Op        string // Operation that failed (e.g., "/login", "dial", "read")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// AuthError carries the user-visible reason a login was refused.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "authentication failed: " + e.Reason
}

func (e *AuthError) IsRetriable() bool {
	return false
}

// DecodeError is returned when a feed message or a response body cannot be parsed.
type DecodeError struct {
	Source string // feed kind or endpoint
	Err    error
}

func (e *DecodeError) Error() string {
	return "decode " + e.Source + ": " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err is (or wraps) an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

var (
	// ErrNotAuthenticated is returned when an operation needs a session token and none is held.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrAlreadyAuthenticated is returned by a login attempt while a session is held.
	ErrAlreadyAuthenticated = errors.New("already authenticated")

	// ErrEmptyParam is returned when a required request parameter is empty. Checked before any request is sent.
	ErrEmptyParam = errors.New("required parameter is empty")

	// ErrToggleInFlight is returned when a tracking toggle for the same coordinate is still pending.
	ErrToggleInFlight = errors.New("toggle already in flight")

	// ErrUnknownOptionSide is returned when an option side string is neither call nor put.
	ErrUnknownOptionSide = errors.New("unknown option side")

	// ErrDuplicateOrder is returned when an order book snapshot repeats an order id.
	ErrDuplicateOrder = errors.New("duplicate order id")
)
