package domain

import "errors"

// Sentinel errors for gateway error conditions.
// Use errors.Is() for matching - never compare error strings.
var (
	// ID validation errors
	ErrEmptyID   = errors.New("ID cannot be empty")
	ErrInvalidID = errors.New("invalid ID format")

	// Attach errors: the gateway owns at most one upgrade route
	ErrAlreadyAttached = errors.New("gateway already attached to a listener")

	// Upgrade errors. Every rejection wraps ErrUpgradeRejected so callers can
	// match the whole family, and one of the more specific causes below.
	ErrUpgradeRejected  = errors.New("upgrade rejected")
	ErrMethodNotAllowed = errors.New("method not allowed")
	ErrOriginNotAllowed = errors.New("origin not allowed")
	ErrHandshake        = errors.New("websocket handshake failed")
	ErrShuttingDown     = errors.New("gateway is shutting down")

	// Transport errors: mid-session I/O failures
	ErrTransport        = errors.New("transport failure")
	ErrHeartbeatTimeout = errors.New("peer missed heartbeat deadline")

	// Connection errors
	ErrConnectionNotFound  = errors.New("connection not found")
	ErrConnectionClosed    = errors.New("connection is closed")
	ErrDuplicateConnection = errors.New("connection id already registered")
	ErrInvalidTransition   = errors.New("invalid connection state transition")

	// Validation errors
	ErrInvalidInput    = errors.New("invalid input")
	ErrMessageTooLarge = errors.New("message exceeds size limit")

	// Operational errors
	ErrRateLimited  = errors.New("rate limit exceeded")
	ErrUnavailable  = errors.New("service temporarily unavailable")
	ErrSlowConsumer = errors.New("client not consuming messages fast enough")

	// Configuration errors
	ErrConfigRequired = errors.New("required configuration key missing")
	ErrConfigInvalid  = errors.New("invalid configuration value")
)

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrShuttingDown) ||
		errors.Is(err, ErrSlowConsumer)
}

// clientErrors enumerates all errors that represent client-side issues.
var clientErrors = []error{
	ErrInvalidInput,
	ErrMessageTooLarge,
	ErrEmptyID,
	ErrInvalidID,
	ErrMethodNotAllowed,
	ErrOriginNotAllowed,
	ErrHandshake,
	ErrConnectionNotFound,
}

// IsClientError returns true if the error represents a client-side issue
// that will not succeed on retry without client-side changes.
func IsClientError(err error) bool {
	for _, target := range clientErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsConfigError reports whether err aborts startup because of bad configuration.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrConfigRequired) || errors.Is(err, ErrConfigInvalid)
}

// IsNotFound returns true if the error represents a missing connection.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrConnectionNotFound)
}
