package live

import (
	"errors"
	"fmt"
)

// ErrMissingAPIKey indicates the API key was not provided.
var ErrMissingAPIKey = errors.New("live: API key is required")

// TransportError wraps a terminal session failure: handshake, send, or
// receive. Transport errors are never retried; the lifecycle controller
// converts them into an in-character apology and ends the call.
type TransportError struct {
	// Op is the operation that failed: "dial", "setup", "send", "receive".
	Op string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("live: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err is a terminal session failure.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
