package wire

import (
	"errors"
	"fmt"
)

// Code identifies the kind of wire-level failure (§7), not an exception type.
type Code string

const (
	// CodeProtocol means framing or JSON was malformed; the connection is closed
	// and no state is mutated.
	CodeProtocol Code = "PROTOCOL_ERROR"

	// CodeTimeout means a bounded wait (read or write deadline) expired.
	CodeTimeout Code = "TIMEOUT"

	// CodeClosedByPeer means the peer closed the connection before a full
	// frame was received.
	CodeClosedByPeer Code = "CLOSED_BY_PEER"
)

// Error is the wire package's error taxonomy: framing and transport failures
// that every network boundary in the system can produce.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("wire: %s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("wire: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewProtocolError wraps a framing or JSON decode failure.
func NewProtocolError(message string, cause error) *Error {
	return &Error{Code: CodeProtocol, Message: message, Cause: cause}
}

// NewTimeoutError wraps a deadline-expiry failure.
func NewTimeoutError(message string, cause error) *Error {
	return &Error{Code: CodeTimeout, Message: message, Cause: cause}
}

// NewClosedByPeerError wraps an early-EOF failure.
func NewClosedByPeerError(message string, cause error) *Error {
	return &Error{Code: CodeClosedByPeer, Message: message, Cause: cause}
}

// IsTimeout reports whether err is (or wraps) a timeout wire.Error.
func IsTimeout(err error) bool {
	var wireErr *Error
	if errors.As(err, &wireErr) {
		return wireErr.Code == CodeTimeout
	}
	return false
}

// IsClosedByPeer reports whether err is (or wraps) a closed-by-peer wire.Error.
func IsClosedByPeer(err error) bool {
	var wireErr *Error
	if errors.As(err, &wireErr) {
		return wireErr.Code == CodeClosedByPeer
	}
	return false
}
