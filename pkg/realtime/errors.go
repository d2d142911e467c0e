package realtime

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Sentinel errors for the realtime package.
var (
	// ErrNotConnected indicates no connection is established.
	ErrNotConnected = errors.New("realtime: not connected")

	// ErrAlreadyConnected indicates Dial was called on a live client.
	ErrAlreadyConnected = errors.New("realtime: already connected")

	// ErrClosed indicates the client was closed locally.
	ErrClosed = errors.New("realtime: closed")
)

// APIError is an error reported by the remote endpoint.
type APIError struct {
	// Code is the error code from the API.
	Code string

	// Message is the human-readable error message.
	Message string

	// Type is the error type/category.
	Type string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("realtime: API error [%s]: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("realtime: API error: %s", e.Message)
}

// ConnError is a transport-level failure.
type ConnError struct {
	// Reason describes what failed.
	Reason string

	// Cause is the underlying error.
	Cause error

	// Status is the HTTP status of a failed handshake, 0 otherwise.
	Status int
}

// Error implements the error interface.
func (e *ConnError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("realtime: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("realtime: %s", e.Reason)
}

// Unwrap returns the underlying cause.
func (e *ConnError) Unwrap() error {
	return e.Cause
}

// IsAuthError reports whether the error means the API key was rejected.
func IsAuthError(err error) bool {
	var connErr *ConnError
	if errors.As(err, &connErr) {
		if connErr.Status == 401 || connErr.Status == 403 {
			return true
		}
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case "invalid_api_key", "missing_api_key", "invalid_request_error.auth":
			return true
		}
	}
	return false
}

// IsNetworkError reports whether the error looks like the network is down
// (DNS failure, unreachable host) rather than a protocol problem.
func IsNetworkError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "network is unreachable") ||
		strings.Contains(msg, "connection refused")
}
