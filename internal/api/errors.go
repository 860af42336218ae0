package api

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies an API failure for the orchestrator's retry decision.
type Kind string

const (
	// KindNetwork is a transient transport-level failure (reset, refused).
	KindNetwork Kind = "network"
	// KindTimeout is a request that exceeded its deadline.
	KindTimeout Kind = "timeout"
	// KindServer is a 5xx response.
	KindServer Kind = "server"
	// KindValidation is an authoritative 4xx rejection; never retried.
	KindValidation Kind = "validation"
)

// Error is a typed failure from the remote API.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("api: %s (%d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api: %s: %s", e.Kind, e.Message)
}

// Retryable reports whether the failure is worth another attempt.
func (e *Error) Retryable() bool {
	return e.Kind != KindValidation
}

// IsRetryable reports whether err is a retryable API failure. Unknown
// error types are treated as retryable network problems.
func IsRetryable(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return true
}

// classifyTransport maps a transport-level error (no HTTP response) onto
// the taxonomy.
func classifyTransport(err error) *Error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &Error{Kind: KindTimeout, Message: err.Error()}
	}
	return &Error{Kind: KindNetwork, Message: err.Error()}
}

// classifyStatus maps an HTTP error status onto the taxonomy.
func classifyStatus(code int, body string) *Error {
	if code >= 500 {
		return &Error{Kind: KindServer, StatusCode: code, Message: body}
	}
	return &Error{Kind: KindValidation, StatusCode: code, Message: body}
}
