// Package fault defines the error kinds the harness surfaces. Callers test
// them with errors.Is; the constructors add operation context.
package fault

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout: no matching message within the allotted window.
	ErrTimeout = errors.New("timeout")
	// ErrProtocolMismatch: a response contradicts the request it answers.
	ErrProtocolMismatch = errors.New("protocol mismatch")
	// ErrPermissionDenied: a privileged operation was refused locally.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrServerRejected: the server answered with an explicit failure.
	ErrServerRejected = errors.New("server rejected")
	// ErrConnectionClosed: the socket closed with work outstanding.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrUnreachable: navigation gave up before converging.
	ErrUnreachable = errors.New("target unreachable")
)

func Timeout(what string, after time.Duration) error {
	return fmt.Errorf("%w: %s after %s", ErrTimeout, what, after)
}

func Mismatch(op, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrProtocolMismatch, op, fmt.Sprintf(format, args...))
}

func Denied(op string) error {
	return fmt.Errorf("%w: %s requires an admin profile", ErrPermissionDenied, op)
}

func Closed(cause error) error {
	if cause == nil {
		return ErrConnectionClosed
	}
	return fmt.Errorf("%w: %v", ErrConnectionClosed, cause)
}

// RejectedError carries the server's own failure message verbatim.
type RejectedError struct {
	Op      string
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: server rejected request", e.Op)
	}
	return fmt.Sprintf("%s: server rejected request: %s", e.Op, e.Message)
}

func (e *RejectedError) Unwrap() error { return ErrServerRejected }

func Rejected(op, message string) error {
	return &RejectedError{Op: op, Message: message}
}
