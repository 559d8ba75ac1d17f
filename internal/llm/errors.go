package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// FailureKind classifies a transport failure. Classification happens
// exactly once, at the boundary between this package and the loop; the
// loop never re-classifies.
type FailureKind string

// Transport failure kinds.
const (
	FailTimeout       FailureKind = "timeout"
	FailConnection    FailureKind = "connection_failure"
	FailRateLimit     FailureKind = "rate_limit"
	FailContextLength FailureKind = "context_length_exceeded"
	FailGeneric       FailureKind = "generic_failure"
)

// maxErrorMessageLen caps the human-readable message carried on a
// TransportError. Full bodies go to the trace log, not to callers.
const maxErrorMessageLen = 500

// TransportError is a classified transport failure. It is returned as a
// structured value and never swallowed.
type TransportError struct {
	Kind    FailureKind
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *TransportError) Unwrap() error { return e.Err }

// classify builds a TransportError from a raw failure, inspecting both
// the error type and message substrings. detail is any additional text
// (typically a response body) that should inform classification.
func classify(err error, detail string) *TransportError {
	msg := detail
	if msg == "" && err != nil {
		msg = err.Error()
	}
	lower := strings.ToLower(msg)
	if err != nil {
		lower += " " + strings.ToLower(err.Error())
	}

	kind := FailGeneric
	switch {
	case isTimeout(err) || strings.Contains(lower, "read timed out") ||
		strings.Contains(lower, "deadline exceeded"):
		kind = FailTimeout
	case strings.Contains(lower, "context length") ||
		strings.Contains(lower, "context_length") ||
		strings.Contains(lower, "maximum context"):
		kind = FailContextLength
	case strings.Contains(lower, "rate_limit") ||
		strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "too many requests"):
		kind = FailRateLimit
	case isConnectionFailure(err) || strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "no such host"):
		kind = FailConnection
	}

	if len(msg) > maxErrorMessageLen {
		msg = msg[:maxErrorMessageLen] + "…"
	}
	return &TransportError{Kind: kind, Message: msg, Err: err}
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isConnectionFailure(err error) bool {
	if err == nil {
		return false
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET,
			syscall.EHOSTUNREACH, syscall.ENETUNREACH:
			return true
		}
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
