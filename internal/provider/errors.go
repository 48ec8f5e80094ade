package provider

import (
	"context"
	"errors"
	"net"
)

// FailureKind classifies why a generation call produced no answer.
type FailureKind string

const (
	FailureNetwork    FailureKind = "network"
	FailureTimeout    FailureKind = "timeout"
	FailureHTTPStatus FailureKind = "http_status"
	FailureDecode     FailureKind = "decode"
)

// GenerationError is the only error type Generate returns.
type GenerationError struct {
	Kind       FailureKind
	Detail     string
	StatusCode int // set for FailureHTTPStatus
	Err        error
}

func (e *GenerationError) Error() string {
	return string(e.Kind) + ": " + e.Detail
}

func (e *GenerationError) Unwrap() error { return e.Err }

// KindOf extracts the failure kind from err, if it is a GenerationError.
func KindOf(err error) (FailureKind, bool) {
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge.Kind, true
	}
	return "", false
}

// classifyTransportError maps an error from client.Do or body reads to a failure.
// ctx is the call's own deadline-bearing context.
func classifyTransportError(ctx context.Context, err error) *GenerationError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &GenerationError{Kind: FailureTimeout, Detail: "generation request timed out", Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &GenerationError{Kind: FailureTimeout, Detail: "generation request timed out", Err: err}
	}
	return &GenerationError{Kind: FailureNetwork, Detail: err.Error(), Err: err}
}
