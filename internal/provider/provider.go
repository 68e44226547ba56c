// Package provider invokes the external AI services (image generation and
// image moderation) under bounded deadlines and maps their failures into a
// small closed error taxonomy.
//
// The clients own no state and never retry; retry policy, if any, belongs to
// the caller.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

var (
	ErrTimeout        = errors.New("provider timeout")
	ErrQuotaExceeded  = errors.New("provider quota exceeded")
	ErrBadUpstream    = errors.New("bad upstream response")
	ErrNetworkFailure = errors.New("network failure")
)

// mapTransportError folds transport-level failures into the taxonomy.
// Caller-side cancellation is passed through so a disconnect is not reported
// as a provider fault.
func mapTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrTimeout
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrNetworkFailure, err)
}

// mapStatus folds a non-2xx provider status into the taxonomy. 402 and 429
// signal billing or rate exhaustion on the provider account.
func mapStatus(status int) error {
	switch status {
	case http.StatusPaymentRequired, http.StatusTooManyRequests:
		return ErrQuotaExceeded
	default:
		return fmt.Errorf("%w: status %d", ErrBadUpstream, status)
	}
}

// readBody drains a response body with a sane cap.
func readBody(r io.Reader, limit int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return nil, mapTransportError(err)
	}
	return b, nil
}
