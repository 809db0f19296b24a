// ABOUTME: Error taxonomy for remote conversation-store calls.
// ABOUTME: Classification drives retry, queue-for-later, and give-up decisions.

package api

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sony/gobreaker"
)

var (
	// ErrNotFound is returned when the remote store has no such entity.
	ErrNotFound = errors.New("not found")
	// ErrSoftFail marks a write the backend likely applied but reported as
	// failed. Callers treat the write as done and reconcile later instead
	// of replaying it.
	ErrSoftFail = errors.New("backend reported failure for an applied write")
)

// Kind buckets an error by how the caller should react.
type Kind int

const (
	// KindTransient errors are worth retrying: timeouts, connection
	// resets, 5xx, open circuit.
	KindTransient Kind = iota
	// KindSoft errors are success-shaped failures; the write is assumed
	// applied.
	KindSoft
	// KindValidation errors mean the request itself is wrong; retrying is
	// pointless.
	KindValidation
	// KindAuth errors need a fresh token, not a retry.
	KindAuth
	// KindProtocol errors mean the backend answered something the client
	// cannot interpret.
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindSoft:
		return "soft"
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// StatusError carries a non-2xx response.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.Status, e.Body)
}

// Classify buckets err for the coordinator.
func Classify(err error) Kind {
	if err == nil {
		return KindTransient
	}
	if errors.Is(err, ErrSoftFail) {
		return KindSoft
	}
	if errors.Is(err, ErrNotFound) {
		return KindValidation
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return KindTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.Status == 401 || statusErr.Status == 403:
			return KindAuth
		case statusErr.Status == 404 || statusErr.Status == 409 ||
			(statusErr.Status >= 400 && statusErr.Status < 500 && statusErr.Status != 429):
			return KindValidation
		default:
			return KindTransient
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindTransient
	}

	return KindProtocol
}
