// Package llmerr classifies provider and transport failures into a small
// taxonomy the pipeline can act on. Classification is best-effort: it matches
// HTTP status codes and known message substrings, falling back to Unknown.
package llmerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind is the failure category.
type Kind int

const (
	Unknown Kind = iota
	// Cancelled marks user- or timeout-initiated interruption. It is not a
	// failure: the pipeline returns the partial result instead of re-throwing.
	Cancelled
	RateLimited
	AuthFailed
	NetworkUnavailable
	Timeout
)

var kindNames = map[Kind]string{
	Unknown:            "unknown",
	Cancelled:          "cancelled",
	RateLimited:        "rate_limited",
	AuthFailed:         "auth_failed",
	NetworkUnavailable: "network_unavailable",
	Timeout:            "timeout",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified failure. Status is the upstream HTTP status when the
// failure came from a response, zero otherwise.
type Error struct {
	Kind   Kind
	Status int
	err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %v", e.Kind, e.Status, e.err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.err)
}

func (e *Error) Unwrap() error { return e.err }

// New wraps err with an explicit kind.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, err: err}
}

// FromStatus classifies an upstream HTTP error response.
func FromStatus(status int, body string) *Error {
	e := &Error{Status: status, err: fmt.Errorf("upstream error: %s", strings.TrimSpace(body))}

	switch {
	case status == 401 || status == 403:
		e.Kind = AuthFailed
	case status == 429:
		e.Kind = RateLimited
	case status == 408 || status == 504:
		e.Kind = Timeout
	case status == 502 || status == 503:
		e.Kind = NetworkUnavailable
	default:
		e.Kind = Unknown
	}

	return e
}

// substrings checked against lowercased error text, in order.
var messageKinds = []struct {
	substr string
	kind   Kind
}{
	{"context canceled", Cancelled},
	{"operation was canceled", Cancelled},
	{"context deadline exceeded", Cancelled},
	{"rate limit", RateLimited},
	{"too many requests", RateLimited},
	{"quota", RateLimited},
	{"unauthorized", AuthFailed},
	{"invalid api key", AuthFailed},
	{"invalid x-api-key", AuthFailed},
	{"authentication", AuthFailed},
	{"permission", AuthFailed},
	{"deadline exceeded", Timeout},
	{"timeout", Timeout},
	{"timed out", Timeout},
	{"no such host", NetworkUnavailable},
	{"connection refused", NetworkUnavailable},
	{"connection reset", NetworkUnavailable},
	{"broken pipe", NetworkUnavailable},
	{"network is unreachable", NetworkUnavailable},
}

// Classify maps an arbitrary error onto the taxonomy. Already-classified
// errors pass through unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	// A fired deadline is a time-boxed cancellation: the request's own
	// time-box expired, so the partial result is returned like any other
	// cancel. Timeout stays reserved for upstream 408/504 and transport
	// timeouts.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: Cancelled, err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &Error{Kind: Timeout, err: err}
		}
		return &Error{Kind: NetworkUnavailable, err: err}
	}

	msg := strings.ToLower(err.Error())
	for _, mk := range messageKinds {
		if strings.Contains(msg, mk.substr) {
			return &Error{Kind: mk.kind, err: err}
		}
	}

	return &Error{Kind: Unknown, err: err}
}

// IsCancelled reports whether err classifies as a cancellation.
func IsCancelled(err error) bool {
	return err != nil && Classify(err).Kind == Cancelled
}
