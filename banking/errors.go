package banking

import (
	"errors"
	"fmt"
)

var (
	// ErrUpstreamRejected is a non-retryable refusal (4xx other than 429).
	ErrUpstreamRejected = errors.New("upstream rejected request")
	// ErrUpstreamUnavailable covers 5xx, transport failures, repeated
	// throttling and an open circuit.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrUpstreamTimeout is an unavailable upstream that ran out of time.
	ErrUpstreamTimeout = fmt.Errorf("%w: timeout", ErrUpstreamUnavailable)
)

var errThrottled = errors.New("upstream throttled")
