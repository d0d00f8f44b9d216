// Package breaker builds the circuit breakers that guard outbound calls.
package breaker

import (
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

const (
	consecutiveFailures = 5
	openTimeout         = 30 * time.Second
	halfOpenRequests    = 1
)

// New returns a breaker that opens after consecutive failures and probes
// again after openTimeout. isSuccessful decides which errors count as
// failures; nil counts every error.
func New(name string, logger *slog.Logger, isSuccessful func(error) bool) *gobreaker.CircuitBreaker {
	if logger == nil {
		logger = slog.Default()
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: halfOpenRequests,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutiveFailures
		},
		IsSuccessful: isSuccessful,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
}

// StateValue maps a breaker state to the gauge value exported as a metric:
// 0 closed, 1 half-open, 2 open.
func StateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Rejected reports whether err came from the breaker itself rather than
// the guarded call.
func Rejected(err error) bool {
	return err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests
}
