// Package resilience provides the circuit breaker the SMTP sender and the
// form-store client each wrap their external calls in: trip after a run of
// consecutive failures, cool down, then allow a single probe request
// through. Object-store calls are not breaker-wrapped.
package resilience

import (
	"time"

	"github.com/sony/gobreaker/v2"
)

// NewBreaker builds a circuit breaker named for the dependency it guards.
// More than 5 consecutive failures (a sixth in a row) trips it, followed
// by a 30s open-state timeout
// and then one probe request.
func NewBreaker[T any](name string) *gobreaker.CircuitBreaker[T] {
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})
}
