// Package resilience wraps provider HTTP calls with a circuit breaker,
// timeouts and retries, and tracks provider health for the status endpoint.
package resilience

import (
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
)

// CircuitBreakerConfig configures the breaker in front of one provider.
// Zero fields take the values of DefaultCircuitBreakerConfig.
type CircuitBreakerConfig struct {
	Name string

	// MaxRequests may pass while half-open.
	MaxRequests uint32

	// Interval clears the closed-state counts; zero never clears them.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration

	ReadyToTrip   func(counts gobreaker.Counts) bool
	IsSuccessful  func(err error) bool
	OnStateChange func(name string, from gobreaker.State, to gobreaker.State)
}

// DefaultCircuitBreakerConfig is used for the directions, elevation and
// geocoding calls: one probe after 30s open.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Timeout:      30 * time.Second,
		ReadyToTrip:  DefaultReadyToTrip,
		IsSuccessful: DefaultIsSuccessful,
	}
}

// DefaultReadyToTrip opens the breaker once at least 5 requests were made and
// half of them failed.
func DefaultReadyToTrip(counts gobreaker.Counts) bool {
	if counts.Requests < 5 {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
}

// DefaultIsSuccessful treats quota rejections as successes: the provider is
// up, and opening the circuit would only hide the real cause.
func DefaultIsSuccessful(err error) bool {
	if err == nil {
		return true
	}
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.RateLimited()
}

// NewCircuitBreaker builds a breaker for responses of type T.
func NewCircuitBreaker[T any](cfg CircuitBreakerConfig) *gobreaker.CircuitBreaker[T] {
	defaults := DefaultCircuitBreakerConfig(cfg.Name)
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = defaults.MaxRequests
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.ReadyToTrip == nil {
		cfg.ReadyToTrip = defaults.ReadyToTrip
	}
	if cfg.IsSuccessful == nil {
		cfg.IsSuccessful = defaults.IsSuccessful
	}

	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:          cfg.Name,
		MaxRequests:   cfg.MaxRequests,
		Interval:      cfg.Interval,
		Timeout:       cfg.Timeout,
		ReadyToTrip:   cfg.ReadyToTrip,
		IsSuccessful:  cfg.IsSuccessful,
		OnStateChange: cfg.OnStateChange,
	})
}
