package resilience

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned without calling the provider while its breaker
// is open, or half-open with the probe already in flight.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ClientConfig configures a provider client. Zero durations and retry
// counts take the values of DefaultClientConfig.
type ClientConfig struct {
	// Name labels the breaker, the registry entry and log lines.
	Name string

	// Timeout bounds a single attempt.
	Timeout time.Duration

	// MaxRetries is the number of attempts after the first one.
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// CircuitBreaker defaults to DefaultCircuitBreakerConfig(Name).
	CircuitBreaker *CircuitBreakerConfig

	// Registry, when set, tracks the client for GET /v1/ops/status.
	Registry *Registry

	Logger zerolog.Logger
}

// DefaultClientConfig is tuned for ORS: 10s per attempt and three retries
// backing off from 100ms to at most 5s.
func DefaultClientConfig(name string) ClientConfig {
	breaker := DefaultCircuitBreakerConfig(name)
	return ClientConfig{
		Name:            name,
		Timeout:         10 * time.Second,
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		CircuitBreaker:  &breaker,
	}
}

func (cfg ClientConfig) withDefaults() ClientConfig {
	defaults := DefaultClientConfig(cfg.Name)
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = defaults.InitialInterval
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = defaults.MaxInterval
	}
	if cfg.CircuitBreaker == nil {
		cfg.CircuitBreaker = defaults.CircuitBreaker
	}
	return cfg
}

// Client sends provider requests through a circuit breaker and retries
// transient failures with exponential backoff.
type Client struct {
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	cfg     ClientConfig
	logger  zerolog.Logger
}

// NewClient builds a client and registers it with cfg.Registry.
func NewClient(cfg ClientConfig) *Client {
	cfg = cfg.withDefaults()

	breaker := *cfg.CircuitBreaker
	if breaker.OnStateChange == nil {
		logger := cfg.Logger
		breaker.OnStateChange = func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("provider", name).
				Stringer("from", from).
				Stringer("to", to).
				Msg("circuit breaker state changed")
		}
	}

	c := &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: NewCircuitBreaker[*http.Response](breaker), //nolint:bodyclose // type parameter
		cfg:     cfg,
		logger:  cfg.Logger,
	}
	if cfg.Registry != nil {
		cfg.Registry.Register(cfg.Name, c)
	}
	return c
}

// Name returns the provider name the client was built with.
func (c *Client) Name() string {
	return c.cfg.Name
}

// Do sends req, retrying 5xx, 429 and network errors until MaxRetries is
// spent or the request context ends. When the provider kept answering
// with a retryable status, the last such response is returned with a nil
// error so the caller can map it. The body of req is replayed from
// GetBody on every attempt.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	var last *http.Response
	keep := func(resp *http.Response) {
		if last != nil {
			_ = last.Body.Close()
		}
		last = resp
	}

	attempt := func() error {
		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			return c.send(ctx, req)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(ErrCircuitOpen)
		}
		if resp != nil {
			keep(resp)
		}
		if err != nil {
			c.logger.Debug().Err(err).Str("provider", c.cfg.Name).Msg("provider request failed, retrying")
		}
		return err
	}

	if err := backoff.Retry(attempt, c.policy(ctx)); err != nil {
		c.record(err)
		if last != nil {
			return last, nil
		}
		return nil, err
	}
	c.record(nil)
	return last, nil
}

func (c *Client) policy(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialInterval
	bo.MaxInterval = c.cfg.MaxInterval
	bo.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(bo, c.cfg.MaxRetries), ctx)
}

func (c *Client) send(ctx context.Context, req *http.Request) (*http.Response, error) {
	out := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		out.Body = body
	}

	resp, err := c.http.Do(out)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return resp, &StatusError{StatusCode: resp.StatusCode}
	}
	return resp, nil
}

func (c *Client) record(err error) {
	switch {
	case c.cfg.Registry == nil:
	case err == nil:
		c.cfg.Registry.RecordSuccess(c.cfg.Name)
	default:
		c.cfg.Registry.RecordFailure(c.cfg.Name, err)
	}
}

// CircuitBreakerState returns the breaker's current state.
func (c *Client) CircuitBreakerState() gobreaker.State {
	return c.breaker.State()
}

// CircuitBreakerCounts returns the breaker's counts for the current
// generation.
func (c *Client) CircuitBreakerCounts() gobreaker.Counts {
	return c.breaker.Counts()
}

// StatusError is a retryable provider status: any 5xx, or 429 when the
// provider quota is exhausted.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return "provider returned " + http.StatusText(e.StatusCode)
}

// RateLimited reports whether the provider rejected the request for quota.
func (e *StatusError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}
