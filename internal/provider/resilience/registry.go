package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Health levels reported on the status endpoint.
const (
	HealthOK       = "OK"
	HealthDegraded = "DEGRADED"
	HealthFail     = "FAIL"
)

// breakerView is the read side of a provider client's circuit breaker.
type breakerView interface {
	CircuitBreakerState() gobreaker.State
	CircuitBreakerCounts() gobreaker.Counts
}

// ProviderHealth is a snapshot of one provider as shown by GET /v1/ops/status.
type ProviderHealth struct {
	Name          string
	CircuitState  gobreaker.State
	Counts        gobreaker.Counts
	LastSuccessAt *time.Time
	LastFailureAt *time.Time
	LastError     string
}

// Level maps the circuit state to a health level: open is a failure,
// half-open is degraded.
func (h *ProviderHealth) Level() string {
	switch h.CircuitState {
	case gobreaker.StateOpen:
		return HealthFail
	case gobreaker.StateHalfOpen:
		return HealthDegraded
	default:
		return HealthOK
	}
}

// Registry tracks the provider clients of one process and the outcome of
// their last calls. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*providerEntry
	now     func() time.Time
}

type providerEntry struct {
	breaker     breakerView
	lastSuccess *time.Time
	lastFailure *time.Time
	lastError   string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*providerEntry),
		now:     time.Now,
	}
}

// Register tracks client under name. A later client with the same name
// replaces the earlier one and its recorded outcomes.
func (r *Registry) Register(name string, client *Client) {
	r.mu.Lock()
	r.entries[name] = &providerEntry{breaker: client}
	r.mu.Unlock()
}

// RecordSuccess stamps the last successful call. Unknown names are ignored.
func (r *Registry) RecordSuccess(name string) {
	r.update(name, func(e *providerEntry, at time.Time) {
		e.lastSuccess = &at
	})
}

// RecordFailure stamps the last failed call and keeps its message.
func (r *Registry) RecordFailure(name string, err error) {
	r.update(name, func(e *providerEntry, at time.Time) {
		e.lastFailure = &at
		if err != nil {
			e.lastError = err.Error()
		}
	})
}

func (r *Registry) update(name string, fn func(*providerEntry, time.Time)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		fn(e, r.now())
	}
}

// Health returns the snapshot for name, or nil when nothing is registered
// under it.
func (r *Registry) Health(name string) *ProviderHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil
	}
	return e.snapshot(name)
}

// All returns a snapshot per provider, sorted by name.
func (r *Registry) All() []*ProviderHealth {
	r.mu.RLock()
	out := make([]*ProviderHealth, 0, len(r.entries))
	for name, e := range r.entries {
		out = append(out, e.snapshot(name))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Level is the worst level over all providers. An empty registry is OK.
func (r *Registry) Level() string {
	worst := HealthOK
	for _, h := range r.All() {
		switch h.Level() {
		case HealthFail:
			return HealthFail
		case HealthDegraded:
			worst = HealthDegraded
		}
	}
	return worst
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (e *providerEntry) snapshot(name string) *ProviderHealth {
	return &ProviderHealth{
		Name:          name,
		CircuitState:  e.breaker.CircuitBreakerState(),
		Counts:        e.breaker.CircuitBreakerCounts(),
		LastSuccessAt: e.lastSuccess,
		LastFailureAt: e.lastFailure,
		LastError:     e.lastError,
	}
}
