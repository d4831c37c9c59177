package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/pedalei/pedalei/internal/api/middleware"

// unmatchedRoute labels requests no route matched, so that scanners cannot
// create a series per path.
const unmatchedRoute = "unmatched"

// Latency buckets in seconds. Planning with elevation lands in the upper
// half, fix pushes in the lowest buckets.
var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Metrics records request instruments for the public API.
type Metrics struct {
	duration    metric.Float64Histogram
	requests    metric.Int64Counter
	active      metric.Int64UpDownCounter
	bodySize    metric.Int64Histogram
	rateLimited metric.Int64Counter
}

// NewMetrics creates the instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}

	var errs [5]error
	m.duration, errs[0] = meter.Float64Histogram("http.server.request.duration",
		metric.WithDescription("Duration of HTTP server requests"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...))
	m.requests, errs[1] = meter.Int64Counter("http.server.request.total",
		metric.WithDescription("HTTP server requests by route and status"),
		metric.WithUnit("{request}"))
	m.active, errs[2] = meter.Int64UpDownCounter("http.server.requests_in_flight",
		metric.WithDescription("HTTP requests being served"),
		metric.WithUnit("{request}"))
	m.bodySize, errs[3] = meter.Int64Histogram("http.server.response.size",
		metric.WithDescription("HTTP response body size"),
		metric.WithUnit("By"))
	m.rateLimited, errs[4] = meter.Int64Counter("http.server.rate_limited",
		metric.WithDescription("Requests rejected by a rate limiter"),
		metric.WithUnit("{request}"))

	if err := errors.Join(errs[:]...); err != nil {
		return nil, fmt.Errorf("creating http instruments: %w", err)
	}
	return m, nil
}

// Middleware records every request under its route pattern, so all rides
// share the series of /v1/rides/{rideId}.
func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			start := time.Now()

			method := metric.WithAttributes(attribute.String("http.method", r.Method))
			m.active.Add(ctx, 1, method)
			defer m.active.Add(ctx, -1, method)

			wrapped := wrap(w)
			next.ServeHTTP(wrapped, r)

			route := routePattern(r)
			if route == "" {
				route = unmatchedRoute
			}
			labels := metric.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
				attribute.String("http.status_code", strconv.Itoa(wrapped.status)),
				attribute.Bool("error", wrapped.status >= http.StatusBadRequest),
			)
			m.duration.Record(ctx, time.Since(start).Seconds(), labels)
			m.requests.Add(ctx, 1, labels)
			m.bodySize.Record(ctx, wrapped.written, labels)

			if wrapped.status == http.StatusTooManyRequests {
				m.rateLimited.Add(ctx, 1, metric.WithAttributes(attribute.String("http.route", route)))
			}
		})
	}
}
