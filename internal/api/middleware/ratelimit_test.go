package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pedalei/pedalei/internal/api/middleware"
	"github.com/pedalei/pedalei/internal/api/models"
)

// limited serves a planning route behind limit and returns a function that
// sends one request from addr.
func limited(limit func(http.Handler) http.Handler) func(addr string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.With(limit).Post("/v1/routes:plan", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/routes:plan", http.NoBody)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}
}

func TestRateLimitByIP(t *testing.T) {
	send := limited(middleware.RateLimitByIP(middleware.RateLimitConfig{RequestLimit: 3, WindowLength: time.Minute}))

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, send("10.0.0.1:5000").Code, "request %d", i+1)
	}
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1:5001").Code, "port does not matter")
	assert.Equal(t, http.StatusOK, send("10.0.0.2:5000").Code, "other clients keep their budget")
}

func TestRateLimitByIP_ProblemResponse(t *testing.T) {
	send := limited(middleware.RateLimitByIP(middleware.RateLimitConfig{RequestLimit: 1, WindowLength: 90 * time.Second}))

	require.Equal(t, http.StatusOK, send("203.0.113.1:1").Code)
	rec := send("203.0.113.1:1")

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "90", rec.Header().Get("Retry-After"))

	var problem models.Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, models.ProblemTypeTooManyRequests, problem.Type)
	assert.Equal(t, "rate limit exceeded, try again later", problem.Detail)
	assert.Equal(t, "/v1/routes:plan", problem.Instance)
	assert.Equal(t, rec.Header().Get("X-Request-Id"), problem.TraceID)
	assert.NotEmpty(t, problem.TraceID)
}

func TestRateLimitByRide_KeysOnRideID(t *testing.T) {
	cfg := middleware.RateLimitConfig{RequestLimit: 2, WindowLength: time.Minute}

	r := chi.NewRouter()
	r.With(middleware.RateLimitByRide(cfg)).Post("/v1/rides/{rideId}/fixes", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	post := func(ride, ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/rides/"+ride+"/fixes", http.NoBody)
		req.RemoteAddr = ip
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	// The same ride is limited even when its device changes address.
	assert.Equal(t, http.StatusAccepted, post("ride-a", "192.168.1.1:12345"))
	assert.Equal(t, http.StatusAccepted, post("ride-a", "192.168.1.2:12345"))
	assert.Equal(t, http.StatusTooManyRequests, post("ride-a", "192.168.1.3:12345"))

	// Another ride behind the same address has its own budget.
	assert.Equal(t, http.StatusAccepted, post("ride-b", "192.168.1.1:12345"))
}

func TestRateLimitByRide_FallsBackToIP(t *testing.T) {
	send := limited(middleware.RateLimitByRide(middleware.RateLimitConfig{RequestLimit: 1, WindowLength: time.Minute}))

	assert.Equal(t, http.StatusOK, send("198.51.100.7:1").Code)
	assert.Equal(t, http.StatusTooManyRequests, send("198.51.100.7:1").Code)
	assert.Equal(t, http.StatusOK, send("198.51.100.8:1").Code)
}

func TestDefaultRateLimits(t *testing.T) {
	assert.Equal(t, middleware.RateLimitConfig{RequestLimit: 30, WindowLength: time.Minute}, middleware.ExpensiveRateLimit)
	assert.Equal(t, middleware.RateLimitConfig{RequestLimit: 100, WindowLength: time.Minute}, middleware.StandardRateLimit)
	assert.Equal(t, middleware.RateLimitConfig{RequestLimit: 240, WindowLength: time.Minute}, middleware.RideRateLimit)
}
