package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pedalei/pedalei/internal/api"
	"github.com/pedalei/pedalei/internal/api/models"
	"github.com/pedalei/pedalei/internal/instruction"
	"github.com/pedalei/pedalei/internal/provider/resilience"
	"github.com/pedalei/pedalei/internal/ride"
	"github.com/pedalei/pedalei/internal/routing"
	"github.com/pedalei/pedalei/pkg/geo"
)

var origin = geo.Coordinate{Lat: -23.5614, Lng: -46.6559}

func stepAt(i int) geo.Coordinate {
	return geo.Coordinate{Lat: origin.Lat + float64(i)*0.0004, Lng: origin.Lng}
}

func testPlan(t *testing.T) *routing.Plan {
	t.Helper()
	raws := []string{"Head north on Rua Augusta", "Continue straight", "Turn right onto Avenida Paulista"}
	steps := make([]routing.Step, len(raws))
	for i, raw := range raws {
		text, err := instruction.Normalize(raw, instruction.LangPortuguese)
		require.NoError(t, err)
		steps[i] = routing.Step{
			ID:              "step-" + string(rune('a'+i)),
			RawInstruction:  raw,
			Instruction:     text,
			DistanceMeters:  44,
			DurationSeconds: 10,
			Maneuver:        routing.ManeuverStraight,
			Location:        stepAt(i),
		}
	}
	return &routing.Plan{
		Origin:         stepAt(0),
		Destination:    stepAt(3),
		Preferences:    routing.DefaultPreferences(),
		Language:       instruction.LangPortuguese,
		Strategy:       routing.StrategyStrict,
		Steps:          steps,
		DistanceMeters: 133,
		Difficulty:     routing.DifficultyEasy,
		CreatedAt:      time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC),
	}
}

type fakePlanner struct {
	plan  *routing.Plan
	err   error
	calls atomic.Int32
}

func (f *fakePlanner) Plan(context.Context, routing.PlanRequest) (*routing.Plan, error) {
	f.calls.Add(1)
	return f.plan, f.err
}

func (f *fakePlanner) Reroute(context.Context, geo.Coordinate, geo.Coordinate, routing.Preferences, string) (*routing.Plan, error) {
	return nil, errors.New("reroute not expected")
}

type fakeRedis struct{ err error }

func (f fakeRedis) Health(context.Context) error { return f.err }

type testEnv struct {
	router  http.Handler
	planner *fakePlanner
	rides   *ride.Manager
}

func newTestEnv(t *testing.T, planner *fakePlanner, redisErr error) *testEnv {
	t.Helper()
	logger := zerolog.New(io.Discard)
	rides := ride.NewManager(ride.ManagerConfig{
		Planner: planner,
		Sink:    ride.LogSink{Logger: logger},
		Logger:  logger,
	})
	t.Cleanup(func() { rides.Shutdown(context.Background()) })

	registry := resilience.NewRegistry()
	cfg := resilience.DefaultClientConfig("openrouteservice")
	cfg.Registry = registry
	_ = resilience.NewClient(cfg)

	router := api.NewRouter(api.RouterConfig{
		Version:   "test",
		BuildTime: "2024-01-01T00:00:00Z",
		Logger:    logger,
		Planner:   planner,
		Rides:     rides,
		Registry:  registry,
		Cache: routing.NewCachingProvider(routing.CachingProviderConfig{
			Provider: nil,
			Store:    routing.NewMemoryStore(routing.MemoryStoreConfig{}),
		}),
		Redis: fakeRedis{err: redisErr},
	})
	return &testEnv{router: router, planner: planner, rides: rides}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func planRequest() models.RoutePlanRequest {
	return models.RoutePlanRequest{
		Origin:      models.PlaceInput{Point: &models.Point{Lat: stepAt(0).Lat, Lon: stepAt(0).Lng}},
		Destination: models.PlaceInput{Address: "Avenida Paulista 1000, São Paulo"},
	}
}

func TestRouter_HealthCheck(t *testing.T) {
	env := newTestEnv(t, &fakePlanner{}, nil)

	w := env.do(t, http.MethodGet, "/v1/ops/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	health := decodeBody[models.Health](t, w)
	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, "test", health.Details["version"])
}

func TestRouter_ReadinessCheck(t *testing.T) {
	env := newTestEnv(t, &fakePlanner{}, nil)
	w := env.do(t, http.MethodGet, "/v1/ops/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	down := newTestEnv(t, &fakePlanner{}, errors.New("connection refused"))
	w = down.do(t, http.MethodGet, "/v1/ops/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	health := decodeBody[models.Health](t, w)
	assert.Equal(t, models.HealthStatusFail, health.Status)
	assert.Equal(t, "connection refused", health.Details["redis"])
}

func TestRouter_SystemStatus(t *testing.T) {
	env := newTestEnv(t, &fakePlanner{plan: testPlan(t)}, nil)
	_, err := env.rides.StartPlan(testPlan(t))
	require.NoError(t, err)

	w := env.do(t, http.MethodGet, "/v1/ops/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	status := decodeBody[models.SystemStatus](t, w)
	assert.Equal(t, models.HealthStatusOK, status.Status)
	assert.Equal(t, 1, status.ActiveRides)
	require.Len(t, status.Providers, 1)
	assert.Equal(t, "openrouteservice", status.Providers[0].Provider)
	assert.Equal(t, "closed", status.Providers[0].CircuitState)
	require.NotNil(t, status.Cache)
	assert.Equal(t, "memory", status.Cache.Backend)
}

func TestRouter_PlanRoute(t *testing.T) {
	env := newTestEnv(t, &fakePlanner{plan: testPlan(t)}, nil)

	w := env.do(t, http.MethodPost, "/v1/routes:plan", planRequest())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	plan := decodeBody[models.RoutePlanResponse](t, w)
	assert.Equal(t, routing.StrategyStrict, plan.Strategy)
	assert.Equal(t, instruction.LangPortuguese, plan.Language)
	assert.Equal(t, "easy", plan.Difficulty)
	require.Len(t, plan.Steps, 3)
	assert.Equal(t, "step-a", plan.Steps[0].ID)
	require.NotNil(t, plan.Geometry)
	assert.Len(t, plan.Geometry.Features, 3, "one point per step, no line without a path")
	assert.Equal(t, int32(1), env.planner.calls.Load())
}

func TestRouter_PlanRouteValidation(t *testing.T) {
	env := newTestEnv(t, &fakePlanner{plan: testPlan(t)}, nil)

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"missing origin", `{"destination":{"address":"Rua Augusta"}}`, "origin.point"},
		{"latitude out of range", `{"origin":{"point":{"lat":95,"lon":0}},"destination":{"address":"x"}}`, "origin.point.lat"},
		{"unknown field", `{"origin":{"address":"a"},"destination":{"address":"b"},"mode":"car"}`, ""},
		{"not json", `{`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/routes:plan", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()
			env.router.ServeHTTP(w, req)

			require.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
			problem := decodeBody[models.Problem](t, w)
			assert.Equal(t, models.ProblemTypeValidation, problem.Type)
			if tt.field != "" {
				require.NotEmpty(t, problem.Errors)
				assert.Equal(t, tt.field, problem.Errors[0].Field)
			}
		})
	}
	assert.Zero(t, env.planner.calls.Load())
}

func TestRouter_PlanRouteErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
		typ    string
	}{
		{routing.ErrAllStrategiesFailed, http.StatusUnprocessableEntity, models.ProblemTypeNoRoute},
		{routing.ErrGeocodingFailed, http.StatusUnprocessableEntity, models.ProblemTypeNoRoute},
		{routing.ErrProviderUnavailable, http.StatusServiceUnavailable, models.ProblemTypeUnavailable},
		{routing.ErrRateLimitExceeded, http.StatusServiceUnavailable, models.ProblemTypeUnavailable},
		{instruction.ErrUnsupportedLanguage, http.StatusBadRequest, models.ProblemTypeValidation},
		{errors.New("boom"), http.StatusInternalServerError, models.ProblemTypeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			env := newTestEnv(t, &fakePlanner{err: tt.err}, nil)
			w := env.do(t, http.MethodPost, "/v1/routes:plan", planRequest())

			assert.Equal(t, tt.status, w.Code)
			problem := decodeBody[models.Problem](t, w)
			assert.Equal(t, tt.typ, problem.Type)
			assert.NotEmpty(t, problem.TraceID)
		})
	}
}

func TestRouter_RideLifecycle(t *testing.T) {
	env := newTestEnv(t, &fakePlanner{plan: testPlan(t)}, nil)

	w := env.do(t, http.MethodPost, "/v1/rides", planRequest())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	started := decodeBody[models.RideStartResponse](t, w)
	id := started.Ride.ID
	require.NotEmpty(t, id)
	assert.Equal(t, "/v1/rides/"+id, w.Header().Get("Location"))
	assert.Equal(t, 3, started.Ride.Navigation.StepCount)
	assert.Len(t, started.Plan.Steps, 3)

	base := "/v1/rides/" + id
	start := time.Now().UTC().Truncate(time.Second)
	fix := func(p geo.Coordinate, at time.Time) models.FixInput {
		ts := models.Timestamp(at)
		return models.FixInput{Lat: p.Lat, Lon: p.Lng, Time: &ts}
	}

	w = env.do(t, http.MethodPost, base+"/fixes", models.FixBatchRequest{
		Fixes: []models.FixInput{fix(stepAt(0), start)},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, 1, decodeBody[models.FixBatchResponse](t, w).Accepted)

	require.Eventually(t, func() bool {
		w := env.do(t, http.MethodGet, base, nil)
		return decodeBody[models.RideStatus](t, w).Navigation.StepIndex == 1
	}, time.Second, 10*time.Millisecond)

	w = env.do(t, http.MethodPut, base+"/language", models.LanguageRequest{Language: "en"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	status := decodeBody[models.RideStatus](t, w)
	assert.Equal(t, instruction.LangEnglish, status.Navigation.Language)
	require.NotNil(t, status.Navigation.CurrentStep)
	assert.Equal(t, "Continue straight", status.Navigation.CurrentStep.Instruction)

	w = env.do(t, http.MethodPut, base+"/language", models.LanguageRequest{Language: "de"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, base+"/pause", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeBody[models.RideStatus](t, w).Activity.Paused)

	w = env.do(t, http.MethodPost, base+"/resume", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decodeBody[models.RideStatus](t, w).Activity.Paused)

	w = env.do(t, http.MethodDelete, base, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	summary := decodeBody[models.RideSummary](t, w)
	assert.Equal(t, id, summary.RideID)
	assert.Equal(t, instruction.LangEnglish, summary.Language)
	assert.Equal(t, string(routing.StrategyStrict), summary.Strategy)

	w = env.do(t, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Zero(t, env.rides.Count())
}

func TestRouter_UnknownRide(t *testing.T) {
	env := newTestEnv(t, &fakePlanner{}, nil)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/v1/rides/nope"},
		{http.MethodDelete, "/v1/rides/nope"},
		{http.MethodPost, "/v1/rides/nope/pause"},
	} {
		w := env.do(t, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, tc.path)
		assert.Equal(t, models.ProblemTypeNotFound, decodeBody[models.Problem](t, w).Type)
	}
}

func TestRouter_PushFixesValidation(t *testing.T) {
	env := newTestEnv(t, &fakePlanner{plan: testPlan(t)}, nil)
	rd, err := env.rides.StartPlan(testPlan(t))
	require.NoError(t, err)

	w := env.do(t, http.MethodPost, "/v1/rides/"+rd.ID()+"/fixes", models.FixBatchRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/v1/rides/"+rd.ID()+"/fixes", models.FixBatchRequest{
		Fixes: []models.FixInput{{Lat: 91, Lon: 0}},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	problem := decodeBody[models.Problem](t, w)
	require.NotEmpty(t, problem.Errors)
	assert.Equal(t, "fixes[0].lat", problem.Errors[0].Field)
}

func TestRouter_RejectsNonJSONBody(t *testing.T) {
	env := newTestEnv(t, &fakePlanner{plan: testPlan(t)}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/routes:plan", bytes.NewBufferString("origin=a"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	problem := decodeBody[models.Problem](t, w)
	assert.Equal(t, models.ProblemTypeMediaType, problem.Type)
	assert.Equal(t, "/v1/routes:plan", problem.Instance)
	assert.Zero(t, env.planner.calls.Load())
}

func TestRouter_NotFound(t *testing.T) {
	env := newTestEnv(t, &fakePlanner{}, nil)
	w := env.do(t, http.MethodGet, "/v1/nonexistent", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
