package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pedalei/pedalei/internal/api/models"
	"github.com/pedalei/pedalei/internal/worker"
)

type brokenTotals struct{}

func (brokenTotals) Day(context.Context, string) (worker.DailyTotals, error) {
	return worker.DailyTotals{}, errors.New("connection refused")
}

func (brokenTotals) Health(context.Context) error { return errors.New("connection refused") }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestRouter_TotalsDefaultsToToday(t *testing.T) {
	proc, totals, _ := newProcessor(t)
	outcome := proc.Process(context.Background(), summaryMessage(t, "ride-1", 4200, true), summaryAttrs, time.Time{})
	require.Equal(t, worker.Ack, outcome)

	router := worker.NewRouter(worker.RouterConfig{
		Totals: totals,
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return ended.Add(time.Hour) },
	})

	w := get(t, router, "/totals")
	require.Equal(t, http.StatusOK, w.Code)

	var got worker.DailyTotals
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "2024-03-01", got.Day)
	assert.Equal(t, int64(1), got.Rides)
	assert.InDelta(t, 4.2, got.DistanceKm, 1e-9)

	w = get(t, router, "/totals?day=2024-02-29")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Zero(t, got.Rides)
}

func TestRouter_RejectsBadDay(t *testing.T) {
	_, totals, _ := newProcessor(t)
	router := worker.NewRouter(worker.RouterConfig{Totals: totals, Logger: zerolog.Nop()})

	w := get(t, router, "/totals?day=yesterday")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var problem models.Problem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
	require.Len(t, problem.Errors, 1)
	assert.Equal(t, "day", problem.Errors[0].Field)
}

func TestRouter_Health(t *testing.T) {
	_, totals, _ := newProcessor(t)
	router := worker.NewRouter(worker.RouterConfig{Totals: totals, Version: "1.0.0", Logger: zerolog.Nop()})
	assert.Equal(t, http.StatusOK, get(t, router, "/health").Code)

	broken := worker.NewRouter(worker.RouterConfig{Totals: brokenTotals{}, Logger: zerolog.Nop()})
	w := get(t, broken, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")

	assert.Equal(t, http.StatusServiceUnavailable, get(t, broken, "/totals").Code)
}
