package worker

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/pedalei/pedalei/internal/api/middleware"
	"github.com/pedalei/pedalei/internal/api/models"
	"github.com/pedalei/pedalei/internal/api/response"
)

// TotalsReader is the read side of the totals store.
type TotalsReader interface {
	Day(ctx context.Context, day string) (DailyTotals, error)
	Health(ctx context.Context) error
}

// RouterConfig configures the worker's ops server.
type RouterConfig struct {
	Totals  TotalsReader
	Version string
	Logger  zerolog.Logger

	// Now defaults to time.Now; it picks the day when none is requested.
	Now func() time.Time
}

// NewRouter serves worker health and daily totals.
func NewRouter(cfg RouterConfig) *chi.Mux {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		health := models.Health{
			Status:  models.HealthStatusOK,
			Time:    models.Timestamp(cfg.Now()),
			Details: map[string]any{"version": cfg.Version},
		}
		if err := cfg.Totals.Health(r.Context()); err != nil {
			health.Status = models.HealthStatusFail
			health.Details["redis"] = err.Error()
			response.JSON(w, r, http.StatusServiceUnavailable, health)
			return
		}
		response.JSON(w, r, http.StatusOK, health)
	})

	r.Get("/totals", func(w http.ResponseWriter, r *http.Request) {
		day := r.URL.Query().Get("day")
		if day == "" {
			day = cfg.Now().UTC().Format(DayLayout)
		}
		if _, err := time.Parse(DayLayout, day); err != nil {
			response.BadRequest(w, r, "day must be YYYY-MM-DD", []models.FieldError{{
				Field: "day", Message: "must be a date formatted as YYYY-MM-DD", Code: "datetime",
			}})
			return
		}

		totals, err := cfg.Totals.Day(r.Context(), day)
		if err != nil {
			cfg.Logger.Error().Err(err).Str("day", day).Msg("failed to read daily totals")
			response.Error(w, r, models.NewServiceUnavailable(middleware.GetRequestID(r.Context()), "totals store unavailable"))
			return
		}
		response.JSON(w, r, http.StatusOK, totals)
	})

	return r
}
