package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/pedalei/pedalei/internal/api/models"
	"github.com/pedalei/pedalei/internal/api/response"
	"github.com/pedalei/pedalei/internal/ride"
	"github.com/pedalei/pedalei/internal/routing"
)

// RideManager keeps the active rides. *ride.Manager satisfies it.
type RideManager interface {
	Start(ctx context.Context, req routing.PlanRequest) (*ride.Ride, error)
	Get(id string) (*ride.Ride, error)
	Stop(ctx context.Context, id string) (ride.Summary, error)
	Count() int
}

// RideHandler handles ride endpoints.
type RideHandler struct {
	rides    RideManager
	language string
	logger   zerolog.Logger
	now      func() time.Time
}

// NewRideHandler creates a new RideHandler.
func NewRideHandler(rides RideManager, defaultLang string, logger zerolog.Logger) *RideHandler {
	return &RideHandler{rides: rides, language: defaultLang, logger: logger, now: time.Now}
}

// StartRide handles POST /v1/rides - plans a route and starts guidance and
// tracking on it.
func (h *RideHandler) StartRide(w http.ResponseWriter, r *http.Request) {
	var input models.RoutePlanRequest
	if detail, errs, ok := decode(r, &input); !ok {
		response.BadRequest(w, r, detail, errs)
		return
	}

	rd, err := h.rides.Start(r.Context(), toPlanRequest(input, h.language))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.logger.Info().Str("ride_id", rd.ID()).Msg("ride created")
	response.Created(w, r, "/v1/rides/"+rd.ID(), models.RideStartResponse{
		Ride: rideStatus(rd.Snapshot()),
		Plan: planResponse(rd.Plan()),
	})
}

// GetRide handles GET /v1/rides/{rideId}.
func (h *RideHandler) GetRide(w http.ResponseWriter, r *http.Request) {
	rd, ok := h.ride(w, r)
	if !ok {
		return
	}
	response.JSON(w, r, http.StatusOK, rideStatus(rd.Snapshot()))
}

// PushFixes handles POST /v1/rides/{rideId}/fixes.
func (h *RideHandler) PushFixes(w http.ResponseWriter, r *http.Request) {
	rd, ok := h.ride(w, r)
	if !ok {
		return
	}

	var input models.FixBatchRequest
	if detail, errs, ok := decode(r, &input); !ok {
		response.BadRequest(w, r, detail, errs)
		return
	}

	now := h.now()
	accepted := 0
	for _, in := range input.Fixes {
		if err := rd.Push(r.Context(), toFix(in, now)); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		accepted++
	}

	response.Accepted(w, r, "/v1/rides/"+rd.ID(), models.FixBatchResponse{
		Accepted: accepted,
		Ride:     rideStatus(rd.Snapshot()),
	})
}

// PauseRide handles POST /v1/rides/{rideId}/pause.
func (h *RideHandler) PauseRide(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, func(rd *ride.Ride) error { return rd.Pause() })
}

// ResumeRide handles POST /v1/rides/{rideId}/resume.
func (h *RideHandler) ResumeRide(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, func(rd *ride.Ride) error { return rd.Resume() })
}

// SetLanguage handles PUT /v1/rides/{rideId}/language.
func (h *RideHandler) SetLanguage(w http.ResponseWriter, r *http.Request) {
	var input models.LanguageRequest
	if detail, errs, ok := decode(r, &input); !ok {
		response.BadRequest(w, r, detail, errs)
		return
	}
	h.apply(w, r, func(rd *ride.Ride) error { return rd.SetLanguage(input.Language) })
}

// StopRide handles DELETE /v1/rides/{rideId} and returns the summary.
// A failure to publish the summary is logged; the rider still gets it.
func (h *RideHandler) StopRide(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "rideId")
	summary, err := h.rides.Stop(r.Context(), id)
	if err != nil && summary.RideID == "" {
		writeError(w, r, h.logger, err)
		return
	}
	if err != nil {
		h.logger.Warn().Err(err).Str("ride_id", id).Msg("ride summary not published")
	}
	response.JSON(w, r, http.StatusOK, rideSummary(summary))
}

func (h *RideHandler) ride(w http.ResponseWriter, r *http.Request) (*ride.Ride, bool) {
	rd, err := h.rides.Get(chi.URLParam(r, "rideId"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return nil, false
	}
	return rd, true
}

func (h *RideHandler) apply(w http.ResponseWriter, r *http.Request, fn func(*ride.Ride) error) {
	rd, ok := h.ride(w, r)
	if !ok {
		return
	}
	if err := fn(rd); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, rideStatus(rd.Snapshot()))
}
