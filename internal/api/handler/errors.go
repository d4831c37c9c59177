package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/pedalei/pedalei/internal/activity"
	"github.com/pedalei/pedalei/internal/api/middleware"
	"github.com/pedalei/pedalei/internal/api/models"
	"github.com/pedalei/pedalei/internal/api/response"
	"github.com/pedalei/pedalei/internal/instruction"
	"github.com/pedalei/pedalei/internal/location"
	"github.com/pedalei/pedalei/internal/ride"
	"github.com/pedalei/pedalei/internal/routing"
)

// writeError maps a domain error to an RFC 7807 problem.
func writeError(w http.ResponseWriter, r *http.Request, logger zerolog.Logger, err error) {
	traceID := middleware.GetRequestID(r.Context())

	var problem *models.Problem
	switch {
	case errors.Is(err, instruction.ErrUnsupportedLanguage),
		errors.Is(err, routing.ErrInvalidCoordinates),
		errors.Is(err, location.ErrInvalidFix):
		problem = models.NewBadRequest(traceID, err.Error(), nil)
	case errors.Is(err, ride.ErrRideNotFound):
		problem = models.NewNotFound(traceID, "ride not found")
	case errors.Is(err, location.ErrSourceClosed),
		errors.Is(err, activity.ErrNotActive):
		problem = models.NewConflict(traceID, "ride is no longer active")
	case errors.Is(err, ride.ErrTooManyRides):
		problem = models.NewServiceUnavailable(traceID, "too many active rides, try again later")
	case errors.Is(err, routing.ErrRateLimitExceeded):
		problem = models.NewServiceUnavailable(traceID, "routing provider quota exceeded, try again later")
		response.RetryAfter(w, time.Minute)
	case errors.Is(err, routing.ErrProviderUnavailable):
		problem = models.NewServiceUnavailable(traceID, "routing provider unavailable")
	case errors.Is(err, routing.ErrGeocodingFailed),
		errors.Is(err, routing.ErrNoRouteFound),
		errors.Is(err, routing.ErrAllStrategiesFailed),
		errors.Is(err, routing.ErrRoutingFailed):
		problem = models.NewNoRoute(traceID, err.Error())
	default:
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("unhandled error")
		problem = models.NewInternalError(traceID, "an unexpected error occurred")
	}
	response.Error(w, r, problem)
}
