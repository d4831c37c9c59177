package handler

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/pedalei/pedalei/internal/api/models"
	"github.com/pedalei/pedalei/internal/api/response"
	"github.com/pedalei/pedalei/internal/routing"
)

// RoutePlanner plans routes. *routing.Planner satisfies it.
type RoutePlanner interface {
	Plan(ctx context.Context, req routing.PlanRequest) (*routing.Plan, error)
}

// RouteHandler handles routing endpoints.
type RouteHandler struct {
	planner  RoutePlanner
	language string
	logger   zerolog.Logger
}

// NewRouteHandler creates a new RouteHandler. Requests without a language
// are planned in defaultLang; an empty defaultLang leaves the choice to the
// planner.
func NewRouteHandler(planner RoutePlanner, defaultLang string, logger zerolog.Logger) *RouteHandler {
	return &RouteHandler{planner: planner, language: defaultLang, logger: logger}
}

// PlanRoute handles POST /v1/routes:plan.
func (h *RouteHandler) PlanRoute(w http.ResponseWriter, r *http.Request) {
	var input models.RoutePlanRequest
	if detail, errs, ok := decode(r, &input); !ok {
		response.BadRequest(w, r, detail, errs)
		return
	}

	plan, err := h.planner.Plan(r.Context(), toPlanRequest(input, h.language))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	response.JSON(w, r, http.StatusOK, planResponse(plan))
}
