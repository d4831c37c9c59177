// Package handler provides HTTP handlers for the pedalei API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/pedalei/pedalei/internal/api/models"
	"github.com/pedalei/pedalei/internal/api/response"
	"github.com/pedalei/pedalei/internal/provider/resilience"
	"github.com/pedalei/pedalei/internal/routing"
)

// CacheStatter reports directions cache statistics.
type CacheStatter interface {
	CacheStats(ctx context.Context) (routing.CacheStats, error)
}

// HealthChecker is a dependency the readiness check pings.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// OpsConfig holds the dependencies of the ops endpoints. Every field but the
// version strings is optional.
type OpsConfig struct {
	Version   string
	BuildTime string
	Registry  *resilience.Registry
	Cache     CacheStatter
	Redis     HealthChecker
	Rides     interface{ Count() int }
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	cfg OpsConfig
	now func() time.Time
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	return &OpsHandler{cfg: cfg, now: time.Now}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.now()),
		Details: map[string]any{
			"version":   h.cfg.Version,
			"buildTime": h.cfg.BuildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready - fails while Redis is unreachable.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.now()),
	}
	if h.cfg.Redis != nil {
		if err := h.cfg.Redis.Health(r.Context()); err != nil {
			health.Status = models.HealthStatusFail
			health.Details = map[string]any{"redis": err.Error()}
			response.JSON(w, r, http.StatusServiceUnavailable, health)
			return
		}
	}
	response.JSON(w, r, http.StatusOK, health)
}

// SystemStatus handles GET /v1/ops/status - provider circuits, cache and rides.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	status := models.SystemStatus{
		Status:     models.HealthStatusOK,
		Time:       models.Timestamp(h.now()),
		Subsystems: []models.SubsystemStatus{},
		Providers:  []models.ProviderStatus{},
	}

	if h.cfg.Registry != nil {
		for _, p := range h.cfg.Registry.All() {
			ps := models.ProviderStatus{
				Provider:      p.Name,
				Status:        models.HealthStatus(p.Level()),
				CircuitState:  p.CircuitState.String(),
				LastSuccessAt: timestampPtr(p.LastSuccessAt),
				LastFailureAt: timestampPtr(p.LastFailureAt),
			}
			if p.LastError != "" {
				msg := p.LastError
				ps.Message = &msg
			}
			status.Providers = append(status.Providers, ps)
		}
		status.Status = worst(status.Status, models.HealthStatus(h.cfg.Registry.Level()))
	}

	if h.cfg.Cache != nil {
		sub := models.SubsystemStatus{Name: "directions-cache", Status: models.HealthStatusOK}
		stats, err := h.cfg.Cache.CacheStats(r.Context())
		if err != nil {
			detail := err.Error()
			sub.Status = models.HealthStatusDegraded
			sub.Detail = &detail
		} else {
			status.Cache = &models.CacheStatus{
				Backend:      stats.Backend,
				TotalEntries: stats.TotalEntries,
				FreshEntries: stats.FreshEntries,
				StaleEntries: stats.StaleEntries,
			}
		}
		status.Subsystems = append(status.Subsystems, sub)
		status.Status = worst(status.Status, sub.Status)
	}

	if h.cfg.Redis != nil {
		sub := models.SubsystemStatus{Name: "redis", Status: models.HealthStatusOK}
		if err := h.cfg.Redis.Health(r.Context()); err != nil {
			detail := err.Error()
			sub.Status = models.HealthStatusFail
			sub.Detail = &detail
		}
		status.Subsystems = append(status.Subsystems, sub)
		status.Status = worst(status.Status, sub.Status)
	}

	if h.cfg.Rides != nil {
		status.ActiveRides = h.cfg.Rides.Count()
	}

	response.JSON(w, r, http.StatusOK, status)
}

func worst(a, b models.HealthStatus) models.HealthStatus {
	rank := map[models.HealthStatus]int{
		models.HealthStatusOK:       0,
		models.HealthStatusDegraded: 1,
		models.HealthStatusFail:     2,
	}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
