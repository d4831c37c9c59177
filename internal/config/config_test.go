package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, key := range []string{"APP_PORT", "OTEL_ENABLED", "REDIS_ADDR", "ORS_TIMEOUT", "MAX_RIDES", "PUBSUB_PROJECT_ID", "OTEL_TRACES_SAMPLER_ARG", "RATE_LIMIT_RPM"} {
		t.Setenv(key, "")
	}

	cfg := FromEnv()
	assert.Equal(t, "8080", cfg.Port)
	assert.False(t, cfg.OTelEnabled)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, 10*time.Second, cfg.ORSTimeout)
	assert.Equal(t, 1000, cfg.MaxRides)
	assert.Equal(t, "ride-summaries", cfg.SummaryTopic)
	assert.Equal(t, 1.0, cfg.TraceSampleRatio)
	assert.Equal(t, 30, cfg.RateLimitRPM)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("APP_PORT", "9090")
	t.Setenv("APP_ENV", "Production")
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("ORS_TIMEOUT", "3s")
	t.Setenv("MAX_RIDES", "5")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.25")

	cfg := FromEnv()
	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.IsProduction())
	assert.True(t, cfg.OTelEnabled)
	assert.Equal(t, 3*time.Second, cfg.ORSTimeout)
	assert.Equal(t, 5, cfg.MaxRides)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, 0.25, cfg.TraceSampleRatio)
}

func TestFromEnv_UnparsableFallsBack(t *testing.T) {
	t.Setenv("MAX_RIDES", "lots")
	t.Setenv("ORS_TIMEOUT", "soon")
	t.Setenv("OTEL_ENABLED", "maybe")

	cfg := FromEnv()
	assert.Equal(t, 1000, cfg.MaxRides)
	assert.Equal(t, 10*time.Second, cfg.ORSTimeout)
	assert.False(t, cfg.OTelEnabled)
}
