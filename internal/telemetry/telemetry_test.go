package telemetry_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/pedalei/pedalei/internal/telemetry"
)

func TestInit_DisabledUsesGlobals(t *testing.T) {
	ctx := context.Background()

	provider, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:  "pedalei-api",
		OTLPEndpoint: "localhost:4317",
		SampleRatio:  0.5,
	})
	require.NoError(t, err)

	assert.Nil(t, provider.TracerProvider, "no exporter is started while disabled")
	assert.Nil(t, provider.MeterProvider)
	require.NotNil(t, provider.Tracer)
	require.NotNil(t, provider.Meter)
	assert.NoError(t, provider.Shutdown(ctx))
	assert.NoError(t, (&telemetry.Provider{}).Shutdown(ctx))
}

func TestSampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{0, "AlwaysOnSampler"},
		{1, "AlwaysOnSampler"},
		{1.5, "AlwaysOnSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		assert.Contains(t, telemetry.Sampler(tt.ratio).Description(), tt.want)
	}
}

func TestSampler_FollowsSampledParent(t *testing.T) {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(telemetry.Sampler(1e-9)))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	parent := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x0a, 0xf7, 0x65, 0x19},
		SpanID:     trace.SpanID{0x00, 0xf0, 0x67, 0xaa},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	ctx := trace.ContextWithRemoteSpanContext(context.Background(), parent)

	_, span := tp.Tracer("ride").Start(ctx, "POST /v1/rides/{rideId}/fixes")
	defer span.End()
	assert.True(t, span.SpanContext().IsSampled())
	assert.Equal(t, parent.TraceID(), span.SpanContext().TraceID())
}

func TestTracerAndMeter_FollowGlobalProviders(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, span := telemetry.Tracer("planner").Start(context.Background(), "plan")
	span.End()

	require.Len(t, recorder.Ended(), 1)
	assert.Equal(t, "plan", recorder.Ended()[0].Name())
	assert.Equal(t, "planner", recorder.Ended()[0].InstrumentationScope().Name)
	assert.NotNil(t, telemetry.Meter("planner"))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := telemetry.NewLogger(telemetry.LoggerConfig{
		ServiceName:    "pedalei-api",
		ServiceVersion: "1.2.3",
		Level:          "warn",
		Output:         &buf,
	})

	log.Info().Msg("hidden")
	assert.Empty(t, buf.String())

	log.Warn().Msg("shown")
	assert.Contains(t, buf.String(), `"service":"pedalei-api"`)
	assert.Contains(t, buf.String(), `"version":"1.2.3"`)
	assert.Contains(t, buf.String(), `"message":"shown"`)
}

func TestNewLogger_UnknownLevelIsInfo(t *testing.T) {
	var buf bytes.Buffer
	log := telemetry.NewLogger(telemetry.LoggerConfig{Level: "chatty", Output: &buf})

	log.Debug().Msg("hidden")
	log.Info().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
