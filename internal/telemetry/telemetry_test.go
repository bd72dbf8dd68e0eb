package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/skillflow/config"
)

// keepGlobals 测试结束时还原全局 provider
func keepGlobals(t *testing.T) {
	t.Helper()
	tp, mp := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
	})
}

func shutdownQuickly(t *testing.T, p *Providers) {
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		// 没有 collector，导出失败是预期的
		_ = p.Shutdown(ctx)
	})
}

func TestInit_DisabledInstallsNothing(t *testing.T) {
	keepGlobals(t)
	before := otel.GetTracerProvider()

	p, err := Init(context.Background(), config.TelemetryConfig{}, "v1.0.0", zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.False(t, p.Enabled())
	assert.Same(t, before, otel.GetTracerProvider())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_EnabledInstallsSDKProviders(t *testing.T) {
	keepGlobals(t)

	p, err := Init(context.Background(), config.TelemetryConfig{
		Enabled:      true,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "skillflow-test",
		SampleRate:   0.5,
	}, "", zaptest.NewLogger(t))
	require.NoError(t, err)
	shutdownQuickly(t, p)

	assert.True(t, p.Enabled())
	assert.IsType(t, &sdktrace.TracerProvider{}, otel.GetTracerProvider())
	assert.IsType(t, &sdkmetric.MeterProvider{}, otel.GetMeterProvider())
}

func TestProviders_ShutdownNil(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
	assert.False(t, p.Enabled())
}

func TestInit_NilLogger(t *testing.T) {
	keepGlobals(t)
	p, err := Init(context.Background(), config.TelemetryConfig{}, "", nil)
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestSkillSpans(t *testing.T) {
	keepGlobals(t)
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))

	_, ok := StartSkillSpan(context.Background(), "skill.call", "fetch", attribute.Int("skill.attempt", 1))
	EndSpan(ok, nil)

	_, failed := StartSkillSpan(context.Background(), "skill.reload", "fetch")
	EndSpan(failed, errors.New("manifest invalid"), attribute.String("skill.status", "failure"))

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "skill.call", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("skill.id", "fetch"))
	assert.Contains(t, spans[0].Attributes(), attribute.Int("skill.attempt", 1))
	assert.Equal(t, codes.Ok, spans[0].Status().Code)

	assert.Equal(t, "skill.reload", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "manifest invalid", spans[1].Status().Description)
	assert.Contains(t, spans[1].Attributes(), attribute.String("skill.status", "failure"))
	assert.Len(t, spans[1].Events(), 1, "error recorded as span event")
}
