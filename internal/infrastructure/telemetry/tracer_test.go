package telemetry_test

import (
	"context"
	"sync"
	"testing"

	"github.com/feedbridge/backend/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func disabledTracerProvider(t *testing.T) *telemetry.TracerProvider {
	t.Helper()
	tp, err := telemetry.NewTracerProvider(context.Background(), telemetry.TraceConfig{
		Enabled:           false,
		CollectorEndpoint: "localhost:14317",
		SamplingRatio:     1.0,
		ServiceName:       "feedbridge",
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return tp
}

func TestNewTracerProvider_Disabled(t *testing.T) {
	ctx := context.Background()
	tp := disabledTracerProvider(t)

	assert.False(t, tp.IsEnabled())

	// Even disabled, tracers are handed out and spans are no-ops.
	tracer := tp.Tracer("feedbridge/sync")
	require.NotNil(t, tracer)
	_, span := tracer.Start(ctx, "sync.run")
	span.End()

	assert.NoError(t, tp.ForceFlush(ctx))
	assert.NoError(t, tp.Shutdown(ctx))
}

func TestTracerProvider_ShutdownDisabledIgnoresContext(t *testing.T) {
	tp := disabledTracerProvider(t)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, tp.Shutdown(cancelled))
}

func TestNewTracerProvider_Enabled(t *testing.T) {
	// Needs a reachable OTLP collector, so only runs outside short mode.
	if testing.Short() {
		t.Skip("skipping collector test in short mode")
	}

	ctx := context.Background()
	tp, err := telemetry.NewTracerProvider(ctx, telemetry.TraceConfig{
		Enabled:           true,
		CollectorEndpoint: "localhost:14317",
		SamplingRatio:     1.0,
		ServiceName:       "feedbridge",
		Insecure:          true,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.True(t, tp.IsEnabled())

	_, span := tp.Tracer("feedbridge/sync").Start(ctx, "sync.run")
	span.End()

	assert.NoError(t, tp.ForceFlush(ctx))
	assert.NoError(t, tp.Shutdown(ctx))
}

func TestTracerProvider_SpanProfilesStayOffWhenDisabled(t *testing.T) {
	tp := disabledTracerProvider(t)

	assert.False(t, tp.IsSpanProfilesEnabled())
	require.NoError(t, tp.EnableSpanProfiles())
	assert.False(t, tp.IsSpanProfilesEnabled())
}

func TestTracerProvider_SpanProfilesConcurrentAccess(t *testing.T) {
	tp := disabledTracerProvider(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tp.EnableSpanProfiles()
			_ = tp.IsSpanProfilesEnabled()
		}()
	}
	wg.Wait()

	assert.False(t, tp.IsSpanProfilesEnabled())
}
