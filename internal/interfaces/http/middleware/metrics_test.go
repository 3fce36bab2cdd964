package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/feedbridge/backend/internal/infrastructure/telemetry"
)

func metricsRouter(t *testing.T) (*gin.Engine, *sdkmetric.ManualReader) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	engine := gin.New()
	engine.Use(HTTPMetricsWithMeter(mp.Meter("test")))
	engine.GET("/api/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"phase": "idle"})
	})
	engine.POST("/api/sync", func(c *gin.Context) {
		c.JSON(http.StatusAccepted, gin.H{"started": true})
	})
	return engine, reader
}

func collectScope(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func scopeMetric(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func requestCount(t *testing.T, rm metricdata.ResourceMetrics, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	m, ok := scopeMetric(rm, "http_server_request_total")
	if !ok {
		return 0
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)

	var total int64
	for _, dp := range sum.DataPoints {
		matches := true
		for _, want := range attrs {
			if got, has := dp.Attributes.Value(want.Key); !has || got != want.Value {
				matches = false
				break
			}
		}
		if matches {
			total += dp.Value
		}
	}
	return total
}

func TestHTTPMetricsRequestCounter(t *testing.T) {
	engine, reader := metricsRouter(t)

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/sync", nil))
	require.Equal(t, http.StatusAccepted, w.Code)

	rm := collectScope(t, reader)
	assert.Equal(t, int64(3), requestCount(t, rm,
		telemetry.AttrHTTPRoute.String("/api/status"),
		telemetry.AttrHTTPStatusCode.Int(http.StatusOK),
	))
	assert.Equal(t, int64(1), requestCount(t, rm,
		telemetry.AttrHTTPMethod.String(http.MethodPost),
		telemetry.AttrHTTPStatusCode.Int(http.StatusAccepted),
	))
}

func TestHTTPMetricsUnmatchedRoute(t *testing.T) {
	engine, reader := metricsRouter(t)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	// Unmatched paths collapse into a single route label.
	rm := collectScope(t, reader)
	assert.Equal(t, int64(1), requestCount(t, rm,
		telemetry.AttrHTTPRoute.String("unknown"),
		telemetry.AttrHTTPStatusCode.Int(http.StatusNotFound),
	))
}

func TestHTTPMetricsDuration(t *testing.T) {
	engine, reader := metricsRouter(t)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, w.Code)

	rm := collectScope(t, reader)
	m, ok := scopeMetric(rm, "http_server_request_duration_seconds")
	require.True(t, ok)
	hist, ok := m.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.NotEmpty(t, hist.DataPoints)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
}

func TestHTTPMetricsActiveRequestsDrain(t *testing.T) {
	engine, reader := metricsRouter(t)

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	}

	rm := collectScope(t, reader)
	m, ok := scopeMetric(rm, "http_server_active_requests")
	require.True(t, ok)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)

	var inflight int64
	for _, dp := range sum.DataPoints {
		inflight += dp.Value
	}
	assert.Zero(t, inflight)
}

func TestHTTPMetricsNilProvider(t *testing.T) {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(HTTPMetrics(nil))
	engine.GET("/api/status", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
