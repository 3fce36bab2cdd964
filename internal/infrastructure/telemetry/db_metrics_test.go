package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func metricsHarness(t *testing.T) (*sdkmetric.ManualReader, *DBMetrics, *gorm.DB) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)

	metrics, err := NewDBMetrics(provider.Meter("test"), sqlDB, DefaultDBMetricsConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(metrics.Stop)

	return reader, metrics, db
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name string, attr attribute.KeyValue) int64 {
	t.Helper()
	m, ok := findMetric(rm, name)
	if !ok {
		return 0
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range sum.DataPoints {
		if v, has := dp.Attributes.Value(attr.Key); !has || v == attr.Value {
			total += dp.Value
		}
	}
	return total
}

func TestDefaultDBMetricsConfig(t *testing.T) {
	cfg := DefaultDBMetricsConfig()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 200*time.Millisecond, cfg.SlowQueryThreshold)
}

func TestDBMetricsRecordQuery(t *testing.T) {
	ctx := context.Background()

	t.Run("counts and times statements by verb", func(t *testing.T) {
		reader, metrics, _ := metricsHarness(t)

		metrics.RecordQuery(ctx, "SELECT", "sync_runs", 50*time.Millisecond)
		metrics.RecordQuery(ctx, "select", "sync_runs", 10*time.Millisecond)

		rm := collect(t, reader)
		assert.EqualValues(t, 2, counterValue(t, rm, "db_query_total", AttrDBOperation.String("SELECT")))
		_, ok := findMetric(rm, "db_query_duration_seconds")
		assert.True(t, ok)
	})

	t.Run("empty verb is recorded as UNKNOWN", func(t *testing.T) {
		reader, metrics, _ := metricsHarness(t)

		metrics.RecordQuery(ctx, "", "sync_runs", time.Millisecond)

		rm := collect(t, reader)
		assert.EqualValues(t, 1, counterValue(t, rm, "db_query_total", AttrDBOperation.String("UNKNOWN")))
	})

	t.Run("statements over the threshold count as slow", func(t *testing.T) {
		reader, metrics, _ := metricsHarness(t)

		metrics.RecordQuery(ctx, "SELECT", "sync_runs", 300*time.Millisecond)
		metrics.RecordQuery(ctx, "SELECT", "sync_runs", 10*time.Millisecond)

		rm := collect(t, reader)
		assert.EqualValues(t, 1, counterValue(t, rm, "db_slow_query_total", AttrDBTable.String("sync_runs")))
	})

	t.Run("slow statement without a table lands under unknown", func(t *testing.T) {
		reader, metrics, _ := metricsHarness(t)

		metrics.RecordQuery(ctx, "SELECT", "", 300*time.Millisecond)

		rm := collect(t, reader)
		assert.EqualValues(t, 1, counterValue(t, rm, "db_slow_query_total", AttrDBTable.String("unknown")))
	})
}

func TestDBMetricsPoolGauges(t *testing.T) {
	reader, _, _ := metricsHarness(t)

	// Observable gauges are sampled at collect time.
	rm := collect(t, reader)
	_, ok := findMetric(rm, "db_pool_connections")
	assert.True(t, ok)
	_, ok = findMetric(rm, "db_pool_connections_max")
	assert.True(t, ok)
}

func TestDBMetricsStop(t *testing.T) {
	reader, metrics, _ := metricsHarness(t)

	metrics.Stop()
	metrics.Stop() // idempotent

	// After Stop the pool callback no longer produces samples.
	rm := collect(t, reader)
	if m, ok := findMetric(rm, "db_pool_connections"); ok {
		gauge, isGauge := m.Data.(metricdata.Gauge[int64])
		require.True(t, isGauge)
		assert.Empty(t, gauge.DataPoints)
	}
}

func TestDBMetricsPluginRecordsStatements(t *testing.T) {
	reader, metrics, db := metricsHarness(t)
	require.NoError(t, db.Use(&dbMetricsPlugin{metrics: metrics}))

	type syncRun struct {
		ID   uint `gorm:"primaryKey"`
		Mode string
	}
	require.NoError(t, db.AutoMigrate(&syncRun{}))

	require.NoError(t, db.Create(&syncRun{Mode: "full"}).Error)
	var got syncRun
	require.NoError(t, db.First(&got).Error)
	require.NoError(t, db.Exec("DELETE FROM sync_runs").Error)

	rm := collect(t, reader)
	assert.GreaterOrEqual(t, counterValue(t, rm, "db_query_total", AttrDBOperation.String("INSERT")), int64(1))
	assert.GreaterOrEqual(t, counterValue(t, rm, "db_query_total", AttrDBOperation.String("SELECT")), int64(1))
	// Exec goes through the raw callback, which sniffs the verb.
	assert.GreaterOrEqual(t, counterValue(t, rm, "db_query_total", AttrDBOperation.String("DELETE")), int64(1))
}

func TestSQLVerb(t *testing.T) {
	tests := []struct {
		sql  string
		want string
	}{
		{"SELECT * FROM sync_runs", "SELECT"},
		{"  select id from sync_runs", "SELECT"},
		{"INSERT INTO sync_runs (mode) VALUES ('full')", "INSERT"},
		{"update sync_runs set mode = 'prices'", "UPDATE"},
		{"DELETE FROM sync_runs", "DELETE"},
		{"PRAGMA table_info(sync_runs)", "OTHER"},
		{"", "OTHER"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, sqlVerb(tc.sql), tc.sql)
	}
}

func TestRegisterDBMetrics(t *testing.T) {
	logger := zap.NewNop()
	newGorm := func(t *testing.T) *gorm.DB {
		db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		require.NoError(t, err)
		return db
	}

	t.Run("nil when disabled", func(t *testing.T) {
		metrics, err := RegisterDBMetrics(newGorm(t), nil, DBMetricsConfig{Enabled: false}, logger)
		require.NoError(t, err)
		assert.Nil(t, metrics)
	})

	t.Run("nil without a meter provider", func(t *testing.T) {
		metrics, err := RegisterDBMetrics(newGorm(t), nil, DBMetricsConfig{Enabled: true}, logger)
		require.NoError(t, err)
		assert.Nil(t, metrics)
	})

	t.Run("installs the plugin when enabled", func(t *testing.T) {
		reader := sdkmetric.NewManualReader()
		sdkProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		t.Cleanup(func() { _ = sdkProvider.Shutdown(context.Background()) })
		mp := &MeterProvider{provider: sdkProvider, logger: logger, config: MetricsConfig{Enabled: true}}

		metrics, err := RegisterDBMetrics(newGorm(t), mp, DefaultDBMetricsConfig(), logger)
		require.NoError(t, err)
		require.NotNil(t, metrics)
		metrics.Stop()
	})
}
