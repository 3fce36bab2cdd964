package telemetry

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBMetricsConfig holds configuration for run-history database metrics.
type DBMetricsConfig struct {
	Enabled            bool
	SlowQueryThreshold time.Duration // default 200ms
}

// DefaultDBMetricsConfig returns the default database metrics settings.
func DefaultDBMetricsConfig() DBMetricsConfig {
	return DBMetricsConfig{
		Enabled:            true,
		SlowQueryThreshold: 200 * time.Millisecond,
	}
}

// DBMetrics instruments the run-history database: per-statement count
// and latency plus connection pool gauges. Pool stats are observable
// gauges sampled by the metric reader at export time, so there is no
// collection goroutine.
type DBMetrics struct {
	queryTotal     metric.Int64Counter
	queryDuration  metric.Float64Histogram
	slowQueryTotal metric.Int64Counter

	poolReg metric.Registration
	config  DBMetricsConfig
	logger  *zap.Logger
}

// NewDBMetrics creates the instruments and registers the pool callback
// against sqlDB.
func NewDBMetrics(meter metric.Meter, sqlDB *sql.DB, cfg DBMetricsConfig, logger *zap.Logger) (*DBMetrics, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SlowQueryThreshold == 0 {
		cfg.SlowQueryThreshold = 200 * time.Millisecond
	}

	m := &DBMetrics{config: cfg, logger: logger}

	var err error
	if m.queryTotal, err = meter.Int64Counter(
		"db_query_total",
		metric.WithDescription("Total number of database queries by operation type"),
		metric.WithUnit("{query}"),
	); err != nil {
		return nil, err
	}
	if m.queryDuration, err = meter.Float64Histogram(
		"db_query_duration_seconds",
		metric.WithDescription("Database query latency distribution in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(DBDurationBuckets...),
	); err != nil {
		return nil, err
	}
	if m.slowQueryTotal, err = meter.Int64Counter(
		"db_slow_query_total",
		metric.WithDescription("Total number of slow database queries"),
		metric.WithUnit("{query}"),
	); err != nil {
		return nil, err
	}

	poolConns, err := meter.Int64ObservableGauge(
		"db_pool_connections",
		metric.WithDescription("Number of connections in the pool by state"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, err
	}
	poolMax, err := meter.Int64ObservableGauge(
		"db_pool_connections_max",
		metric.WithDescription("Maximum number of connections in the pool"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, err
	}

	// OpenConnections = Idle + InUse. WaitCount is cumulative, not a
	// current state, so it is not sampled.
	m.poolReg, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stats := sqlDB.Stats()
		o.ObserveInt64(poolMax, int64(stats.MaxOpenConnections))
		o.ObserveInt64(poolConns, int64(stats.Idle), metric.WithAttributes(AttrDBState.String("idle")))
		o.ObserveInt64(poolConns, int64(stats.InUse), metric.WithAttributes(AttrDBState.String("in_use")))
		o.ObserveInt64(poolConns, int64(stats.OpenConnections), metric.WithAttributes(AttrDBState.String("open")))
		return nil
	}, poolConns, poolMax)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Stop unregisters the pool callback. Safe to call multiple times.
func (m *DBMetrics) Stop() {
	if m.poolReg != nil {
		_ = m.poolReg.Unregister()
		m.poolReg = nil
	}
}

// RecordQuery records count, latency, and slow-query metrics for one
// completed statement.
func (m *DBMetrics) RecordQuery(ctx context.Context, operation, table string, duration time.Duration) {
	operation = strings.ToUpper(operation)
	if operation == "" {
		operation = "UNKNOWN"
	}

	opAttr := metric.WithAttributes(AttrDBOperation.String(operation))
	m.queryTotal.Add(ctx, 1, opAttr)
	m.queryDuration.Record(ctx, duration.Seconds(), opAttr)

	if duration > m.config.SlowQueryThreshold {
		if table == "" {
			table = "unknown"
		}
		m.slowQueryTotal.Add(ctx, 1, metric.WithAttributes(AttrDBTable.String(table)))
	}
}

type statementStartKey struct{}

// dbMetricsPlugin times every GORM statement and feeds DBMetrics.
type dbMetricsPlugin struct {
	metrics *DBMetrics
}

func (p *dbMetricsPlugin) Name() string { return "db_metrics" }

// Initialize hooks every operation type. Create, query, update and
// delete record their fixed verb; row and raw carry arbitrary SQL so
// the verb is sniffed from the statement.
func (p *dbMetricsPlugin) Initialize(db *gorm.DB) error {
	stamp := func(tx *gorm.DB) {
		ctx := tx.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}
		tx.Statement.Context = context.WithValue(ctx, statementStartKey{}, time.Now())
	}
	record := func(verb string) func(*gorm.DB) {
		return func(tx *gorm.DB) {
			ctx := tx.Statement.Context
			if ctx == nil {
				ctx = context.Background()
			}
			var elapsed time.Duration
			if start, ok := ctx.Value(statementStartKey{}).(time.Time); ok {
				elapsed = time.Since(start)
			}
			if verb == "" {
				verb = sqlVerb(tx.Statement.SQL.String())
			}
			p.metrics.RecordQuery(ctx, verb, tx.Statement.Table, elapsed)
		}
	}

	type register func(name string, fn func(*gorm.DB)) error
	hooks := []struct {
		op            string
		verb          string
		before, after register
	}{
		{"create", "INSERT", db.Callback().Create().Before("gorm:create").Register, db.Callback().Create().After("gorm:create").Register},
		{"query", "SELECT", db.Callback().Query().Before("gorm:query").Register, db.Callback().Query().After("gorm:query").Register},
		{"update", "UPDATE", db.Callback().Update().Before("gorm:update").Register, db.Callback().Update().After("gorm:update").Register},
		{"delete", "DELETE", db.Callback().Delete().Before("gorm:delete").Register, db.Callback().Delete().After("gorm:delete").Register},
		{"row", "", db.Callback().Row().Before("gorm:row").Register, db.Callback().Row().After("gorm:row").Register},
		{"raw", "", db.Callback().Raw().Before("gorm:raw").Register, db.Callback().Raw().After("gorm:raw").Register},
	}
	for _, h := range hooks {
		if err := h.before("db_metrics:"+h.op+":start", stamp); err != nil {
			return err
		}
		if err := h.after("db_metrics:"+h.op+":record", record(h.verb)); err != nil {
			return err
		}
	}
	return nil
}

func sqlVerb(sql string) string {
	sql = strings.TrimSpace(strings.ToUpper(sql))
	for _, verb := range []string{"SELECT", "INSERT", "UPDATE", "DELETE"} {
		if strings.HasPrefix(sql, verb) {
			return verb
		}
	}
	return "OTHER"
}

// RegisterDBMetrics creates database metrics and installs the GORM
// plugin on db. Returns nil metrics when disabled or when no meter
// provider is available; call Stop on the returned metrics at shutdown.
func RegisterDBMetrics(db *gorm.DB, meterProvider *MeterProvider, cfg DBMetricsConfig, logger *zap.Logger) (*DBMetrics, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if meterProvider == nil || !meterProvider.IsEnabled() {
		return nil, nil
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	metrics, err := NewDBMetrics(meterProvider.Meter("db.client"), sqlDB, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := db.Use(&dbMetricsPlugin{metrics: metrics}); err != nil {
		metrics.Stop()
		return nil, err
	}

	logger.Info("Database metrics registered",
		zap.Duration("slow_query_threshold", cfg.SlowQueryThreshold),
	)
	return metrics, nil
}
