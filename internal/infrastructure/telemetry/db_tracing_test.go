package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type tracedRun struct {
	ID   uint `gorm:"primaryKey"`
	Mode string
}

func tracedGorm(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&tracedRun{}))
	return db
}

func startRecordedSpan(t *testing.T) (context.Context, trace.Span, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(context.Background(), "reconcile")
	return ctx, span, rec
}

func spanAttr(s sdktrace.ReadOnlySpan, key string) (any, bool) {
	for _, attr := range s.Attributes() {
		if string(attr.Key) == key {
			return attr.Value.AsInterface(), true
		}
	}
	return nil, false
}

func TestTraceQueriesRegisters(t *testing.T) {
	db := tracedGorm(t)
	require.NoError(t, TraceQueries(db, QueryTracingConfig{}))

	// Statements still work with the callbacks in place.
	require.NoError(t, db.Create(&tracedRun{Mode: "full"}).Error)
	var got tracedRun
	require.NoError(t, db.First(&got).Error)
	assert.Equal(t, "full", got.Mode)
}

func TestAnnotateQuerySpan(t *testing.T) {
	statement := func(ctx context.Context) *gorm.DB {
		tx := &gorm.DB{}
		tx.Statement = &gorm.Statement{DB: tx, Context: ctx}
		return tx
	}

	t.Run("rows and table attributes", func(t *testing.T) {
		ctx, span, rec := startRecordedSpan(t)
		tx := statement(ctx)
		tx.Statement.Table = "sync_runs"
		tx.Statement.RowsAffected = 2

		annotateQuerySpan(tx, 200*time.Millisecond)
		span.End()

		spans := rec.Ended()
		require.Len(t, spans, 1)
		rows, ok := spanAttr(spans[0], "db.rows_affected")
		require.True(t, ok)
		assert.EqualValues(t, 2, rows)
		table, ok := spanAttr(spans[0], "db.sql.table")
		require.True(t, ok)
		assert.Equal(t, "sync_runs", table)
	})

	t.Run("errors mark the span", func(t *testing.T) {
		ctx, span, rec := startRecordedSpan(t)
		tx := statement(ctx)
		tx.Error = assert.AnError

		annotateQuerySpan(tx, 200*time.Millisecond)
		span.End()

		spans := rec.Ended()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Error, spans[0].Status().Code)
	})

	t.Run("record not found stays clean", func(t *testing.T) {
		ctx, span, rec := startRecordedSpan(t)
		tx := statement(ctx)
		tx.Error = gorm.ErrRecordNotFound

		annotateQuerySpan(tx, 200*time.Millisecond)
		span.End()

		assert.NotEqual(t, codes.Error, rec.Ended()[0].Status().Code)
	})

	t.Run("slow statements get flagged", func(t *testing.T) {
		ctx, span, rec := startRecordedSpan(t)
		ctx = context.WithValue(ctx, queryStartKey{}, time.Now().Add(-time.Second))

		annotateQuerySpan(statement(ctx), 200*time.Millisecond)
		span.End()

		spans := rec.Ended()
		slow, ok := spanAttr(spans[0], "db.slow_query")
		require.True(t, ok)
		assert.Equal(t, true, slow)
		require.Len(t, spans[0].Events(), 1)
		assert.Equal(t, "slow query", spans[0].Events()[0].Name)
	})

	t.Run("fast statements stay unflagged", func(t *testing.T) {
		ctx, span, rec := startRecordedSpan(t)
		ctx = context.WithValue(ctx, queryStartKey{}, time.Now())

		annotateQuerySpan(statement(ctx), time.Minute)
		span.End()

		_, ok := spanAttr(rec.Ended()[0], "db.slow_query")
		assert.False(t, ok)
	})

	t.Run("no span is a no-op", func(t *testing.T) {
		annotateQuerySpan(statement(context.Background()), time.Millisecond)
	})
}
