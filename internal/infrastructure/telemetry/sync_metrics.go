package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/feedbridge/backend/internal/domain/run"
)

// ErrMeterNil is returned when SyncMetrics is built without a meter.
var ErrMeterNil = errors.New("sync metrics: meter cannot be nil")

// SyncMetrics tracks reconciliation run outcomes and the size of the
// published catalog in the destination store.
type SyncMetrics struct {
	logger *zap.Logger

	runsTotal      metric.Int64Counter
	itemsTotal     metric.Int64Counter
	runDuration    metric.Float64Histogram
	publishedItems metric.Int64Gauge

	stopChan    chan struct{}
	stopOnce    sync.Once
	collectOnce sync.Once

	countProvider PublishedCountProvider
}

// PublishedCountProvider reports the destination store's published item
// count for periodic gauge collection. This interface lets the telemetry
// layer poll the store without depending on the sync coordinator directly.
type PublishedCountProvider interface {
	CountPublished(ctx context.Context) (int, error)
}

// SyncMetricsConfig holds configuration for sync metrics.
type SyncMetricsConfig struct {
	Meter         metric.Meter
	Logger        *zap.Logger
	CountProvider PublishedCountProvider
}

// NewSyncMetrics registers the run-level instruments on the meter.
func NewSyncMetrics(cfg SyncMetricsConfig) (*SyncMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	sm := &SyncMetrics{
		logger:        logger,
		stopChan:      make(chan struct{}),
		countProvider: cfg.CountProvider,
	}

	var err error
	if sm.runsTotal, err = cfg.Meter.Int64Counter(
		"feedbridge_runs_total",
		metric.WithDescription("Total number of finished sync runs"),
		metric.WithUnit("{runs}"),
	); err != nil {
		return nil, err
	}
	if sm.itemsTotal, err = cfg.Meter.Int64Counter(
		"feedbridge_items_total",
		metric.WithDescription("Total number of feed items reconciled, by outcome"),
		metric.WithUnit("{items}"),
	); err != nil {
		return nil, err
	}
	if sm.runDuration, err = cfg.Meter.Float64Histogram(
		"feedbridge_run_duration_seconds",
		metric.WithDescription("Wall-clock duration of finished sync runs"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(RunDurationBuckets...),
	); err != nil {
		return nil, err
	}
	if sm.publishedItems, err = cfg.Meter.Int64Gauge(
		"feedbridge_published_items",
		metric.WithDescription("Number of published items in the destination store"),
		metric.WithUnit("{items}"),
	); err != nil {
		return nil, err
	}

	return sm, nil
}

// RecordRun records one finished run from its terminal snapshot.
func (sm *SyncMetrics) RecordRun(ctx context.Context, snap run.Snapshot) {
	attrs := metric.WithAttributes(
		AttrRunMode.String(string(snap.Mode)),
		AttrRunBackend.String(string(snap.Backend)),
		AttrRunPhase.String(string(snap.Phase)),
	)

	sm.runsTotal.Add(ctx, 1, attrs)

	if snap.StartedAt != nil && snap.EndedAt != nil {
		sm.runDuration.Record(ctx, snap.EndedAt.Sub(*snap.StartedAt).Seconds(), attrs)
	}

	sm.recordItems(ctx, snap, "created", snap.Created)
	sm.recordItems(ctx, snap, "updated", snap.Updated)
	sm.recordItems(ctx, snap, "skipped", snap.Skipped)
	sm.recordItems(ctx, snap, "errors", snap.Errors)
}

func (sm *SyncMetrics) recordItems(ctx context.Context, snap run.Snapshot, action string, count int) {
	if count == 0 {
		return
	}
	sm.itemsTotal.Add(ctx, int64(count), metric.WithAttributes(
		AttrRunMode.String(string(snap.Mode)),
		AttrRunBackend.String(string(snap.Backend)),
		AttrItemAction.String(action),
	))
}

// RecordPublishedItems records the current published item count.
func (sm *SyncMetrics) RecordPublishedItems(ctx context.Context, count int64) {
	sm.publishedItems.Record(ctx, count)
}

// StartPeriodicCollection polls the published item count every interval
// (default: 15 minutes). Non-blocking; use Stop to end collection.
func (sm *SyncMetrics) StartPeriodicCollection(ctx context.Context, interval time.Duration) {
	sm.collectOnce.Do(func() {
		if interval <= 0 {
			interval = 15 * time.Minute
		}
		go sm.runPeriodicCollection(ctx, interval)
	})
}

func (sm *SyncMetrics) runPeriodicCollection(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sm.collectPublishedCount(ctx)

	for {
		select {
		case <-sm.stopChan:
			sm.logger.Info("Stopping periodic sync metrics collection")
			return
		case <-ctx.Done():
			sm.logger.Info("Context cancelled, stopping periodic sync metrics collection")
			return
		case <-ticker.C:
			sm.collectPublishedCount(ctx)
		}
	}
}

func (sm *SyncMetrics) collectPublishedCount(ctx context.Context) {
	if sm.countProvider == nil {
		return
	}
	count, err := sm.countProvider.CountPublished(ctx)
	if err != nil {
		sm.logger.Warn("Failed to count published items", zap.Error(err))
		return
	}
	sm.RecordPublishedItems(ctx, int64(count))
}

// Stop stops the periodic collection.
func (sm *SyncMetrics) Stop() {
	sm.stopOnce.Do(func() {
		close(sm.stopChan)
	})
}
