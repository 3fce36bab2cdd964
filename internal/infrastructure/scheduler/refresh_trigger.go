// Package scheduler triggers unattended price refresh runs on a fixed
// interval.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	appsync "github.com/feedbridge/backend/internal/application/sync"
	"github.com/feedbridge/backend/internal/domain/run"
	"github.com/feedbridge/backend/internal/domain/store"
)

// RunStarter starts reconciliation runs. *sync.Coordinator satisfies it.
type RunStarter interface {
	StartRun(mode store.Mode, kind store.Kind) (run.Snapshot, error)
}

// RefreshTriggerConfig holds configuration for the price refresh trigger.
type RefreshTriggerConfig struct {
	Enabled  bool
	Interval time.Duration
}

// DefaultRefreshTriggerConfig returns default trigger configuration.
func DefaultRefreshTriggerConfig() RefreshTriggerConfig {
	return RefreshTriggerConfig{
		Enabled:  false,
		Interval: 24 * time.Hour,
	}
}

// RefreshTrigger starts a prices run on a fixed interval so store prices
// keep tracking exchange rate movement between manual full syncs.
type RefreshTrigger struct {
	config  RefreshTriggerConfig
	starter RunStarter
	logger  *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewRefreshTrigger creates a new price refresh trigger.
func NewRefreshTrigger(config RefreshTriggerConfig, starter RunStarter, logger *zap.Logger) *RefreshTrigger {
	if config.Interval <= 0 {
		config.Interval = 24 * time.Hour
	}
	return &RefreshTrigger{
		config:  config,
		starter: starter,
		logger:  logger,
	}
}

// Start begins the interval loop. It is a no-op when the trigger is
// disabled or already running.
func (t *RefreshTrigger) Start(ctx context.Context) error {
	if !t.config.Enabled {
		t.logger.Info("price refresh trigger disabled")
		return nil
	}

	t.mu.Lock()
	if t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = true
	t.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.wg.Add(1)
	go t.runLoop(ctx)

	t.logger.Info("price refresh trigger started",
		zap.Duration("interval", t.config.Interval),
	)

	return nil
}

// Stop halts the interval loop and waits for it to exit.
func (t *RefreshTrigger) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = false
	t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.logger.Info("price refresh trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *RefreshTrigger) runLoop(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.trigger()
		}
	}
}

// trigger submits a prices run against the default backend. A run already
// in flight is not an error; the refresh waits for the next tick.
func (t *RefreshTrigger) trigger() {
	snap, err := t.starter.StartRun(store.ModePrices, "")
	if err != nil {
		if errors.Is(err, appsync.ErrRunActive) {
			t.logger.Debug("skipping scheduled price refresh, a run is already active")
			return
		}
		t.logger.Error("scheduled price refresh failed to start", zap.Error(err))
		return
	}

	t.logger.Info("scheduled price refresh started",
		zap.String("mode", string(snap.Mode)),
		zap.String("backend", string(snap.Backend)),
	)
}
