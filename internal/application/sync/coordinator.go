// Package sync drives reconciliation runs. One Coordinator owns the run
// lifecycle: it claims the single run slot, walks the feed group by group,
// diffs each group against the destination snapshot and dispatches the
// outcome through the selected backend, publishing progress as it goes.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/feedbridge/backend/internal/domain/catalog"
	"github.com/feedbridge/backend/internal/domain/run"
	"github.com/feedbridge/backend/internal/domain/store"
	"github.com/feedbridge/backend/internal/infrastructure/event"
	"github.com/feedbridge/backend/internal/infrastructure/telemetry"
)

// ErrRunActive rejects a start while another run holds the slot.
var ErrRunActive = errors.New("sync: a run is already active")

// checkpointEvery is the group interval between checkpoint log lines.
const checkpointEvery = 10

// Feed supplies the catalog documents a run walks.
type Feed interface {
	Groups(ctx context.Context) ([]catalog.Group, error)
	GroupRows(ctx context.Context, groupID int) ([]catalog.RawRow, error)
}

// RateSource resolves the run's exchange rate. Implementations fall back
// internally and never fail.
type RateSource interface {
	Rate(ctx context.Context) decimal.Decimal
}

// BackendFactory builds the backend for one run with that run's batch
// observer baked in.
type BackendFactory func(kind store.Kind, observer store.BatchObserver) (store.Backend, error)

// Metrics observes terminal run snapshots.
type Metrics interface {
	RecordRun(ctx context.Context, snap run.Snapshot)
}

// RunArchiver persists finished-run summaries next to the archived feed
// documents.
type RunArchiver interface {
	Store(ctx context.Context, key string, data []byte, contentType string) error
}

// Coordinator owns the run state machine. At most one run is active; entry
// goes through the state's compare-and-swap, so concurrent starts leave
// exactly one winner and the losers' view of the state untouched.
type Coordinator struct {
	state        *run.State
	hub          *event.Hub
	feed         Feed
	rates        RateSource
	rule         catalog.PriceRule
	backends     BackendFactory
	defaultKind  store.Kind
	history      run.HistoryRepository
	historyLimit int
	metrics      Metrics
	runArchive   RunArchiver
	logger       *zap.Logger

	active atomic.Pointer[runHandle]
}

// runHandle pairs a run's cancel function with its completion signal.
type runHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithHistory persists finished runs and caps History listings at limit.
func WithHistory(repo run.HistoryRepository, limit int) Option {
	return func(c *Coordinator) {
		c.history = repo
		if limit > 0 {
			c.historyLimit = limit
		}
	}
}

// WithMetrics reports every finished run to m.
func WithMetrics(m Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithRunArchive writes a JSON summary of every finished run to a.
func WithRunArchive(a RunArchiver) Option {
	return func(c *Coordinator) {
		c.runArchive = a
	}
}

// SetMetrics installs the metrics sink after construction. Metrics
// recorders that poll the coordinator for the published count need the
// coordinator built first, so this exists alongside WithMetrics. Call it
// before the first run starts.
func (c *Coordinator) SetMetrics(m Metrics) {
	c.metrics = m
}

// NewCoordinator builds a Coordinator. defaultKind is used when a start
// request does not name a backend.
func NewCoordinator(
	state *run.State,
	hub *event.Hub,
	feed Feed,
	rates RateSource,
	rule catalog.PriceRule,
	backends BackendFactory,
	defaultKind store.Kind,
	logger *zap.Logger,
	opts ...Option,
) *Coordinator {
	c := &Coordinator{
		state:        state,
		hub:          hub,
		feed:         feed,
		rates:        rates,
		rule:         rule,
		backends:     backends,
		defaultKind:  defaultKind,
		historyLimit: 50,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartRun claims the run slot and launches the run goroutine. When a run
// is already active it returns ErrRunActive and mutates nothing. The
// returned snapshot reflects the freshly reset state.
func (c *Coordinator) StartRun(mode store.Mode, kind store.Kind) (run.Snapshot, error) {
	if kind == "" {
		kind = c.defaultKind
	}
	if !c.state.TryStart(mode, kind) {
		c.logger.Warn("sync start rejected, run already active",
			zap.String("mode", string(mode)),
			zap.String("backend", string(kind)),
		)
		return run.Snapshot{}, ErrRunActive
	}

	ctx, cancel := context.WithCancel(context.Background())
	handle := &runHandle{cancel: cancel, done: make(chan struct{})}
	c.active.Store(handle)

	go func() {
		defer close(handle.done)
		defer cancel()
		telemetry.TagRun(ctx, string(mode), string(kind), func(ctx context.Context) {
			c.execute(ctx, mode, kind)
		})
	}()

	return c.state.Snapshot(), nil
}

// Stop cancels the active run, if any. The run loop observes the
// cancellation at the next group or chunk boundary; Stop never blocks.
func (c *Coordinator) Stop() {
	handle := c.active.Load()
	if handle == nil {
		return
	}
	handle.cancel()
	c.logger.Info("sync stop requested")
}

// Status returns a point-in-time copy of the run state.
func (c *Coordinator) Status() run.Snapshot {
	return c.state.Snapshot()
}

// Wait blocks until the most recent run winds down or ctx is done. It
// returns immediately when no run was ever started.
func (c *Coordinator) Wait(ctx context.Context) error {
	handle := c.active.Load()
	if handle == nil {
		return nil
	}
	select {
	case <-handle.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// History lists recent run records, newest first. Without a history
// repository it returns an empty list.
func (c *Coordinator) History(ctx context.Context) ([]run.Record, error) {
	if c.history == nil {
		return []run.Record{}, nil
	}
	return c.history.ListRecent(ctx, c.historyLimit)
}

// CountPublished asks the destination for its published item count through
// a short-lived backend of the default kind, independent of any run.
func (c *Coordinator) CountPublished(ctx context.Context) (int, error) {
	backend, err := c.backends(c.defaultKind, nil)
	if err != nil {
		return 0, fmt.Errorf("build %s backend: %w", c.defaultKind, err)
	}
	defer backend.Close()

	if err := backend.Connect(ctx); err != nil {
		return 0, err
	}
	return backend.CountPublished(ctx)
}

// execute is the run goroutine body: it walks the phases and always lands
// the state in a terminal phase.
func (c *Coordinator) execute(ctx context.Context, mode store.Mode, kind store.Kind) {
	ctx, span := telemetry.StartRunSpan(ctx, string(mode), string(kind))
	defer span.End()

	started := time.Now()
	c.publishLog(run.LevelInfo, fmt.Sprintf("starting %s sync via %s backend", mode, kind))
	c.logger.Info("sync run started",
		zap.String("mode", string(mode)),
		zap.String("backend", string(kind)),
	)

	backend, err := c.backends(kind, c.observe)
	if err != nil {
		c.fail(ctx, fmt.Errorf("build %s backend: %w", kind, err))
		return
	}
	defer func() {
		if err := backend.Close(); err != nil {
			c.logger.Warn("backend close failed", zap.Error(err))
		}
	}()

	c.setPhase(run.PhaseDownloading)
	groups, err := c.feed.Groups(ctx)
	if err != nil {
		c.fail(ctx, fmt.Errorf("download group listing: %w", err))
		return
	}
	rate := c.rates.Rate(ctx)
	c.state.SetTotal(len(groups))
	c.publishLog(run.LevelInfo, fmt.Sprintf("downloaded %d groups, exchange rate %s", len(groups), rate))

	if backend.Kind() == store.KindRemote {
		c.setPhase(run.PhaseConnecting)
		c.publishLog(run.LevelInfo, "connecting to store host")
	}
	if err := backend.Connect(ctx); err != nil {
		c.fail(ctx, fmt.Errorf("connect %s backend: %w", kind, err))
		return
	}

	c.setPhase(run.PhaseFetching)
	inventory, err := backend.LoadInventory(ctx)
	if err != nil {
		c.fail(ctx, fmt.Errorf("load inventory snapshot: %w", err))
		return
	}
	c.publishLog(run.LevelInfo, fmt.Sprintf("inventory snapshot holds %d items", len(inventory)))

	c.setPhase(run.PhaseSyncing)
	normalizer := catalog.NewNormalizer(rate, c.rule)

	for i, group := range groups {
		if ctx.Err() != nil {
			c.stopped(ctx)
			return
		}
		c.state.SetCurrentGroup(group.Name)

		if err := c.syncGroup(ctx, normalizer, backend, inventory, mode, group); err != nil {
			if ctx.Err() != nil {
				c.stopped(ctx)
				return
			}
			c.state.AddCounts(0, 0, 0, 1)
			c.publishLog(run.LevelWarn, fmt.Sprintf("skipping group %q: %v", group.Name, err))
		}

		c.state.IncProgress()
		c.publishProgress()

		if done := i + 1; done%checkpointEvery == 0 {
			snap := c.state.Snapshot()
			c.publishLog(run.LevelInfo, fmt.Sprintf(
				"checkpoint: %d/%d groups, %d created, %d updated, %d skipped, %d errors",
				done, len(groups), snap.Created, snap.Updated, snap.Skipped, snap.Errors,
			))
		}
	}

	c.complete(ctx, started, len(groups))
}

// syncGroup reconciles one group: fetch rows, normalize, diff, apply. A
// fetch failure is returned for the caller to count; apply failures are
// absorbed chunk by chunk inside the backend and surface through the batch
// observer.
func (c *Coordinator) syncGroup(
	ctx context.Context,
	normalizer *catalog.Normalizer,
	backend store.Backend,
	inventory store.Inventory,
	mode store.Mode,
	group catalog.Group,
) (err error) {
	ctx, span := telemetry.StartGroupSpan(ctx, group.Name)
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
	}()

	rows, err := c.feed.GroupRows(ctx, group.ID)
	if err != nil {
		return err
	}

	var creates []store.CreateOp
	var updates []store.UpdateOp
	skipped := 0
	for _, row := range rows {
		entry, ok := normalizer.Normalize(row, group)
		if !ok {
			continue
		}
		switch decision := store.Decide(entry, inventory, mode); decision.Action {
		case store.ActionCreate:
			creates = append(creates, decision.Create)
		case store.ActionUpdate:
			updates = append(updates, decision.Update)
		default:
			skipped++
		}
	}
	if skipped > 0 {
		c.state.AddCounts(0, 0, skipped, 0)
	}
	telemetry.SetGroupItems(span, len(rows))
	c.logger.Debug("group reconciled",
		zap.String("group", group.Name),
		zap.Int("rows", len(rows)),
		zap.Int("creates", len(creates)),
		zap.Int("updates", len(updates)),
		zap.Int("skips", skipped),
	)

	if len(creates) > 0 {
		if _, err := backend.ApplyCreates(ctx, creates); err != nil {
			return err
		}
	}
	if len(updates) > 0 {
		if _, err := backend.ApplyUpdates(ctx, updates); err != nil {
			return err
		}
	}
	return nil
}

// observe folds one chunk outcome into the run counters and publishes the
// updated progress. It runs on the run goroutine between chunks.
func (c *Coordinator) observe(r store.BatchResult) {
	failed := r.Size - r.Applied
	switch r.Action {
	case store.ActionCreate:
		c.state.AddCounts(r.Applied, 0, 0, failed)
	case store.ActionUpdate:
		c.state.AddCounts(0, r.Applied, 0, failed)
	}

	switch {
	case r.Err != nil:
		c.publishLog(run.LevelWarn, fmt.Sprintf("%s batch %d/%d failed: %v", r.Action, r.Chunk, r.Chunks, r.Err))
	case failed > 0:
		c.publishLog(run.LevelWarn, fmt.Sprintf("%s batch %d/%d applied %d of %d", r.Action, r.Chunk, r.Chunks, r.Applied, r.Size))
	}
	c.publishProgress()
}

func (c *Coordinator) complete(ctx context.Context, started time.Time, groups int) {
	elapsed := time.Since(started).Round(time.Second)
	snap := c.state.Snapshot()
	telemetry.SetRunTotals(telemetry.SpanFromContext(ctx),
		snap.Created, snap.Updated, snap.Skipped, snap.Errors)
	c.publishLog(run.LevelInfo, fmt.Sprintf(
		"run complete: %d groups in %s, %d created, %d updated, %d skipped, %d errors",
		groups, elapsed, snap.Created, snap.Updated, snap.Skipped, snap.Errors,
	))
	c.finish(run.PhaseComplete, "")
	c.logger.Info("sync run complete",
		zap.Duration("elapsed", elapsed),
		zap.Int("groups", groups),
		zap.Int("created", snap.Created),
		zap.Int("updated", snap.Updated),
		zap.Int("skipped", snap.Skipped),
		zap.Int("errors", snap.Errors),
	)
}

func (c *Coordinator) fail(ctx context.Context, err error) {
	telemetry.RecordError(telemetry.SpanFromContext(ctx), err)
	c.publishLog(run.LevelError, err.Error())
	c.finish(run.PhaseError, err.Error())
	c.logger.Error("sync run failed", zap.Error(err))
}

func (c *Coordinator) stopped(ctx context.Context) {
	telemetry.MarkRunStopped(telemetry.SpanFromContext(ctx))
	c.publishLog(run.LevelWarn, "run stopped")
	c.finish(run.PhaseError, "run stopped")
	c.logger.Warn("sync run stopped before completion")
}

// finish stamps the terminal phase, releases the run slot, publishes the
// final snapshot and records the run in history and metrics.
func (c *Coordinator) finish(phase run.Phase, failure string) {
	c.state.Finish(phase)
	c.publishProgress()

	snap := c.state.Snapshot()
	rec := run.NewRecord(snap, failure)
	c.record(rec)
	c.archiveSummary(rec)
	if c.metrics != nil {
		c.metrics.RecordRun(context.Background(), snap)
	}
}

// record writes the finished run to the history repository. The run
// context is already cancelled or spent here, so the write gets its own
// deadline.
func (c *Coordinator) record(rec *run.Record) {
	if c.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.history.Save(ctx, rec); err != nil {
		c.logger.Warn("run history write failed", zap.Error(err))
	}
}

// archiveSummary drops the finished run's record next to the archived
// feed documents. Failures are logged and swallowed, the run outcome is
// already committed.
func (c *Coordinator) archiveSummary(rec *run.Record) {
	if c.runArchive == nil {
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	key := fmt.Sprintf("runs/%s/%s.json", rec.StartedAt.UTC().Format("2006-01-02"), rec.ID)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.runArchive.Store(ctx, key, data, "application/json"); err != nil {
		c.logger.Warn("run summary archive failed", zap.Error(err))
	}
}

func (c *Coordinator) setPhase(p run.Phase) {
	c.state.SetPhase(p)
	c.publishProgress()
}

func (c *Coordinator) publishProgress() {
	c.hub.Publish(event.Progress(c.state.Snapshot()))
}

// publishLog appends one entry to the run log ring and fans it out.
func (c *Coordinator) publishLog(level, message string) {
	c.hub.Publish(event.Log(c.state.AppendLog(level, message)))
}
