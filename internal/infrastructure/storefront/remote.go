package storefront

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/feedbridge/backend/internal/domain/store"
	"github.com/feedbridge/backend/internal/infrastructure/tabular"
)

// Inventory query column aliases; the store DB client prints tab-delimited
// rows under these headers.
const (
	remoteColID    = "id"
	remoteColKey   = "external_key"
	remoteColPrice = "price"
	remoteColState = "status"
	remoteColCount = "count"
)

// priceMetaKeys are the attribute rows the storefront reads prices from;
// both must agree after an update.
var priceMetaKeys = []string{"price", "regular_price"}

// RemoteConfig configures the SSH remote-execution backend.
type RemoteConfig struct {
	Host             string
	Port             int
	User             string
	Password         string
	KeyFile          string
	ConnectTimeout   time.Duration
	DBName           string
	DBUser           string
	DBPassword       string
	TablePrefix      string
	CLIPath          string
	BatchSize        int
	BatchDelay       time.Duration
	CreatePauseEvery int
	CreatePause      time.Duration
}

// CommandRunner executes one command on the store host and returns its
// stdout.
type CommandRunner interface {
	Run(ctx context.Context, command string) (string, error)
	Close() error
}

// Dialer opens a CommandRunner to the store host.
type Dialer func(ctx context.Context) (CommandRunner, error)

// RemoteBackend reconciles by executing commands on the store host over
// SSH: bulk SQL against the store database for reads and price updates,
// one store-CLI invocation per created item.
type RemoteBackend struct {
	cfg       RemoteConfig
	dial      Dialer
	runner    CommandRunner
	pacer     *Pacer
	observer  store.BatchObserver
	logger    *zap.Logger
	inventory store.Inventory
}

// NewRemoteBackend builds the backend with the default SSH dialer.
// observer may be nil.
func NewRemoteBackend(cfg RemoteConfig, observer store.BatchObserver, logger *zap.Logger) *RemoteBackend {
	b := newRemoteBackend(cfg, observer, logger)
	b.dial = func(ctx context.Context) (CommandRunner, error) {
		return DialSSH(ctx, SSHConfig{
			Host:           cfg.Host,
			Port:           cfg.Port,
			User:           cfg.User,
			Password:       cfg.Password,
			KeyFile:        cfg.KeyFile,
			ConnectTimeout: cfg.ConnectTimeout,
		})
	}
	return b
}

// NewRemoteBackendWithDialer substitutes the transport; used by tests.
func NewRemoteBackendWithDialer(cfg RemoteConfig, observer store.BatchObserver, logger *zap.Logger, dial Dialer) *RemoteBackend {
	b := newRemoteBackend(cfg, observer, logger)
	b.dial = dial
	return b
}

func newRemoteBackend(cfg RemoteConfig, observer store.BatchObserver, logger *zap.Logger) *RemoteBackend {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.TablePrefix == "" {
		cfg.TablePrefix = "store_"
	}
	if cfg.CLIPath == "" {
		cfg.CLIPath = "storectl"
	}
	return &RemoteBackend{
		cfg:      cfg,
		pacer:    NewPacer(cfg.BatchDelay),
		observer: observer,
		logger:   logger,
	}
}

func (b *RemoteBackend) Kind() store.Kind {
	return store.KindRemote
}

// Connect verifies credentials and dials the store host. Missing
// credentials abort before any network activity.
func (b *RemoteBackend) Connect(ctx context.Context) error {
	if b.cfg.Host == "" || b.cfg.User == "" || (b.cfg.Password == "" && b.cfg.KeyFile == "") {
		return fmt.Errorf("%w: ssh host, user and a password or key file", store.ErrMissingCredentials)
	}

	runner, err := b.dial(ctx)
	if err != nil {
		return fmt.Errorf("connect store host: %w", err)
	}
	b.runner = runner
	return nil
}

func (b *RemoteBackend) Close() error {
	if b.runner == nil {
		return nil
	}
	err := b.runner.Close()
	b.runner = nil
	return err
}

// LoadInventory bulk-reads the items table joined with its external-key
// and price attribute rows. The client prints tab-delimited text with a
// header row; no output means an empty store.
func (b *RemoteBackend) LoadInventory(ctx context.Context) (store.Inventory, error) {
	if b.runner == nil {
		return nil, store.ErrNotConnected
	}

	query := fmt.Sprintf(
		"SELECT p.id AS id, k.meta_value AS external_key, COALESCE(pr.meta_value, '') AS price, p.status AS status"+
			" FROM %[1]sproducts p"+
			" JOIN %[1]sproduct_meta k ON k.product_id = p.id AND k.meta_key = 'external_key'"+
			" LEFT JOIN %[1]sproduct_meta pr ON pr.product_id = p.id AND pr.meta_key = 'price'",
		b.cfg.TablePrefix,
	)

	out, err := b.runner.Run(ctx, b.dbCommand(query))
	if err != nil {
		return nil, fmt.Errorf("read store inventory: %w", err)
	}

	inv := make(store.Inventory)
	if strings.TrimSpace(out) == "" {
		b.inventory = inv
		return inv, nil
	}

	rows, err := tabular.Records([]byte(out), tabular.WithDelimiter('\t'))
	if err != nil {
		return nil, fmt.Errorf("parse store inventory: %w", err)
	}

	for _, row := range rows {
		key := row.Get(remoteColKey)
		if key == "" {
			continue
		}
		id, err := strconv.ParseInt(row.Get(remoteColID), 10, 64)
		if err != nil {
			b.logger.Warn("skipping inventory row with bad id",
				zap.Int("line", row.Line),
				zap.String("value", row.Get(remoteColID)),
			)
			continue
		}
		price, err := decimal.NewFromString(row.Get(remoteColPrice))
		if err != nil {
			price = decimal.Zero
		}
		inv[key] = store.ExistingRecord{
			DestinationID: id,
			CurrentPrice:  price,
			Status:        row.Get(remoteColState),
		}
	}

	b.inventory = inv
	return inv, nil
}

// ApplyCreates runs one store-CLI invocation per item, parsing the created
// id from stdout and pausing after every CreatePauseEvery attempts. Failed
// items are logged and contribute zero applied.
func (b *RemoteBackend) ApplyCreates(ctx context.Context, ops []store.CreateOp) (int, error) {
	if b.runner == nil {
		return 0, store.ErrNotConnected
	}
	if len(ops) == 0 {
		return 0, nil
	}

	size := b.cfg.BatchSize
	total := (len(ops) + size - 1) / size
	applied := 0
	issued := 0

	for i := 0; i < len(ops); i += size {
		if err := b.pacer.Wait(ctx); err != nil {
			return applied, err
		}

		chunk := ops[i:min(i+size, len(ops))]
		num := i/size + 1
		created := 0
		attempted := 0

		// abort reports the partial chunk to the observer so interrupted
		// runs still account for every item already created.
		abort := func(err error) (int, error) {
			b.observe(store.BatchResult{
				Action: store.ActionCreate,
				Chunk:  num, Chunks: total,
				Size: attempted, Applied: created, Err: err,
			})
			return applied + created, err
		}

		for _, op := range chunk {
			id, err := b.createOne(ctx, op)
			issued++
			attempted++
			if err != nil {
				if ctx.Err() != nil {
					return abort(ctx.Err())
				}
				b.logger.Warn("create failed",
					zap.String("external_key", op.ExternalKey),
					zap.Error(err),
				)
			} else {
				created++
				if b.inventory != nil {
					b.inventory[op.ExternalKey] = store.ExistingRecord{
						DestinationID: id,
						CurrentPrice:  op.Price,
						Status:        statusPublished,
					}
				}
			}

			if b.cfg.CreatePauseEvery > 0 && issued%b.cfg.CreatePauseEvery == 0 {
				if err := sleepCtx(ctx, b.cfg.CreatePause); err != nil {
					return abort(err)
				}
			}
		}

		applied += created
		b.observe(store.BatchResult{
			Action: store.ActionCreate,
			Chunk:  num, Chunks: total,
			Size: len(chunk), Applied: created,
		})
	}
	return applied, nil
}

func (b *RemoteBackend) createOne(ctx context.Context, op store.CreateOp) (int64, error) {
	cmd := fmt.Sprintf("%s product create --porcelain --status=%s --sku=%s --title=%s --price=%s",
		b.cfg.CLIPath,
		statusPublished,
		shellQuote(op.ExternalKey),
		shellQuote(op.Title),
		shellQuote(op.Price.String()),
	)
	if op.Description != "" {
		cmd += " --description=" + shellQuote(op.Description)
	}
	if op.ImageURL != "" {
		cmd += " --image=" + shellQuote(op.ImageURL)
	}

	out, err := b.runner.Run(ctx, cmd)
	if err != nil {
		return 0, err
	}

	id, err := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse created id from %q: %w", strings.TrimSpace(out), err)
	}
	return id, nil
}

// ApplyUpdates issues one bulk CASE statement per chunk and meta key. A
// failed chunk is logged and applies zero; later chunks still run.
func (b *RemoteBackend) ApplyUpdates(ctx context.Context, ops []store.UpdateOp) (int, error) {
	if b.runner == nil {
		return 0, store.ErrNotConnected
	}
	if len(ops) == 0 {
		return 0, nil
	}

	size := b.cfg.BatchSize
	total := (len(ops) + size - 1) / size
	applied := 0

	for i := 0; i < len(ops); i += size {
		if err := b.pacer.Wait(ctx); err != nil {
			return applied, err
		}

		chunk := ops[i:min(i+size, len(ops))]
		num := i/size + 1

		err := b.updateChunk(ctx, chunk)
		result := store.BatchResult{
			Action: store.ActionUpdate,
			Chunk:  num, Chunks: total,
			Size: len(chunk), Err: err,
		}
		if err == nil {
			result.Applied = len(chunk)
			applied += len(chunk)
		}
		b.observe(result)

		if err != nil {
			if ctx.Err() != nil {
				return applied, ctx.Err()
			}
			b.logger.Warn("update chunk failed",
				zap.Int("chunk", num),
				zap.Int("size", len(chunk)),
				zap.Error(err),
			)
		}
	}
	return applied, nil
}

func (b *RemoteBackend) updateChunk(ctx context.Context, chunk []store.UpdateOp) error {
	for _, metaKey := range priceMetaKeys {
		sql := buildPriceUpdateSQL(b.cfg.TablePrefix, metaKey, chunk)
		if _, err := b.runner.Run(ctx, b.dbCommand(sql)); err != nil {
			return fmt.Errorf("bulk update %s: %w", metaKey, err)
		}
	}
	return nil
}

// buildPriceUpdateSQL renders one CASE-per-id price statement. Values are
// digits from decimal rendering and int64 ids, never raw feed text.
func buildPriceUpdateSQL(prefix, metaKey string, chunk []store.UpdateOp) string {
	var cases strings.Builder
	ids := make([]string, 0, len(chunk))
	for _, op := range chunk {
		fmt.Fprintf(&cases, " WHEN %d THEN '%s'", op.DestinationID, op.Price.String())
		ids = append(ids, strconv.FormatInt(op.DestinationID, 10))
	}
	return fmt.Sprintf(
		"UPDATE %sproduct_meta SET meta_value = CASE product_id%s END WHERE meta_key = '%s' AND product_id IN (%s)",
		prefix, cases.String(), metaKey, strings.Join(ids, ","),
	)
}

// CountPublished counts visible items straight from the store database.
func (b *RemoteBackend) CountPublished(ctx context.Context) (int, error) {
	if b.runner == nil {
		return 0, store.ErrNotConnected
	}

	query := fmt.Sprintf("SELECT COUNT(*) AS count FROM %sproducts WHERE status = '%s'",
		b.cfg.TablePrefix, statusPublished)
	out, err := b.runner.Run(ctx, b.dbCommand(query))
	if err != nil {
		return 0, fmt.Errorf("count published items: %w", err)
	}

	rows, err := tabular.Records([]byte(out), tabular.WithDelimiter('\t'))
	if err != nil || len(rows) == 0 {
		return 0, fmt.Errorf("unexpected count output %q", strings.TrimSpace(out))
	}

	count, err := strconv.Atoi(rows[0].Get(remoteColCount))
	if err != nil {
		return 0, fmt.Errorf("parse count: %w", err)
	}
	return count, nil
}

// dbCommand wraps a SQL statement in a batch-mode store DB client
// invocation; --batch prints tab-delimited rows with a header.
func (b *RemoteBackend) dbCommand(sql string) string {
	parts := []string{"mysql", "--batch"}
	if b.cfg.DBUser != "" {
		parts = append(parts, "-u"+shellQuote(b.cfg.DBUser))
	}
	if b.cfg.DBPassword != "" {
		parts = append(parts, "-p"+shellQuote(b.cfg.DBPassword))
	}
	parts = append(parts, shellQuote(b.cfg.DBName), "-e", shellQuote(sql))
	return strings.Join(parts, " ")
}

func (b *RemoteBackend) observe(r store.BatchResult) {
	if b.observer != nil {
		b.observer(r)
	}
}

// shellQuote wraps s in single quotes for the remote shell, escaping any
// embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ store.Backend = (*RemoteBackend)(nil)
