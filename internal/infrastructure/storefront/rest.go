package storefront

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/feedbridge/backend/internal/domain/store"
)

const (
	// restPerPage is the inventory page size; a shorter page ends paging.
	restPerPage = 100
	// maxResponseBytes limits response bodies to prevent memory exhaustion.
	maxResponseBytes = 10 * 1024 * 1024
	// statusPublished is the destination's visible-product status.
	statusPublished = "publish"
)

// RESTConfig configures the storefront batch API backend.
type RESTConfig struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	BatchSize  int
	BatchDelay time.Duration
	Timeout    time.Duration
}

// RESTBackend reconciles through the storefront's batch products API.
// Creates and updates go out as POST /products/batch chunks under HTTP
// basic auth.
type RESTBackend struct {
	cfg       RESTConfig
	client    *http.Client
	pacer     *Pacer
	observer  store.BatchObserver
	logger    *zap.Logger
	connected bool
	inventory store.Inventory
}

// NewRESTBackend builds the backend. observer may be nil.
func NewRESTBackend(cfg RESTConfig, observer store.BatchObserver, logger *zap.Logger) *RESTBackend {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = restPerPage
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &RESTBackend{
		cfg:      cfg,
		client:   &http.Client{Timeout: timeout},
		pacer:    NewPacer(cfg.BatchDelay),
		observer: observer,
		logger:   logger,
	}
}

func (b *RESTBackend) Kind() store.Kind {
	return store.KindREST
}

// Connect validates the configuration. The REST backend holds no
// connection state beyond the shared HTTP client.
func (b *RESTBackend) Connect(_ context.Context) error {
	if b.cfg.APIKey == "" || b.cfg.APISecret == "" {
		return fmt.Errorf("%w: storefront api key and secret", store.ErrMissingCredentials)
	}
	u, err := url.Parse(b.cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("storefront base url %q is not usable", b.cfg.BaseURL)
	}
	b.connected = true
	return nil
}

func (b *RESTBackend) Close() error {
	b.client.CloseIdleConnections()
	b.connected = false
	return nil
}

// restProduct is one destination item on the wire.
type restProduct struct {
	ID     int64  `json:"id"`
	SKU    string `json:"sku"`
	Price  string `json:"price"`
	Status string `json:"status"`
}

// restItem is one batch request entry. Empty fields stay off the wire so
// price-only updates do not clobber unrelated fields.
type restItem struct {
	ID          int64  `json:"id,omitempty"`
	SKU         string `json:"sku,omitempty"`
	Title       string `json:"title,omitempty"`
	Price       string `json:"price,omitempty"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	Status      string `json:"status,omitempty"`
}

type restBatchRequest struct {
	Create []restItem `json:"create,omitempty"`
	Update []restItem `json:"update,omitempty"`
}

type restBatchResponse struct {
	Create []restProduct `json:"create"`
	Update []restProduct `json:"update"`
}

// LoadInventory pages the products listing until a short page and keys the
// snapshot by SKU. The returned map is also held internally so created
// items can be registered during the run.
func (b *RESTBackend) LoadInventory(ctx context.Context) (store.Inventory, error) {
	if !b.connected {
		return nil, store.ErrNotConnected
	}

	inv := make(store.Inventory)
	for page := 1; ; page++ {
		var products []restProduct
		path := fmt.Sprintf("/products?page=%d&per_page=%d", page, restPerPage)
		if err := b.getJSON(ctx, path, &products); err != nil {
			return nil, fmt.Errorf("load inventory page %d: %w", page, err)
		}

		for _, p := range products {
			if p.SKU == "" {
				continue
			}
			// Unpriced items read as zero and will surface as updates.
			price, err := decimal.NewFromString(p.Price)
			if err != nil {
				price = decimal.Zero
			}
			inv[p.SKU] = store.ExistingRecord{
				DestinationID: p.ID,
				CurrentPrice:  price,
				Status:        p.Status,
			}
		}

		if len(products) < restPerPage {
			break
		}
	}

	b.inventory = inv
	return inv, nil
}

// ApplyCreates posts create chunks. A failed chunk is logged and applies
// zero; only context cancellation aborts the remaining chunks.
func (b *RESTBackend) ApplyCreates(ctx context.Context, ops []store.CreateOp) (int, error) {
	if !b.connected {
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

		created, err := b.createChunk(ctx, chunk)
		result := store.BatchResult{
			Action: store.ActionCreate,
			Chunk:  num, Chunks: total,
			Size: len(chunk), Applied: created, Err: err,
		}
		b.observe(result)

		if err != nil {
			if ctx.Err() != nil {
				return applied, ctx.Err()
			}
			b.logger.Warn("create chunk failed",
				zap.Int("chunk", num),
				zap.Int("size", len(chunk)),
				zap.Error(err),
			)
			continue
		}
		applied += created
	}
	return applied, nil
}

func (b *RESTBackend) createChunk(ctx context.Context, chunk []store.CreateOp) (int, error) {
	items := make([]restItem, 0, len(chunk))
	bySKU := make(map[string]store.CreateOp, len(chunk))
	for _, op := range chunk {
		bySKU[op.ExternalKey] = op
		items = append(items, restItem{
			SKU:         op.ExternalKey,
			Title:       op.Title,
			Price:       op.Price.String(),
			Description: op.Description,
			ImageURL:    op.ImageURL,
			Status:      statusPublished,
		})
	}

	var resp restBatchResponse
	if err := b.postJSON(ctx, "/products/batch", restBatchRequest{Create: items}, &resp); err != nil {
		return 0, err
	}

	created := 0
	for _, p := range resp.Create {
		if p.ID == 0 {
			continue
		}
		op, ok := bySKU[p.SKU]
		if !ok {
			continue
		}
		created++
		// Register the real destination id so later groups in this run
		// see the item as existing.
		if b.inventory != nil {
			b.inventory[p.SKU] = store.ExistingRecord{
				DestinationID: p.ID,
				CurrentPrice:  op.Price,
				Status:        statusPublished,
			}
		}
	}
	return created, nil
}

// ApplyUpdates posts update chunks, same failure policy as ApplyCreates.
func (b *RESTBackend) ApplyUpdates(ctx context.Context, ops []store.UpdateOp) (int, error) {
	if !b.connected {
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

		updated, err := b.updateChunk(ctx, chunk)
		b.observe(store.BatchResult{
			Action: store.ActionUpdate,
			Chunk:  num, Chunks: total,
			Size: len(chunk), Applied: updated, Err: err,
		})

		if err != nil {
			if ctx.Err() != nil {
				return applied, ctx.Err()
			}
			b.logger.Warn("update chunk failed",
				zap.Int("chunk", num),
				zap.Int("size", len(chunk)),
				zap.Error(err),
			)
			continue
		}
		applied += updated
	}
	return applied, nil
}

func (b *RESTBackend) updateChunk(ctx context.Context, chunk []store.UpdateOp) (int, error) {
	items := make([]restItem, 0, len(chunk))
	for _, op := range chunk {
		items = append(items, restItem{
			ID:          op.DestinationID,
			Price:       op.Price.String(),
			Title:       op.Title,
			Description: op.Description,
			ImageURL:    op.ImageURL,
		})
	}

	var resp restBatchResponse
	if err := b.postJSON(ctx, "/products/batch", restBatchRequest{Update: items}, &resp); err != nil {
		return 0, err
	}

	updated := 0
	for _, p := range resp.Update {
		if p.ID != 0 {
			updated++
		}
	}
	return updated, nil
}

// CountPublished asks the destination for its published-item count.
func (b *RESTBackend) CountPublished(ctx context.Context) (int, error) {
	if !b.connected {
		return 0, store.ErrNotConnected
	}
	var payload struct {
		Count int `json:"count"`
	}
	if err := b.getJSON(ctx, "/products/count", &payload); err != nil {
		return 0, err
	}
	return payload.Count, nil
}

func (b *RESTBackend) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(b.cfg.APIKey, b.cfg.APISecret)

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: HTTP %d for %s", store.ErrRequestFailed, resp.StatusCode, path)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (b *RESTBackend) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(b.cfg.APIKey, b.cfg.APISecret)

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: HTTP %d for %s", store.ErrRequestFailed, resp.StatusCode, path)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (b *RESTBackend) observe(r store.BatchResult) {
	if b.observer != nil {
		b.observer(r)
	}
}

var _ store.Backend = (*RESTBackend)(nil)
