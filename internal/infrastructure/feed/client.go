// Package feed fetches the hosted catalog: a groups listing plus one
// products document per group, both CSV with header-named columns.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/feedbridge/backend/internal/domain/catalog"
	"github.com/feedbridge/backend/internal/infrastructure/tabular"
)

// ErrFeedUnavailable wraps a non-OK upstream response.
var ErrFeedUnavailable = errors.New("feed: upstream returned non-OK status")

// Groups listing columns.
const (
	colGroupID      = "groupId"
	colGroupName    = "name"
	colAbbreviation = "abbreviation"
)

// defaultMaxBodyBytes caps feed documents when no limit is configured.
const defaultMaxBodyBytes = 20 << 20

// Archiver persists fetched feed documents. Implementations must be safe
// for concurrent use.
type Archiver interface {
	Store(ctx context.Context, key string, data []byte, contentType string) error
}

// Client fetches and parses feed documents. Fetches are single attempts:
// the caller decides what a failed group means, the client never retries.
type Client struct {
	baseURL      string
	category     string
	httpClient   *http.Client
	maxBodyBytes int64
	archiver     Archiver
	logger       *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithMaxBodyBytes caps the bytes read from one feed document.
func WithMaxBodyBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBodyBytes = n
		}
	}
}

// WithArchiver tees every fetched document into an archive store. Archive
// failures are logged and never fail the fetch.
func WithArchiver(a Archiver) Option {
	return func(c *Client) {
		c.archiver = a
	}
}

// NewClient builds a feed client for one catalog category.
func NewClient(baseURL, category string, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:      baseURL,
		category:     category,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		maxBodyBytes: defaultMaxBodyBytes,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Groups fetches the category's group listing in feed order. Rows whose
// group id does not parse are skipped with a warning.
func (c *Client) Groups(ctx context.Context) ([]catalog.Group, error) {
	path := fmt.Sprintf("/%s/groups.csv", c.category)
	data, err := c.fetch(ctx, path)
	if err != nil {
		return nil, err
	}
	c.archive(ctx, fmt.Sprintf("feeds/%s/%s/groups.csv", c.category, archiveDate()), data)

	rows, err := tabular.Records(data)
	if err != nil {
		return nil, fmt.Errorf("parse groups listing: %w", err)
	}

	groups := make([]catalog.Group, 0, len(rows))
	for _, row := range rows {
		id, err := strconv.Atoi(row.Get(colGroupID))
		if err != nil {
			c.logger.Warn("skipping group row with bad id",
				zap.Int("line", row.Line),
				zap.String("group_id", row.Get(colGroupID)),
			)
			continue
		}
		groups = append(groups, catalog.Group{
			ID:           id,
			Name:         row.Get(colGroupName),
			Abbreviation: row.Get(colAbbreviation),
		})
	}
	return groups, nil
}

// GroupRows fetches one group's product rows.
func (c *Client) GroupRows(ctx context.Context, groupID int) ([]catalog.RawRow, error) {
	path := fmt.Sprintf("/%s/%d/products.csv", c.category, groupID)
	data, err := c.fetch(ctx, path)
	if err != nil {
		return nil, err
	}
	c.archive(ctx, fmt.Sprintf("feeds/%s/%s/%d.csv", c.category, archiveDate(), groupID), data)

	rows, err := tabular.Records(data)
	if err != nil {
		return nil, fmt.Errorf("parse products for group %d: %w", groupID, err)
	}

	raw := make([]catalog.RawRow, 0, len(rows))
	for _, row := range rows {
		raw = append(raw, catalog.RawRow(row.Data))
	}
	return raw, nil
}

func (c *Client) fetch(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d for %s", ErrFeedUnavailable, resp.StatusCode, path)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func (c *Client) archive(ctx context.Context, key string, data []byte) {
	if c.archiver == nil {
		return
	}
	if err := c.archiver.Store(ctx, key, data, "text/csv"); err != nil {
		c.logger.Warn("feed archive write failed", zap.String("key", key), zap.Error(err))
	}
}

func archiveDate() string {
	return time.Now().UTC().Format("2006-01-02")
}
