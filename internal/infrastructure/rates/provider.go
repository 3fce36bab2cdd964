// Package rates resolves the run's exchange rate. Resolution is fail-soft
// by contract: the provider makes one HTTP attempt and degrades through
// the last-good cache to the configured default, so a rate outage can
// never fail a run.
package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrCurrencyMissing marks a response without the configured currency.
	ErrCurrencyMissing = errors.New("rates: currency missing from response")
	// ErrInvalidRate marks a non-positive rate value.
	ErrInvalidRate = errors.New("rates: rate not positive")
)

// maxBodyBytes caps the rate endpoint response; the document is a few KB.
const maxBodyBytes = 1 << 20

// Cache remembers the last successfully fetched rate across runs and
// process restarts.
type Cache interface {
	LastGood(ctx context.Context) (decimal.Decimal, bool)
	StoreLastGood(ctx context.Context, rate decimal.Decimal) error
}

// Provider fetches the daily rate for one currency.
type Provider struct {
	url        string
	currency   string
	fallback   decimal.Decimal
	httpClient *http.Client
	cache      Cache
	logger     *zap.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = hc
	}
}

// WithCache attaches a last-good rate cache.
func WithCache(c Cache) Option {
	return func(p *Provider) {
		p.cache = c
	}
}

// NewProvider builds a Provider. fallback is the configured default rate
// used when both the endpoint and the cache come up empty.
func NewProvider(url, currency string, fallback decimal.Decimal, logger *zap.Logger, opts ...Option) *Provider {
	p := &Provider{
		url:        url,
		currency:   currency,
		fallback:   fallback,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Rate resolves the exchange rate. It never returns an error: one fetch
// attempt, then the last-good cache, then the configured default. A fresh
// rate is written back to the cache; that write is best effort.
func (p *Provider) Rate(ctx context.Context) decimal.Decimal {
	rate, err := p.fetch(ctx)
	if err == nil {
		p.logger.Info("exchange rate resolved",
			zap.String("currency", p.currency),
			zap.String("rate", rate.String()),
		)
		if p.cache != nil {
			if err := p.cache.StoreLastGood(ctx, rate); err != nil {
				p.logger.Warn("rate cache write failed", zap.Error(err))
			}
		}
		return rate
	}

	p.logger.Warn("exchange rate fetch failed",
		zap.String("currency", p.currency),
		zap.Error(err),
	)

	if p.cache != nil {
		if cached, ok := p.cache.LastGood(ctx); ok {
			p.logger.Info("using last-good exchange rate", zap.String("rate", cached.String()))
			return cached
		}
	}

	p.logger.Warn("using default exchange rate", zap.String("rate", p.fallback.String()))
	return p.fallback
}

func (p *Provider) fetch(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build rate request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch rate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("rate endpoint returned HTTP %d", resp.StatusCode)
	}

	var payload struct {
		Rates map[string]json.Number `json:"rates"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&payload); err != nil {
		return decimal.Zero, fmt.Errorf("decode rate response: %w", err)
	}

	raw, ok := payload.Rates[p.currency]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrCurrencyMissing, p.currency)
	}

	rate, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse rate %q: %w", raw.String(), err)
	}
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidRate, rate.String())
	}
	return rate, nil
}
