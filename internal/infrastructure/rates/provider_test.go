package rates

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memCache struct {
	rate     decimal.Decimal
	ok       bool
	stored   []decimal.Decimal
	storeErr error
}

func (c *memCache) LastGood(context.Context) (decimal.Decimal, bool) {
	return c.rate, c.ok
}

func (c *memCache) StoreLastGood(_ context.Context, rate decimal.Decimal) error {
	c.stored = append(c.stored, rate)
	return c.storeErr
}

func TestProviderRate(t *testing.T) {
	fallback := decimal.NewFromInt(4000)

	t.Run("returns fetched rate and caches it", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"result":"success","rates":{"USD":1,"COP":4123.77}}`))
		}))
		defer srv.Close()

		cache := &memCache{}
		p := NewProvider(srv.URL, "COP", fallback, zap.NewNop(), WithCache(cache))

		rate := p.Rate(context.Background())
		assert.True(t, decimal.NewFromFloat(4123.77).Equal(rate))
		require.Len(t, cache.stored, 1)
		assert.True(t, rate.Equal(cache.stored[0]))
	})

	t.Run("cache write failure does not affect the result", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"rates":{"COP":4100}}`))
		}))
		defer srv.Close()

		cache := &memCache{storeErr: assert.AnError}
		p := NewProvider(srv.URL, "COP", fallback, zap.NewNop(), WithCache(cache))

		assert.True(t, decimal.NewFromInt(4100).Equal(p.Rate(context.Background())))
	})

	t.Run("falls back to last-good on HTTP failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		cache := &memCache{rate: decimal.NewFromInt(3950), ok: true}
		p := NewProvider(srv.URL, "COP", fallback, zap.NewNop(), WithCache(cache))

		assert.True(t, decimal.NewFromInt(3950).Equal(p.Rate(context.Background())))
	})

	t.Run("falls back to default when cache is empty", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		p := NewProvider(srv.URL, "COP", fallback, zap.NewNop(), WithCache(&memCache{}))
		assert.True(t, fallback.Equal(p.Rate(context.Background())))
	})

	t.Run("falls back to default without a cache", func(t *testing.T) {
		p := NewProvider("http://127.0.0.1:1", "COP", fallback, zap.NewNop())
		assert.True(t, fallback.Equal(p.Rate(context.Background())))
	})

	t.Run("missing currency falls back", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"rates":{"EUR":0.93}}`))
		}))
		defer srv.Close()

		p := NewProvider(srv.URL, "COP", fallback, zap.NewNop())
		assert.True(t, fallback.Equal(p.Rate(context.Background())))
	})

	t.Run("non-positive rate falls back", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"rates":{"COP":0}}`))
		}))
		defer srv.Close()

		p := NewProvider(srv.URL, "COP", fallback, zap.NewNop())
		assert.True(t, fallback.Equal(p.Rate(context.Background())))
	})

	t.Run("malformed body falls back", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<html>gateway error</html>`))
		}))
		defer srv.Close()

		p := NewProvider(srv.URL, "COP", fallback, zap.NewNop())
		assert.True(t, fallback.Equal(p.Rate(context.Background())))
	})

	t.Run("single attempt only", func(t *testing.T) {
		var calls int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		p := NewProvider(srv.URL, "COP", fallback, zap.NewNop())
		p.Rate(context.Background())
		assert.Equal(t, 1, calls)
	})
}
