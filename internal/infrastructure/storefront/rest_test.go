package storefront

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/feedbridge/backend/internal/domain/store"
)

func restTestConfig(baseURL string) RESTConfig {
	return RESTConfig{
		BaseURL:   baseURL,
		APIKey:    "key",
		APISecret: "secret",
		BatchSize: 100,
	}
}

func connectedRESTBackend(t *testing.T, baseURL string, observer store.BatchObserver) *RESTBackend {
	t.Helper()
	b := NewRESTBackend(restTestConfig(baseURL), observer, zap.NewNop())
	require.NoError(t, b.Connect(context.Background()))
	return b
}

func TestRESTBackendConnect(t *testing.T) {
	t.Run("missing credentials", func(t *testing.T) {
		b := NewRESTBackend(RESTConfig{BaseURL: "http://store.local"}, nil, zap.NewNop())
		err := b.Connect(context.Background())
		assert.ErrorIs(t, err, store.ErrMissingCredentials)
	})

	t.Run("unusable base url", func(t *testing.T) {
		b := NewRESTBackend(RESTConfig{BaseURL: "not a url", APIKey: "k", APISecret: "s"}, nil, zap.NewNop())
		assert.Error(t, b.Connect(context.Background()))
	})

	t.Run("valid config", func(t *testing.T) {
		b := NewRESTBackend(restTestConfig("http://store.local"), nil, zap.NewNop())
		assert.NoError(t, b.Connect(context.Background()))
		assert.Equal(t, store.KindREST, b.Kind())
	})

	t.Run("operations before connect are rejected", func(t *testing.T) {
		b := NewRESTBackend(restTestConfig("http://store.local"), nil, zap.NewNop())
		_, err := b.LoadInventory(context.Background())
		assert.ErrorIs(t, err, store.ErrNotConnected)
		_, err = b.ApplyCreates(context.Background(), []store.CreateOp{{}})
		assert.ErrorIs(t, err, store.ErrNotConnected)
		_, err = b.CountPublished(context.Background())
		assert.ErrorIs(t, err, store.ErrNotConnected)
	})
}

func TestRESTBackendLoadInventory(t *testing.T) {
	t.Run("pages until a short page", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			require.True(t, ok)
			assert.Equal(t, "key", user)
			assert.Equal(t, "secret", pass)

			page := r.URL.Query().Get("page")
			w.Header().Set("Content-Type", "application/json")
			switch page {
			case "1":
				items := make([]restProduct, restPerPage)
				for i := range items {
					items[i] = restProduct{
						ID:     int64(i + 1),
						SKU:    fmt.Sprintf("sku-%d", i+1),
						Price:  "1000",
						Status: "publish",
					}
				}
				json.NewEncoder(w).Encode(items)
			default:
				json.NewEncoder(w).Encode([]restProduct{
					{ID: 999, SKU: "sku-last", Price: "2500", Status: "draft"},
				})
			}
		}))
		defer srv.Close()

		b := connectedRESTBackend(t, srv.URL, nil)
		inv, err := b.LoadInventory(context.Background())
		require.NoError(t, err)
		assert.Len(t, inv, restPerPage+1)

		rec, ok := inv["sku-last"]
		require.True(t, ok)
		assert.Equal(t, int64(999), rec.DestinationID)
		assert.True(t, decimal.NewFromInt(2500).Equal(rec.CurrentPrice))
		assert.Equal(t, "draft", rec.Status)
	})

	t.Run("empty store yields empty non-nil map", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("[]"))
		}))
		defer srv.Close()

		b := connectedRESTBackend(t, srv.URL, nil)
		inv, err := b.LoadInventory(context.Background())
		require.NoError(t, err)
		require.NotNil(t, inv)
		assert.Empty(t, inv)
	})
}

func TestRESTBackendApplyCreates(t *testing.T) {
	makeOps := func(n int) []store.CreateOp {
		ops := make([]store.CreateOp, n)
		for i := range ops {
			ops[i] = store.CreateOp{
				ExternalKey: fmt.Sprintf("sku-%d", i),
				Title:       fmt.Sprintf("Item %d", i),
				Price:       decimal.NewFromInt(int64(1000 + i)),
			}
		}
		return ops
	}

	t.Run("chunks and registers real ids", func(t *testing.T) {
		var nextID int64
		var batchSizes []int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/products" {
				w.Write([]byte("[]"))
				return
			}
			require.Equal(t, "/products/batch", r.URL.Path)

			var req restBatchRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			batchSizes = append(batchSizes, len(req.Create))

			resp := restBatchResponse{}
			for _, item := range req.Create {
				nextID++
				resp.Create = append(resp.Create, restProduct{ID: nextID, SKU: item.SKU})
			}
			json.NewEncoder(w).Encode(resp)
		}))
		defer srv.Close()

		var results []store.BatchResult
		b := connectedRESTBackend(t, srv.URL, func(r store.BatchResult) {
			results = append(results, r)
		})

		inv, err := b.LoadInventory(context.Background())
		require.NoError(t, err)

		ops := makeOps(250)
		applied, err := b.ApplyCreates(context.Background(), ops)
		require.NoError(t, err)
		assert.Equal(t, 250, applied)

		// ceil(250/100) chunk calls.
		assert.Equal(t, []int{100, 100, 50}, batchSizes)
		require.Len(t, results, 3)
		assert.Equal(t, 1, results[0].Chunk)
		assert.Equal(t, 3, results[0].Chunks)
		assert.Equal(t, store.ActionCreate, results[0].Action)

		// Created items land in the held snapshot with their real ids.
		rec, ok := inv["sku-0"]
		require.True(t, ok)
		assert.Positive(t, rec.DestinationID)
		assert.True(t, decimal.NewFromInt(1000).Equal(rec.CurrentPrice))
	})

	t.Run("failed chunk applies zero and the rest continue", func(t *testing.T) {
		var call int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			call++
			if call == 2 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			var req restBatchRequest
			json.NewDecoder(r.Body).Decode(&req)
			resp := restBatchResponse{}
			for i, item := range req.Create {
				resp.Create = append(resp.Create, restProduct{ID: int64(call*1000 + i), SKU: item.SKU})
			}
			json.NewEncoder(w).Encode(resp)
		}))
		defer srv.Close()

		var failed []store.BatchResult
		b := connectedRESTBackend(t, srv.URL, func(r store.BatchResult) {
			if r.Err != nil {
				failed = append(failed, r)
			}
		})

		applied, err := b.ApplyCreates(context.Background(), makeOps(250))
		require.NoError(t, err)
		assert.Equal(t, 150, applied)
		require.Len(t, failed, 1)
		assert.ErrorIs(t, failed[0].Err, store.ErrRequestFailed)
	})

	t.Run("cancelled context aborts remaining chunks", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		var calls int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			cancel()
			json.NewEncoder(w).Encode(restBatchResponse{})
		}))
		defer srv.Close()

		b := connectedRESTBackend(t, srv.URL, nil)
		_, err := b.ApplyCreates(ctx, makeOps(250))
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("no ops means no calls", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("unexpected request")
		}))
		defer srv.Close()

		b := connectedRESTBackend(t, srv.URL, nil)
		applied, err := b.ApplyCreates(context.Background(), nil)
		require.NoError(t, err)
		assert.Zero(t, applied)
	})
}

func TestRESTBackendApplyUpdates(t *testing.T) {
	t.Run("price-only update keeps other fields off the wire", func(t *testing.T) {
		var raw map[string]any
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
			json.NewEncoder(w).Encode(restBatchResponse{Update: []restProduct{{ID: 77}}})
		}))
		defer srv.Close()

		b := connectedRESTBackend(t, srv.URL, nil)
		applied, err := b.ApplyUpdates(context.Background(), []store.UpdateOp{
			{DestinationID: 77, Price: decimal.NewFromInt(10000)},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, applied)

		update := raw["update"].([]any)[0].(map[string]any)
		assert.Equal(t, float64(77), update["id"])
		assert.Equal(t, "10000", update["price"])
		assert.NotContains(t, update, "title")
		assert.NotContains(t, update, "description")
		assert.NotContains(t, update, "image_url")
	})

	t.Run("full update carries refresh fields", func(t *testing.T) {
		var req restBatchRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			json.NewEncoder(w).Encode(restBatchResponse{Update: []restProduct{{ID: 77}}})
		}))
		defer srv.Close()

		b := connectedRESTBackend(t, srv.URL, nil)
		_, err := b.ApplyUpdates(context.Background(), []store.UpdateOp{{
			DestinationID: 77,
			Price:         decimal.NewFromInt(10000),
			Title:         "Charizard 4/102 Base Set",
			Description:   "Base Set 4/102",
			ImageURL:      "https://img.example/101.jpg",
		}})
		require.NoError(t, err)

		require.Len(t, req.Update, 1)
		assert.Equal(t, "Charizard 4/102 Base Set", req.Update[0].Title)
		assert.Equal(t, "https://img.example/101.jpg", req.Update[0].ImageURL)
	})
}

func TestRESTBackendCountPublished(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/products/count", r.URL.Path)
		w.Write([]byte(`{"count": 1234}`))
	}))
	defer srv.Close()

	b := connectedRESTBackend(t, srv.URL, nil)
	count, err := b.CountPublished(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1234, count)
}
