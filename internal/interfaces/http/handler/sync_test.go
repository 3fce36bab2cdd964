package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appsync "github.com/feedbridge/backend/internal/application/sync"
	"github.com/feedbridge/backend/internal/domain/catalog"
	"github.com/feedbridge/backend/internal/domain/run"
	"github.com/feedbridge/backend/internal/domain/store"
	"github.com/feedbridge/backend/internal/infrastructure/event"
	"github.com/feedbridge/backend/internal/interfaces/http/dto"
	"github.com/feedbridge/backend/internal/interfaces/http/middleware"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	middleware.SetupValidator()
	os.Exit(m.Run())
}

type stubFeed struct {
	groups []catalog.Group
	rows   map[int][]catalog.RawRow
}

func (f *stubFeed) Groups(ctx context.Context) ([]catalog.Group, error) {
	return f.groups, nil
}

func (f *stubFeed) GroupRows(ctx context.Context, groupID int) ([]catalog.RawRow, error) {
	return f.rows[groupID], nil
}

type stubRates struct{}

func (stubRates) Rate(context.Context) decimal.Decimal { return decimal.NewFromInt(4000) }

// stubBackend completes instantly unless hold is set, in which case
// LoadInventory parks until hold closes or the run is cancelled.
type stubBackend struct {
	kind       store.Kind
	connectErr error
	countValue int
	countErr   error
	hold       chan struct{}
	connected  bool
}

func (b *stubBackend) Kind() store.Kind {
	if b.kind == "" {
		return store.KindREST
	}
	return b.kind
}

func (b *stubBackend) Connect(ctx context.Context) error {
	if b.connectErr != nil {
		return b.connectErr
	}
	b.connected = true
	return nil
}

func (b *stubBackend) Close() error { return nil }

func (b *stubBackend) LoadInventory(ctx context.Context) (store.Inventory, error) {
	if b.hold != nil {
		select {
		case <-b.hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return store.Inventory{}, nil
}

func (b *stubBackend) ApplyCreates(ctx context.Context, ops []store.CreateOp) (int, error) {
	return len(ops), nil
}

func (b *stubBackend) ApplyUpdates(ctx context.Context, ops []store.UpdateOp) (int, error) {
	return len(ops), nil
}

func (b *stubBackend) CountPublished(ctx context.Context) (int, error) {
	if !b.connected {
		return 0, store.ErrNotConnected
	}
	if b.countErr != nil {
		return 0, b.countErr
	}
	return b.countValue, nil
}

type stubHistory struct {
	records []run.Record
}

func (h *stubHistory) Save(ctx context.Context, rec *run.Record) error {
	h.records = append(h.records, *rec)
	return nil
}

func (h *stubHistory) ListRecent(ctx context.Context, limit int) ([]run.Record, error) {
	out := make([]run.Record, 0, limit)
	for i := len(h.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h.records[i])
	}
	return out, nil
}

type syncFixture struct {
	coordinator *appsync.Coordinator
	hub         *event.Hub
	backend     *stubBackend
}

func newSyncFixture(t *testing.T, backend *stubBackend, opts ...appsync.Option) *syncFixture {
	t.Helper()

	hub := event.NewHub(zap.NewNop())
	factory := func(kind store.Kind, observer store.BatchObserver) (store.Backend, error) {
		return backend, nil
	}
	feed := &stubFeed{
		groups: []catalog.Group{{ID: 1, Name: "Base Set", Abbreviation: "BS"}},
		rows: map[int][]catalog.RawRow{
			1: {{"productId": "11", "name": "Alakazam", "marketPrice": "3.25"}},
		},
	}
	rule := catalog.PriceRule{MinPrice: decimal.NewFromInt(200), Granularity: 100, Ceiling: true}

	coordinator := appsync.NewCoordinator(
		run.NewState(50),
		hub,
		feed,
		stubRates{},
		rule,
		factory,
		store.KindREST,
		zap.NewNop(),
		opts...,
	)
	return &syncFixture{coordinator: coordinator, hub: hub, backend: backend}
}

func waitForRun(t *testing.T, c *appsync.Coordinator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))
}

func newSyncRouter(h *SyncHandler) *gin.Engine {
	router := gin.New()
	router.POST("/api/sync", h.Start)
	router.POST("/api/sync/stop", h.Stop)
	router.GET("/api/status", h.Status)
	return router
}

func postSync(router *gin.Engine, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/sync", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestSyncHandlerStart(t *testing.T) {
	t.Run("accepts a full run with the default backend", func(t *testing.T) {
		fx := newSyncFixture(t, &stubBackend{})
		router := newSyncRouter(NewSyncHandler(fx.coordinator))

		w := postSync(router, `{"mode":"full"}`)

		assert.Equal(t, http.StatusAccepted, w.Code)
		resp := decodeResponse(t, w)
		assert.True(t, resp.Success)

		data, ok := resp.Data.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, true, data["running"])
		assert.Equal(t, "full", data["mode"])
		assert.Equal(t, "rest", data["backend"])

		waitForRun(t, fx.coordinator)
	})

	t.Run("honors the method override", func(t *testing.T) {
		fx := newSyncFixture(t, &stubBackend{kind: store.KindRemote})
		router := newSyncRouter(NewSyncHandler(fx.coordinator))

		w := postSync(router, `{"mode":"prices","method":"remote"}`)

		assert.Equal(t, http.StatusAccepted, w.Code)
		resp := decodeResponse(t, w)
		data, ok := resp.Data.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "prices", data["mode"])
		assert.Equal(t, "remote", data["backend"])

		waitForRun(t, fx.coordinator)
	})

	t.Run("rejects invalid payloads", func(t *testing.T) {
		tests := []struct {
			name  string
			body  string
			field string
		}{
			{name: "missing mode", body: `{}`, field: "mode"},
			{name: "unknown mode", body: `{"mode":"both"}`, field: "mode"},
			{name: "unknown method", body: `{"mode":"full","method":"ftp"}`, field: "method"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				fx := newSyncFixture(t, &stubBackend{})
				router := newSyncRouter(NewSyncHandler(fx.coordinator))

				w := postSync(router, tt.body)

				assert.Equal(t, http.StatusBadRequest, w.Code)
				resp := decodeResponse(t, w)
				require.NotNil(t, resp.Error)
				assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)

				require.NotEmpty(t, resp.Error.Details)
				assert.Equal(t, tt.field, resp.Error.Details[0].Field)
				assert.False(t, fx.coordinator.Status().Running, "invalid request must not start a run")
			})
		}
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		fx := newSyncFixture(t, &stubBackend{})
		router := newSyncRouter(NewSyncHandler(fx.coordinator))

		w := postSync(router, `{"mode":`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		resp := decodeResponse(t, w)
		require.NotNil(t, resp.Error)
		assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
		assert.False(t, fx.coordinator.Status().Running)
	})

	t.Run("returns 409 while a run is active", func(t *testing.T) {
		backend := &stubBackend{hold: make(chan struct{})}
		fx := newSyncFixture(t, backend)
		router := newSyncRouter(NewSyncHandler(fx.coordinator))

		first := postSync(router, `{"mode":"full"}`)
		require.Equal(t, http.StatusAccepted, first.Code)

		second := postSync(router, `{"mode":"full"}`)
		assert.Equal(t, http.StatusConflict, second.Code)

		resp := decodeResponse(t, second)
		require.NotNil(t, resp.Error)
		assert.Equal(t, dto.ErrCodeRunActive, resp.Error.Code)
		assert.NotEmpty(t, resp.Error.Help)

		close(backend.hold)
		waitForRun(t, fx.coordinator)

		// The slot is free again after the first run winds down.
		third := postSync(router, `{"mode":"full"}`)
		assert.Equal(t, http.StatusAccepted, third.Code)
		waitForRun(t, fx.coordinator)
	})
}

func TestSyncHandlerStop(t *testing.T) {
	t.Run("stop without an active run is a no-op", func(t *testing.T) {
		fx := newSyncFixture(t, &stubBackend{})
		router := newSyncRouter(NewSyncHandler(fx.coordinator))

		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/sync/stop", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		resp := decodeResponse(t, w)
		assert.True(t, resp.Success)

		data, ok := resp.Data.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, false, data["running"])
		assert.Equal(t, "idle", data["phase"])
	})

	t.Run("stop cancels the active run", func(t *testing.T) {
		backend := &stubBackend{hold: make(chan struct{})}
		fx := newSyncFixture(t, backend)
		router := newSyncRouter(NewSyncHandler(fx.coordinator))

		first := postSync(router, `{"mode":"full"}`)
		require.Equal(t, http.StatusAccepted, first.Code)

		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/sync/stop", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		waitForRun(t, fx.coordinator)
		final := fx.coordinator.Status()
		assert.False(t, final.Running)
		assert.Equal(t, run.PhaseError, final.Phase)
	})
}

func TestSyncHandlerStatus(t *testing.T) {
	fx := newSyncFixture(t, &stubBackend{})
	router := newSyncRouter(NewSyncHandler(fx.coordinator))

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/status", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, false, data["running"])
	assert.Equal(t, "idle", data["phase"])
	assert.Equal(t, float64(0), data["progress"])
	assert.Equal(t, float64(0), data["total"])
}
