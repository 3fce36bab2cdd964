package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/feedbridge/backend/internal/domain/run"
	"github.com/feedbridge/backend/internal/infrastructure/event"
	"github.com/feedbridge/backend/internal/interfaces/http/dto"
)

func TestNewEventsHandler(t *testing.T) {
	fx := newSyncFixture(t, &stubBackend{})

	t.Run("defaults", func(t *testing.T) {
		h := NewEventsHandler(fx.hub, fx.coordinator, zap.NewNop())
		assert.Equal(t, defaultMaxStreamClients, h.maxClients)
		assert.Equal(t, defaultHeartbeatInterval, h.heartbeat)
	})

	t.Run("with options", func(t *testing.T) {
		h := NewEventsHandler(fx.hub, fx.coordinator, zap.NewNop(),
			WithMaxStreamClients(2),
			WithHeartbeatInterval(time.Second),
		)
		assert.Equal(t, 2, h.maxClients)
		assert.Equal(t, time.Second, h.heartbeat)
	})
}

func TestEventsHandlerStream(t *testing.T) {
	fx := newSyncFixture(t, &stubBackend{})
	h := NewEventsHandler(fx.hub, fx.coordinator, zap.NewNop(),
		WithHeartbeatInterval(25*time.Millisecond),
	)

	router := gin.New()
	router.GET("/api/events", h.Stream)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/events", nil).WithContext(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		router.ServeHTTP(w, req)
	}()

	require.Eventually(t, func() bool { return fx.hub.SubscriberCount() == 1 },
		time.Second, 5*time.Millisecond, "stream must register a subscriber")

	fx.hub.Publish(event.Log(run.LogEntry{
		Time:    time.Now(),
		Level:   run.LevelInfo,
		Message: "downloaded 12 groups",
	}))
	fx.hub.Publish(event.Progress(run.Snapshot{
		Running:  true,
		Phase:    run.PhaseSyncing,
		Progress: 3,
		Total:    12,
	}))

	// Give the loop time to flush the events and at least one heartbeat.
	time.Sleep(80 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not shut down after client disconnect")
	}

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.Equal(t, "no", w.Header().Get("X-Accel-Buffering"))

	body := w.Body.String()
	assert.Contains(t, body, "event: init", "first frame is the current snapshot")
	assert.Contains(t, body, `"phase":"idle"`)
	assert.Contains(t, body, "event: log")
	assert.Contains(t, body, "downloaded 12 groups")
	assert.Contains(t, body, "event: progress")
	assert.Contains(t, body, `"progress":3`)
	assert.Contains(t, body, ": heartbeat")

	assert.Zero(t, fx.hub.SubscriberCount(), "subscriber detaches on disconnect")
}

func TestEventsHandlerStreamAtClientLimit(t *testing.T) {
	fx := newSyncFixture(t, &stubBackend{})
	h := NewEventsHandler(fx.hub, fx.coordinator, zap.NewNop(), WithMaxStreamClients(0))

	router := gin.New()
	router.GET("/api/events", h.Stream)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/events", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, dto.ErrCodeUnavailable, resp.Error.Code)
	assert.Zero(t, fx.hub.SubscriberCount())
}
