package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appsync "github.com/feedbridge/backend/internal/application/sync"
	"github.com/feedbridge/backend/internal/infrastructure/event"
	"github.com/feedbridge/backend/internal/interfaces/http/dto"
)

const (
	defaultMaxStreamClients  = 100
	defaultHeartbeatInterval = 15 * time.Second
)

// EventsOption configures the events handler
type EventsOption func(*EventsHandler)

// WithMaxStreamClients caps concurrent event stream connections
func WithMaxStreamClients(n int) EventsOption {
	return func(h *EventsHandler) {
		h.maxClients = n
	}
}

// WithHeartbeatInterval overrides the keep-alive comment interval
func WithHeartbeatInterval(d time.Duration) EventsOption {
	return func(h *EventsHandler) {
		h.heartbeat = d
	}
}

// EventsHandler streams run state to dashboard clients over SSE.
type EventsHandler struct {
	BaseHandler
	hub         *event.Hub
	coordinator *appsync.Coordinator
	logger      *zap.Logger
	maxClients  int
	heartbeat   time.Duration
}

// NewEventsHandler creates a new EventsHandler
func NewEventsHandler(hub *event.Hub, coordinator *appsync.Coordinator, logger *zap.Logger, opts ...EventsOption) *EventsHandler {
	h := &EventsHandler{
		hub:         hub,
		coordinator: coordinator,
		logger:      logger,
		maxClients:  defaultMaxStreamClients,
		heartbeat:   defaultHeartbeatInterval,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Stream serves the event stream. The connection opens with an init
// event carrying the full state snapshot, then receives log and progress
// events as the run produces them. Comment lines keep idle connections
// alive through proxies.
func (h *EventsHandler) Stream(c *gin.Context) {
	if h.hub.SubscriberCount() >= h.maxClients {
		h.Error(c, http.StatusServiceUnavailable, dto.ErrCodeUnavailable,
			"event stream is at its client limit")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // tell nginx not to buffer the stream

	id, ch := h.hub.Subscribe()
	defer h.hub.Unsubscribe(id)

	h.logger.Debug("event stream opened",
		zap.String("subscriber_id", id),
		zap.String("remote", c.ClientIP()),
	)

	// New subscribers replay from the current snapshot so they never
	// start mid-run with an empty picture.
	if err := writeEvent(c, event.Init(h.coordinator.Status())); err != nil {
		return
	}
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("event stream closed", zap.String("subscriber_id", id))
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(c, ev); err != nil {
				return
			}
			c.Writer.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(c.Writer, ": heartbeat\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

// writeEvent serializes one hub event in SSE wire format.
func writeEvent(c *gin.Context, ev event.Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
