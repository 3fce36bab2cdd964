package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appsync "github.com/feedbridge/backend/internal/application/sync"
	"github.com/feedbridge/backend/internal/domain/store"
	"github.com/feedbridge/backend/internal/infrastructure/logger"
	"github.com/feedbridge/backend/internal/interfaces/http/dto"
	"github.com/feedbridge/backend/internal/interfaces/http/middleware"
)

// SyncHandler controls reconciliation runs: start, stop and status.
type SyncHandler struct {
	BaseHandler
	coordinator *appsync.Coordinator
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(coordinator *appsync.Coordinator) *SyncHandler {
	return &SyncHandler{coordinator: coordinator}
}

// Start claims the run slot and responds 202 with the fresh snapshot.
// The run itself proceeds in the background; progress is observable via
// the status endpoint and the event stream. A second start while a run
// is active gets 409.
func (h *SyncHandler) Start(c *gin.Context) {
	var req dto.SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	// Binding validated the values; Method may be empty, which the
	// coordinator resolves to the configured backend.
	mode := store.Mode(req.Mode)
	kind := store.Kind(req.Method)

	logger.FromContext(c.Request.Context()).Info("Sync run requested",
		zap.String("mode", req.Mode), zap.String("method", req.Method))

	snap, err := h.coordinator.StartRun(mode, kind)
	if err != nil {
		if errors.Is(err, appsync.ErrRunActive) {
			c.JSON(http.StatusConflict, dto.NewErrorResponseWithHelp(
				dto.ErrCodeRunActive,
				"a sync run is already active",
				getRequestID(c),
				"poll GET /api/status or subscribe to GET /api/events for progress",
			))
			return
		}
		h.HandleError(c, err)
		return
	}

	h.Accepted(c, snap)
}

// Stop requests cancellation of the active run. Cancellation is best
// effort: the run winds down at its next group or chunk boundary, so the
// returned snapshot may still show it running. Stopping when no run is
// active is a no-op, not an error.
func (h *SyncHandler) Stop(c *gin.Context) {
	logger.FromContext(c.Request.Context()).Info("Sync stop requested")
	h.coordinator.Stop()
	h.Success(c, h.coordinator.Status())
}

// Status returns a point-in-time snapshot of the run state, including
// the recent log tail.
func (h *SyncHandler) Status(c *gin.Context) {
	h.Success(c, h.coordinator.Status())
}
