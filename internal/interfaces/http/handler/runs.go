package handler

import (
	"github.com/gin-gonic/gin"

	appsync "github.com/feedbridge/backend/internal/application/sync"
)

// RunsHandler serves the persisted run history.
type RunsHandler struct {
	BaseHandler
	coordinator *appsync.Coordinator
}

// NewRunsHandler creates a new RunsHandler
func NewRunsHandler(coordinator *appsync.Coordinator) *RunsHandler {
	return &RunsHandler{coordinator: coordinator}
}

// List returns recent run records, newest first.
func (h *RunsHandler) List(c *gin.Context) {
	records, err := h.coordinator.History(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, records)
}
