package handler

import (
	"github.com/gin-gonic/gin"
)

// SystemHandler handles liveness and service metadata endpoints.
type SystemHandler struct {
	BaseHandler
}

func NewSystemHandler() *SystemHandler {
	return &SystemHandler{}
}

// Health is the liveness probe. The payload is constant; the process
// answering at all is the signal.
func (h *SystemHandler) Health(c *gin.Context) {
	h.Success(c, gin.H{"status": "ok"})
}
