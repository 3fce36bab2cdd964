package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	appsync "github.com/feedbridge/backend/internal/application/sync"
	"github.com/feedbridge/backend/internal/domain/store"
	"github.com/feedbridge/backend/internal/interfaces/http/dto"
)

// ProductsHandler reports destination-side product facts.
type ProductsHandler struct {
	BaseHandler
	coordinator *appsync.Coordinator
}

// NewProductsHandler creates a new ProductsHandler
func NewProductsHandler(coordinator *appsync.Coordinator) *ProductsHandler {
	return &ProductsHandler{coordinator: coordinator}
}

// Count asks the destination store for its published item count. The
// query runs against the live store, so failures implicate the
// destination rather than this service.
func (h *ProductsHandler) Count(c *gin.Context) {
	count, err := h.coordinator.CountPublished(c.Request.Context())
	if err != nil {
		if errors.Is(err, store.ErrMissingCredentials) {
			h.HandleError(c, err)
			return
		}
		h.BadGateway(c, err.Error())
		return
	}

	h.Success(c, dto.ProductCountResponse{Count: count})
}
