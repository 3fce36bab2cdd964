package handler

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedbridge/backend/internal/domain/store"
	"github.com/feedbridge/backend/internal/interfaces/http/dto"
)

func getProductCount(fx *syncFixture) *httptest.ResponseRecorder {
	router := gin.New()
	router.GET("/api/products/count", NewProductsHandler(fx.coordinator).Count)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/products/count", nil)
	router.ServeHTTP(w, req)
	return w
}

func TestProductsHandlerCount(t *testing.T) {
	t.Run("returns the published count", func(t *testing.T) {
		fx := newSyncFixture(t, &stubBackend{countValue: 1234})

		w := getProductCount(fx)

		assert.Equal(t, http.StatusOK, w.Code)
		resp := decodeResponse(t, w)
		assert.True(t, resp.Success)

		data, ok := resp.Data.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, float64(1234), data["count"])
	})

	t.Run("maps missing credentials to 422", func(t *testing.T) {
		fx := newSyncFixture(t, &stubBackend{
			connectErr: fmt.Errorf("%w: storefront api key and secret", store.ErrMissingCredentials),
		})

		w := getProductCount(fx)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		resp := decodeResponse(t, w)
		require.NotNil(t, resp.Error)
		assert.Equal(t, dto.ErrCodeInvalidState, resp.Error.Code)
	})

	t.Run("maps destination failures to 502", func(t *testing.T) {
		fx := newSyncFixture(t, &stubBackend{
			countErr: fmt.Errorf("%w: status 500", store.ErrRequestFailed),
		})

		w := getProductCount(fx)

		assert.Equal(t, http.StatusBadGateway, w.Code)
		resp := decodeResponse(t, w)
		require.NotNil(t, resp.Error)
		assert.Equal(t, dto.ErrCodeUpstream, resp.Error.Code)
		assert.Contains(t, resp.Error.Message, "status 500")
	})
}
