package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"weigh-station-backend/internal/store"
	"weigh-station-backend/internal/weigh"
)

// Commit handles POST /api/weigh/commit: evaluate the latest reading against
// the variant's range and persist the outcome, surfacing duplicate serials
// as a structured conflict.
func (h *Handler) Commit(c *gin.Context) {
	var req weigh.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	evt, err := h.weigh.Commit(c.Request.Context(), req)
	if err != nil {
		var conflict *weigh.ConflictError
		switch {
		case errors.As(err, &conflict):
			c.JSON(http.StatusConflict, gin.H{
				"error": "serial already used",
				"prior": conflict.Prior,
			})
		case errors.Is(err, weigh.ErrBlankSerial):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, store.ErrVariantNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, weigh.ErrNoReading):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, evt)
}
