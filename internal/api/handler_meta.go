package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// GetVariants lists the part variants. Variant administration happens
// elsewhere; this is the read-only reference the station UI selects from.
func (h *Handler) GetVariants(c *gin.Context) {
	variants, err := h.store.ListVariants(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve variants"})
		return
	}
	c.JSON(http.StatusOK, variants)
}

// GetStats returns the running pass/fail tallies, optionally scoped to one
// variant via ?variant_id=.
func (h *Handler) GetStats(c *gin.Context) {
	var variantID *int64
	if v := c.Query("variant_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid variant_id"})
			return
		}
		variantID = &id
	}

	pass, fail, err := h.store.Tally(c.Request.Context(), variantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute tallies"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pass": pass, "fail": fail, "total": pass + fail})
}

// Health reports service and scale-link status.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"scale_connected": h.scale.Connected(),
	})
}
