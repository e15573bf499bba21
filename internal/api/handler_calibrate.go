package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"weigh-station-backend/internal/scale"
)

// Tare redefines the current raw counts as zero grams.
func (h *Handler) Tare(c *gin.Context) {
	raw, err := h.scale.ReadRawFresh()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	if err := h.scale.Calibration().Tare(c.Request.Context(), raw); err != nil {
		if errors.Is(err, scale.ErrPersistCalibration) {
			// The new offset is live for this process; only durability failed.
			c.JSON(http.StatusOK, gin.H{"zero_offset": raw, "warning": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.scale.ResetFilter()
	c.JSON(http.StatusOK, gin.H{"zero_offset": raw})
}

// CalibrateWithKnown derives a new scale factor from a known mass on the
// platform.
func (h *Handler) CalibrateWithKnown(c *gin.Context) {
	knownG, err := strconv.ParseFloat(c.Query("known_g"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "known_g must be a number"})
		return
	}

	raw, err := h.scale.ReadRawFresh()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	factor, err := h.scale.Calibration().CalibrateWithKnown(c.Request.Context(), raw, knownG)
	switch {
	case errors.Is(err, scale.ErrInvalidKnownMass), errors.Is(err, scale.ErrNoLoad):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, scale.ErrPersistCalibration):
		c.JSON(http.StatusOK, gin.H{"scale_factor": factor, "warning": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"scale_factor": factor})
	}
}
