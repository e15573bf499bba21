package api

import (
	"github.com/SherClockHolmes/webpush-go"

	"weigh-station-backend/internal/hub"
	"weigh-station-backend/internal/scale"
	"weigh-station-backend/internal/store"
	"weigh-station-backend/internal/weigh"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store   store.Store
	scale   *scale.Service
	hub     *hub.Hub
	weigh   *weigh.Service
	webpush *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, sc *scale.Service, h *hub.Hub, w *weigh.Service, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		store:   s,
		scale:   sc,
		hub:     h,
		weigh:   w,
		webpush: webpushOptions,
	}
}
