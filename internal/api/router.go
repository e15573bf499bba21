package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"weigh-station-backend/config"
	"weigh-station-backend/internal/hub"
	"weigh-station-backend/internal/mw"
	"weigh-station-backend/internal/scale"
	"weigh-station-backend/internal/store"
	"weigh-station-backend/internal/weigh"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg *config.ServerConfig, s store.Store, sc *scale.Service, h *hub.Hub, w *weigh.Service, webpushOptions *webpush.Options) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(s, sc, h, w, webpushOptions)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), int(cfg.RateLimitPerSec)+5, cfg.RequestIPHeader)

	// The snapshot cache absorbs poll-fallback bursts; its TTL matches the
	// intended polling interval.
	snapshotTTL := time.Duration(cfg.SnapshotTTLMs) * time.Millisecond
	snapshotCache := mw.Cache(cache.New(snapshotTTL, time.Minute), snapshotTTL)

	// Live stream stays outside the rate limiter: it is one long-lived
	// connection, not a request series.
	r.GET("/ws/weight", handler.LiveWeight)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/weight/latest", snapshotCache, handler.LatestWeight)
		api.GET("/scale/log", handler.ScaleLog)

		api.POST("/calibrate/tare", handler.Tare)
		api.POST("/calibrate/with-known", handler.CalibrateWithKnown)

		api.POST("/weigh/commit", handler.Commit)

		api.GET("/variants", handler.GetVariants)
		api.GET("/stats", handler.GetStats)
		api.GET("/health", handler.Health)

		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
