package api

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  256,
	WriteBufferSize: 1024,
	// The station UI is served from the bench PC itself; cross-origin
	// checks buy nothing on a closed shop-floor network.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeTimeout = 5 * time.Second

// LiveWeight streams every filtered reading to the client over a WebSocket.
// Each subscriber runs independently; a slow or dead connection only loses
// its own readings.
func (h *Handler) LiveWeight(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}

	sub := h.hub.Subscribe()
	defer h.hub.Unsubscribe(sub)
	defer conn.Close()

	// Reader goroutine: the client sends nothing meaningful, but reading is
	// how we learn about close frames and dead sockets.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case reading, ok := <-sub.C():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(reading); err != nil {
				return
			}
		}
	}
}

// LatestWeight is the pull-based fallback for clients without a working
// WebSocket, intended to be polled at a bounded interval.
func (h *Handler) LatestWeight(c *gin.Context) {
	reading, ok := h.hub.Latest()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"g": 0.0, "stable": false, "raw": 0})
		return
	}
	c.JSON(http.StatusOK, reading)
}

// ScaleLog returns the newest diagnostic frame log entries.
func (h *Handler) ScaleLog(c *gin.Context) {
	limit := 200
	if v, err := strconv.Atoi(c.DefaultQuery("limit", "200")); err == nil {
		limit = v
	}
	c.JSON(http.StatusOK, h.scale.DiagLog(limit))
}
