package api

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weigh-station-backend/internal/scale"
)

func TestLiveWeightStream(t *testing.T) {
	env := setupTestRouter(t, sourceAt(0))
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/weight"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Wait until the handler has registered its hub subscription before
	// publishing, or the reading would be lost.
	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("websocket handler never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	for _, g := range []float64{104.5, 104.7} {
		env.hub.Publish(scale.FilteredReading{G: g, Stable: true, Raw: int64(g * 1000)})
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var r scale.FilteredReading
	require.NoError(t, conn.ReadJSON(&r))
	assert.Equal(t, 104.5, r.G)
	require.NoError(t, conn.ReadJSON(&r))
	assert.Equal(t, 104.7, r.G)
	assert.True(t, r.Stable)
}

func TestLiveWeightClientDisconnect(t *testing.T) {
	env := setupTestRouter(t, sourceAt(0))
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/weight"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("websocket handler never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn.Close()

	// The handler must notice the dead socket and drop its subscription.
	deadline = time.Now().Add(2 * time.Second)
	for env.hub.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription leaked after client disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
