package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"weigh-station-backend/config"
	"weigh-station-backend/internal/hub"
	"weigh-station-backend/internal/model"
	"weigh-station-backend/internal/scale"
	"weigh-station-backend/internal/store"
	"weigh-station-backend/internal/weigh"
)

// stubSource serves one fixed reading to the commit path.
type stubSource struct {
	reading scale.FilteredReading
	has     bool
}

func (s *stubSource) Latest() (scale.FilteredReading, bool) { return s.reading, s.has }
func (s *stubSource) BeginInteraction()                     {}
func (s *stubSource) EndInteraction()                       {}

func sourceAt(g float64) *stubSource {
	return &stubSource{
		reading: scale.FilteredReading{G: g, Stable: true, Raw: int64(g * 1000), At: time.Now()},
		has:     true,
	}
}

type testEnv struct {
	router *gin.Engine
	store  store.Store
	hub    *hub.Hub
}

func setupTestRouter(t *testing.T, src weigh.ReadingSource) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&model.Variant{},
		&model.Calibration{},
		&model.WeighEvent{},
		&model.PushSubscription{},
	))
	require.NoError(t, db.Create(&model.Variant{
		ID: 1, Name: "A", MinG: 100.0, MaxG: 110.0, Unit: "g", Enabled: true,
	}).Error)
	st := store.NewGormStore(db)

	cfg := &config.Config{}
	cfg.Server.RateLimitPerSec = 1000
	cfg.Server.SnapshotTTLMs = 1
	cfg.Scale.DiagLogCapacity = 100

	calib := scale.NewCalibration(st, 1000.0)
	calib.Set(0, 1000.0)
	h := hub.New(hub.DefaultBuffer)
	sc := scale.NewService(cfg, calib, h, nil)
	w := weigh.NewService(st, src, nil)

	router := NewRouter(&cfg.Server, st, sc, h, w, &webpush.Options{VAPIDPublicKey: "test-public-key"})
	return &testEnv{router: router, store: st, hub: h}
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCommitEndpoint(t *testing.T) {
	env := setupTestRouter(t, sourceAt(105.0))

	w := doJSON(t, env.router, "POST", "/api/weigh/commit", gin.H{
		"variant_id": 1, "serial": "SN-001", "operator": "alice",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var evt model.WeighEvent
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &evt))
	assert.Equal(t, "SN-001", evt.Serial)
	assert.Equal(t, 105.0, evt.GrossG)
	assert.True(t, evt.InRange)
	assert.NotZero(t, evt.ID)
}

func TestCommitEndpointConflict(t *testing.T) {
	env := setupTestRouter(t, sourceAt(105.0))

	w := doJSON(t, env.router, "POST", "/api/weigh/commit", gin.H{
		"variant_id": 1, "serial": "SN-001", "operator": "alice",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, env.router, "POST", "/api/weigh/commit", gin.H{
		"variant_id": 1, "serial": "SN-001", "operator": "bob",
	})
	require.Equal(t, http.StatusConflict, w.Code)

	var resp struct {
		Error string           `json:"error"`
		Prior model.WeighEvent `json:"prior"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "serial already used", resp.Error)
	assert.Equal(t, "alice", resp.Prior.Operator)
	assert.Equal(t, "SN-001", resp.Prior.Serial)
}

func TestCommitEndpointOverwrite(t *testing.T) {
	env := setupTestRouter(t, sourceAt(105.0))

	w := doJSON(t, env.router, "POST", "/api/weigh/commit", gin.H{
		"variant_id": 1, "serial": "SN-001",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var first model.WeighEvent
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))

	w = doJSON(t, env.router, "POST", "/api/weigh/commit", gin.H{
		"variant_id": 1, "serial": "SN-001", "operator": "bob", "overwrite": true,
	})
	require.Equal(t, http.StatusOK, w.Code)
	var second model.WeighEvent
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "bob", second.Operator)
}

func TestCommitEndpointValidation(t *testing.T) {
	tests := []struct {
		name string
		body gin.H
		src  weigh.ReadingSource
		code int
	}{
		{"missing variant_id", gin.H{"serial": "SN-001"}, sourceAt(105.0), http.StatusBadRequest},
		{"blank serial", gin.H{"variant_id": 1, "serial": "  "}, sourceAt(105.0), http.StatusBadRequest},
		{"unknown variant", gin.H{"variant_id": 99, "serial": "SN-001"}, sourceAt(105.0), http.StatusNotFound},
		{"no reading", gin.H{"variant_id": 1, "serial": "SN-001"}, &stubSource{}, http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := setupTestRouter(t, tc.src)
			w := doJSON(t, env.router, "POST", "/api/weigh/commit", tc.body)
			assert.Equal(t, tc.code, w.Code)
		})
	}
}

func TestLatestWeightEmpty(t *testing.T) {
	env := setupTestRouter(t, sourceAt(0))

	w := doJSON(t, env.router, "GET", "/api/weight/latest", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"g":0,"stable":false,"raw":0}`, w.Body.String())
}

func TestLatestWeight(t *testing.T) {
	env := setupTestRouter(t, sourceAt(0))
	env.hub.Publish(scale.FilteredReading{G: 104.7, Stable: true, Raw: 104700})

	w := doJSON(t, env.router, "GET", "/api/weight/latest", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"g":104.7,"stable":true,"raw":104700}`, w.Body.String())
}

func TestHealth(t *testing.T) {
	env := setupTestRouter(t, sourceAt(0))

	w := doJSON(t, env.router, "GET", "/api/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","scale_connected":false}`, w.Body.String())
}

func TestGetVariants(t *testing.T) {
	env := setupTestRouter(t, sourceAt(0))

	w := doJSON(t, env.router, "GET", "/api/variants", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var variants []model.Variant
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &variants))
	require.Len(t, variants, 1)
	assert.Equal(t, "A", variants[0].Name)
	assert.Equal(t, 100.0, variants[0].MinG)
}

func TestGetStats(t *testing.T) {
	env := setupTestRouter(t, sourceAt(105.0))

	// One pass, then a fail on the same variant under a different serial.
	w := doJSON(t, env.router, "POST", "/api/weigh/commit", gin.H{"variant_id": 1, "serial": "SN-001"})
	require.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, env.store.DB().Create(&model.WeighEvent{
		TS: time.Now().UTC(), VariantID: 1, Serial: "SN-002", GrossG: 90, NetG: 90, InRange: false,
	}).Error)

	w = doJSON(t, env.router, "GET", "/api/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"pass":1,"fail":1,"total":2}`, w.Body.String())

	w = doJSON(t, env.router, "GET", "/api/stats?variant_id=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"pass":1,"fail":1,"total":2}`, w.Body.String())

	w = doJSON(t, env.router, "GET", "/api/stats?variant_id=oops", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestScaleLogEmpty(t *testing.T) {
	env := setupTestRouter(t, sourceAt(0))

	w := doJSON(t, env.router, "GET", "/api/scale/log?limit=50", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestTareWithoutFreshData(t *testing.T) {
	env := setupTestRouter(t, sourceAt(0))

	w := doJSON(t, env.router, "POST", "/api/calibrate/tare", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCalibrateWithKnownValidation(t *testing.T) {
	env := setupTestRouter(t, sourceAt(0))

	w := doJSON(t, env.router, "POST", "/api/calibrate/with-known?known_g=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// A valid mass still fails without fresh raw data from the scale.
	w = doJSON(t, env.router, "POST", "/api/calibrate/with-known?known_g=100", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSubscriptionLifecycle(t *testing.T) {
	env := setupTestRouter(t, sourceAt(0))
	endpoint := "https://example.com/push"

	w := doJSON(t, env.router, "PUT", "/api/subscriptions", gin.H{
		"endpoint": endpoint, "p256dh": "key", "auth": "secret",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, env.router, "GET", fmt.Sprintf("/api/subscriptions?endpoint=%s", endpoint), nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Re-subscribing with fresh keys replaces the row, not duplicates it.
	w = doJSON(t, env.router, "PUT", "/api/subscriptions", gin.H{
		"endpoint": endpoint, "p256dh": "newkey", "auth": "newsecret",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var count int64
	require.NoError(t, env.store.DB().Model(&model.PushSubscription{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	w = doJSON(t, env.router, "DELETE", "/api/subscriptions", gin.H{"endpoint": endpoint})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, env.router, "GET", fmt.Sprintf("/api/subscriptions?endpoint=%s", endpoint), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPutSubscriptionValidation(t *testing.T) {
	env := setupTestRouter(t, sourceAt(0))

	w := doJSON(t, env.router, "PUT", "/api/subscriptions", gin.H{"endpoint": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetVAPIDPublicKey(t *testing.T) {
	env := setupTestRouter(t, sourceAt(0))

	w := doJSON(t, env.router, "GET", "/api/vapid_public_key", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"public_key":"test-public-key"}`, w.Body.String())
}
