package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"airbridge/internal/device"
)

func newTestServer(t *testing.T) (*Server, *device.Store) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	store := device.NewStore()
	return NewServer(store, 0, logger), store
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	body := decodeJSON(t, rec)
	assert.Equal(t, "ok", body["status"])
}

func TestHandleSnapshot(t *testing.T) {
	s, store := newTestServer(t)

	rec := httptest.NewRecorder()
	s.handleSnapshot(rec, httptest.NewRequest(http.MethodGet, "/api/snapshot", nil))

	body := decodeJSON(t, rec)
	assert.Len(t, body, len(device.AllProps))
	assert.Equal(t, "off", body["power"])
	assert.Equal(t, float64(100), body["filter1_life"])
	assert.Nil(t, body["aqi"])

	// Snapshot changes show up on the next request.
	raw := make(map[device.PropKey]any, len(device.AllProps))
	for _, p := range device.AllProps {
		raw[p.Key] = p.Default
	}
	raw[device.PropPower] = "on"
	raw[device.PropAQI] = int64(42)

	next, err := device.NewSnapshot(raw)
	require.NoError(t, err)
	store.Accept(next)

	rec = httptest.NewRecorder()
	s.handleSnapshot(rec, httptest.NewRequest(http.MethodGet, "/api/snapshot", nil))

	body = decodeJSON(t, rec)
	assert.Equal(t, "on", body["power"])
	assert.Equal(t, float64(42), body["aqi"])
}

func TestHandleSnapshot_MethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.handleSnapshot(rec, httptest.NewRequest(http.MethodPost, "/api/snapshot", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleFacets(t *testing.T) {
	s, _ := newTestServer(t)

	// Nothing pushed yet.
	rec := httptest.NewRecorder()
	s.handleFacets(rec, httptest.NewRequest(http.MethodGet, "/api/facets", nil))
	assert.Empty(t, decodeJSON(t, rec))

	s.Push("active", true)
	s.Push("state", "purifying")
	s.Push("state", "idle")

	rec = httptest.NewRecorder()
	s.handleFacets(rec, httptest.NewRequest(http.MethodGet, "/api/facets", nil))

	body := decodeJSON(t, rec)
	assert.Len(t, body, 2)
	assert.Equal(t, true, body["active"])
	assert.Equal(t, "idle", body["state"])
}

func TestPush_WithoutClientsIsSafe(t *testing.T) {
	s, _ := newTestServer(t)
	s.Push("temperature", 21.5)
}
