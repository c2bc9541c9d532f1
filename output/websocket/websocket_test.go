package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sensorstream/hub"
	"github.com/c360/sensorstream/input/broker"
	"github.com/c360/sensorstream/metric"
	"github.com/c360/sensorstream/telemetry"
	sstestutil "github.com/c360/sensorstream/testutil"
)

type harness struct {
	hub    *hub.Hub
	server *Server
	http   *httptest.Server
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	h, err := hub.New(hub.Config{}, nil)
	require.NoError(t, err)

	status := func() broker.Status {
		return broker.Status{Connected: true, State: "connected", MessagesReceived: 7}
	}
	s, err := New(DefaultConfig(), h, status, opts...)
	require.NoError(t, err)

	srv := httptest.NewServer(s)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		srv.Close()
		h.Close()
	})

	return &harness{hub: h, server: s, http: srv}
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.http.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func enriched(r telemetry.Reading, alerts ...telemetry.Alert) telemetry.EnrichedReading {
	return telemetry.EnrichedReading{Reading: r, ID: r.DeviceID + "-1", Alerts: alerts}
}

// connect dials and consumes the snapshot and status messages.
func (h *harness) connect(t *testing.T) (*websocket.Conn, SnapshotPayload) {
	t.Helper()
	conn := h.dial(t)

	env := read(t, conn)
	require.Equal(t, TypeSnapshot, env.Type)
	var snap SnapshotPayload
	require.NoError(t, json.Unmarshal(env.Payload, &snap))

	env = read(t, conn)
	require.Equal(t, TypeConnectionStatus, env.Type)
	return conn, snap
}

func TestNew_RequiresHub(t *testing.T) {
	_, err := New(DefaultConfig(), nil, nil)
	assert.Error(t, err)
}

func TestServer_CatchUpThenStatus(t *testing.T) {
	h := newHarness(t)
	h.hub.Publish(enriched(sstestutil.Reading("sensor-2", 22, 40)))
	h.hub.Publish(enriched(sstestutil.Reading("sensor-1", 21, 45)))

	conn := h.dial(t)

	env := read(t, conn)
	assert.Equal(t, TypeSnapshot, env.Type)
	assert.NotEmpty(t, env.ID)
	assert.NotZero(t, env.Timestamp)

	var snap SnapshotPayload
	require.NoError(t, json.Unmarshal(env.Payload, &snap))
	require.Len(t, snap.Readings, 2)
	assert.Equal(t, "sensor-1", snap.Readings[0].DeviceID)
	assert.Equal(t, "sensor-2", snap.Readings[1].DeviceID)
	assert.Equal(t, uint64(2), snap.Seq)

	env = read(t, conn)
	assert.Equal(t, TypeConnectionStatus, env.Type)
	var status broker.Status
	require.NoError(t, json.Unmarshal(env.Payload, &status))
	assert.True(t, status.Connected)
	assert.Equal(t, uint64(7), status.MessagesReceived)
}

func TestServer_LiveUpdatesAndAlerts(t *testing.T) {
	h := newHarness(t)
	conn, snap := h.connect(t)
	assert.Empty(t, snap.Readings)

	alert := telemetry.Alert{Kind: telemetry.KindTemperature, Message: "High temperature: 34.0°C", Severity: telemetry.SeverityWarning}
	h.hub.Publish(enriched(sstestutil.Reading("sensor-1", 34, 50), alert))

	env := read(t, conn)
	require.Equal(t, TypeSensorUpdate, env.Type)
	var got telemetry.EnrichedReading
	require.NoError(t, json.Unmarshal(env.Payload, &got))
	assert.Equal(t, "sensor-1", got.DeviceID)
	assert.InDelta(t, 34.0, got.Temperature, 0.001)

	env = read(t, conn)
	require.Equal(t, TypeAlert, env.Type)
	var rec hub.AlertRecord
	require.NoError(t, json.Unmarshal(env.Payload, &rec))
	assert.Equal(t, "sensor-1", rec.DeviceID)
	require.Len(t, rec.Alerts, 1)
	assert.Equal(t, alert.Message, rec.Alerts[0].Message)
}

func TestServer_RequestLatest(t *testing.T) {
	h := newHarness(t)
	conn, _ := h.connect(t)

	h.hub.Publish(enriched(sstestutil.Reading("sensor-1", 21, 45)))
	env := read(t, conn)
	require.Equal(t, TypeSensorUpdate, env.Type)

	require.NoError(t, conn.WriteJSON(Envelope{Type: TypeRequestLatest}))

	env = read(t, conn)
	require.Equal(t, TypeLatestData, env.Type)
	var latest []telemetry.EnrichedReading
	require.NoError(t, json.Unmarshal(env.Payload, &latest))
	require.Len(t, latest, 1)
	assert.Equal(t, "sensor-1", latest[0].DeviceID)
}

func TestServer_BadRequestsKeepConnection(t *testing.T) {
	h := newHarness(t)
	conn, _ := h.connect(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	env := read(t, conn)
	assert.Equal(t, TypeError, env.Type)

	require.NoError(t, conn.WriteJSON(Envelope{Type: "subscribe"}))
	env = read(t, conn)
	require.Equal(t, TypeError, env.Type)
	var msg ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &msg))
	assert.Contains(t, msg.Message, "subscribe")

	require.NoError(t, conn.WriteJSON(Envelope{Type: TypeRequestLatest}))
	assert.Equal(t, TypeLatestData, read(t, conn).Type)
}

func TestServer_HubCloseSendsGoingAway(t *testing.T) {
	h := newHarness(t)
	conn, _ := h.connect(t)

	h.hub.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	assert.Eventually(t, func() bool { return h.server.Clients() == 0 }, time.Second, 10*time.Millisecond)
}

func TestServer_ShutdownClosesClientsAndRefusesNew(t *testing.T) {
	h := newHarness(t)
	conn, _ := h.connect(t)
	require.Eventually(t, func() bool { return h.server.Clients() == 1 }, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.server.Shutdown(ctx))
	assert.Equal(t, 0, h.server.Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	url := "ws" + strings.TrimPrefix(h.http.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestServer_AllowedOrigins(t *testing.T) {
	h, err := hub.New(hub.Config{}, nil)
	require.NoError(t, err)
	defer h.Close()

	cfg := DefaultConfig()
	cfg.AllowedOrigins = []string{"https://dashboard.example"}
	s, err := New(cfg, h, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://dashboard.example")
	assert.True(t, s.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, s.checkOrigin(req))
}

func TestServer_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	h := newHarness(t, WithMetrics(registry))

	conn, _ := h.connect(t)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.server.metrics.clientsConnected) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.server.metrics.connectionTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.server.metrics.messagesSent.WithLabelValues(TypeSnapshot)))

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.server.metrics.clientsConnected) == 0
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.server.metrics.disconnectionTotal.WithLabelValues("normal")))

	_, err := newMetrics(registry)
	assert.Error(t, err, "second registration conflicts")
}
