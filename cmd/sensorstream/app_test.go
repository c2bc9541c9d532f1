package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sensorstream/config"
	"github.com/c360/sensorstream/engine"
	"github.com/c360/sensorstream/hub"
	"github.com/c360/sensorstream/mqttclient"
	"github.com/c360/sensorstream/natsclient"
	"github.com/c360/sensorstream/processor/anomaly"
	"github.com/c360/sensorstream/processor/threshold"
	"github.com/c360/sensorstream/storage"
	"github.com/c360/sensorstream/storage/memory"
	"github.com/c360/sensorstream/telemetry"
	"github.com/c360/sensorstream/testutil"
)

func testAppConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Thresholds = threshold.Config{Temperature: threshold.Float(30), Humidity: threshold.Float(80)}
	cfg.Broker.URL = "tcp://127.0.0.1:1"
	cfg.Broker.ConnectTimeout = 200 * time.Millisecond
	cfg.HTTP.Addr = "127.0.0.1:0"
	require.NoError(t, cfg.Validate())
	return &cfg
}

func TestNewApp_WiresGateway(t *testing.T) {
	a, err := newApp(context.Background(), testAppConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		a.stopPolling()
		_ = a.store.Close()
	})

	storageStatus, ok := a.monitor.Last("storage")
	require.True(t, ok, "storage is checked once at startup")
	assert.True(t, storageStatus.IsHealthy())

	srv := httptest.NewServer(a.gateway.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, "broker has not connected yet")

	resp, err = http.Get(srv.URL + "/api/latest")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	status := a.monitor.Evaluate(appName)
	assert.ElementsMatch(t, []string{"broker", "pipeline", "storage"}, a.monitor.ListComponents())
	assert.True(t, status.IsUnhealthy())
}

func TestNewApp_MetricsDisabled(t *testing.T) {
	cfg := testAppConfig(t)
	cfg.Metrics.Enabled = false
	a, err := newApp(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		a.stopPolling()
		_ = a.store.Close()
	})

	rec := httptest.NewRecorder()
	a.gateway.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewApp_UnknownTransport(t *testing.T) {
	cfg := testAppConfig(t)
	cfg.Broker.Transport = "carrier-pigeon"
	_, err := newApp(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transport")
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	a, err := newApp(context.Background(), testAppConfig(t), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, 2*time.Second) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Equal(t, "disconnected", a.connector.Status().State)
	assert.Error(t, a.store.Ping(context.Background()), "store is closed on exit")
	sub := a.hub.Subscribe(1)
	_, ok := <-sub.Events()
	assert.False(t, ok, "hub is closed on exit")
}

func TestNewBrokerClient(t *testing.T) {
	cfg := testAppConfig(t).Broker

	client, err := newBrokerClient(cfg, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &mqttclient.Client{}, client)

	cfg.Transport = config.TransportNATS
	cfg.URL = "nats://127.0.0.1:1"
	cfg.NATS.PingInterval = 5 * time.Second
	cfg.NATS.MetricsInterval = time.Minute
	client, err = newBrokerClient(cfg, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &natsclient.Client{}, client)
}

func TestOpenStore(t *testing.T) {
	store, err := openStore(context.Background(), config.StorageConfig{
		Backend: storage.BackendMemory,
		Memory:  config.MemoryConfig{PerDevice: 10},
	})
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, store)

	store, err = openStore(context.Background(), config.StorageConfig{
		Backend: storage.BackendSQLite,
		SQLite:  config.SQLiteConfig{Path: t.TempDir() + "/readings.db"},
	})
	require.NoError(t, err)
	assert.NoError(t, store.Ping(context.Background()))
	assert.NoError(t, store.Close())

	_, err = openStore(context.Background(), config.StorageConfig{Backend: "tape"})
	assert.Error(t, err)
}

func TestStorageCheck(t *testing.T) {
	store := testutil.NewFakeStore()
	check := storageCheck(store)
	assert.True(t, check().IsHealthy())
	assert.Equal(t, "Store reachable, 0 devices, 0 readings", check().Message)

	for _, device := range []string{"sensor-1", "sensor-1", "sensor-2"} {
		_, err := store.Insert(context.Background(), telemetry.EnrichedReading{Reading: testutil.Reading(device, 20, 40)})
		require.NoError(t, err)
	}
	assert.Equal(t, "Store reachable, 2 devices, 3 readings", check().Message)

	require.NoError(t, store.Close())
	assert.True(t, check().IsUnhealthy())
}

func TestPipelineCheck(t *testing.T) {
	h, err := hub.New(hub.Config{}, nil)
	require.NoError(t, err)
	c, err := engine.New(engine.Config{Workers: 1, QueueSize: 2}, engine.Deps{
		Evaluator: threshold.NewEvaluator(threshold.Config{}),
		Detector:  anomaly.NewDetector(anomaly.Config{}),
		Store:     testutil.NewFakeStore(),
		Hub:       h,
	})
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))

	require.NoError(t, c.Handle(context.Background(), testutil.Reading("sensor_01", 22, 50)))
	require.Eventually(t, func() bool { return c.Stats().Processed == 1 }, time.Second, 5*time.Millisecond)

	status := pipelineCheck(c)()
	assert.True(t, status.IsHealthy())
	assert.Contains(t, status.Message, "1 processed")
	require.NoError(t, c.Stop(time.Second))
}
