package mqttclient

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserrors "github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/input/broker"
)

func TestNew_Defaults(t *testing.T) {
	c, err := New(Config{URL: "tcp://localhost:1883"})
	require.NoError(t, err)

	assert.Equal(t, "sensorstream", c.cfg.ClientID)
	assert.Equal(t, 30*time.Second, c.cfg.KeepAlive)
	assert.Equal(t, 10*time.Second, c.cfg.ConnectTimeout)
	assert.False(t, c.IsConnected())
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.True(t, sserrors.IsFatal(err))

	_, err = New(Config{URL: "tcp://localhost:1883", QoS: 3})
	assert.True(t, sserrors.IsFatal(err))
	assert.ErrorIs(t, err, sserrors.ErrInvalidConfig)
}

func TestDefaultConfig_AtLeastOnce(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, byte(1), cfg.QoS)
	assert.False(t, cfg.CleanSession)
}

func TestClientOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Username = "device"
	cfg.Password = "secret"
	c, err := New(cfg)
	require.NoError(t, err)

	opts := c.clientOptions(1)
	assert.False(t, opts.AutoReconnect)
	assert.False(t, opts.ConnectRetry)
	assert.False(t, opts.CleanSession)
	assert.True(t, opts.AutoAckDisabled)
	assert.True(t, opts.Order)
	assert.Equal(t, "device", opts.Username)
	assert.Equal(t, "secret", opts.Password)
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "localhost:1883", opts.Servers[0].Host)
}

func TestClient_RequiresConnection(t *testing.T) {
	c, err := New(DefaultConfig())
	require.NoError(t, err)
	ctx := context.Background()

	err = c.Subscribe(ctx, "sensors/telemetry", func(broker.Delivery) {})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, err, sserrors.ErrNoConnection)
	assert.True(t, sserrors.IsTransient(err))
	assert.ErrorIs(t, c.Publish(ctx, "sensors/telemetry", []byte("{}")), ErrNotConnected)
	assert.NoError(t, c.Close(ctx))
}

func TestClient_ConnectFailureIsTransient(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "tcp://127.0.0.1:1"
	cfg.ConnectTimeout = 200 * time.Millisecond
	c, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = c.Connect(ctx)
	require.Error(t, err)
	assert.True(t, sserrors.IsTransient(err))
	assert.False(t, c.IsConnected())
}

func TestClient_HandleLostIgnoresStaleSessions(t *testing.T) {
	c, err := New(DefaultConfig())
	require.NoError(t, err)
	c.generation.Store(2)

	c.handleLost(1, errors.New("old session"))
	select {
	case err := <-c.Lost():
		t.Fatalf("stale loss reported: %v", err)
	default:
	}

	c.handleLost(2, nil)
	select {
	case err := <-c.Lost():
		assert.ErrorIs(t, err, sserrors.ErrConnectionLost)
	default:
		t.Fatal("current loss not reported")
	}

	c.closing.Store(true)
	c.handleLost(2, errors.New("closed by us"))
	assert.Empty(t, c.Lost())
}

func TestClient_LostIsBuffered(t *testing.T) {
	c, err := New(DefaultConfig())
	require.NoError(t, err)

	c.handleLost(0, errors.New("first"))
	c.handleLost(0, errors.New("second"))

	err = <-c.Lost()
	assert.EqualError(t, err, "first")
	assert.Empty(t, c.Lost())
}

func TestSetLogger(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	SetLogger(l, false)
	p := printer{l: l.With("component", "paho"), level: slog.LevelWarn}
	p.Printf("lost %d packets", 3)
	p.Println("keepalive", "timeout")

	out := buf.String()
	assert.Contains(t, out, "lost 3 packets")
	assert.Contains(t, out, "keepalive timeout")
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "component=paho")
}
