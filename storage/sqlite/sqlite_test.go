package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sensorstream/telemetry"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "readings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func reading(device string, temp float64, at time.Time) telemetry.EnrichedReading {
	return telemetry.EnrichedReading{
		Reading: telemetry.Reading{DeviceID: device, Temperature: temp, Humidity: 45, Timestamp: at},
	}
}

func TestStore_InsertAndRecent(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, err := s.Insert(ctx, reading("sensor_01", 20+float64(i), base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}
	_, err := s.Insert(ctx, reading("sensor_02", 50, base))
	require.NoError(t, err)

	got, err := s.Recent(ctx, "sensor_01", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 24.0, got[0].Temperature)
	assert.Equal(t, 22.0, got[2].Temperature)
	assert.Equal(t, base.Add(4*time.Minute), got[0].Timestamp)
	assert.NotEmpty(t, got[0].ID)
	assert.Empty(t, got[0].Alerts)

	counts, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"sensor_01": 5, "sensor_02": 1}, counts)
}

func TestStore_PersistsAlertsAndAnomalyFlag(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	e := reading("a", 36, time.Now().UTC().Truncate(time.Millisecond))
	e.IsAnomaly = true
	e.Alerts = []telemetry.Alert{
		{Kind: telemetry.KindTemperature, Message: "High temperature: 36°C (threshold: 30°C)", Severity: telemetry.SeverityWarning},
		telemetry.NewAnomalyAlert(),
	}

	id, err := s.Insert(ctx, e)
	require.NoError(t, err)

	got, err := s.Recent(ctx, "a", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
	assert.True(t, got[0].IsAnomaly)
	assert.Equal(t, e.Alerts, got[0].Alerts)
}

func TestStore_RecentEdgeCases(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	got, err := s.Recent(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.Recent(ctx, "nobody", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")
	ctx := context.Background()

	s, err := Open(ctx, path)
	require.NoError(t, err)
	_, err = s.Insert(ctx, reading("a", 21, time.Now()))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Recent(ctx, "a", 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.NoError(t, s.Ping(ctx))
}

func TestStore_ClosedFailsTransient(t *testing.T) {
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "c.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Insert(context.Background(), reading("a", 1, time.Now()))
	assert.Error(t, err)
}
