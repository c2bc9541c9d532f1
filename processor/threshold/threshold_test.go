package threshold

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sensorstream/telemetry"
)

func reading(temp, hum float64) telemetry.Reading {
	return telemetry.Reading{DeviceID: "sensor_01", Temperature: temp, Humidity: hum}
}

func TestEvaluate(t *testing.T) {
	cfg := Config{Temperature: Float(30), Humidity: Float(80)}

	tests := []struct {
		name       string
		temp, hum  float64
		kinds      []telemetry.AlertKind
		severities []telemetry.Severity
		prefixes   []string
	}{
		{name: "below limits", temp: 25, hum: 50},
		{name: "equal is not above", temp: 30, hum: 80},
		{
			name: "warning only", temp: 31, hum: 50,
			kinds:      []telemetry.AlertKind{telemetry.KindTemperature},
			severities: []telemetry.Severity{telemetry.SeverityWarning},
			prefixes:   []string{"High temperature"},
		},
		{
			name: "margin boundary is warning only", temp: 35, hum: 50,
			kinds:      []telemetry.AlertKind{telemetry.KindTemperature},
			severities: []telemetry.Severity{telemetry.SeverityWarning},
			prefixes:   []string{"High temperature"},
		},
		{
			name: "warning then critical", temp: 36, hum: 50,
			kinds:      []telemetry.AlertKind{telemetry.KindTemperature, telemetry.KindTemperature},
			severities: []telemetry.Severity{telemetry.SeverityWarning, telemetry.SeverityCritical},
			prefixes:   []string{"High temperature", "Critical temperature"},
		},
		{
			name: "humidity only", temp: 20, hum: 85,
			kinds:      []telemetry.AlertKind{telemetry.KindHumidity},
			severities: []telemetry.Severity{telemetry.SeverityWarning},
			prefixes:   []string{"High humidity"},
		},
		{
			name: "all three in order", temp: 40, hum: 90,
			kinds:      []telemetry.AlertKind{telemetry.KindTemperature, telemetry.KindTemperature, telemetry.KindHumidity},
			severities: []telemetry.Severity{telemetry.SeverityWarning, telemetry.SeverityCritical, telemetry.SeverityWarning},
			prefixes:   []string{"High temperature", "Critical temperature", "High humidity"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alerts := Evaluate(reading(tt.temp, tt.hum), cfg)
			require.NotNil(t, alerts)
			require.Len(t, alerts, len(tt.kinds))
			for i, a := range alerts {
				assert.Equal(t, tt.kinds[i], a.Kind)
				assert.Equal(t, tt.severities[i], a.Severity)
				assert.True(t, strings.HasPrefix(a.Message, tt.prefixes[i]), a.Message)
			}
		})
	}
}

func TestEvaluate_MessagesCarryValues(t *testing.T) {
	alerts := Evaluate(reading(36.5, 91), Config{Temperature: Float(30), Humidity: Float(80)})
	require.Len(t, alerts, 3)

	assert.Equal(t, "High temperature: 36.5°C (threshold: 30°C)", alerts[0].Message)
	assert.Equal(t, "Critical temperature: 36.5°C", alerts[1].Message)
	assert.Equal(t, "High humidity: 91% (threshold: 80%)", alerts[2].Message)
}

func TestEvaluate_AbsentThresholds(t *testing.T) {
	assert.Empty(t, Evaluate(reading(99, 99), Config{}))

	alerts := Evaluate(reading(99, 99), Config{Humidity: Float(50)})
	require.Len(t, alerts, 1)
	assert.Equal(t, telemetry.KindHumidity, alerts[0].Kind)
}

func TestEvaluator_CopiesConfig(t *testing.T) {
	limit := 30.0
	e := NewEvaluator(Config{Temperature: &limit})
	limit = 90

	assert.Len(t, e.Evaluate(reading(31, 0)), 1)
	assert.Equal(t, 30.0, *e.Config().Temperature)
}

func TestEvaluator_ConcurrentUse(t *testing.T) {
	e := NewEvaluator(Config{Temperature: Float(30)})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.Len(t, e.Evaluate(reading(40, 0)), 2)
			}
		}()
	}
	wg.Wait()
}
