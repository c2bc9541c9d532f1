// Package telemetry defines the environmental reading that flows through
// the pipeline, the alerts attached to it and the decoder that turns broker
// payloads into readings.
package telemetry

import (
	"fmt"
	"time"

	"github.com/c360/sensorstream/errors"
)

// Accepted sensor ranges. Values outside them fail decoding and are never
// clamped.
const (
	MinTemperature = -50.0
	MaxTemperature = 100.0
	MinHumidity    = 0.0
	MaxHumidity    = 100.0
)

// Reading is one decoded sensor sample. It is a value type and is not
// modified after decoding.
type Reading struct {
	DeviceID    string    `json:"device_id"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Timestamp   time.Time `json:"timestamp"`
}

// Validate checks the device id and the measurement ranges.
func (r Reading) Validate() error {
	if r.DeviceID == "" {
		return fmt.Errorf("device_id: %w", errors.ErrMissingField)
	}
	if r.Temperature < MinTemperature || r.Temperature > MaxTemperature {
		return fmt.Errorf("temperature %.2f outside [%g, %g]: %w",
			r.Temperature, MinTemperature, MaxTemperature, errors.ErrOutOfRange)
	}
	if r.Humidity < MinHumidity || r.Humidity > MaxHumidity {
		return fmt.Errorf("humidity %.2f outside [%g, %g]: %w",
			r.Humidity, MinHumidity, MaxHumidity, errors.ErrOutOfRange)
	}
	return nil
}

// EnrichedReading is a Reading after evaluation. ID is empty until the store
// assigns one.
type EnrichedReading struct {
	Reading
	ID        string  `json:"id,omitempty"`
	IsAnomaly bool    `json:"is_anomaly"`
	Alerts    []Alert `json:"alerts"`
}

// HasAlerts reports whether any alert is attached.
func (e EnrichedReading) HasAlerts() bool {
	return len(e.Alerts) > 0
}

// Clone returns a copy whose alert slice does not alias e's.
func (e EnrichedReading) Clone() EnrichedReading {
	out := e
	if e.Alerts != nil {
		out.Alerts = append([]Alert(nil), e.Alerts...)
	}
	return out
}
