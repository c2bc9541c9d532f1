package testutil

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/c360/sensorstream/telemetry"
)

// Epoch is the fixed base time fixtures use.
var Epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// Reading builds a reading at Epoch.
func Reading(deviceID string, temperature, humidity float64) telemetry.Reading {
	return telemetry.Reading{
		DeviceID:    deviceID,
		Temperature: temperature,
		Humidity:    humidity,
		Timestamp:   Epoch,
	}
}

// Series builds one reading per temperature, one second apart.
func Series(deviceID string, humidity float64, temperatures ...float64) []telemetry.Reading {
	out := make([]telemetry.Reading, len(temperatures))
	for i, temp := range temperatures {
		r := Reading(deviceID, temp, humidity)
		r.Timestamp = Epoch.Add(time.Duration(i) * time.Second)
		out[i] = r
	}
	return out
}

// Payload encodes r the way devices publish it.
func Payload(t testing.TB, r telemetry.Reading) []byte {
	t.Helper()
	data, err := telemetry.Encode(r)
	if err != nil {
		t.Fatalf("encode reading: %v", err)
	}
	return data
}

// RawPayload encodes arbitrary fields, for malformed-input tests.
func RawPayload(t testing.TB, fields map[string]any) []byte {
	t.Helper()
	data, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	return data
}

// MalformedPayloads are messages a decoder must reject.
var MalformedPayloads = map[string][]byte{
	"not json":          []byte(`{not json`),
	"missing device":    []byte(`{"temperature":20,"humidity":40}`),
	"temperature range": []byte(`{"device_id":"d","temperature":150,"humidity":40}`),
	"humidity range":    []byte(`{"device_id":"d","temperature":20,"humidity":-1}`),
	"wrong type":        []byte(`{"device_id":"d","temperature":"hot","humidity":40}`),
}

// DeviceIDs returns n ids of the form "sensor-<i>".
func DeviceIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("sensor-%d", i+1)
	}
	return ids
}
