// Package config loads the sensorstream configuration.
//
// Values come from three layers, lowest precedence first:
//
//  1. Default()
//  2. YAML or JSON files added with Loader.AddLayer, merged key by key
//  3. Environment variables prefixed with SENSORSTREAM_, with dots in the
//     key path replaced by underscores
//
// For example:
//
//	SENSORSTREAM_BROKER_URL=tcp://mqtt.local:1883
//	SENSORSTREAM_THRESHOLDS_TEMPERATURE=30
//	SENSORSTREAM_STORAGE_BACKEND=sqlite
//
// Durations accept Go syntax ("500ms", "30s"). Thresholds have no default:
// a configuration without both thresholds fails validation, and every
// validation failure is fatal-classified so the process exits before it
// connects to anything.
//
// A minimal file:
//
//	broker:
//	  url: tcp://localhost:1883
//	  topic: sensors/telemetry
//	thresholds:
//	  temperature: 30
//	  humidity: 80
package config
