package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/pkg/timestamp"
)

// wireReading mirrors the broker payload before normalization.
type wireReading struct {
	DeviceID    string   `json:"device_id"`
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	Timestamp   any      `json:"timestamp"`
}

// Decoder turns raw broker payloads into validated readings. It is safe for
// concurrent use.
type Decoder struct {
	schema *gojsonschema.Schema
	now    func() time.Time
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithSchema replaces the default payload schema.
func WithSchema(schema *gojsonschema.Schema) DecoderOption {
	return func(d *Decoder) {
		if schema != nil {
			d.schema = schema
		}
	}
}

// WithClock sets the time source used when a payload carries no timestamp.
func WithClock(now func() time.Time) DecoderOption {
	return func(d *Decoder) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDecoder creates a decoder with the default schema.
func NewDecoder(opts ...DecoderOption) (*Decoder, error) {
	d := &Decoder{now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	if d.schema == nil {
		schema, err := LoadSchema("")
		if err != nil {
			return nil, errors.WrapFatal(err, "Decoder", "NewDecoder", "compile default schema")
		}
		d.schema = schema
	}
	return d, nil
}

// Decode parses and validates one payload. Every failure is classified as
// invalid and wraps ErrParsingFailed for input that is not JSON or carries
// an unreadable timestamp, ErrInvalidData for schema violations, or one of
// ErrMissingField and ErrOutOfRange.
func (d *Decoder) Decode(data []byte) (Reading, error) {
	result, err := d.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		// gojsonschema fails here when the document is not JSON at all
		return Reading{}, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
			"Decoder", "Decode", "parse payload")
	}
	if !result.Valid() {
		return Reading{}, errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidData, schemaViolations(result)),
			"Decoder", "Decode", "validate payload")
	}

	var w wireReading
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return Reading{}, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
			"Decoder", "Decode", "parse payload")
	}
	if w.Temperature == nil || w.Humidity == nil {
		return Reading{}, errors.WrapInvalid(errors.ErrMissingField, "Decoder", "Decode", "read measurements")
	}

	ts, err := timestamp.Parse(w.Timestamp)
	if err != nil {
		return Reading{}, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
			"Decoder", "Decode", "parse timestamp")
	}
	if ts.IsZero() {
		ts = d.now().UTC()
	}

	r := Reading{
		DeviceID:    w.DeviceID,
		Temperature: *w.Temperature,
		Humidity:    *w.Humidity,
		Timestamp:   ts,
	}
	if err := r.Validate(); err != nil {
		return Reading{}, errors.WrapInvalid(err, "Decoder", "Decode", "validate reading")
	}
	return r, nil
}

// Encode renders a reading in the broker payload format with an RFC3339
// timestamp. The simulator and tests use it to publish.
func Encode(r Reading) ([]byte, error) {
	return json.Marshal(map[string]any{
		"device_id":   r.DeviceID,
		"temperature": r.Temperature,
		"humidity":    r.Humidity,
		"timestamp":   timestamp.Format(r.Timestamp),
	})
}
