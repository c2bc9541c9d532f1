// Package timestamp normalizes the timestamp shapes devices send.
//
// Sensors report time as an RFC3339 string, as epoch seconds or as epoch
// milliseconds, sometimes quoted. Parse folds all of them into a UTC
// time.Time. Epoch values above 1e12 are read as milliseconds, anything
// smaller as seconds.
package timestamp

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// msThreshold separates epoch seconds from epoch milliseconds (2001-09-09 in
// milliseconds).
const msThreshold = 1e12

// maxMs is 3000-01-01T00:00:00Z.
const maxMs = 32503680000000

// Parse converts a decoded JSON timestamp to UTC time. Supported inputs are
// float64, int, int64, json.Number, string (RFC3339, RFC3339Nano or numeric)
// and time.Time. nil yields the zero time and no error.
func Parse(input any) (time.Time, error) {
	switch v := input.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return v.UTC(), nil
	case int:
		return fromEpoch(float64(v))
	case int64:
		return fromEpoch(float64(v))
	case float64:
		return fromEpoch(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, fmt.Errorf("timestamp %q: %w", v.String(), err)
		}
		return fromEpoch(f)
	case string:
		return parseString(v)
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", input)
	}
}

func parseString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpoch(f)
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func fromEpoch(v float64) (time.Time, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return time.Time{}, fmt.Errorf("timestamp is not finite")
	}
	ms := v
	if v <= msThreshold {
		ms = v * 1000
	}
	if err := Validate(int64(ms)); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(int64(ms)).UTC(), nil
}

// Validate rejects negative or implausibly distant epoch milliseconds.
func Validate(ms int64) error {
	if ms < 0 {
		return fmt.Errorf("timestamp cannot be negative: %d", ms)
	}
	if ms > maxMs {
		return fmt.Errorf("timestamp too far in future: %d", ms)
	}
	return nil
}

// Format renders t as RFC3339 with millisecond precision in UTC, the layout
// used on every outbound payload.
func Format(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
