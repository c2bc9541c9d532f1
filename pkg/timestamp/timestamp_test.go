package timestamp

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	want := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		input any
	}{
		{"rfc3339", "2024-03-01T12:00:00Z"},
		{"rfc3339 with offset", "2024-03-01T14:00:00+02:00"},
		{"epoch seconds float", float64(want.Unix())},
		{"epoch millis float", float64(want.UnixMilli())},
		{"epoch seconds int64", want.Unix()},
		{"epoch millis json.Number", json.Number("1709294400000")},
		{"numeric string seconds", "1709294400"},
		{"time.Time", want.In(time.FixedZone("x", 3600))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.True(t, want.Equal(got), "got %s", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestParse_Empty(t *testing.T) {
	got, err := Parse(nil)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = Parse("  ")
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestParse_Invalid(t *testing.T) {
	for _, input := range []any{"yesterday", -5.0, float64(4e13), true, []int{1}} {
		_, err := Parse(input)
		assert.Error(t, err, "input %v", input)
	}
}

func TestParse_FractionalSeconds(t *testing.T) {
	got, err := Parse(1709294400.25)
	require.NoError(t, err)
	assert.Equal(t, int64(1709294400250), got.UnixMilli())
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(0))
	assert.NoError(t, Validate(time.Now().UnixMilli()))
	assert.Error(t, Validate(-1))
	assert.Error(t, Validate(maxMs+1))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "", Format(time.Time{}))
	ts := time.Date(2024, 3, 1, 12, 0, 0, 5e6, time.FixedZone("x", 3600))
	assert.Equal(t, "2024-03-01T11:00:00.005Z", Format(ts))
}
