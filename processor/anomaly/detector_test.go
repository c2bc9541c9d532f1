package anomaly

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sensorstream/telemetry"
)

func temp(device string, v float64) telemetry.Reading {
	return telemetry.Reading{DeviceID: device, Temperature: v, Humidity: 40, Timestamp: time.Now()}
}

func TestDetect_FirstFourNeverAnomalous(t *testing.T) {
	d := NewDetector(Config{})
	ctx := context.Background()

	for i, v := range []float64{20, 80, -40, 99} {
		assert.False(t, d.Detect(ctx, temp("a", v)), "reading %d", i)
	}
	assert.Len(t, d.Window("a"), 4)
}

func TestDetect_FifthReadingJudgedWithoutItself(t *testing.T) {
	d := NewDetector(Config{})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.False(t, d.Detect(ctx, temp("a", 20)))
	}
	assert.False(t, d.Detect(ctx, temp("a", 99)), "fifth reading sees only four prior samples")
	assert.Len(t, d.Window("a"), 5)
}

func TestDetect_SixthReadingIsFirstEligible(t *testing.T) {
	d := NewDetector(Config{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.False(t, d.Detect(ctx, temp("a", 20)))
	}
	assert.True(t, d.Detect(ctx, temp("a", 99)))
}

func TestDetect_ZeroVarianceFlagsAnyDeviation(t *testing.T) {
	for _, tc := range []struct {
		name  string
		value float64
		want  bool
	}{
		{"identical", 20, false},
		{"just above", 20.1, true},
		{"just below", 19.9, true},
		{"half degree", 20.5, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			d := NewDetector(Config{})
			ctx := context.Background()

			for i := 0; i < 5; i++ {
				require.False(t, d.Detect(ctx, temp("a", 20)))
			}
			assert.Equal(t, tc.want, d.Detect(ctx, temp("a", tc.value)))
		})
	}
}

func TestDetect_TwoSigmaRule(t *testing.T) {
	d := NewDetector(Config{})
	ctx := context.Background()

	// mean 20, population stddev 1
	for _, v := range []float64{19, 21, 19, 21, 19, 21} {
		d.Detect(ctx, temp("inside", v))
		d.Detect(ctx, temp("outside", v))
	}

	assert.False(t, d.Detect(ctx, temp("inside", 21.9)), "1.9 sigma")
	assert.True(t, d.Detect(ctx, temp("outside", 17.9)), "2.1 sigma")
}

func TestDetect_FlagsSpikeAfterWarmup(t *testing.T) {
	d := NewDetector(Config{})
	ctx := context.Background()

	for _, v := range []float64{22, 22.4, 21.8, 22.1, 22.3, 21.9} {
		require.False(t, d.Detect(ctx, temp("a", v)))
	}
	assert.True(t, d.Detect(ctx, temp("a", 35)))
	assert.Equal(t, 35.0, d.Window("a")[0], "flagged value is still appended")
}

func TestDetect_WindowEvictsOldest(t *testing.T) {
	d := NewDetector(Config{})
	ctx := context.Background()

	for i := 1; i <= 12; i++ {
		d.Detect(ctx, temp("a", float64(i)))
	}

	w := d.Window("a")
	require.Len(t, w, DefaultWindowSize)
	assert.Equal(t, 12.0, w[0])
	assert.Equal(t, 3.0, w[len(w)-1])
}

func TestDetect_DevicesAreIndependent(t *testing.T) {
	d := NewDetector(Config{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d.Detect(ctx, temp("steady", 20))
	}
	assert.False(t, d.Detect(ctx, temp("fresh", 90)))
	assert.Equal(t, 2, d.Devices())
	assert.Nil(t, d.Window("unknown"))
}

func TestDetect_CustomConfig(t *testing.T) {
	d := NewDetector(Config{WindowSize: 3, MinSamples: 2, Sigma: 1})
	ctx := context.Background()

	d.Detect(ctx, temp("a", 10))
	d.Detect(ctx, temp("a", 12))
	// mean 11, stddev 1
	assert.True(t, d.Detect(ctx, temp("a", 12.5)))
	assert.Len(t, d.Window("a"), 3)
}

func TestDetect_ConcurrentSameDevice(t *testing.T) {
	d := NewDetector(Config{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				d.Detect(ctx, temp("shared", 20))
			}
		}()
	}
	wg.Wait()

	assert.Len(t, d.Window("shared"), DefaultWindowSize)
}

func TestDetect_ConcurrentManyDevices(t *testing.T) {
	d := NewDetector(Config{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 50; g++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				d.Detect(ctx, temp(id, 20))
			}
		}(fmt.Sprintf("dev-%d", g))
	}
	wg.Wait()

	assert.Equal(t, 50, d.Devices())
}

type fakeHistory struct {
	mu    sync.Mutex
	calls int
	rows  []telemetry.EnrichedReading
	err   error
}

func (f *fakeHistory) Recent(_ context.Context, _ string, limit int) ([]telemetry.EnrichedReading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.rows) {
		return f.rows[:limit], nil
	}
	return f.rows, nil
}

func TestDetect_RehydratesFromHistory(t *testing.T) {
	hist := &fakeHistory{}
	// newest first
	for _, v := range []float64{20, 20, 20, 20, 20, 20} {
		hist.rows = append(hist.rows, telemetry.EnrichedReading{Reading: temp("a", v)})
	}

	d := NewDetector(Config{Rehydrate: true}, WithHistory(hist))
	ctx := context.Background()

	assert.True(t, d.Detect(ctx, temp("a", 25)), "history counts toward the minimum")
	d.Detect(ctx, temp("a", 20))
	assert.Equal(t, 1, hist.calls, "history is read once per device")
	assert.Len(t, d.Window("a"), 8)
}

func TestDetect_RehydrationFailureStartsEmpty(t *testing.T) {
	hist := &fakeHistory{err: errors.New("store down")}
	d := NewDetector(Config{Rehydrate: true}, WithHistory(hist))

	assert.False(t, d.Detect(context.Background(), temp("a", 99)))
	assert.Len(t, d.Window("a"), 1)
}

func TestDetect_RehydrateDisabledIgnoresHistory(t *testing.T) {
	hist := &fakeHistory{}
	d := NewDetector(Config{}, WithHistory(hist))
	d.Detect(context.Background(), temp("a", 1))
	assert.Equal(t, 0, hist.calls)
}

func TestMeanStddev(t *testing.T) {
	mean, sd := meanStddev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.Equal(t, 5.0, mean)
	assert.Equal(t, 2.0, sd)

	mean, sd = meanStddev(nil)
	assert.Zero(t, mean)
	assert.Zero(t, sd)
}
