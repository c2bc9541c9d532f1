package anomaly

import (
	"math"
	"sync"

	"github.com/c360/sensorstream/pkg/buffer"
)

// Window holds the most recent temperatures of one device. Observe is the
// only mutator and runs the read-then-append sequence under the window's
// own lock.
type Window struct {
	mu     sync.Mutex
	buf    buffer.Buffer[float64]
	loaded bool
}

// NewWindow creates an empty window holding at most size samples.
func NewWindow(size int) *Window {
	// only metrics registration can fail and no metrics are requested
	buf, _ := buffer.NewCircularBuffer[float64](size)
	return &Window{buf: buf}
}

// Observe decides whether x is anomalous against the current samples and
// then appends x. With fewer than minSamples samples the answer is false.
func (w *Window) Observe(x float64, minSamples int, sigma float64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.observeLocked(x, minSamples, sigma)
}

func (w *Window) observeLocked(x float64, minSamples int, sigma float64) bool {
	samples := w.buf.Items()
	anomalous := false
	if len(samples) >= minSamples {
		mean, stddev := meanStddev(samples)
		anomalous = math.Abs(x-mean) > sigma*stddev
	}
	_ = w.buf.Write(x)
	return anomalous
}

// seedLocked appends historical samples oldest first. Caller holds mu.
func (w *Window) seedLocked(values []float64) {
	for _, v := range values {
		_ = w.buf.Write(v)
	}
	w.loaded = true
}

// Values returns the samples newest first.
func (w *Window) Values() []float64 {
	return w.buf.Recent(0)
}

// Len returns the number of samples held.
func (w *Window) Len() int {
	return w.buf.Size()
}

// meanStddev returns the mean and population standard deviation.
func meanStddev(values []float64) (float64, float64) {
	n := float64(len(values))
	if n == 0 {
		return 0, 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / n

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / n)
}
