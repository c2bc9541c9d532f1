// Package anomaly flags readings that deviate from a device's recent history.
//
// Each device gets a Window of its last WindowSize temperatures. A reading is
// anomalous when it lies more than Sigma population standard deviations from
// the window mean, provided the window already holds MinSamples values. The
// reading is appended after the decision either way.
package anomaly

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/sensorstream/telemetry"
)

// Defaults match the rolling statistics devices have always been judged by.
const (
	DefaultWindowSize = 10
	DefaultMinSamples = 5
	DefaultSigma      = 2.0
)

// Config tunes the detector. Zero fields take the defaults.
type Config struct {
	WindowSize int     `json:"window_size" yaml:"window_size" mapstructure:"window_size"`
	MinSamples int     `json:"min_samples" yaml:"min_samples" mapstructure:"min_samples"`
	Sigma      float64 `json:"sigma" yaml:"sigma" mapstructure:"sigma"`
	// Rehydrate seeds a new window from History before its first decision.
	Rehydrate bool `json:"rehydrate" yaml:"rehydrate" mapstructure:"rehydrate"`
}

func (c Config) withDefaults() Config {
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.MinSamples <= 0 {
		c.MinSamples = DefaultMinSamples
	}
	if c.Sigma <= 0 {
		c.Sigma = DefaultSigma
	}
	return c
}

// History supplies persisted readings for a device, newest first.
type History interface {
	Recent(ctx context.Context, deviceID string, limit int) ([]telemetry.EnrichedReading, error)
}

// Detector owns one Window per device. Devices never share a lock, and a
// device's read-then-append is serialized by its window.
type Detector struct {
	cfg     Config
	history History
	logger  *slog.Logger
	windows sync.Map // device id -> *Window
}

// Option configures a Detector.
type Option func(*Detector)

// WithHistory enables rehydration from h when cfg.Rehydrate is set.
func WithHistory(h History) Option {
	return func(d *Detector) { d.history = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDetector creates a detector.
func NewDetector(cfg Config, opts ...Option) *Detector {
	d := &Detector{cfg: cfg.withDefaults(), logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "anomaly")
	return d
}

// Detect reports whether r's temperature is anomalous for its device and
// records it in the device window.
func (d *Detector) Detect(ctx context.Context, r telemetry.Reading) bool {
	w := d.window(r.DeviceID)

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.loaded {
		d.rehydrateLocked(ctx, r.DeviceID, w)
	}
	return w.observeLocked(r.Temperature, d.cfg.MinSamples, d.cfg.Sigma)
}

func (d *Detector) window(deviceID string) *Window {
	if w, ok := d.windows.Load(deviceID); ok {
		return w.(*Window)
	}
	w, _ := d.windows.LoadOrStore(deviceID, NewWindow(d.cfg.WindowSize))
	return w.(*Window)
}

func (d *Detector) rehydrateLocked(ctx context.Context, deviceID string, w *Window) {
	w.loaded = true
	if !d.cfg.Rehydrate || d.history == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	past, err := d.history.Recent(ctx, deviceID, d.cfg.WindowSize)
	if err != nil {
		d.logger.Warn("Window rehydration failed, starting empty", "device_id", deviceID, "error", err)
		return
	}

	values := make([]float64, 0, len(past))
	for i := len(past) - 1; i >= 0; i-- {
		values = append(values, past[i].Temperature)
	}
	w.seedLocked(values)
	d.logger.Debug("Window rehydrated", "device_id", deviceID, "samples", len(values))
}

// Window returns the device's samples newest first, or nil for an unknown
// device.
func (d *Detector) Window(deviceID string) []float64 {
	w, ok := d.windows.Load(deviceID)
	if !ok {
		return nil
	}
	return w.(*Window).Values()
}

// Devices returns how many devices have a window.
func (d *Detector) Devices() int {
	n := 0
	d.windows.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Config returns the effective configuration.
func (d *Detector) Config() Config {
	return d.cfg
}
