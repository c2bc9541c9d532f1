// Package simulator publishes synthetic environmental readings for local
// runs and demos. Each device drifts by a bounded random walk so values look
// like a real sensor rather than noise.
package simulator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/telemetry"
)

// Publisher sends one payload to a topic. Both broker clients satisfy it.
type Publisher interface {
	Publish(ctx context.Context, topic string, data []byte) error
}

// Config controls the simulated fleet.
type Config struct {
	Topic    string
	Devices  int
	Interval time.Duration
	// Cycles stops after this many rounds. Zero runs until ctx ends.
	Cycles int
	Seed   uint64

	TempMin, TempMax         float64
	HumidityMin, HumidityMax float64
	TempDrift, HumidityDrift float64
}

// DefaultConfig returns a five-device fleet publishing every five seconds.
func DefaultConfig() Config {
	return Config{
		Topic:         "sensors/telemetry",
		Devices:       5,
		Interval:      5 * time.Second,
		TempMin:       20,
		TempMax:       35,
		HumidityMin:   40,
		HumidityMax:   85,
		TempDrift:     1.5,
		HumidityDrift: 3,
	}
}

type deviceState struct {
	id          string
	temperature float64
	humidity    float64
}

// Simulator generates and publishes readings.
type Simulator struct {
	cfg     Config
	pub     Publisher
	logger  *slog.Logger
	rng     *rand.Rand
	devices []*deviceState
	now     func() time.Time

	published int
	failed    int
}

// New creates a simulator with every device at a random starting point.
func New(cfg Config, pub Publisher, logger *slog.Logger) (*Simulator, error) {
	if pub == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Simulator", "New", "check publisher")
	}
	if cfg.Topic == "" || cfg.Devices <= 0 || cfg.Interval <= 0 {
		return nil, errors.WrapFatal(errors.ErrInvalidConfig, "Simulator", "New", "check topic, devices and interval")
	}
	if cfg.TempMin > cfg.TempMax || cfg.HumidityMin > cfg.HumidityMax {
		return nil, errors.WrapFatal(errors.ErrInvalidConfig, "Simulator", "New", "check value bounds")
	}
	if logger == nil {
		logger = slog.Default()
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	s := &Simulator{
		cfg:    cfg,
		pub:    pub,
		logger: logger.With("component", "simulator"),
		rng:    rand.New(rand.NewPCG(seed, seed>>1|1)),
		now:    time.Now,
	}
	for i := 1; i <= cfg.Devices; i++ {
		s.devices = append(s.devices, &deviceState{
			id:          fmt.Sprintf("sensor_%02d", i),
			temperature: s.uniform(cfg.TempMin, cfg.TempMax),
			humidity:    s.uniform(cfg.HumidityMin, cfg.HumidityMax),
		})
	}
	return s, nil
}

func (s *Simulator) uniform(lo, hi float64) float64 {
	return lo + s.rng.Float64()*(hi-lo)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Next advances every device one step and returns the new readings.
func (s *Simulator) Next() []telemetry.Reading {
	ts := s.now().UTC().Truncate(time.Second)
	out := make([]telemetry.Reading, 0, len(s.devices))
	for _, d := range s.devices {
		d.temperature = clamp(d.temperature+s.uniform(-s.cfg.TempDrift, s.cfg.TempDrift), s.cfg.TempMin, s.cfg.TempMax)
		d.humidity = clamp(d.humidity+s.uniform(-s.cfg.HumidityDrift, s.cfg.HumidityDrift), s.cfg.HumidityMin, s.cfg.HumidityMax)
		out = append(out, telemetry.Reading{
			DeviceID:    d.id,
			Temperature: round2(d.temperature),
			Humidity:    round2(d.humidity),
			Timestamp:   ts,
		})
	}
	return out
}

// Cycle publishes one reading per device. A failed publish is logged and
// counted; the rest of the cycle continues.
func (s *Simulator) Cycle(ctx context.Context) error {
	for _, r := range s.Next() {
		data, err := telemetry.Encode(r)
		if err != nil {
			return errors.Wrap(err, "Simulator", "Cycle", "encode reading")
		}
		if err := s.pub.Publish(ctx, s.cfg.Topic, data); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.failed++
			s.logger.Warn("Publish failed", "device_id", r.DeviceID, "error", err)
			continue
		}
		s.published++
		s.logger.Debug("Published reading", "device_id", r.DeviceID,
			"temperature", r.Temperature, "humidity", r.Humidity)
	}
	return nil
}

// Run publishes a cycle every Interval until ctx ends or Cycles is reached.
// It returns nil when stopped by ctx.
func (s *Simulator) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for cycle := 1; ; cycle++ {
		if err := s.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			return err
		}
		s.logger.Info("Cycle published", "cycle", cycle, "published", s.published, "failed", s.failed)

		if s.cfg.Cycles > 0 && cycle >= s.cfg.Cycles {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

// Published returns the number of readings published so far.
func (s *Simulator) Published() int {
	return s.published
}

// Failed returns the number of failed publishes so far.
func (s *Simulator) Failed() int {
	return s.failed
}
