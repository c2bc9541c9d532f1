// Package threshold raises alerts for readings above configured limits.
package threshold

import (
	"fmt"

	"github.com/c360/sensorstream/telemetry"
)

// CriticalMargin is how far above the temperature threshold a reading must
// be to also raise a critical alert.
const CriticalMargin = 5.0

// Config holds the limits. A nil limit disables its rules.
type Config struct {
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty" mapstructure:"temperature"`
	Humidity    *float64 `json:"humidity,omitempty" yaml:"humidity,omitempty" mapstructure:"humidity"`
}

// rule checks one condition. Rules are evaluated in table order and that
// order is the order of the resulting alerts.
type rule struct {
	name  string
	check func(r telemetry.Reading, cfg Config) (telemetry.Alert, bool)
}

var rules = []rule{
	{name: "high_temperature", check: highTemperature},
	{name: "critical_temperature", check: criticalTemperature},
	{name: "high_humidity", check: highHumidity},
}

// Evaluate returns the alerts r triggers under cfg: high temperature, then
// critical temperature, then high humidity. It never returns nil.
func Evaluate(r telemetry.Reading, cfg Config) []telemetry.Alert {
	alerts := make([]telemetry.Alert, 0, len(rules))
	for _, rl := range rules {
		if a, ok := rl.check(r, cfg); ok {
			alerts = append(alerts, a)
		}
	}
	return alerts
}

func highTemperature(r telemetry.Reading, cfg Config) (telemetry.Alert, bool) {
	if cfg.Temperature == nil || r.Temperature <= *cfg.Temperature {
		return telemetry.Alert{}, false
	}
	return telemetry.Alert{
		Kind:     telemetry.KindTemperature,
		Message:  fmt.Sprintf("High temperature: %s°C (threshold: %s°C)", num(r.Temperature), num(*cfg.Temperature)),
		Severity: telemetry.SeverityWarning,
	}, true
}

func criticalTemperature(r telemetry.Reading, cfg Config) (telemetry.Alert, bool) {
	if cfg.Temperature == nil || r.Temperature <= *cfg.Temperature+CriticalMargin {
		return telemetry.Alert{}, false
	}
	return telemetry.Alert{
		Kind:     telemetry.KindTemperature,
		Message:  fmt.Sprintf("Critical temperature: %s°C", num(r.Temperature)),
		Severity: telemetry.SeverityCritical,
	}, true
}

func highHumidity(r telemetry.Reading, cfg Config) (telemetry.Alert, bool) {
	if cfg.Humidity == nil || r.Humidity <= *cfg.Humidity {
		return telemetry.Alert{}, false
	}
	return telemetry.Alert{
		Kind:     telemetry.KindHumidity,
		Message:  fmt.Sprintf("High humidity: %s%% (threshold: %s%%)", num(r.Humidity), num(*cfg.Humidity)),
		Severity: telemetry.SeverityWarning,
	}, true
}

// num prints without trailing zeros: 36 and 36.5, never 36.000000.
func num(v float64) string {
	return fmt.Sprintf("%g", v)
}

// Evaluator binds a Config so callers can hold a single value.
type Evaluator struct {
	cfg Config
}

// NewEvaluator creates an evaluator for cfg. The limits are copied.
func NewEvaluator(cfg Config) *Evaluator {
	return &Evaluator{cfg: cfg.clone()}
}

// Evaluate applies the bound limits to r.
func (e *Evaluator) Evaluate(r telemetry.Reading) []telemetry.Alert {
	return Evaluate(r, e.cfg)
}

// Config returns a copy of the bound limits.
func (e *Evaluator) Config() Config {
	return e.cfg.clone()
}

func (c Config) clone() Config {
	out := Config{}
	if c.Temperature != nil {
		v := *c.Temperature
		out.Temperature = &v
	}
	if c.Humidity != nil {
		v := *c.Humidity
		out.Humidity = &v
	}
	return out
}

// Float returns a pointer to v, for building Config literals.
func Float(v float64) *float64 {
	return &v
}
