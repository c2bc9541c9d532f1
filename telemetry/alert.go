package telemetry

import (
	"encoding/json"
	"fmt"
)

// AlertKind names what an alert is about.
type AlertKind int

const (
	KindTemperature AlertKind = iota
	KindHumidity
	KindAnomaly
)

var kindNames = map[AlertKind]string{
	KindTemperature: "temperature",
	KindHumidity:    "humidity",
	KindAnomaly:     "anomaly",
}

// String returns the lowercase wire name.
func (k AlertKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// MarshalJSON encodes the kind as its wire name.
func (k AlertKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes a wire name.
func (k *AlertKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for kind, name := range kindNames {
		if name == s {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown alert kind %q", s)
}

// Severity orders alerts by urgency.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityInfo:     "info",
	SeverityWarning:  "warning",
	SeverityCritical: "critical",
}

// String returns the lowercase wire name.
func (s Severity) String() string {
	if n, ok := severityNames[s]; ok {
		return n
	}
	return "unknown"
}

// MarshalJSON encodes the severity as its wire name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a wire name.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for sev, n := range severityNames {
		if n == name {
			*s = sev
			return nil
		}
	}
	return fmt.Errorf("unknown severity %q", name)
}

// Alert is one finding attached to a reading.
type Alert struct {
	Kind     AlertKind `json:"type"`
	Message  string    `json:"message"`
	Severity Severity  `json:"severity"`
}

// AnomalyMessage is attached when the detector flags a reading.
const AnomalyMessage = "Unusual sensor reading detected"

// NewAnomalyAlert returns the alert appended for statistically unusual readings.
func NewAnomalyAlert() Alert {
	return Alert{Kind: KindAnomaly, Message: AnomalyMessage, Severity: SeverityWarning}
}
