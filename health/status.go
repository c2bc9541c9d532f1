package health

import (
	"regexp"
	"time"

	"github.com/c360/sensorstream/input/broker"
)

// redactions run in order: URLs before paths so a URL is replaced whole,
// and IPs before ports.
var redactions = []struct {
	re   *regexp.Regexp
	with string
}{
	{regexp.MustCompile(`(?i)\b(?:https?|nats|tls|wss?|tcp|ssl|mqtts?)://[^\s]+`), "[URL]"},
	{regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`), "[PATH]"},
	{regexp.MustCompile(`[A-Z]:\\[^:\s]+`), "[PATH]"},
	{regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`), "[IP]"},
	{regexp.MustCompile(`:\d{2,5}\b`), "[PORT]"},
	{regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`), "[REDACTED]"},
}

// Status is the health of one component, or of the process when it carries
// SubStatuses.
type Status struct {
	Component   string          `json:"component"`
	Healthy     bool            `json:"healthy"`
	Status      string          `json:"status"`
	Message     string          `json:"message"`
	Timestamp   time.Time       `json:"timestamp"`
	SubStatuses []Status        `json:"sub_statuses,omitempty"`
	Ingest      *IngestCounters `json:"ingest,omitempty"`
}

// IngestCounters are the connector totals reported with the broker status.
type IngestCounters struct {
	Received   uint64 `json:"received"`
	Dropped    uint64 `json:"dropped"`
	Reconnects uint64 `json:"reconnects"`
}

func (s Status) IsHealthy() bool   { return s.Status == StateHealthy }
func (s Status) IsDegraded() bool  { return s.Status == StateDegraded }
func (s Status) IsUnhealthy() bool { return s.Status == StateUnhealthy }

// sanitizeErrorMessage replaces broker and HTTP URLs, file paths, IP
// addresses, ports and key=value credentials with placeholders.
func sanitizeErrorMessage(msg string) string {
	for _, r := range redactions {
		msg = r.re.ReplaceAllString(msg, r.with)
	}
	return msg
}

// FromBrokerStatus converts the ingestion connector status. A connector that
// is reconnecting is degraded; one that is down is unhealthy.
func FromBrokerStatus(name string, bs broker.Status) Status {
	var status Status
	switch {
	case bs.Connected:
		status = NewHealthy(name, "Broker connected")
	case bs.State == broker.Connecting.String():
		status = NewDegraded(name, "Broker connecting")
	default:
		status = NewUnhealthy(name, "Broker disconnected")
	}
	if !bs.Connected && bs.LastError != "" {
		status.Message = sanitizeErrorMessage(bs.LastError)
	}

	status.Ingest = &IngestCounters{
		Received:   bs.MessagesReceived,
		Dropped:    bs.MessagesDropped,
		Reconnects: bs.Reconnects,
	}
	return status
}

// FromError reports name unhealthy with a sanitized err, or healthy when err
// is nil.
func FromError(name string, err error) Status {
	if err == nil {
		return NewHealthy(name, "Component healthy")
	}
	return NewUnhealthy(name, sanitizeErrorMessage(err.Error()))
}
