package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/c360/sensorstream/metric"
)

// CheckFunc reports the current health of one component. It should return
// quickly; Evaluate runs checks inline. Slow checks go through RegisterPolled.
type CheckFunc func() Status

// Monitor holds the registered component checks and the result of the last
// evaluation of each.
type Monitor struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	last    map[string]Status
	metrics *metric.Metrics
	now     func() time.Time
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithMetrics exports each evaluated component status as a gauge.
func WithMetrics(m *metric.Metrics) MonitorOption {
	return func(mon *Monitor) {
		mon.metrics = m
	}
}

// NewMonitor creates a monitor with no checks.
func NewMonitor(opts ...MonitorOption) *Monitor {
	m := &Monitor{
		checks: make(map[string]CheckFunc),
		last:   make(map[string]Status),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds or replaces the check for name.
func (m *Monitor) Register(name string, check CheckFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Evaluate runs every registered check and returns the aggregate for
// systemName. Sub-statuses carry the registered name and are sorted by it.
func (m *Monitor) Evaluate(systemName string) Status {
	m.mu.RLock()
	names := make([]string, 0, len(m.checks))
	checks := make([]CheckFunc, 0, len(m.checks))
	for name, check := range m.checks {
		names = append(names, name)
		checks = append(checks, check)
	}
	m.mu.RUnlock()

	results := make([]Status, len(checks))
	for i, check := range checks {
		status := check()
		status.Component = names[i]
		if status.Timestamp.IsZero() {
			status.Timestamp = m.now()
		}
		results[i] = status
		m.metrics.RecordHealthStatus(names[i], status.IsHealthy())
	}

	m.mu.Lock()
	for _, status := range results {
		if prev, ok := m.last[status.Component]; ok && prev.Timestamp.After(status.Timestamp) {
			continue
		}
		m.last[status.Component] = status
	}
	m.mu.Unlock()

	agg := Aggregate(systemName, results)
	sort.Slice(agg.SubStatuses, func(i, j int) bool {
		return agg.SubStatuses[i].Component < agg.SubStatuses[j].Component
	})
	return agg
}

// RegisterPolled runs check once now and then every interval until ctx is
// done. Evaluate reports the latest polled result for name without running
// check. A non-positive interval registers check as an inline check.
func (m *Monitor) RegisterPolled(ctx context.Context, name string, interval time.Duration, check CheckFunc) {
	if interval <= 0 {
		m.Register(name, check)
		return
	}

	m.poll(name, check)
	m.Register(name, func() Status {
		status, _ := m.Last(name)
		return status
	})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.poll(name, check)
			}
		}
	}()
}

func (m *Monitor) poll(name string, check CheckFunc) {
	status := check()
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = m.now()
	}
	m.mu.Lock()
	m.last[name] = status
	m.mu.Unlock()
}

// Last returns the status recorded for name by the latest Evaluate or poll.
func (m *Monitor) Last(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.last[name]
	return status, ok
}

// ListComponents returns the registered check names, sorted.
func (m *Monitor) ListComponents() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
