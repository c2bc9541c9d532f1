package health

import (
	"sort"
	"strings"
	"time"
)

// Status values
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

func newStatus(component, state, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy creates a healthy status
func NewHealthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

// NewUnhealthy creates an unhealthy status
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, message)
}

// NewDegraded creates a degraded status. A degraded component still serves
// traffic, so it does not fail /health on its own.
func NewDegraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

// Aggregate rolls sub-statuses into one: unhealthy if any is unhealthy,
// else degraded if any is degraded, else healthy. The message names the
// offending components, e.g. "unhealthy: broker; degraded: pipeline".
// subStatuses is copied, not retained.
func Aggregate(component string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(component, "No components registered")
	}

	var unhealthy, degraded []string
	for _, sub := range subStatuses {
		switch {
		case sub.IsUnhealthy():
			unhealthy = append(unhealthy, sub.Component)
		case sub.IsDegraded():
			degraded = append(degraded, sub.Component)
		}
	}
	sort.Strings(unhealthy)
	sort.Strings(degraded)

	var parts []string
	if len(unhealthy) > 0 {
		parts = append(parts, "unhealthy: "+strings.Join(unhealthy, ", "))
	}
	if len(degraded) > 0 {
		parts = append(parts, "degraded: "+strings.Join(degraded, ", "))
	}

	var status Status
	switch {
	case len(unhealthy) > 0:
		status = NewUnhealthy(component, strings.Join(parts, "; "))
	case len(degraded) > 0:
		status = NewDegraded(component, strings.Join(parts, "; "))
	default:
		status = NewHealthy(component, "All components healthy")
	}

	status.SubStatuses = make([]Status, len(subStatuses))
	copy(status.SubStatuses, subStatuses)

	return status
}
