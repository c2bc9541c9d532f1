package health

import (
	"testing"
	"time"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name        string
		build       func(component, message string) Status
		wantState   string
		wantHealthy bool
	}{
		{"healthy", NewHealthy, StateHealthy, true},
		{"degraded", NewDegraded, StateDegraded, false},
		{"unhealthy", NewUnhealthy, StateUnhealthy, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := time.Now()
			status := tt.build("broker", "Broker connected")

			if status.Component != "broker" {
				t.Errorf("Expected component broker, got %s", status.Component)
			}
			if status.Status != tt.wantState {
				t.Errorf("Expected status %s, got %s", tt.wantState, status.Status)
			}
			if status.Healthy != tt.wantHealthy {
				t.Errorf("Expected Healthy=%v, got %v", tt.wantHealthy, status.Healthy)
			}
			if status.Message != "Broker connected" {
				t.Errorf("Expected message to be kept, got %s", status.Message)
			}
			if status.Timestamp.Before(before) {
				t.Error("Expected timestamp to be set at construction")
			}
		})
	}
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name        string
		subStatuses []Status
		wantStatus  string
		wantMessage string
	}{
		{
			name:        "no components",
			subStatuses: nil,
			wantStatus:  StateHealthy,
			wantMessage: "No components registered",
		},
		{
			name: "all healthy",
			subStatuses: []Status{
				NewHealthy("broker", ""),
				NewHealthy("storage", ""),
			},
			wantStatus:  StateHealthy,
			wantMessage: "All components healthy",
		},
		{
			name: "degraded pipeline",
			subStatuses: []Status{
				NewHealthy("broker", ""),
				NewDegraded("pipeline", ""),
			},
			wantStatus:  StateDegraded,
			wantMessage: "degraded: pipeline",
		},
		{
			name: "unhealthy wins and both are named",
			subStatuses: []Status{
				NewDegraded("pipeline", ""),
				NewUnhealthy("storage", ""),
				NewUnhealthy("broker", ""),
			},
			wantStatus:  StateUnhealthy,
			wantMessage: "unhealthy: broker, storage; degraded: pipeline",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Aggregate("sensorstream", tt.subStatuses)

			if result.Component != "sensorstream" {
				t.Errorf("Expected component sensorstream, got %s", result.Component)
			}
			if result.Status != tt.wantStatus {
				t.Errorf("Expected status %s, got %s", tt.wantStatus, result.Status)
			}
			if result.Message != tt.wantMessage {
				t.Errorf("Expected message %q, got %q", tt.wantMessage, result.Message)
			}
			if len(result.SubStatuses) != len(tt.subStatuses) {
				t.Errorf("Expected %d sub-statuses, got %d", len(tt.subStatuses), len(result.SubStatuses))
			}
		})
	}
}

func TestAggregate_DoesNotRetainInput(t *testing.T) {
	subs := []Status{NewHealthy("broker", ""), NewHealthy("storage", "")}

	result := Aggregate("sensorstream", subs)
	subs[0].Status = StateUnhealthy

	if result.SubStatuses[0].Status != StateHealthy {
		t.Error("Aggregate result should not share the input slice")
	}
}
