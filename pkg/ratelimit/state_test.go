package ratelimit

import "testing"

func TestState_Saturated(t *testing.T) {
	tests := []struct {
		name     string
		state    State
		expected bool
	}{
		{"empty", State{InFlight: 0, MaxConcurrent: 10}, false},
		{"partial", State{InFlight: 9, MaxConcurrent: 10}, false},
		{"full", State{InFlight: 10, MaxConcurrent: 10}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Saturated(); got != tt.expected {
				t.Errorf("Saturated() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_Utilization(t *testing.T) {
	tests := []struct {
		name     string
		state    State
		expected float64
	}{
		{"zero max", State{InFlight: 3, MaxConcurrent: 0}, 0},
		{"half", State{InFlight: 5, MaxConcurrent: 10}, 0.5},
		{"full", State{InFlight: 10, MaxConcurrent: 10}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Utilization(); got != tt.expected {
				t.Errorf("Utilization() = %v, want %v", got, tt.expected)
			}
		})
	}
}
