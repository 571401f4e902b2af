// Package ratelimit implements process-wide admission control for outbound
// fleet API requests. A single Gate bounds the number of outstanding requests
// across every pipeline in the process and smooths the release rate so that
// bursts never exceed what the upstream tolerates.
package ratelimit

import (
	"time"
)

// Defaults for the admission gate.
const (
	// DefaultMaxConcurrent is the number of requests allowed in flight at once.
	DefaultMaxConcurrent = 10

	// DefaultReleaseDelay is the pause before a freed slot is handed to the
	// next waiter (~850 req/min at full concurrency).
	DefaultReleaseDelay = 70 * time.Millisecond
)

// State is a point-in-time view of the gate.
type State struct {
	// InFlight is the number of admitted requests that have not released yet,
	// including slots waiting out the release delay.
	InFlight int `json:"in_flight"`

	// Queued is the number of callers waiting for admission.
	Queued int `json:"queued"`

	// MaxConcurrent is the configured slot count.
	MaxConcurrent int `json:"max_concurrent"`
}

// Saturated returns true when every slot is taken.
func (s State) Saturated() bool {
	return s.InFlight >= s.MaxConcurrent
}

// Utilization returns the fraction of slots in use, in [0, 1].
func (s State) Utilization() float64 {
	if s.MaxConcurrent <= 0 {
		return 0
	}
	u := float64(s.InFlight) / float64(s.MaxConcurrent)
	if u > 1 {
		return 1
	}
	return u
}
