// Package logic contains the pure reading reconciliation logic.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"time"

	"github.com/sweeney/nexus-sensor/internal/nexus"
)

// EventType is the outcome of a reconciliation window.
type EventType string

const (
	// EventReading is a reading confirmed by enough identical repeats.
	EventReading EventType = "READING"
	// EventLowConfidence is the best available reading when the window
	// closed before confirmation and the fallback policy is emit.
	EventLowConfidence EventType = "READING_LOW_CONFIDENCE"
	// EventSuppressed reports a window that closed unconfirmed under the
	// suppress policy. It is never published as a reading.
	EventSuppressed EventType = "SUPPRESSED"
)

// Publishable reports whether the event carries a reading for the sinks.
func (t EventType) Publishable() bool {
	return t == EventReading || t == EventLowConfidence
}

// Event is the reconciler's output.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Reading   nexus.Reading
	Repeats   int // identical decodes backing the reading
}

// FallbackPolicy selects what happens to an unconfirmed window.
type FallbackPolicy string

const (
	FallbackEmit     FallbackPolicy = "emit"
	FallbackSuppress FallbackPolicy = "suppress"
)

// Config tunes the reconciler.
type Config struct {
	// Threshold is the number of identical decodes that confirm a reading.
	// 1 emits on the first successful decode.
	Threshold int
	// Window bounds one duty cycle, measured from its first candidate.
	Window time.Duration
	// IdleTimeout closes the window when no decode activity is seen.
	IdleTimeout time.Duration
	// MinInterval suppresses a confirmed reading identical to the last
	// published one when it arrives sooner than this. Zero disables.
	MinInterval time.Duration
	// Fallback applies when a window closes without confirmation.
	Fallback FallbackPolicy
}

// EventCounts tracks reconciler activity since startup.
type EventCounts struct {
	Candidates    int
	Confirmed     int
	LowConfidence int
	Suppressed    int
	Duplicates    int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    EventCounts
}
