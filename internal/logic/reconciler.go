package logic

import (
	"fmt"
	"time"

	"github.com/sweeney/nexus-sensor/internal/nexus"
)

// Reconciler decides when repeated decodes of one transmission are
// trustworthy enough to publish. It is not safe for concurrent use.
type Reconciler struct {
	cfg Config

	// current window
	open         bool
	settled      bool // candidate already emitted or resolved by fallback
	candidate    nexus.Reading
	count        int
	windowStart  time.Time
	lastActivity time.Time

	lastPublished   nexus.Reading
	lastPublishedAt time.Time
	havePublished   bool

	startTime     time.Time
	eventCounts   EventCounts
	lastHeartbeat time.Time
	staleReported bool
}

// NewReconciler creates a reconciler. The startTime is used for calculating
// uptime in heartbeat events.
func NewReconciler(cfg Config, startTime time.Time) *Reconciler {
	return &Reconciler{
		cfg:           cfg,
		startTime:     startTime,
		lastHeartbeat: startTime,
	}
}

// Validate checks a reconciler configuration.
func (c Config) Validate() error {
	if c.Threshold < 1 {
		return fmt.Errorf("threshold must be at least 1, got %d", c.Threshold)
	}
	if c.Window <= 0 {
		return fmt.Errorf("window must be positive, got %v", c.Window)
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive, got %v", c.IdleTimeout)
	}
	if c.MinInterval < 0 {
		return fmt.Errorf("min interval must not be negative, got %v", c.MinInterval)
	}
	switch c.Fallback {
	case FallbackEmit, FallbackSuppress:
	default:
		return fmt.Errorf("unknown fallback policy %q (want %q or %q)", c.Fallback, FallbackEmit, FallbackSuppress)
	}
	return nil
}

// Observe records one successfully decoded reading. It returns an event when
// the reading becomes confirmed, nil otherwise.
func (r *Reconciler) Observe(reading nexus.Reading, now time.Time) *Event {
	r.eventCounts.Candidates++
	r.lastActivity = now

	switch {
	case !r.open:
		r.startWindow(reading, now)
	case r.settled && reading == r.candidate:
		// Remaining repeats of a reading we already resolved.
		r.count++
		return nil
	case r.settled:
		// A different transmission after resolution: new duty cycle.
		r.startWindow(reading, now)
	case reading == r.candidate:
		r.count++
	default:
		// Favour the newest decode; state does not change within a cycle.
		r.candidate = reading
		r.count = 1
	}

	if r.count < r.cfg.Threshold {
		return nil
	}

	r.settled = true
	if r.havePublished && reading == r.lastPublished && r.cfg.MinInterval > 0 &&
		now.Sub(r.lastPublishedAt) < r.cfg.MinInterval {
		r.eventCounts.Duplicates++
		return nil
	}
	return r.emit(EventReading, now)
}

// Activity records decode activity that did not yield a reading, such as a
// preamble, keeping the window open.
func (r *Reconciler) Activity(now time.Time) {
	if r.open {
		r.lastActivity = now
	}
}

// Check closes the window when it has run its course: idle for IdleTimeout
// or open for Window. A window whose candidate was never confirmed resolves
// through the fallback policy first. Returns nil when nothing needs
// reporting.
func (r *Reconciler) Check(now time.Time) *Event {
	if !r.open {
		return nil
	}

	idle := now.Sub(r.lastActivity) >= r.cfg.IdleTimeout
	elapsed := now.Sub(r.windowStart) >= r.cfg.Window
	if !idle && !elapsed {
		return nil
	}

	var ev *Event
	if !r.settled {
		r.settled = true
		if r.cfg.Fallback == FallbackEmit {
			ev = r.emit(EventLowConfidence, now)
		} else {
			r.eventCounts.Suppressed++
			ev = &Event{Timestamp: now, Type: EventSuppressed, Reading: r.candidate, Repeats: r.count}
		}
	}

	// Window bounds one duty cycle even when preamble noise keeps it busy.
	r.reset()
	return ev
}

// IsOpen reports whether a reconciliation window is active.
func (r *Reconciler) IsOpen() bool {
	return r.open
}

// Candidate returns the current candidate and its repeat count.
func (r *Reconciler) Candidate() (nexus.Reading, int, bool) {
	return r.candidate, r.count, r.open
}

// EventCountsSnapshot returns a copy of the event counters.
func (r *Reconciler) EventCountsSnapshot() EventCounts {
	return r.eventCounts
}

// LastPublished returns the most recent emitted reading and when it was
// emitted.
func (r *Reconciler) LastPublished() (nexus.Reading, time.Time, bool) {
	return r.lastPublished, r.lastPublishedAt, r.havePublished
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if the interval has not elapsed,
// or if interval is <= 0 (disabled).
func (r *Reconciler) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}

	if now.Sub(r.lastHeartbeat) < interval {
		return nil
	}

	r.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(r.startTime),
		Counts:    r.eventCounts,
	}
}

// CheckStale reports, once per outage, that nothing has been published for
// longer than after (measured from startup before the first reading). It
// re-arms when a reading is emitted. after <= 0 disables the check.
func (r *Reconciler) CheckStale(now time.Time, after time.Duration) bool {
	if after <= 0 || r.staleReported {
		return false
	}
	since := r.startTime
	if r.havePublished {
		since = r.lastPublishedAt
	}
	if now.Sub(since) < after {
		return false
	}
	r.staleReported = true
	return true
}

func (r *Reconciler) startWindow(reading nexus.Reading, now time.Time) {
	r.open = true
	r.settled = false
	r.candidate = reading
	r.count = 1
	r.windowStart = now
	r.lastActivity = now
}

func (r *Reconciler) reset() {
	r.open = false
	r.settled = false
	r.candidate = nexus.Reading{}
	r.count = 0
}

func (r *Reconciler) emit(t EventType, now time.Time) *Event {
	switch t {
	case EventReading:
		r.eventCounts.Confirmed++
	case EventLowConfidence:
		r.eventCounts.LowConfidence++
	}
	r.lastPublished = r.candidate
	r.lastPublishedAt = now
	r.havePublished = true
	r.staleReported = false
	return &Event{Timestamp: now, Type: t, Reading: r.candidate, Repeats: r.count}
}
