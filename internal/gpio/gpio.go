// Package gpio captures receiver edges from a GPIO line.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import (
	"time"

	"github.com/sweeney/nexus-sensor/internal/ook"
)

// TickRate is the tick rate of GPIO edges. Kernel event timestamps have
// nanosecond resolution.
const TickRate = 1_000_000_000

// Defaults for a 433 MHz receiver module on a Raspberry Pi.
const (
	DefaultChip   = "gpiochip0"
	DefaultOffset = 27 // BCM numbering
)

// noiseEdge is delivered when the kernel reports lost events. A zero-length
// span never classifies as a valid symbol, so any live frame is discarded.
var noiseEdge = ook.Edge{Ticks: 0, Carrier: true}

// edgeTracker turns timestamped line events into edge spans.
type edgeTracker struct {
	started bool
	last    time.Duration
	seqno   uint32
}

// observe records a line event and returns the span it terminates. A rising
// edge ends a gap; a falling edge ends a carrier span. The first event only
// establishes a reference point.
func (t *edgeTracker) observe(ts time.Duration, rising bool, seqno uint32) (ook.Edge, bool) {
	if !t.started {
		t.started = true
		t.last = ts
		t.seqno = seqno
		return ook.Edge{}, false
	}

	lost := seqno != t.seqno+1
	d := ts - t.last
	t.last = ts
	t.seqno = seqno
	if lost || d < 0 {
		return noiseEdge, true
	}
	return ook.Edge{Ticks: ook.SaturateTicks(uint64(d)), Carrier: !rising}, true
}
