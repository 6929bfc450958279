// Package capture connects edge sources to the decoder. Everything on the
// edge path runs in the source's delivery goroutine; completed payloads cross
// to the processing loop through a lock-free Queue.
package capture

import (
	"context"

	"github.com/sweeney/nexus-sensor/internal/ook"
)

// Source produces edges from a receiver.
type Source interface {
	// Run delivers edges to handle until ctx is cancelled, the source is
	// exhausted or it fails. handle is always called from one goroutine.
	Run(ctx context.Context, handle func(ook.Edge)) error

	// TickRate returns the number of edge ticks per second.
	TickRate() uint64

	// Close releases source resources.
	Close() error
}
