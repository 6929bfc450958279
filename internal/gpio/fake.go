package gpio

import (
	"context"

	"github.com/sweeney/nexus-sensor/internal/ook"
)

// FakeSource is a test double that delivers scripted edges.
type FakeSource struct {
	// Edges are delivered in order by each call to Run.
	Edges []ook.Edge

	// Rate is returned by TickRate. Zero means TickRate.
	Rate uint64

	// Hold keeps Run blocked after the edges until ctx is cancelled.
	Hold bool

	// RunError, if set, is returned by Run before delivering anything.
	RunError error

	// Runs counts calls to Run.
	Runs int

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeSource creates a FakeSource with the given edges.
func NewFakeSource(edges []ook.Edge) *FakeSource {
	return &FakeSource{Edges: edges}
}

// TickRate returns the configured tick rate.
func (f *FakeSource) TickRate() uint64 {
	if f.Rate == 0 {
		return TickRate
	}
	return f.Rate
}

// Run delivers the scripted edges. Delivery stops early if ctx is cancelled.
func (f *FakeSource) Run(ctx context.Context, handle func(ook.Edge)) error {
	f.Runs++
	if f.RunError != nil {
		return f.RunError
	}

	for _, e := range f.Edges {
		if ctx.Err() != nil {
			return nil
		}
		handle(e)
	}

	if f.Hold {
		<-ctx.Done()
	}
	return nil
}

// Close marks the source as closed.
func (f *FakeSource) Close() error {
	f.Closed = true
	return nil
}
