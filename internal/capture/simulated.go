package capture

import (
	"context"
	"time"

	"github.com/sweeney/nexus-sensor/internal/ook"
)

// SimulatedSource replays a synthesized sensor transmission on a fixed
// duty cycle, for running the daemon without a receiver.
type SimulatedSource struct {
	burst    []ook.Edge
	interval time.Duration
	tickRate uint64
}

// NewSimulatedSource renders payload as repeats back-to-back frames sent
// every interval.
func NewSimulatedSource(t ook.Timing, tickRate uint64, payload ook.RawPayload, width, repeats int, interval time.Duration) *SimulatedSource {
	frame := ook.Transmission(t, tickRate, payload, width)
	burst := make([]ook.Edge, 0, len(frame)*repeats)
	for i := 0; i < repeats; i++ {
		burst = append(burst, frame...)
	}
	return &SimulatedSource{burst: burst, interval: interval, tickRate: tickRate}
}

// TickRate implements Source.
func (s *SimulatedSource) TickRate() uint64 {
	return s.tickRate
}

// Run implements Source. The first burst is sent immediately.
func (s *SimulatedSource) Run(ctx context.Context, handle func(ook.Edge)) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		for _, e := range s.burst {
			handle(e)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Close implements Source.
func (s *SimulatedSource) Close() error {
	return nil
}
