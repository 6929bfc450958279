package ook

// Transmission renders a payload as the edges a sensor would produce for one
// frame: preamble gap, pulse, then a data gap and pulse per bit, then the end
// gap. Durations are the centres of the timing windows. Used by the simulated
// capture source and by tests.
func Transmission(t Timing, tickRate uint64, p RawPayload, width int) []Edge {
	pulse := Edge{Ticks: MicrosToTicks(mid(t.PulseMin, t.PulseMax), tickRate), Carrier: true}
	zero := Edge{Ticks: MicrosToTicks(mid(t.ZeroMin, t.ZeroMax), tickRate)}
	one := Edge{Ticks: MicrosToTicks(mid(t.OneMin, t.OneMax), tickRate)}

	preambleFloor := max(t.PreambleAbove, t.OneMax)
	preamble := Edge{Ticks: MicrosToTicks(mid(preambleFloor+1, t.EndAbove), tickRate)}
	end := Edge{Ticks: MicrosToTicks(t.EndAbove+1000, tickRate)}

	edges := make([]Edge, 0, 2*width+3)
	edges = append(edges, preamble, pulse)
	for i := 0; i < width; i++ {
		if p.Field(width, i, 1) == 1 {
			edges = append(edges, one)
		} else {
			edges = append(edges, zero)
		}
		edges = append(edges, pulse)
	}
	return append(edges, end)
}

func mid(lo, hi uint32) uint32 {
	return lo + (hi-lo)/2
}
