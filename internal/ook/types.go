// Package ook turns on-off-keyed edge timings into validated bit payloads.
// It has no I/O and never allocates on the edge path, so Classify and Feed
// are safe to call from a capture callback.
package ook

import (
	"math"
	"strings"
)

// Edge is one measured span between two polarity changes.
type Edge struct {
	Ticks   uint32 // duration in capture ticks
	Carrier bool   // true = carrier present (high)
}

// SaturateTicks clamps a wide tick count to the uint32 range used by Edge.
func SaturateTicks(v uint64) uint32 {
	if v > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(v)
}

// Symbol is the classification of one Edge against the timing windows.
type Symbol uint8

const (
	SymbolNoise Symbol = iota
	SymbolPulse
	SymbolPreamble
	SymbolZero
	SymbolOne
	SymbolEndOfPayload
)

func (s Symbol) String() string {
	switch s {
	case SymbolPulse:
		return "PULSE"
	case SymbolPreamble:
		return "PREAMBLE"
	case SymbolZero:
		return "ZERO"
	case SymbolOne:
		return "ONE"
	case SymbolEndOfPayload:
		return "END"
	default:
		return "NOISE"
	}
}

// MaxPayloadBits is the widest payload a RawPayload can hold.
const MaxPayloadBits = 64

// RawPayload holds a completed frame, MSB first: the first bit received
// ends up in bit position width-1.
type RawPayload uint64

// Field extracts n bits starting offset bits from the front of a payload
// that is width bits wide.
func (p RawPayload) Field(width, offset, n int) uint64 {
	shift := width - offset - n
	if shift < 0 || n <= 0 {
		return 0
	}
	return (uint64(p) >> uint(shift)) & (1<<uint(n) - 1)
}

// Format renders the payload as a bit string grouped in nibbles, e.g.
// "1010 1110 1001 ...".
func (p RawPayload) Format(width int) string {
	var b strings.Builder
	for i := 0; i < width; i++ {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ')
		}
		if p.Field(width, i, 1) == 1 {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}
