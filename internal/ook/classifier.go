package ook

import (
	"errors"
	"fmt"
)

// Timing holds the classification windows in microseconds. Min/Max bounds
// are inclusive; PreambleAbove and EndAbove are exclusive lower bounds.
type Timing struct {
	PulseMin uint32 `toml:"pulse_min_us"`
	PulseMax uint32 `toml:"pulse_max_us"`

	ZeroMin uint32 `toml:"zero_min_us"`
	ZeroMax uint32 `toml:"zero_max_us"`

	OneMin uint32 `toml:"one_min_us"`
	OneMax uint32 `toml:"one_max_us"`

	PreambleAbove uint32 `toml:"preamble_above_us"`
	EndAbove      uint32 `toml:"end_above_us"`
}

// NexusTiming returns the windows for Nexus-TH sensors.
func NexusTiming() Timing {
	return Timing{
		PulseMin:      400,
		PulseMax:      600,
		ZeroMin:       800,
		ZeroMax:       1000,
		OneMin:        1650,
		OneMax:        2150,
		PreambleAbove: 2000,
		EndAbove:      3000,
	}
}

// Validate checks that the gap windows are ordered and cannot overlap once
// precedence (end, one, zero, preamble) is applied.
func (t Timing) Validate() error {
	if t.PulseMin > t.PulseMax {
		return fmt.Errorf("pulse window inverted: %d > %d", t.PulseMin, t.PulseMax)
	}
	if t.ZeroMin > t.ZeroMax {
		return fmt.Errorf("zero window inverted: %d > %d", t.ZeroMin, t.ZeroMax)
	}
	if t.OneMin > t.OneMax {
		return fmt.Errorf("one window inverted: %d > %d", t.OneMin, t.OneMax)
	}
	if t.ZeroMax >= t.OneMin {
		return fmt.Errorf("zero window (max %d) overlaps one window (min %d)", t.ZeroMax, t.OneMin)
	}
	if t.ZeroMax > t.PreambleAbove {
		return fmt.Errorf("zero window (max %d) overlaps preamble (above %d)", t.ZeroMax, t.PreambleAbove)
	}
	if t.OneMax > t.EndAbove {
		return fmt.Errorf("one window (max %d) overlaps end of payload (above %d)", t.OneMax, t.EndAbove)
	}
	if t.PreambleAbove >= t.EndAbove {
		return fmt.Errorf("preamble (above %d) leaves no room below end of payload (above %d)", t.PreambleAbove, t.EndAbove)
	}
	return nil
}

// MicrosToTicks converts microseconds to capture ticks at tickRate ticks per
// second, saturating at the uint32 maximum.
func MicrosToTicks(us uint32, tickRate uint64) uint32 {
	return SaturateTicks(uint64(us) * tickRate / 1_000_000)
}

// Classifier maps single edges to symbols. The windows are converted to
// ticks once at construction so Classify is integer compares only.
type Classifier struct {
	pulseMin, pulseMax uint32
	zeroMin, zeroMax   uint32
	oneMin, oneMax     uint32
	preambleAbove      uint32
	endAbove           uint32
}

// NewClassifier builds a Classifier for a capture peripheral running at
// tickRate ticks per second.
func NewClassifier(t Timing, tickRate uint64) (*Classifier, error) {
	if tickRate == 0 {
		return nil, errors.New("tick rate must be positive")
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid timing: %w", err)
	}
	return &Classifier{
		pulseMin:      MicrosToTicks(t.PulseMin, tickRate),
		pulseMax:      MicrosToTicks(t.PulseMax, tickRate),
		zeroMin:       MicrosToTicks(t.ZeroMin, tickRate),
		zeroMax:       MicrosToTicks(t.ZeroMax, tickRate),
		oneMin:        MicrosToTicks(t.OneMin, tickRate),
		oneMax:        MicrosToTicks(t.OneMax, tickRate),
		preambleAbove: MicrosToTicks(t.PreambleAbove, tickRate),
		endAbove:      MicrosToTicks(t.EndAbove, tickRate),
	}, nil
}

// Classify returns the symbol for one edge. Pulse width never carries data:
// a carrier span outside the pulse window is noise.
func (c *Classifier) Classify(ticks uint32, carrier bool) Symbol {
	if carrier {
		if ticks >= c.pulseMin && ticks <= c.pulseMax {
			return SymbolPulse
		}
		return SymbolNoise
	}

	switch {
	case ticks > c.endAbove:
		return SymbolEndOfPayload
	case ticks >= c.oneMin && ticks <= c.oneMax:
		return SymbolOne
	case ticks >= c.zeroMin && ticks <= c.zeroMax:
		return SymbolZero
	case ticks > c.preambleAbove:
		return SymbolPreamble
	}
	return SymbolNoise
}
