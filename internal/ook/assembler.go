package ook

import "fmt"

// State is the Assembler's frame state.
type State uint8

const (
	StateIdle State = iota
	StateInPreamble
	StateCollectingBits
	StateComplete
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateInPreamble:
		return "IN_PREAMBLE"
	case StateCollectingBits:
		return "COLLECTING_BITS"
	case StateComplete:
		return "COMPLETE"
	default:
		return "ERRORED"
	}
}

// AssemblerConfig sizes the frame accumulator.
type AssemblerConfig struct {
	// Width is the number of bits in a complete payload.
	Width int
	// MaxFrameTicks caps the ticks a frame may span from its preamble.
	// Zero disables the cap.
	MaxFrameTicks uint64
}

// Assembler consumes symbols and emits completed payloads. It owns the single
// live frame; it is not safe for concurrent use.
type Assembler struct {
	width    int
	maxTicks uint64

	state   State
	bits    uint64
	n       int
	elapsed uint64

	onPayload func(RawPayload)
	onError   func(DecodeError)
}

// NewAssembler creates an Assembler. onPayload receives every completed frame
// and onError every discarded one; both run synchronously inside Feed and
// must not block. Either may be nil.
func NewAssembler(cfg AssemblerConfig, onPayload func(RawPayload), onError func(DecodeError)) (*Assembler, error) {
	if cfg.Width < 1 || cfg.Width > MaxPayloadBits {
		return nil, fmt.Errorf("payload width %d out of range 1..%d", cfg.Width, MaxPayloadBits)
	}
	return &Assembler{
		width:     cfg.Width,
		maxTicks:  cfg.MaxFrameTicks,
		onPayload: onPayload,
		onError:   onError,
	}, nil
}

// State returns the current state. Complete and Errored are transient and
// are never observed between calls to Feed.
func (a *Assembler) State() State {
	return a.state
}

// Bits returns how many bits the live frame holds.
func (a *Assembler) Bits() int {
	return a.n
}

// Feed advances the state machine by one symbol. ticks is the duration of the
// edge that produced the symbol and only feeds the frame duration cap.
func (a *Assembler) Feed(sym Symbol, ticks uint32) {
	if a.state == StateInPreamble || a.state == StateCollectingBits {
		a.elapsed += uint64(ticks)
		if a.maxTicks > 0 && a.elapsed > a.maxTicks {
			// The symbol is still processed from Idle below, so a
			// preamble that arrives late starts a fresh frame.
			a.fail(ReasonFrameTimeout, sym)
		}
	}

	switch a.state {
	case StateIdle:
		// Pulses and stray gaps between frames are expected.
		if sym == SymbolPreamble {
			a.begin()
		}

	case StateInPreamble:
		switch sym {
		case SymbolPreamble:
			a.begin()
		case SymbolPulse:
			a.state = StateCollectingBits
		case SymbolZero, SymbolOne:
			a.fail(ReasonSymbolOrder, sym)
		case SymbolEndOfPayload:
			a.fail(ReasonPrematureEnd, sym)
		default:
			a.fail(ReasonTimingNoise, sym)
		}

	case StateCollectingBits:
		switch sym {
		case SymbolPulse:
		case SymbolZero, SymbolOne:
			a.bits <<= 1
			if sym == SymbolOne {
				a.bits |= 1
			}
			a.n++
			if a.n == a.width {
				a.complete()
			}
		case SymbolEndOfPayload:
			a.fail(ReasonPrematureEnd, sym)
		case SymbolPreamble:
			a.fail(ReasonSymbolOrder, sym)
			a.begin()
		default:
			a.fail(ReasonTimingNoise, sym)
		}
	}
}

// Reset discards any live frame without reporting it.
func (a *Assembler) Reset() {
	a.state = StateIdle
	a.bits = 0
	a.n = 0
	a.elapsed = 0
}

func (a *Assembler) begin() {
	a.Reset()
	a.state = StateInPreamble
}

func (a *Assembler) complete() {
	a.state = StateComplete
	p := RawPayload(a.bits)
	a.Reset()
	if a.onPayload != nil {
		a.onPayload(p)
	}
}

func (a *Assembler) fail(reason Reason, sym Symbol) {
	e := DecodeError{Reason: reason, State: a.state, Symbol: sym, Bits: a.n}
	a.state = StateErrored
	a.Reset()
	if a.onError != nil {
		a.onError(e)
	}
}
