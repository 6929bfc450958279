package ook

import (
	"errors"
	"fmt"
)

var (
	ErrTimingNoise  = errors.New("timing noise")
	ErrPrematureEnd = errors.New("premature end of payload")
	ErrFrameTimeout = errors.New("frame timeout")
	ErrSymbolOrder  = errors.New("unexpected symbol order")
)

// Reason identifies why a frame was discarded.
type Reason uint8

const (
	ReasonTimingNoise Reason = iota
	ReasonPrematureEnd
	ReasonFrameTimeout
	ReasonSymbolOrder

	// NumReasons sizes per-reason counter arrays.
	NumReasons = 4
)

// Err returns the sentinel error for the reason.
func (r Reason) Err() error {
	switch r {
	case ReasonTimingNoise:
		return ErrTimingNoise
	case ReasonPrematureEnd:
		return ErrPrematureEnd
	case ReasonFrameTimeout:
		return ErrFrameTimeout
	default:
		return ErrSymbolOrder
	}
}

// String returns a short snake_case label, used in logs and metrics.
func (r Reason) String() string {
	switch r {
	case ReasonTimingNoise:
		return "timing_noise"
	case ReasonPrematureEnd:
		return "premature_end"
	case ReasonFrameTimeout:
		return "frame_timeout"
	default:
		return "symbol_order"
	}
}

// DecodeError describes a discarded frame. It is a plain value so that it
// can be handed to a diagnostic hook from the capture path without
// allocating.
type DecodeError struct {
	Reason Reason
	State  State  // state the frame was in when it failed
	Symbol Symbol // symbol that caused the failure
	Bits   int    // bits collected before the failure
}

func (e DecodeError) Error() string {
	return fmt.Sprintf("ook: %v in %s after %d bits (symbol %s)", e.Reason.Err(), e.State, e.Bits, e.Symbol)
}

// Unwrap lets errors.Is match the sentinel errors.
func (e DecodeError) Unwrap() error {
	return e.Reason.Err()
}
