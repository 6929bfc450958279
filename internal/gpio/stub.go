//go:build !linux

package gpio

import (
	"context"
	"errors"

	"github.com/sweeney/nexus-sensor/internal/ook"
)

// RealSource is not available on non-Linux platforms.
type RealSource struct{}

// NewRealSource returns an error on non-Linux platforms.
func NewRealSource(chip string, offset int, activeLow bool) (*RealSource, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// TickRate implements capture.Source.
func (s *RealSource) TickRate() uint64 {
	return TickRate
}

// Run is not implemented on non-Linux platforms.
func (s *RealSource) Run(ctx context.Context, handle func(ook.Edge)) error {
	return errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (s *RealSource) Close() error {
	return nil
}
