//go:build linux

package gpio

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/warthog618/go-gpiocdev"

	"github.com/sweeney/nexus-sensor/internal/ook"
)

// RealSource captures edges from a receiver's data pin using the Linux GPIO
// character device.
type RealSource struct {
	chip      string
	offset    int
	activeLow bool
}

// NewRealSource creates a source for the given chip and line offset. Set
// activeLow when the receiver output is inverted.
func NewRealSource(chip string, offset int, activeLow bool) (*RealSource, error) {
	if chip == "" {
		return nil, fmt.Errorf("gpio: chip name is empty")
	}
	if offset < 0 {
		return nil, fmt.Errorf("gpio: invalid line offset %d", offset)
	}
	return &RealSource{chip: chip, offset: offset, activeLow: activeLow}, nil
}

// TickRate implements capture.Source.
func (s *RealSource) TickRate() uint64 {
	return TickRate
}

// Run requests the line with edge detection and delivers edges until ctx is
// cancelled. The kernel delivers events from a single watcher goroutine.
func (s *RealSource) Run(ctx context.Context, handle func(ook.Edge)) error {
	var tracker edgeTracker
	opts := []gpiocdev.LineReqOption{
		gpiocdev.WithConsumer("nexus-sensor"),
		gpiocdev.WithPullDown,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			if e, ok := tracker.observe(evt.Timestamp, evt.Type == gpiocdev.LineEventRisingEdge, evt.LineSeqno); ok {
				handle(e)
			}
		}),
	}
	if s.activeLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}

	line, err := gpiocdev.RequestLine(s.chip, s.offset, opts...)
	if err != nil {
		return fmt.Errorf("request %s line %d: %w", s.chip, s.offset, err)
	}
	log.Info("capturing edges", "chip", s.chip, "line", s.offset, "active_low", s.activeLow)

	<-ctx.Done()
	return s.release(line)
}

// release reconfigures the line as a plain input with pull-down (matching Pi
// boot defaults) before closing it, so the receiver does not hold the pin in
// an unexpected state across reboots.
func (s *RealSource) release(line *gpiocdev.Line) error {
	var errs []error
	if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure line %d: %w", s.offset, err))
	}
	if err := line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close line %d: %w", s.offset, err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// Close implements capture.Source. The line is released when Run returns.
func (s *RealSource) Close() error {
	return nil
}
