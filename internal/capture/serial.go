package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"go.bug.st/serial"

	"github.com/sweeney/nexus-sensor/internal/ook"
)

// SerialTickRate is the tick rate of pulse lines: one tick per microsecond.
const SerialTickRate = 1_000_000

// PortOptions describes the serial connection to an external capture MCU.
type PortOptions struct {
	BaudRate int    `toml:"baud_rate"`
	DataBits int    `toml:"data_bits"`
	StopBits int    `toml:"stop_bits"`
	Parity   string `toml:"parity"`
}

// Normalize validates the options and applies defaults for any unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch strings.TrimSpace(strings.ToUpper(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}

	return opts, nil
}

// SerialMode converts the options into the mode go.bug.st/serial opens a
// port with.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}

	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		mode.Parity = serial.NoParity
	}
	return mode, nil
}

// SerialSource reads pulse timings streamed as text by a capture MCU. Each
// line holds one or more signed durations in microseconds: "+520" is a
// carrier-present span, "-980" a gap. Blank lines and lines starting with
// '#' are ignored.
type SerialSource struct {
	port io.ReadCloser
	name string
}

// NewSerialSource opens the serial port at path.
func NewSerialSource(path string, opts PortOptions) (*SerialSource, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}

	return &SerialSource{port: port, name: path}, nil
}

// NewSerialSourceFromReader reads pulse lines from any stream, such as a
// recorded capture file.
func NewSerialSourceFromReader(name string, r io.ReadCloser) *SerialSource {
	return &SerialSource{port: r, name: name}
}

// TickRate implements Source.
func (s *SerialSource) TickRate() uint64 {
	return SerialTickRate
}

// Run implements Source. It returns nil when the stream ends.
func (s *SerialSource) Run(ctx context.Context, handle func(ook.Edge)) error {
	scan := bufio.NewScanner(s.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// Scanning blocks in Read, so it gets its own goroutine; edges are still
	// delivered from this one.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			scanErrChan <- err
		}
	}()

	edges := make([]ook.Edge, 0, 16)
	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-scanErrChan:
			return fmt.Errorf("read %s: %w", s.name, err)

		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					return fmt.Errorf("read %s: %w", s.name, err)
				default:
					return nil
				}
			}

			var err error
			edges, err = ParsePulseLine(line, edges[:0])
			if err != nil {
				log.Debug("skipping malformed pulse line", "source", s.name, "line", line, "err", err)
			}
			for _, e := range edges {
				handle(e)
			}
		}
	}
}

// Close closes the underlying port, which also unblocks a pending read.
func (s *SerialSource) Close() error {
	if err := s.port.Close(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("close %s: %w", s.name, err)
	}
	return nil
}

// ParsePulseLine appends the edges in line to dst. Tokens are separated by
// spaces or commas. Durations too large for the tick counter saturate.
// Edges parsed before a malformed token are kept.
func ParsePulseLine(line string, dst []ook.Edge) ([]ook.Edge, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return dst, nil
	}

	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ' ' || r == '\t' || r == ','
	})
	for _, f := range fields {
		if len(f) < 2 || (f[0] != '+' && f[0] != '-') {
			return dst, fmt.Errorf("token %q: want +N or -N", f)
		}
		us, err := strconv.ParseUint(f[1:], 10, 64)
		if errors.Is(err, strconv.ErrRange) {
			us, err = math.MaxUint64, nil
		}
		if err != nil {
			return dst, fmt.Errorf("token %q: %w", f, err)
		}
		dst = append(dst, ook.Edge{Ticks: ook.SaturateTicks(us), Carrier: f[0] == '+'})
	}
	return dst, nil
}
