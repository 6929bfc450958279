// Package telegraf forwards readings to a Telegraf HTTP listener as InfluxDB
// line protocol.
package telegraf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/sweeney/nexus-sensor/internal/logic"
)

// Measurement is the line protocol measurement name, shared with rtl_433.
const Measurement = "rtl_433"

// ErrQueueFull is returned when the sender is not keeping up.
var ErrQueueFull = errors.New("telegraf: queue full")

// FormatLine renders a reading event as one line of line protocol.
func FormatLine(event logic.Event) (string, error) {
	if !event.Type.Publishable() {
		return "", fmt.Errorf("telegraf: %s event has no reading", event.Type)
	}

	r := event.Reading
	battery := 0
	if r.BatteryOK {
		battery = 1
	}
	confidence := "high"
	if event.Type == logic.EventLowConfidence {
		confidence = "low"
	}

	return fmt.Sprintf("%s,model=%s,id=%d,channel=%d temperature_C=%.1f,humidity=%di,battery_ok=%di,repeats=%di,confidence=%q %d",
		Measurement, escapeTag(r.Model()), r.ID, r.DisplayChannel(),
		r.TemperatureC(), r.Humidity, battery, event.Repeats, confidence,
		event.Timestamp.UnixNano()), nil
}

var tagEscaper = strings.NewReplacer(",", `\,`, "=", `\=`, " ", `\ `)

func escapeTag(s string) string {
	return tagEscaper.Replace(s)
}

// Stats counts delivery outcomes.
type Stats struct {
	Sent   uint64
	Failed uint64
}

// Publisher posts readings from a queue so that a slow Telegraf never
// stalls the processing loop.
type Publisher struct {
	url    string
	client *http.Client
	lines  chan string

	sent   atomic.Uint64
	failed atomic.Uint64
}

// New creates a publisher for the given write URL, e.g.
// http://localhost:8186/telegraf.
func New(url string, queueSize int) *Publisher {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Publisher{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
		lines:  make(chan string, queueSize),
	}
}

// Publish queues a reading. It never blocks.
func (p *Publisher) Publish(event logic.Event) error {
	line, err := FormatLine(event)
	if err != nil {
		return err
	}
	select {
	case p.lines <- line:
		return nil
	default:
		p.failed.Add(1)
		return ErrQueueFull
	}
}

// Run sends queued lines until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case line := <-p.lines:
			if err := p.post(ctx, line); err != nil {
				p.failed.Add(1)
				log.Warn("telegraf: post failed", "url", p.url, "err", err)
				continue
			}
			p.sent.Add(1)
			log.Debug("telegraf: metric published", "line", line)

		case <-ctx.Done():
			log.Info("telegraf: publisher stopped")
			return
		}
	}
}

func (p *Publisher) post(ctx context.Context, line string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewBufferString(line))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}

// Stats returns delivery counters.
func (p *Publisher) Stats() Stats {
	return Stats{Sent: p.sent.Load(), Failed: p.failed.Load()}
}
