// Package mqtt publishes sensor readings and daemon lifecycle events.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sweeney/nexus-sensor/internal/logic"
	"github.com/sweeney/nexus-sensor/internal/nexus"
)

// DefaultTopic carries readings, named after the sensor model the way
// rtl_433 bridges do.
const DefaultTopic = "sensors/" + nexus.Model

// DefaultSystemTopic carries lifecycle events.
const DefaultSystemTopic = "sensors/nexus-sensor/system"

// TimeFormat is the rtl_433 timestamp layout. Times are always UTC.
const TimeFormat = "2006-01-02 15:04:05"

// ErrNotPublishable is returned for events that carry no reading.
var ErrNotPublishable = errors.New("event is not publishable")

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a reading event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event logic.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT", "STALE"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload is a reading in rtl_433's JSON shape.
type Payload struct {
	Time         string  `json:"time"`
	Model        string  `json:"model"`
	ID           int     `json:"id"`
	Channel      int     `json:"channel"`
	BatteryOK    int     `json:"battery_ok"`
	TemperatureC float64 `json:"temperature_C"`
	Humidity     int     `json:"humidity"`
	Confidence   string  `json:"confidence,omitempty"`
}

// NewPayload converts a reading event. The channel is reported 1-based as
// printed on the sensor's switch.
func NewPayload(event logic.Event) (Payload, error) {
	if !event.Type.Publishable() {
		return Payload{}, fmt.Errorf("%s: %w", event.Type, ErrNotPublishable)
	}

	r := event.Reading
	p := Payload{
		Time:         event.Timestamp.UTC().Format(TimeFormat),
		Model:        r.Model(),
		ID:           int(r.ID),
		Channel:      r.DisplayChannel(),
		TemperatureC: math.Round(r.TemperatureC()*10) / 10,
		Humidity:     int(r.Humidity),
	}
	if r.BatteryOK {
		p.BatteryOK = 1
	}
	if event.Type == logic.EventLowConfidence {
		p.Confidence = "low"
	}
	return p, nil
}

// FormatPayload creates the JSON payload for a reading event.
func FormatPayload(event logic.Event) ([]byte, error) {
	p, err := NewPayload(event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(p)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp,omitempty"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
// A zero Timestamp is omitted.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Event:  event.Event,
			Reason: event.Reason,
		},
	}
	if !event.Timestamp.IsZero() {
		payload.System.Timestamp = event.Timestamp.UTC().Format(time.RFC3339)
	}
	return json.Marshal(payload)
}
