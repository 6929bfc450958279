// Package status provides a thread-safe status tracker for the nexus-sensor
// daemon. It is read by HTTP handlers, the metrics collector and system
// events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/nexus-sensor/internal/capture"
	"github.com/sweeney/nexus-sensor/internal/logic"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	Source            string // e.g. "gpio:gpiochip0/27", "serial:/dev/ttyUSB0", "simulate"
	TickRate          uint64
	Threshold         int
	WindowMs          int64
	IdleTimeoutMs     int64
	MinIntervalMs     int64
	Fallback          string
	SignedTemperature bool
	HeartbeatMs       int64
	StaleAfterMs      int64
	Broker            string
	Topic             string
	TelegrafURL       string
	HTTPPort          string
	WSBroker          string // Websocket broker URL for browser MQTT (empty = disabled)
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	LastReading   *logic.Event
	Listening     bool // a reconciliation window is open
	Counts        logic.EventCounts
	Decoder       capture.Counters
	Rejected      uint64 // readings refused by the filter
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Telegraf      *SinkStats // nil when the Telegraf sink is disabled
	Config        Config
}

// SinkStats counts deliveries to a secondary sink.
type SinkStats struct {
	Sent   uint64
	Failed uint64
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Ready reports whether at least one reading has been published.
func (s Snapshot) Ready() bool {
	return s.LastReading != nil
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update sets reconciler and decoder counters.
// Called from runLoop on every tick.
func (t *Tracker) Update(listening bool, counts logic.EventCounts, decoder capture.Counters, rejected uint64) {
	t.mu.Lock()
	t.snap.Listening = listening
	t.snap.Counts = counts
	t.snap.Decoder = decoder
	t.snap.Rejected = rejected
	t.mu.Unlock()
}

// SetLastReading records the most recently published reading.
func (t *Tracker) SetLastReading(ev logic.Event) {
	t.mu.Lock()
	t.snap.LastReading = &ev
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// SetTelegraf records Telegraf delivery counters.
func (t *Tracker) SetTelegraf(stats SinkStats) {
	t.mu.Lock()
	t.snap.Telegraf = &stats
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	if s.LastReading != nil {
		ev := *s.LastReading
		s.LastReading = &ev
	}
	if s.Telegraf != nil {
		tg := *s.Telegraf
		s.Telegraf = &tg
	}
	s.Now = time.Now()
	return s
}
