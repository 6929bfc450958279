package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/nexus-sensor/internal/logic"
	"github.com/sweeney/nexus-sensor/internal/nexus"
	"github.com/sweeney/nexus-sensor/internal/ook"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Ready         bool         `json:"ready"`
	Listening     bool         `json:"listening"`
	LastReading   *ReadingJSON `json:"last_reading,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"event_counts"`
	Decoder       DecoderJSON  `json:"decoder"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Telegraf      *SinkJSON    `json:"telegraf,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// ReadingJSON is the last published reading.
type ReadingJSON struct {
	Time         string  `json:"time"`
	Type         string  `json:"type"`
	ID           uint8   `json:"id"`
	Channel      int     `json:"channel"`
	BatteryOK    bool    `json:"battery_ok"`
	TemperatureC float64 `json:"temperature_C"`
	Humidity     uint8   `json:"humidity"`
	Repeats      int     `json:"repeats"`
	Raw          string  `json:"raw"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of reconciler counts.
type CountsJSON struct {
	Candidates    int `json:"candidates"`
	Confirmed     int `json:"confirmed"`
	LowConfidence int `json:"low_confidence"`
	Suppressed    int `json:"suppressed"`
	Duplicates    int `json:"duplicates"`
}

// DecoderJSON is the JSON representation of capture counters.
type DecoderJSON struct {
	Edges     uint64            `json:"edges"`
	Preambles uint64            `json:"preambles"`
	Payloads  uint64            `json:"payloads"`
	Dropped   uint64            `json:"dropped"`
	Rejected  uint64            `json:"rejected"`
	Errors    map[string]uint64 `json:"errors"`
}

// SinkJSON reports deliveries to a secondary sink.
type SinkJSON struct {
	Sent   uint64 `json:"sent"`
	Failed uint64 `json:"failed"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Source            string `json:"source"`
	TickRate          uint64 `json:"tick_rate"`
	Threshold         int    `json:"threshold"`
	WindowMs          int64  `json:"window_ms"`
	IdleTimeoutMs     int64  `json:"idle_timeout_ms"`
	MinIntervalMs     int64  `json:"min_interval_ms"`
	Fallback          string `json:"fallback"`
	SignedTemperature bool   `json:"signed_temperature"`
	HeartbeatMs       int64  `json:"heartbeat_ms"`
	StaleAfterMs      int64  `json:"stale_after_ms"`
	Broker            string `json:"broker"`
	Topic             string `json:"topic"`
	TelegrafURL       string `json:"telegraf_url,omitempty"`
	HTTPPort          string `json:"http_port"`
	WSBroker          string `json:"ws_broker,omitempty"`
}

func buildReading(ev *logic.Event) *ReadingJSON {
	if ev == nil {
		return nil
	}
	r := ev.Reading
	return &ReadingJSON{
		Time:         ev.Timestamp.UTC().Format(time.RFC3339),
		Type:         string(ev.Type),
		ID:           r.ID,
		Channel:      r.DisplayChannel(),
		BatteryOK:    r.BatteryOK,
		TemperatureC: r.TemperatureC(),
		Humidity:     r.Humidity,
		Repeats:      ev.Repeats,
		Raw:          r.Raw.Format(nexus.PayloadBits),
	}
}

func buildDecoder(snap Snapshot) DecoderJSON {
	errs := make(map[string]uint64, ook.NumReasons)
	for i, n := range snap.Decoder.Errors {
		errs[ook.Reason(i).String()] = n
	}
	return DecoderJSON{
		Edges:     snap.Decoder.Edges,
		Preambles: snap.Decoder.Preambles,
		Payloads:  snap.Decoder.Payloads,
		Dropped:   snap.Decoder.Dropped,
		Rejected:  snap.Rejected,
		Errors:    errs,
	}
}

func buildSink(s *SinkStats) *SinkJSON {
	if s == nil {
		return nil
	}
	return &SinkJSON{Sent: s.Sent, Failed: s.Failed}
}

func buildInner(snap Snapshot) StatusInner {
	c := snap.Config
	return StatusInner{
		Ready:         snap.Ready(),
		Listening:     snap.Listening,
		LastReading:   buildReading(snap.LastReading),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: c.Broker},
		Counts: CountsJSON{
			Candidates:    snap.Counts.Candidates,
			Confirmed:     snap.Counts.Confirmed,
			LowConfidence: snap.Counts.LowConfidence,
			Suppressed:    snap.Counts.Suppressed,
			Duplicates:    snap.Counts.Duplicates,
		},
		Decoder:  buildDecoder(snap),
		Telegraf: buildSink(snap.Telegraf),
		Config: ConfigJSON{
			Source:            c.Source,
			TickRate:          c.TickRate,
			Threshold:         c.Threshold,
			WindowMs:          c.WindowMs,
			IdleTimeoutMs:     c.IdleTimeoutMs,
			MinIntervalMs:     c.MinIntervalMs,
			Fallback:          c.Fallback,
			SignedTemperature: c.SignedTemperature,
			HeartbeatMs:       c.HeartbeatMs,
			StaleAfterMs:      c.StaleAfterMs,
			Broker:            c.Broker,
			Topic:             c.Topic,
			TelegrafURL:       c.TelegrafURL,
			HTTPPort:          c.HTTPPort,
			WSBroker:          c.WSBroker,
		},
	}
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
