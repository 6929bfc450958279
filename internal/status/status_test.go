package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/nexus-sensor/internal/capture"
	"github.com/sweeney/nexus-sensor/internal/logic"
	"github.com/sweeney/nexus-sensor/internal/nexus"
	"github.com/sweeney/nexus-sensor/internal/ook"
)

var testStart = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func testEvent() logic.Event {
	r := nexus.Reading{ID: 174, BatteryOK: true, Channel: 1, TemperatureDeci: 123, Unknown: 0xF, Humidity: 91}
	r.Raw = nexus.Encode(r)
	return logic.Event{
		Timestamp: testStart.Add(10 * time.Minute),
		Type:      logic.EventReading,
		Reading:   r,
		Repeats:   3,
	}
}

func TestNewTracker(t *testing.T) {
	cfg := Config{Source: "simulate", Threshold: 3, Broker: "tcp://localhost:1883", HTTPPort: ":80"}
	tr := NewTracker(testStart, cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(testStart) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, testStart)
	}
	if snap.Config.Threshold != 3 {
		t.Errorf("Config.Threshold: got %d, want 3", snap.Config.Threshold)
	}
	if snap.Config.HTTPPort != ":80" {
		t.Errorf("Config.HTTPPort: got %q, want %q", snap.Config.HTTPPort, ":80")
	}
	if snap.Ready() {
		t.Error("expected Ready=false initially")
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
}

func TestUpdateAndSnapshot(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	dec := capture.Counters{Edges: 1000, Payloads: 9}
	dec.Errors[ook.ReasonTimingNoise] = 4
	tr.Update(true, logic.EventCounts{Candidates: 9, Confirmed: 3}, dec, 2)

	snap := tr.Snapshot()
	if !snap.Listening {
		t.Error("expected Listening=true")
	}
	if snap.Counts.Confirmed != 3 {
		t.Errorf("Counts.Confirmed: got %d, want 3", snap.Counts.Confirmed)
	}
	if snap.Decoder.Errors[ook.ReasonTimingNoise] != 4 {
		t.Errorf("Decoder timing noise: got %d, want 4", snap.Decoder.Errors[ook.ReasonTimingNoise])
	}
	if snap.Rejected != 2 {
		t.Errorf("Rejected: got %d, want 2", snap.Rejected)
	}
}

func TestSetLastReading(t *testing.T) {
	tr := NewTracker(testStart, Config{})
	tr.SetLastReading(testEvent())

	snap := tr.Snapshot()
	if !snap.Ready() {
		t.Fatal("expected Ready=true after a reading")
	}
	if snap.LastReading.Reading.ID != 174 {
		t.Errorf("LastReading.ID: got %d, want 174", snap.LastReading.Reading.ID)
	}
}

func TestSetMQTTConnected(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.SetMQTTConnected(true)
	if !tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}

	tr.SetMQTTConnected(false)
	if tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=false")
	}
}

func TestSetTelegraf(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	if tr.Snapshot().Telegraf != nil {
		t.Error("expected nil Telegraf while the sink is disabled")
	}

	tr.SetTelegraf(SinkStats{Sent: 7, Failed: 2})

	snap := tr.Snapshot()
	if snap.Telegraf == nil {
		t.Fatal("expected non-nil Telegraf")
	}
	if snap.Telegraf.Sent != 7 || snap.Telegraf.Failed != 2 {
		t.Errorf("Telegraf: got %+v, want sent=7 failed=2", *snap.Telegraf)
	}

	snap.Telegraf.Sent = 99
	if got := tr.Snapshot().Telegraf.Sent; got != 7 {
		t.Errorf("snapshot shares Telegraf with tracker: got %d", got)
	}
}

func TestFormatJSONWithTelegraf(t *testing.T) {
	snap := Snapshot{
		StartTime: testStart,
		Now:       testStart.Add(time.Second),
		Telegraf:  &SinkStats{Sent: 12, Failed: 3},
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(FormatJSON(snap), &raw); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	status := raw["status"].(map[string]interface{})
	tg, ok := status["telegraf"].(map[string]interface{})
	if !ok {
		t.Fatalf("telegraf missing: %v", status)
	}
	if tg["sent"] != float64(12) || tg["failed"] != float64(3) {
		t.Errorf("telegraf: got %v, want sent=12 failed=3", tg)
	}
}

func TestSetNetwork(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	if tr.Snapshot().Network != nil {
		t.Error("expected nil Network initially")
	}

	tr.SetNetwork(&NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected"})

	snap := tr.Snapshot()
	if snap.Network == nil {
		t.Fatal("expected non-nil Network")
	}
	if snap.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want %q", snap.Network.IP, "192.168.1.42")
	}
}

func TestSnapshotUptime(t *testing.T) {
	snap := Snapshot{
		StartTime: testStart,
		Now:       testStart.Add(15 * time.Minute),
	}

	if snap.Uptime() != 15*time.Minute {
		t.Errorf("Uptime: got %v, want 15m", snap.Uptime())
	}
}

func TestSnapshotNowIsSet(t *testing.T) {
	tr := NewTracker(testStart, Config{})

	before := time.Now()
	snap := tr.Snapshot()
	after := time.Now()

	if snap.Now.Before(before) || snap.Now.After(after) {
		t.Errorf("Now (%v) not between %v and %v", snap.Now, before, after)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.SetLastReading(testEvent())
	tr.Update(true, logic.EventCounts{Confirmed: 1}, capture.Counters{}, 0)

	snap1 := tr.Snapshot()
	snap1.LastReading.Repeats = 99

	next := testEvent()
	next.Reading.Humidity = 50
	tr.SetLastReading(next)
	tr.Update(false, logic.EventCounts{Confirmed: 2}, capture.Counters{}, 0)

	if snap1.Counts.Confirmed != 1 || !snap1.Listening {
		t.Error("snapshot should be a copy; counts were modified")
	}
	if snap1.LastReading.Reading.Humidity != 91 {
		t.Error("snapshot should be a copy; last reading was modified")
	}
	if tr.Snapshot().LastReading.Repeats != 3 {
		t.Error("mutating a snapshot must not reach the tracker")
	}
}

func TestFormatJSON(t *testing.T) {
	ev := testEvent()
	dec := capture.Counters{Edges: 500, Preambles: 12, Payloads: 10, Dropped: 1}
	dec.Errors[ook.ReasonPrematureEnd] = 2
	snap := Snapshot{
		LastReading:   &ev,
		Counts:        logic.EventCounts{Candidates: 10, Confirmed: 3, Duplicates: 1},
		Decoder:       dec,
		Rejected:      1,
		StartTime:     testStart,
		Now:           testStart.Add(15 * time.Minute),
		MQTTConnected: true,
		Config:        Config{Threshold: 3, WindowMs: 3000, Fallback: "emit", Broker: "tcp://localhost:1883", HTTPPort: ":80"},
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	s := parsed.Status
	if !s.Ready {
		t.Error("expected Ready=true")
	}
	if s.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", s.UptimeSeconds)
	}
	if !s.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if s.LastReading == nil {
		t.Fatal("expected last_reading")
	}
	if s.LastReading.Channel != 2 || s.LastReading.TemperatureC != 12.3 || s.LastReading.Humidity != 91 {
		t.Errorf("unexpected last reading: %+v", s.LastReading)
	}
	if s.LastReading.Raw != "1010 1110 1001 0000 0111 1011 1111 0101 1011" {
		t.Errorf("Raw: got %q", s.LastReading.Raw)
	}
	if s.Counts.Confirmed != 3 || s.Counts.Duplicates != 1 {
		t.Errorf("unexpected counts: %+v", s.Counts)
	}
	if s.Decoder.Errors["premature_end"] != 2 || s.Decoder.Errors["timing_noise"] != 0 {
		t.Errorf("unexpected decoder errors: %v", s.Decoder.Errors)
	}
	if len(s.Decoder.Errors) != ook.NumReasons {
		t.Errorf("expected every reason reported, got %v", s.Decoder.Errors)
	}
	if s.Decoder.Rejected != 1 || s.Decoder.Dropped != 1 {
		t.Errorf("unexpected decoder: %+v", s.Decoder)
	}
	if s.Config.WindowMs != 3000 || s.Config.Fallback != "emit" {
		t.Errorf("unexpected config: %+v", s.Config)
	}
	// Event and Reason should be omitted
	if s.Event != "" || s.Reason != "" {
		t.Errorf("expected empty event/reason for web format, got %q/%q", s.Event, s.Reason)
	}
}

func TestFormatJSONBeforeFirstReading(t *testing.T) {
	snap := Snapshot{
		StartTime: testStart,
		Now:       testStart.Add(time.Second),
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(FormatJSON(snap), &raw); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	status := raw["status"].(map[string]interface{})
	if _, exists := status["last_reading"]; exists {
		t.Error("last_reading should be omitted before the first reading")
	}
	if _, exists := status["telegraf"]; exists {
		t.Error("telegraf should be omitted while the sink is disabled")
	}
	if status["ready"] != false {
		t.Errorf("ready: got %v, want false", status["ready"])
	}
}

func TestFormatStatusEvent(t *testing.T) {
	snap := Snapshot{
		Counts:    logic.EventCounts{Confirmed: 3},
		StartTime: testStart,
		Now:       testStart.Add(15 * time.Minute),
		Config:    Config{Broker: "tcp://localhost:1883"},
	}

	data := FormatStatusEvent(snap, "HEARTBEAT", "")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Event != "HEARTBEAT" {
		t.Errorf("Event: got %q, want HEARTBEAT", parsed.Status.Event)
	}
	if parsed.Status.Reason != "" {
		t.Errorf("Reason: got %q, want empty", parsed.Status.Reason)
	}
	if parsed.Status.Counts.Confirmed != 3 {
		t.Errorf("Counts.Confirmed: got %d, want 3", parsed.Status.Counts.Confirmed)
	}
}

func TestFormatStatusEventShutdown(t *testing.T) {
	snap := Snapshot{
		StartTime: testStart,
		Now:       testStart.Add(30 * time.Minute),
		Config:    Config{Broker: "tcp://localhost:1883"},
	}

	data := FormatStatusEvent(snap, "SHUTDOWN", "SIGTERM")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Event != "SHUTDOWN" {
		t.Errorf("Event: got %q, want SHUTDOWN", parsed.Status.Event)
	}
	if parsed.Status.Reason != "SIGTERM" {
		t.Errorf("Reason: got %q, want SIGTERM", parsed.Status.Reason)
	}
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	snap := Snapshot{
		StartTime: testStart,
		Now:       testStart.Add(time.Second),
	}

	data := FormatStatusEvent(snap, "STARTUP", "")

	var raw map[string]interface{}
	json.Unmarshal(data, &raw)
	status := raw["status"].(map[string]interface{})
	if _, exists := status["reason"]; exists {
		t.Error("reason should be omitted when empty")
	}
	if status["event"] != "STARTUP" {
		t.Errorf("event: got %v, want STARTUP", status["event"])
	}
}

func TestFormatJSONWithNetwork(t *testing.T) {
	snap := Snapshot{
		StartTime: testStart,
		Now:       testStart.Add(time.Minute),
		Network:   &NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected", SSID: "MyNet"},
		Config:    Config{Broker: "tcp://localhost:1883"},
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	json.Unmarshal(data, &parsed)

	if parsed.Status.Network == nil {
		t.Fatal("expected Network in JSON")
	}
	if parsed.Status.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want 192.168.1.42", parsed.Status.Network.IP)
	}
	if parsed.Status.Network.SSID != "MyNet" {
		t.Errorf("Network.SSID: got %q, want MyNet", parsed.Status.Network.SSID)
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup

	// Writer
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.Update(i%2 == 0, logic.EventCounts{Candidates: i}, capture.Counters{Edges: uint64(i)}, 0)
			tr.SetLastReading(testEvent())
			tr.SetMQTTConnected(i%2 == 0)
			tr.SetNetwork(&NetworkInfo{IP: "1.2.3.4"})
		}
	}()

	// Reader
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = snap.Uptime()
			_ = FormatJSON(snap)
		}
	}()

	wg.Wait()
}
