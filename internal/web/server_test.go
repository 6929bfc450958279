package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/nexus-sensor/internal/capture"
	"github.com/sweeney/nexus-sensor/internal/logic"
	"github.com/sweeney/nexus-sensor/internal/nexus"
	"github.com/sweeney/nexus-sensor/internal/status"
)

func newTestServer(t *testing.T, metrics http.Handler) (*httptest.Server, *status.Tracker) {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := status.Config{
		Source:      "simulate",
		Threshold:   3,
		WindowMs:    3000,
		Fallback:    "emit",
		HeartbeatMs: 900000,
		Broker:      "tcp://192.168.1.200:1883",
		Topic:       "sensors/Nexus-TH",
		HTTPPort:    ":80",
	}
	tr := status.NewTracker(start, cfg)
	srv := New(":0", tr, metrics)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, tr
}

func readingEvent() logic.Event {
	return logic.Event{
		Timestamp: time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC),
		Type:      logic.EventReading,
		Reading:   nexus.Reading{ID: 174, BatteryOK: true, Channel: 1, TemperatureDeci: 123, Humidity: 91},
		Repeats:   3,
	}
}

func getJSON(t *testing.T, url string) status.StatusJSON {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return sj
}

func TestJSONEndpoint(t *testing.T) {
	ts, tr := newTestServer(t, nil)
	tr.SetLastReading(readingEvent())
	tr.Update(false, logic.EventCounts{Candidates: 10, Confirmed: 1}, capture.Counters{Payloads: 10}, 0)
	tr.SetMQTTConnected(true)

	resp, err := http.Get(ts.URL + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}

	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}

	if !sj.Status.Ready {
		t.Error("expected Ready=true")
	}
	if sj.Status.LastReading == nil || sj.Status.LastReading.ID != 174 {
		t.Fatalf("LastReading: got %+v", sj.Status.LastReading)
	}
	if !sj.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if sj.Status.MQTT.Broker != "tcp://192.168.1.200:1883" {
		t.Errorf("MQTT.Broker: got %q, want tcp://192.168.1.200:1883", sj.Status.MQTT.Broker)
	}
	if sj.Status.Counts.Confirmed != 1 {
		t.Errorf("Counts.Confirmed: got %d, want 1", sj.Status.Counts.Confirmed)
	}
	if sj.Status.Decoder.Payloads != 10 {
		t.Errorf("Decoder.Payloads: got %d, want 10", sj.Status.Decoder.Payloads)
	}
	if sj.Status.Config.Threshold != 3 {
		t.Errorf("Config.Threshold: got %d, want 3", sj.Status.Config.Threshold)
	}
}

func TestJSONBeforeFirstReading(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	sj := getJSON(t, ts.URL+"/index.json")
	if sj.Status.Ready {
		t.Error("expected Ready=false before first reading")
	}
	if sj.Status.LastReading != nil {
		t.Errorf("expected no last reading, got %+v", sj.Status.LastReading)
	}
}

func TestJSONNetworkInfo(t *testing.T) {
	ts, tr := newTestServer(t, nil)
	tr.SetNetwork(&status.NetworkInfo{
		Type:   "wifi",
		IP:     "192.168.1.42",
		Status: "connected",
		SSID:   "MyNet",
	})

	sj := getJSON(t, ts.URL+"/index.json")
	if sj.Status.Network == nil {
		t.Fatal("expected Network in JSON")
	}
	if sj.Status.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want 192.168.1.42", sj.Status.Network.IP)
	}
}

func TestHTMLEndpointRoot(t *testing.T) {
	ts, tr := newTestServer(t, nil)
	tr.SetLastReading(readingEvent())

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type: got %q, want text/html", ct)
	}

	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{"12.3 &deg;C", "91 %", "id 174, channel 2", "timing_noise"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("page missing %q", want)
		}
	}
}

func TestHTMLEndpointNoReading(t *testing.T) {
	ts, tr := newTestServer(t, nil)
	tr.Update(true, logic.EventCounts{Candidates: 1}, capture.Counters{}, 0)

	resp, err := http.Get(ts.URL + "/index.html")
	if err != nil {
		t.Fatalf("GET /index.html: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "No reading yet (receiving)") {
		t.Error("expected placeholder while receiving")
	}
}

func TestHTMLLiveScriptOnlyWithWSBroker(t *testing.T) {
	tr := status.NewTracker(time.Now(), status.Config{WSBroker: "ws://192.168.1.200:9001", Topic: "sensors/Nexus-TH"})
	ts := httptest.NewServer(New(":0", tr, nil).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "mqtt.connect") {
		t.Error("expected live update script when a websocket broker is configured")
	}

	plain, _ := newTestServer(t, nil)
	resp2, err := http.Get(plain.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp2.Body.Close()
	body2, _ := io.ReadAll(resp2.Body)
	if strings.Contains(string(body2), "mqtt.connect") {
		t.Error("live update script should be omitted without a websocket broker")
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/nonexistent")
	if err != nil {
		t.Fatalf("GET /nonexistent: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "nexus_up 1\n")
	})
	ts, _ := newTestServer(t, metrics)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "nexus_up 1\n" {
		t.Errorf("unexpected metrics body: %q", body)
	}
}

func TestMetricsDisabled(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestStateChangesReflectedInResponse(t *testing.T) {
	ts, tr := newTestServer(t, nil)

	sj1 := getJSON(t, ts.URL+"/index.json")
	if sj1.Status.Ready {
		t.Error("expected Ready=false initially")
	}

	tr.SetLastReading(readingEvent())
	tr.SetMQTTConnected(true)

	sj2 := getJSON(t, ts.URL+"/index.json")
	if !sj2.Status.Ready {
		t.Error("expected Ready=true after a reading")
	}
	if sj2.Status.LastReading.Humidity != 91 {
		t.Errorf("Humidity: got %d, want 91", sj2.Status.LastReading.Humidity)
	}
	if !sj2.Status.MQTT.Connected {
		t.Error("expected MQTT connected after update")
	}
}
