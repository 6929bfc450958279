package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/nexus-sensor/internal/logic"
	"github.com/sweeney/nexus-sensor/internal/nexus"
	"github.com/sweeney/nexus-sensor/internal/ook"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nexus-sensor.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestDefaultMatchesNexusProtocol(t *testing.T) {
	cfg := Default()
	assert.Equal(t, nexus.PayloadBits, cfg.PayloadWidth)
	assert.Equal(t, ook.NexusTiming(), cfg.Timing)
	assert.Equal(t, 3, cfg.Reconciler.Threshold)
	assert.Equal(t, logic.FallbackEmit, cfg.Reconciler.Fallback)
	assert.Equal(t, 5*time.Second, cfg.Reconciler.MinInterval)
	assert.Equal(t, 6*time.Minute, cfg.StaleAfter)
}

func TestLoadEmptyFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	path := writeConfig(t, `
source = "serial"
log_level = "debug"
max_frame = "200ms"
heartbeat = "5m"
http_addr = ""

[serial]
path = "/dev/ttyACM0"

[serial.port]
baud_rate = 230400

[timing]
zero_max_us = 1100

[reconciler]
threshold = 2
window = "3s"
fallback = "suppress"

[decode]
signed_temperature = true

[filter]
channel = 2
ids = [174, 12]
min_temperature_c = -20.0
max_temperature_c = 60.0

[mqtt]
broker = "tcp://10.0.0.2:1883"
topic = "home/garden"

[telegraf]
url = "http://localhost:8186/telegraf"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, SourceSerial, cfg.Source)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 200*time.Millisecond, cfg.MaxFrame)
	assert.Equal(t, 5*time.Minute, cfg.Heartbeat)
	assert.Equal(t, "", cfg.HTTPAddr)

	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Path)
	assert.Equal(t, 230400, cfg.Serial.Port.BaudRate)
	assert.Equal(t, 8, cfg.Serial.Port.DataBits, "unset port keys keep defaults")

	assert.Equal(t, uint32(1100), cfg.Timing.ZeroMax)
	assert.Equal(t, uint32(800), cfg.Timing.ZeroMin, "unset timing keys keep defaults")

	assert.Equal(t, 2, cfg.Reconciler.Threshold)
	assert.Equal(t, 3*time.Second, cfg.Reconciler.Window)
	assert.Equal(t, 500*time.Millisecond, cfg.Reconciler.IdleTimeout)
	assert.Equal(t, logic.FallbackSuppress, cfg.Reconciler.Fallback)

	assert.True(t, cfg.Decode.SignedTemperature)
	assert.Equal(t, nexus.Filter{Channel: 2, IDs: []uint8{174, 12}, MinTemperatureC: -20, MaxTemperatureC: 60}, cfg.Filter)

	assert.Equal(t, "tcp://10.0.0.2:1883", cfg.MQTT.Broker)
	assert.Equal(t, "home/garden", cfg.MQTT.Topic)
	assert.Equal(t, "sensors/nexus-sensor/system", cfg.MQTT.SystemTopic)

	assert.Equal(t, "http://localhost:8186/telegraf", cfg.Telegraf.URL)
	assert.Equal(t, 32, cfg.Telegraf.QueueSize)
}

func TestLoadSimulatePayload(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
source = "simulate"

[simulate]
payload = "0x0AE907BF5"
repeats = 4
interval = "1s"
`))
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0AE907BF5), cfg.Simulate.Payload)
	assert.Equal(t, 4, cfg.Simulate.Repeats)
	assert.Equal(t, time.Second, cfg.Simulate.Interval)
	assert.NoError(t, cfg.Validate())
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad syntax", `source = `},
		{"bad duration", "[reconciler]\nwindow = \"soon\""},
		{"bad payload", "[simulate]\npayload = \"xyz\""},
		{"wrong type", `queue_size = "many"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown source", func(c *Config) { c.Source = "sdr" }},
		{"empty chip", func(c *Config) { c.GPIO.Chip = "" }},
		{"negative offset", func(c *Config) { c.GPIO.Offset = -1 }},
		{"serial without path", func(c *Config) { c.Source = SourceSerial; c.Serial.Path = "" }},
		{"serial bad parity", func(c *Config) { c.Source = SourceSerial; c.Serial.Port.Parity = "X" }},
		{"simulate no repeats", func(c *Config) { c.Source = SourceSimulate; c.Simulate.Repeats = 0 }},
		{"simulate no interval", func(c *Config) { c.Source = SourceSimulate; c.Simulate.Interval = 0 }},
		{"bad log level", func(c *Config) { c.LogLevel = "chatty" }},
		{"wrong width", func(c *Config) { c.PayloadWidth = 40 }},
		{"overlapping timing", func(c *Config) { c.Timing.ZeroMax = 1700 }},
		{"negative max frame", func(c *Config) { c.MaxFrame = -time.Second }},
		{"zero queue", func(c *Config) { c.QueueSize = 0 }},
		{"zero threshold", func(c *Config) { c.Reconciler.Threshold = 0 }},
		{"bad fallback", func(c *Config) { c.Reconciler.Fallback = "drop" }},
		{"bad filter channel", func(c *Config) { c.Filter.Channel = 5 }},
		{"no broker", func(c *Config) { c.MQTT.Broker = "" }},
		{"negative heartbeat", func(c *Config) { c.Heartbeat = -time.Second }},
		{"negative stale", func(c *Config) { c.StaleAfter = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSourceName(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "gpio:gpiochip0/27", cfg.SourceName())

	cfg.Source = SourceSerial
	assert.Equal(t, "serial:/dev/ttyUSB0", cfg.SourceName())

	cfg.Source = SourceSimulate
	assert.Equal(t, "simulate", cfg.SourceName())
}

func TestMaxFrameTicks(t *testing.T) {
	cfg := Default()
	assert.Equal(t, uint64(150_000), cfg.MaxFrameTicks(1_000_000))
	assert.Equal(t, uint64(150_000_000), cfg.MaxFrameTicks(1_000_000_000))

	cfg.MaxFrame = 0
	assert.Equal(t, uint64(0), cfg.MaxFrameTicks(1_000_000))
}
