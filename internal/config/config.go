// Package config holds the daemon configuration: built-in defaults, an
// optional TOML file and validation.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"

	"github.com/sweeney/nexus-sensor/internal/capture"
	"github.com/sweeney/nexus-sensor/internal/gpio"
	"github.com/sweeney/nexus-sensor/internal/logic"
	"github.com/sweeney/nexus-sensor/internal/mqtt"
	"github.com/sweeney/nexus-sensor/internal/nexus"
	"github.com/sweeney/nexus-sensor/internal/ook"
)

// Capture sources.
const (
	SourceGPIO     = "gpio"
	SourceSerial   = "serial"
	SourceSimulate = "simulate"
)

// SimulatedPayload is the payload replayed by the simulate source: id 174,
// battery ok, channel 2, 12.3C, 91%.
const SimulatedPayload = 0xAE907BF5B

// GPIOConfig selects the receiver's data line for the gpio source.
type GPIOConfig struct {
	Chip      string `toml:"chip"`
	Offset    int    `toml:"offset"`
	ActiveLow bool   `toml:"active_low"`
}

// SerialConfig locates the pulse-timing bridge for the serial source.
type SerialConfig struct {
	Path string              `toml:"path"`
	Port capture.PortOptions `toml:"port"`
}

// SimulateConfig drives the simulate source. Durations decode from strings.
type SimulateConfig struct {
	Payload  uint64
	Repeats  int
	Interval time.Duration
}

// TelegrafConfig enables the Telegraf HTTP sink when URL is set.
type TelegrafConfig struct {
	URL       string `toml:"url"`
	QueueSize int    `toml:"queue_size"`
}

// Config is the complete daemon configuration.
type Config struct {
	Source   string
	LogLevel string

	GPIO     GPIOConfig
	Serial   SerialConfig
	Simulate SimulateConfig

	Timing       ook.Timing
	PayloadWidth int
	MaxFrame     time.Duration // zero disables the frame duration cap
	QueueSize    int

	Reconciler logic.Config
	Decode     nexus.Options
	Filter     nexus.Filter

	MQTT     mqtt.Options
	Telegraf TelegrafConfig // empty URL disables

	HTTPAddr   string // empty disables
	WSBroker   string // "=broker", "off" or a ws:// URL
	Heartbeat  time.Duration
	StaleAfter time.Duration
}

// Default returns the configuration used when no file or flag overrides it.
func Default() Config {
	return Config{
		Source:   SourceGPIO,
		LogLevel: "info",
		GPIO: GPIOConfig{
			Chip:   gpio.DefaultChip,
			Offset: gpio.DefaultOffset,
		},
		Serial: SerialConfig{
			Path: "/dev/ttyUSB0",
			Port: capture.PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"},
		},
		Simulate: SimulateConfig{
			Payload:  SimulatedPayload,
			Repeats:  10,
			Interval: 30 * time.Second,
		},
		Timing:       ook.NexusTiming(),
		PayloadWidth: nexus.PayloadBits,
		MaxFrame:     150 * time.Millisecond,
		QueueSize:    capture.DefaultQueueSize,
		Reconciler: logic.Config{
			Threshold:   3,
			Window:      2 * time.Second,
			IdleTimeout: 500 * time.Millisecond,
			MinInterval: 5 * time.Second,
			Fallback:    logic.FallbackEmit,
		},
		MQTT: mqtt.Options{
			Broker:         "tcp://192.168.1.200:1883",
			ClientIDPrefix: "nexus-sensor",
			Topic:          mqtt.DefaultTopic,
			SystemTopic:    mqtt.DefaultSystemTopic,
			BufferSize:     mqtt.DefaultBufferSize,
		},
		Telegraf:   TelegrafConfig{QueueSize: 32},
		HTTPAddr:   ":80",
		WSBroker:   "=broker",
		Heartbeat:  15 * time.Minute,
		StaleAfter: 6 * time.Minute,
	}
}

type simulateFile struct {
	Payload  string `toml:"payload"`
	Repeats  int    `toml:"repeats"`
	Interval string `toml:"interval"`
}

type reconcilerFile struct {
	Threshold   int    `toml:"threshold"`
	Window      string `toml:"window"`
	IdleTimeout string `toml:"idle_timeout"`
	MinInterval string `toml:"min_interval"`
	Fallback    string `toml:"fallback"`
}

type mqttFile struct {
	Broker         string `toml:"broker"`
	ClientIDPrefix string `toml:"client_id_prefix"`
	Topic          string `toml:"topic"`
	SystemTopic    string `toml:"system_topic"`
	BufferSize     int    `toml:"buffer_size"`
}

// fileConfig mirrors the TOML layout. Tables whose Go types carry toml tags
// decode straight onto the defaults; durations are strings.
type fileConfig struct {
	Source       string `toml:"source"`
	LogLevel     string `toml:"log_level"`
	PayloadWidth int    `toml:"payload_width"`
	MaxFrame     string `toml:"max_frame"`
	QueueSize    int    `toml:"queue_size"`
	HTTPAddr     string `toml:"http_addr"`
	WSBroker     string `toml:"ws_broker"`
	Heartbeat    string `toml:"heartbeat"`
	StaleAfter   string `toml:"stale_after"`

	GPIO       GPIOConfig     `toml:"gpio"`
	Serial     SerialConfig   `toml:"serial"`
	Simulate   simulateFile   `toml:"simulate"`
	Timing     ook.Timing     `toml:"timing"`
	Reconciler reconcilerFile `toml:"reconciler"`
	Decode     nexus.Options  `toml:"decode"`
	Filter     nexus.Filter   `toml:"filter"`
	MQTT       mqttFile       `toml:"mqtt"`
	Telegraf   TelegrafConfig `toml:"telegraf"`
}

// Load reads a TOML file over the defaults. Keys absent from the file keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()

	raw := fileConfig{
		GPIO:     cfg.GPIO,
		Serial:   cfg.Serial,
		Timing:   cfg.Timing,
		Decode:   cfg.Decode,
		Filter:   cfg.Filter,
		Telegraf: cfg.Telegraf,
	}
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		log.Warn("config: unknown keys ignored", "path", path, "keys", undecoded)
	}

	cfg.GPIO = raw.GPIO
	cfg.Serial = raw.Serial
	cfg.Timing = raw.Timing
	cfg.Decode = raw.Decode
	cfg.Filter = raw.Filter
	cfg.Telegraf = raw.Telegraf

	if meta.IsDefined("source") {
		cfg.Source = strings.ToLower(strings.TrimSpace(raw.Source))
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("payload_width") {
		cfg.PayloadWidth = raw.PayloadWidth
	}
	if meta.IsDefined("queue_size") {
		cfg.QueueSize = raw.QueueSize
	}
	if meta.IsDefined("http_addr") {
		cfg.HTTPAddr = strings.TrimSpace(raw.HTTPAddr)
	}
	if meta.IsDefined("ws_broker") {
		cfg.WSBroker = strings.TrimSpace(raw.WSBroker)
	}

	durations := []struct {
		key []string
		val string
		dst *time.Duration
	}{
		{[]string{"max_frame"}, raw.MaxFrame, &cfg.MaxFrame},
		{[]string{"heartbeat"}, raw.Heartbeat, &cfg.Heartbeat},
		{[]string{"stale_after"}, raw.StaleAfter, &cfg.StaleAfter},
		{[]string{"simulate", "interval"}, raw.Simulate.Interval, &cfg.Simulate.Interval},
		{[]string{"reconciler", "window"}, raw.Reconciler.Window, &cfg.Reconciler.Window},
		{[]string{"reconciler", "idle_timeout"}, raw.Reconciler.IdleTimeout, &cfg.Reconciler.IdleTimeout},
		{[]string{"reconciler", "min_interval"}, raw.Reconciler.MinInterval, &cfg.Reconciler.MinInterval},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key...) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.val))
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", strings.Join(d.key, "."), err)
		}
		*d.dst = v
	}

	if meta.IsDefined("simulate", "payload") {
		p, err := strconv.ParseUint(strings.TrimSpace(raw.Simulate.Payload), 0, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse simulate.payload: %w", err)
		}
		cfg.Simulate.Payload = p
	}
	if meta.IsDefined("simulate", "repeats") {
		cfg.Simulate.Repeats = raw.Simulate.Repeats
	}

	if meta.IsDefined("reconciler", "threshold") {
		cfg.Reconciler.Threshold = raw.Reconciler.Threshold
	}
	if meta.IsDefined("reconciler", "fallback") {
		cfg.Reconciler.Fallback = logic.FallbackPolicy(strings.ToLower(strings.TrimSpace(raw.Reconciler.Fallback)))
	}

	if meta.IsDefined("mqtt", "broker") {
		cfg.MQTT.Broker = strings.TrimSpace(raw.MQTT.Broker)
	}
	if meta.IsDefined("mqtt", "client_id_prefix") {
		cfg.MQTT.ClientIDPrefix = strings.TrimSpace(raw.MQTT.ClientIDPrefix)
	}
	if meta.IsDefined("mqtt", "topic") {
		cfg.MQTT.Topic = strings.TrimSpace(raw.MQTT.Topic)
	}
	if meta.IsDefined("mqtt", "system_topic") {
		cfg.MQTT.SystemTopic = strings.TrimSpace(raw.MQTT.SystemTopic)
	}
	if meta.IsDefined("mqtt", "buffer_size") {
		cfg.MQTT.BufferSize = raw.MQTT.BufferSize
	}

	return cfg, nil
}

// Validate reports the first problem that would stop the daemon from
// starting.
func (c Config) Validate() error {
	switch c.Source {
	case SourceGPIO:
		if c.GPIO.Chip == "" {
			return errors.New("gpio.chip must be set")
		}
		if c.GPIO.Offset < 0 {
			return fmt.Errorf("gpio.offset must not be negative, got %d", c.GPIO.Offset)
		}
	case SourceSerial:
		if c.Serial.Path == "" {
			return errors.New("serial.path must be set")
		}
		if _, err := c.Serial.Port.Normalize(); err != nil {
			return fmt.Errorf("serial.port: %w", err)
		}
	case SourceSimulate:
		if c.Simulate.Repeats < 1 {
			return fmt.Errorf("simulate.repeats must be at least 1, got %d", c.Simulate.Repeats)
		}
		if c.Simulate.Interval <= 0 {
			return fmt.Errorf("simulate.interval must be positive, got %v", c.Simulate.Interval)
		}
	default:
		return fmt.Errorf("unknown source %q (want %s, %s or %s)", c.Source, SourceGPIO, SourceSerial, SourceSimulate)
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.PayloadWidth != nexus.PayloadBits {
		return fmt.Errorf("payload_width must be %d for Nexus-TH, got %d", nexus.PayloadBits, c.PayloadWidth)
	}
	if err := c.Timing.Validate(); err != nil {
		return fmt.Errorf("timing: %w", err)
	}
	if c.MaxFrame < 0 {
		return fmt.Errorf("max_frame must not be negative, got %v", c.MaxFrame)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", c.QueueSize)
	}
	if err := c.Reconciler.Validate(); err != nil {
		return fmt.Errorf("reconciler: %w", err)
	}
	if err := c.Filter.Validate(); err != nil {
		return fmt.Errorf("filter: %w", err)
	}
	if c.MQTT.Broker == "" {
		return errors.New("mqtt.broker must be set")
	}
	if c.Heartbeat < 0 {
		return fmt.Errorf("heartbeat must not be negative, got %v", c.Heartbeat)
	}
	if c.StaleAfter < 0 {
		return fmt.Errorf("stale_after must not be negative, got %v", c.StaleAfter)
	}
	return nil
}

// SourceName describes the capture source for status output.
func (c Config) SourceName() string {
	switch c.Source {
	case SourceGPIO:
		return fmt.Sprintf("gpio:%s/%d", c.GPIO.Chip, c.GPIO.Offset)
	case SourceSerial:
		return "serial:" + c.Serial.Path
	default:
		return c.Source
	}
}

// MaxFrameTicks converts MaxFrame to ticks of a source running at tickRate.
func (c Config) MaxFrameTicks(tickRate uint64) uint64 {
	return uint64(c.MaxFrame.Microseconds()) * tickRate / 1_000_000
}
