// Command nexus-sensor decodes Nexus-TH 433 MHz transmissions and publishes
// confirmed readings to MQTT.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/sweeney/nexus-sensor/internal/capture"
	"github.com/sweeney/nexus-sensor/internal/config"
	"github.com/sweeney/nexus-sensor/internal/gpio"
	"github.com/sweeney/nexus-sensor/internal/logic"
	"github.com/sweeney/nexus-sensor/internal/metrics"
	"github.com/sweeney/nexus-sensor/internal/mqtt"
	"github.com/sweeney/nexus-sensor/internal/nexus"
	"github.com/sweeney/nexus-sensor/internal/ook"
	"github.com/sweeney/nexus-sensor/internal/status"
	"github.com/sweeney/nexus-sensor/internal/telegraf"
	"github.com/sweeney/nexus-sensor/internal/web"
)

const (
	// processInterval is how often the processing loop drains the payload
	// queue. A Nexus frame takes roughly 80ms on air.
	processInterval = 50 * time.Millisecond

	// simulateTickRate matches a microsecond capture timer.
	simulateTickRate = 1_000_000

	diagBuffer = 16
)

func main() {
	def := config.Default()

	configPath := flag.String("config", "", "TOML config file (optional)")
	level := flag.String("level", def.LogLevel, "Log level: debug, info, warn, error")
	source := flag.String("source", def.Source, "Edge source: gpio, serial or simulate")
	chip := flag.String("gpio-chip", def.GPIO.Chip, "GPIO chip of the receiver data line")
	offset := flag.Int("gpio-offset", def.GPIO.Offset, "GPIO line offset of the receiver data line")
	activeLow := flag.Bool("gpio-active-low", def.GPIO.ActiveLow, "Receiver output is low while carrier is present")
	serialPath := flag.String("serial", def.Serial.Path, "Serial port of an external capture MCU")
	threshold := flag.Int("threshold", def.Reconciler.Threshold, "Identical decodes needed to confirm a reading")
	window := flag.Duration("window", def.Reconciler.Window, "Duty cycle window measured from the first decode")
	fallback := flag.String("fallback", string(def.Reconciler.Fallback), "Unconfirmed window policy: emit or suppress")
	signed := flag.Bool("signed-temperature", def.Decode.SignedTemperature, "Read temperature as 12 bit two's complement")
	broker := flag.String("broker", def.MQTT.Broker, "MQTT broker address")
	topic := flag.String("topic", def.MQTT.Topic, "MQTT topic for readings")
	telegrafURL := flag.String("telegraf", def.Telegraf.URL, "Telegraf HTTP listener URL (empty to disable)")
	heartbeat := flag.Duration("heartbeat", def.Heartbeat, "Heartbeat interval (0 to disable)")
	httpAddr := flag.String("http", def.HTTPAddr, "HTTP status address (empty to disable)")
	wsBroker := flag.String("ws-broker", def.WSBroker, `MQTT websocket URL for live UI ("=broker" derives from --broker, "off" disables)`)

	flag.Parse()

	cfg := def
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatal("config", "err", err)
		}
	}

	// Flags given on the command line win over the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "level":
			cfg.LogLevel = *level
		case "source":
			cfg.Source = *source
		case "gpio-chip":
			cfg.GPIO.Chip = *chip
		case "gpio-offset":
			cfg.GPIO.Offset = *offset
		case "gpio-active-low":
			cfg.GPIO.ActiveLow = *activeLow
		case "serial":
			cfg.Serial.Path = *serialPath
		case "threshold":
			cfg.Reconciler.Threshold = *threshold
		case "window":
			cfg.Reconciler.Window = *window
		case "fallback":
			cfg.Reconciler.Fallback = logic.FallbackPolicy(*fallback)
		case "signed-temperature":
			cfg.Decode.SignedTemperature = *signed
		case "broker":
			cfg.MQTT.Broker = *broker
		case "topic":
			cfg.MQTT.Topic = *topic
		case "telegraf":
			cfg.Telegraf.URL = *telegrafURL
		case "heartbeat":
			cfg.Heartbeat = *heartbeat
		case "http":
			cfg.HTTPAddr = *httpAddr
		case "ws-broker":
			cfg.WSBroker = *wsBroker
		}
	})

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid config", "err", err)
	}
	lvl, _ := log.ParseLevel(cfg.LogLevel)
	log.SetLevel(lvl)

	if err := run(cfg); err != nil {
		log.Fatal("fatal", "err", err)
	}
}

func openSource(cfg config.Config) (capture.Source, error) {
	switch cfg.Source {
	case config.SourceGPIO:
		s, err := gpio.NewRealSource(cfg.GPIO.Chip, cfg.GPIO.Offset, cfg.GPIO.ActiveLow)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.SourceSerial:
		s, err := capture.NewSerialSource(cfg.Serial.Path, cfg.Serial.Port)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.SourceSimulate:
		return capture.NewSimulatedSource(cfg.Timing, simulateTickRate, ook.RawPayload(cfg.Simulate.Payload),
			cfg.PayloadWidth, cfg.Simulate.Repeats, cfg.Simulate.Interval), nil
	default:
		return nil, fmt.Errorf("unknown source %q", cfg.Source)
	}
}

func run(cfg config.Config) error {
	// Initialize capture
	src, err := openSource(cfg)
	if err != nil {
		return fmt.Errorf("init %s source: %w", cfg.Source, err)
	}
	defer src.Close()

	classifier, err := ook.NewClassifier(cfg.Timing, src.TickRate())
	if err != nil {
		return fmt.Errorf("init classifier: %w", err)
	}
	diag := make(chan ook.DecodeError, diagBuffer)
	pipeline, err := capture.NewPipeline(classifier, ook.AssemblerConfig{
		Width:         cfg.PayloadWidth,
		MaxFrameTicks: cfg.MaxFrameTicks(src.TickRate()),
	}, cfg.QueueSize, diag)
	if err != nil {
		return fmt.Errorf("init pipeline: %w", err)
	}

	// Initialize MQTT
	publisher := mqtt.NewRealPublisher(cfg.MQTT)
	defer publisher.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	wsURL := resolveWSBroker(cfg.WSBroker, cfg.MQTT.Broker)
	tracker := status.NewTracker(time.Now(), status.Config{
		Source:            cfg.SourceName(),
		TickRate:          src.TickRate(),
		Threshold:         cfg.Reconciler.Threshold,
		WindowMs:          cfg.Reconciler.Window.Milliseconds(),
		IdleTimeoutMs:     cfg.Reconciler.IdleTimeout.Milliseconds(),
		MinIntervalMs:     cfg.Reconciler.MinInterval.Milliseconds(),
		Fallback:          string(cfg.Reconciler.Fallback),
		SignedTemperature: cfg.Decode.SignedTemperature,
		HeartbeatMs:       cfg.Heartbeat.Milliseconds(),
		StaleAfterMs:      cfg.StaleAfter.Milliseconds(),
		Broker:            cfg.MQTT.Broker,
		Topic:             cfg.MQTT.Topic,
		TelegrafURL:       cfg.Telegraf.URL,
		HTTPPort:          cfg.HTTPAddr,
		WSBroker:          wsURL,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sinks []sink
	var telegrafStats func() telegraf.Stats
	if cfg.Telegraf.URL != "" {
		tp := telegraf.New(cfg.Telegraf.URL, cfg.Telegraf.QueueSize)
		go tp.Run(ctx)
		sinks = append(sinks, tp)
		telegrafStats = tp.Stats
		log.Info("forwarding readings to telegraf", "url", cfg.Telegraf.URL)
	}

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Error("failed to publish startup event", "err", err)
	} else {
		log.Info("published startup event")
	}

	// Start HTTP status server
	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, tracker, metrics.Handler(metrics.NewRegistry(tracker)))
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("http server error", "err", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Info("http status server listening", "addr", cfg.HTTPAddr)
	}

	srcErr := make(chan error, 1)
	go func() {
		srcErr <- src.Run(ctx, pipeline.HandleEdge)
	}()

	log.Info("started",
		"source", cfg.SourceName(),
		"tick_rate", src.TickRate(),
		"threshold", cfg.Reconciler.Threshold,
		"window", cfg.Reconciler.Window,
		"fallback", cfg.Reconciler.Fallback,
		"broker", cfg.MQTT.Broker,
		"heartbeat", cfg.Heartbeat)

	ticker := time.NewTicker(processInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	lc := loopConfig{
		pipeline:   pipeline,
		publisher:  publisher,
		mqttStatus: publisher,
		sinks:      sinks,
		telegraf:   telegrafStats,
		tracker:    tracker,
		reconciler: cfg.Reconciler,
		decode:     cfg.Decode,
		filter:     cfg.Filter,
		heartbeat:  cfg.Heartbeat,
		staleAfter: cfg.StaleAfter,
		now:        time.Now,
	}
	return runLoop(lc, ticker.C, sigCh, srcErr, diag)
}

// sink receives every published reading in addition to MQTT.
type sink interface {
	Publish(event logic.Event) error
}

// loopConfig carries the collaborators of the processing loop. tracker and
// mqttStatus may be nil.
type loopConfig struct {
	pipeline   *capture.Pipeline
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	sinks      []sink
	telegraf   func() telegraf.Stats // nil when the sink is disabled
	tracker    *status.Tracker
	reconciler logic.Config
	decode     nexus.Options
	filter     nexus.Filter
	heartbeat  time.Duration
	staleAfter time.Duration
	now        func() time.Time
}

// runLoop drains decoded payloads on every tick and runs them through the
// decoder, filter and reconciler. It returns on a signal or when the
// source stops.
func runLoop(lc loopConfig, tick <-chan time.Time, sig <-chan os.Signal, srcErr <-chan error, diag <-chan ook.DecodeError) error {
	l := &loop{
		loopConfig: lc,
		rec:        logic.NewReconciler(lc.reconciler, lc.now()),
	}

	for {
		select {
		case s := <-sig:
			log.Info("shutting down", "signal", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			l.shutdown(l.now(), signalName)
			return nil

		case err := <-srcErr:
			// Payloads already queued still count.
			t := l.now()
			l.process(t)
			if err != nil {
				l.shutdown(t, "SOURCE_ERROR")
				return fmt.Errorf("capture source: %w", err)
			}
			log.Info("capture source finished")
			l.shutdown(t, "SOURCE_CLOSED")
			return nil

		case e := <-diag:
			log.Debug("frame discarded", "reason", e.Reason, "state", e.State, "symbol", e.Symbol, "bits", e.Bits)

		case <-tick:
			l.process(l.now())
		}
	}
}

type loop struct {
	loopConfig
	rec *logic.Reconciler

	preambles uint64
	counters  capture.Counters
	rejected  uint64
}

func (l *loop) process(t time.Time) {
	if n := l.pipeline.Preambles(); n != l.preambles {
		l.preambles = n
		l.rec.Activity(t)
	}

	for {
		raw, ok := l.pipeline.Next()
		if !ok {
			break
		}
		reading := nexus.Decode(raw, l.decode)
		if err := l.filter.Check(reading); err != nil {
			l.rejected++
			log.Debug("reading rejected", "err", err, "reading", reading)
			continue
		}
		log.Debug("decoded", "reading", reading, "raw", raw.Format(nexus.PayloadBits))
		if ev := l.rec.Observe(reading, t); ev != nil {
			l.dispatch(*ev)
		}
	}

	if ev := l.rec.Check(t); ev != nil {
		l.dispatch(*ev)
	}

	l.logCounters()

	if l.rec.CheckStale(t, l.staleAfter) {
		log.Warn("no reading published recently", "after", l.staleAfter)
		l.publishSystem(mqtt.SystemEvent{Timestamp: t, Event: "STALE", Reason: "NO_READING"}, true)
	}

	if hb := l.rec.CheckHeartbeat(t, l.heartbeat); hb != nil {
		log.Info("heartbeat",
			"uptime", hb.Uptime,
			"confirmed", hb.Counts.Confirmed,
			"low_confidence", hb.Counts.LowConfidence,
			"suppressed", hb.Counts.Suppressed)
		if l.tracker != nil {
			// Refresh network info for heartbeat
			if net := readNetworkInfo(); net != nil {
				l.tracker.SetNetwork(net)
			}
		}
		l.publishSystem(mqtt.SystemEvent{Timestamp: hb.Timestamp, Event: "HEARTBEAT"}, true)
	}

	l.updateTracker()
}

func (l *loop) dispatch(ev logic.Event) {
	r := ev.Reading
	if !ev.Type.Publishable() {
		log.Warn("reading not confirmed, suppressed",
			"id", r.ID, "channel", r.DisplayChannel(), "repeats", ev.Repeats)
		return
	}

	log.Info("reading",
		"type", ev.Type,
		"id", r.ID,
		"channel", r.DisplayChannel(),
		"temperature_C", r.TemperatureC(),
		"humidity", r.Humidity,
		"battery_ok", r.BatteryOK,
		"repeats", ev.Repeats)

	if l.tracker != nil {
		l.tracker.SetLastReading(ev)
	}
	if err := l.publisher.Publish(ev); err != nil {
		// Don't crash on publish failure
		log.Error("publish error", "err", err)
	}
	for _, s := range l.sinks {
		if err := s.Publish(ev); err != nil {
			log.Warn("sink publish error", "err", err)
		}
	}
}

func (l *loop) logCounters() {
	c := l.pipeline.Counters()
	d := c.Sub(l.counters)
	l.counters = c
	if d.ErrorTotal() == 0 && d.Dropped == 0 {
		return
	}
	kv := []interface{}{"payloads", d.Payloads, "dropped", d.Dropped}
	for i, n := range d.Errors {
		if n > 0 {
			kv = append(kv, ook.Reason(i).String(), n)
		}
	}
	if d.Dropped > 0 {
		log.Warn("payload queue overflow", kv...)
		return
	}
	log.Debug("decode errors", kv...)
}

func (l *loop) updateTracker() {
	if l.tracker == nil {
		return
	}
	l.tracker.Update(l.rec.IsOpen(), l.rec.EventCountsSnapshot(), l.counters, l.rejected)
	if l.telegraf != nil {
		s := l.telegraf()
		l.tracker.SetTelegraf(status.SinkStats{Sent: s.Sent, Failed: s.Failed})
	}
	if l.mqttStatus != nil {
		l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
	}
}

// publishSystem sends a system event, attaching a full status snapshot when
// a tracker is available.
func (l *loop) publishSystem(event mqtt.SystemEvent, refresh bool) {
	if l.tracker != nil {
		if refresh {
			l.updateTracker()
		} else if l.mqttStatus != nil {
			l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
		}
		snap := l.tracker.Snapshot()
		event.RawPayload = status.FormatStatusEvent(snap, event.Event, event.Reason)
	}
	if err := l.publisher.PublishSystem(event); err != nil {
		log.Error("failed to publish system event", "event", event.Event, "err", err)
	}
}

func (l *loop) shutdown(t time.Time, reason string) {
	l.publishSystem(mqtt.SystemEvent{
		Timestamp: t,
		Event:     "SHUTDOWN",
		Reason:    reason,
		Retained:  true,
	}, false)
	log.Info("published shutdown event", "reason", reason)
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

// resolveWSBroker converts the --ws-broker flag value into a concrete URL.
// "=broker" derives ws://host:9001 from the TCP broker address; empty disables.
func resolveWSBroker(ws, broker string) string {
	if ws == "off" {
		return ""
	}
	if ws != "=broker" {
		return ws
	}
	u, err := url.Parse(broker)
	if err != nil {
		log.Warn("ws-broker: cannot parse broker", "broker", broker, "err", err)
		return ""
	}
	u.Scheme = "ws"
	u.Host = u.Hostname() + ":9001"
	return u.String()
}
