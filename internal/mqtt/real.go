package mqtt

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/sweeney/nexus-sensor/internal/logic"
)

// DefaultBufferSize is how many messages are kept while disconnected.
const DefaultBufferSize = 100

// Options configures a RealPublisher.
type Options struct {
	Broker         string
	ClientIDPrefix string // a random suffix is appended
	Topic          string
	SystemTopic    string
	BufferSize     int
}

func (o Options) withDefaults() Options {
	if o.ClientIDPrefix == "" {
		o.ClientIDPrefix = "nexus-sensor"
	}
	if o.Topic == "" {
		o.Topic = DefaultTopic
	}
	if o.SystemTopic == "" {
		o.SystemTopic = DefaultSystemTopic
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	return o
}

// newClientID returns prefix plus a short random suffix so two daemons on
// one broker do not kick each other off.
func newClientID(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

// willPayload is the retained last-will message the broker publishes if we
// disappear without a clean shutdown. It is registered at connect time, so it
// carries no timestamp; the broker's delivery time is the disconnect time.
func willPayload() []byte {
	payload, _ := FormatSystemPayload(SystemEvent{
		Event:  "SHUTDOWN",
		Reason: "MQTT_DISCONNECT",
	})
	return payload
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are buffered and replayed after reconnection.
type RealPublisher struct {
	client      paho.Client
	topic       string
	systemTopic string

	mu        sync.Mutex
	buf       *ringBuffer
	connected bool // connected at least once
}

// NewRealPublisher creates a publisher for the given broker. The connection
// is retried in the background, so an unreachable broker at startup is not
// fatal.
func NewRealPublisher(opts Options) *RealPublisher {
	opts = opts.withDefaults()
	p := &RealPublisher{
		topic:       opts.Topic,
		systemTopic: opts.SystemTopic,
		buf:         newRingBuffer(opts.BufferSize),
	}

	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(newClientID(opts.ClientIDPrefix)).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(opts.SystemTopic, string(willPayload()), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn("mqtt: connection lost", "err", err)
		})

	p.client = paho.NewClient(clientOpts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		log.Warn("mqtt: broker not reachable yet, retrying in background", "broker", opts.Broker)
	} else if err := token.Error(); err != nil {
		log.Error("mqtt: connect failed", "broker", opts.Broker, "err", err)
	}

	return p
}

// onConnect runs on every (re)connection in a paho goroutine.
func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	reconnect := p.connected
	p.connected = true
	pending := p.buf.drainAll()
	dropped := p.buf.dropped
	p.mu.Unlock()

	if !reconnect {
		log.Info("mqtt: connected")
	} else {
		log.Info("mqtt: reconnected", "buffered", len(pending), "dropped_total", dropped)
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"})
		c.Publish(p.systemTopic, 1, false, payload)
	}

	for _, msg := range pending {
		token := c.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
		if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
			log.Warn("mqtt: replay failed, rebuffering", "topic", msg.topic)
			p.mu.Lock()
			p.buf.push(msg)
			p.mu.Unlock()
		}
	}
}

// Publish sends a reading to the MQTT broker.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	// QoS 0 (at-most-once), not retained
	return p.publish(bufferedMsg{topic: p.topic, payload: payload})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) for lifecycle events
	return p.publish(bufferedMsg{topic: p.systemTopic, payload: payload, qos: 1, retained: event.Retained})
}

func (p *RealPublisher) publish(msg bufferedMsg) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.buf.push(msg)
		n := p.buf.len()
		p.mu.Unlock()
		log.Debug("mqtt: offline, buffered message", "topic", msg.topic, "buffered", n)
		return nil
	}

	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish to %s: timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", msg.topic, err)
	}
	return nil
}

// IsConnected reports whether the broker connection is currently up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
