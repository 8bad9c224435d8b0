// Package emitter publishes pipeline cycle events to an MQTT broker.
package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ayusman/pointerlink/internal/app"
	"github.com/ayusman/pointerlink/internal/log"
)

const (
	queueSize      = 256
	publishTimeout = 2 * time.Second
	connectTimeout = 5 * time.Second
)

// ErrNotConnected is returned by Publish before Connect succeeds.
var ErrNotConnected = errors.New("mqtt not connected")

// Config holds the broker settings.
type Config struct {
	Broker   string
	Topic    string
	ClientID string
	QoS      byte
}

// Publisher is the part of mqtt.Client the emitter uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTEmitter publishes each cycle to <topic>/cycle and keeps a retained
// <topic>/availability of online or offline.
type MQTTEmitter struct {
	cfg    Config
	client mqtt.Client
	pub    Publisher

	queue chan []byte
	done  chan struct{}
	once  sync.Once

	mu        sync.RWMutex
	connected bool
	published uint64
	dropped   uint64
	errors    uint64
}

// Stats contains emitter statistics.
type Stats struct {
	Connected bool   `json:"connected"`
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Errors    uint64 `json:"errors"`
}

// NewMQTTEmitter creates an emitter; nothing is sent until Connect.
func NewMQTTEmitter(cfg Config) *MQTTEmitter {
	if cfg.Topic == "" {
		cfg.Topic = "pointerlink"
	}
	cfg.Topic = strings.TrimSuffix(cfg.Topic, "/")
	if cfg.ClientID == "" {
		cfg.ClientID = "pointerlink"
	}
	return &MQTTEmitter{
		cfg:   cfg,
		queue: make(chan []byte, queueSize),
		done:  make(chan struct{}),
	}
}

// CycleTopic is where cycle events are published.
func (e *MQTTEmitter) CycleTopic() string { return e.cfg.Topic + "/cycle" }

// AvailabilityTopic carries the retained online/offline state.
func (e *MQTTEmitter) AvailabilityTopic() string { return e.cfg.Topic + "/availability" }

// Connect establishes the broker connection and starts the publisher.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	broker := e.cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetWill(e.AvailabilityTopic(), "offline", 1, true)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		c.Publish(e.AvailabilityTopic(), 1, true, "online")
		log.Info("mqtt connection established", "broker", broker, "client_id", e.cfg.ClientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		log.Warn("mqtt connection lost, will auto-reconnect", "broker", broker, "err", err)
	}

	client := mqtt.NewClient(opts)
	log.Info("connecting to mqtt broker", "broker", broker)

	token := client.Connect()
	select {
	case <-token.Done():
	case <-time.After(connectTimeout):
		return fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.client = client
	e.start(client)
	return nil
}

// start launches the publishing goroutine over pub.
func (e *MQTTEmitter) start(pub Publisher) {
	e.pub = pub
	e.setConnected(true)
	go e.run()
}

func (e *MQTTEmitter) run() {
	for {
		select {
		case <-e.done:
			return
		case payload := <-e.queue:
			if err := e.publish(e.CycleTopic(), payload); err != nil {
				log.Debug("mqtt publish failed", "topic", e.CycleTopic(), "err", err)
			}
		}
	}
}

func (e *MQTTEmitter) publish(topic string, payload []byte) error {
	if !e.isConnected() {
		e.count(&e.errors)
		return ErrNotConnected
	}

	token := e.pub.Publish(topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		e.count(&e.errors)
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.count(&e.errors)
		return fmt.Errorf("publish failed: %w", err)
	}
	e.count(&e.published)
	return nil
}

// OnCycle queues ev for publishing. It never blocks; events are dropped
// when the queue is full.
func (e *MQTTEmitter) OnCycle(ev app.CycleEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		e.count(&e.errors)
		return
	}
	select {
	case e.queue <- payload:
	default:
		e.count(&e.dropped)
	}
}

// Disconnect publishes offline, stops the publisher and closes the connection.
func (e *MQTTEmitter) Disconnect() {
	e.once.Do(func() {
		close(e.done)
		if e.client != nil && e.client.IsConnected() {
			e.client.Publish(e.AvailabilityTopic(), 1, true, "offline").WaitTimeout(publishTimeout)
			e.client.Disconnect(250)
			log.Info("mqtt disconnected")
		}
		e.setConnected(false)
	})
}

// Stats returns emitter statistics.
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{
		Connected: e.connected,
		Published: e.published,
		Dropped:   e.dropped,
		Errors:    e.errors,
	}
}

func (e *MQTTEmitter) count(c *uint64) {
	e.mu.Lock()
	*c++
	e.mu.Unlock()
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}
