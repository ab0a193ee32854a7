package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nasti-l/movement-tracker/processor"
)

// ErrNotConnected is returned by MQTTSink.Publish while the broker is unreachable.
var ErrNotConnected = errors.New("sink: mqtt not connected")

// MQTTConfig configures MQTTSink.
type MQTTConfig struct {
	// Broker is host:port or a full URL (tcp://, ssl://, ws://).
	Broker   string
	ClientID string // default posture-<uuid>
	Username string
	Password string
	// Topic prefix; records go to <Topic>/<posture>.
	Topic    string
	QoS      byte
	Retained bool
	Encoding Encoding

	ConnectTimeout time.Duration // default 5s
	PublishTimeout time.Duration // default 2s
}

// MQTTStats is a snapshot of MQTTSink counters.
type MQTTStats struct {
	Connected bool
	Published map[string]uint64 // per topic
	Errors    uint64
}

// MQTTSink publishes records to an MQTT broker. The client reconnects on its
// own after a lost connection; records published meanwhile fail with
// ErrNotConnected.
type MQTTSink struct {
	cfg    MQTTConfig
	client mqtt.Client

	mu        sync.RWMutex
	published map[string]uint64
	errors    uint64
	connected bool
}

// NewMQTTSink validates cfg. Call Connect before publishing.
func NewMQTTSink(cfg MQTTConfig) (*MQTTSink, error) {
	if cfg.Broker == "" {
		return nil, errors.New("sink: mqtt broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("sink: mqtt topic is required")
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("sink: mqtt qos %d out of range", cfg.QoS)
	}
	if _, err := ParseEncoding(string(cfg.Encoding)); err != nil {
		return nil, err
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "posture-" + uuid.NewString()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}

	return &MQTTSink{
		cfg:       cfg,
		published: make(map[string]uint64),
	}, nil
}

// Connect establishes the broker connection, bounded by ConnectTimeout and ctx.
func (s *MQTTSink) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(s.cfg.Broker))
	opts.SetClientID(s.cfg.ClientID)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		s.setConnected(true)
		slog.Info("sink: mqtt connection established",
			"broker", s.cfg.Broker,
			"client_id", s.cfg.ClientID,
		)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		s.setConnected(false)
		slog.Warn("sink: mqtt connection lost, will auto-reconnect",
			"broker", s.cfg.Broker,
			"error", err,
		)
	}

	s.client = mqtt.NewClient(opts)

	slog.Info("sink: connecting to mqtt broker", "broker", s.cfg.Broker, "topic", s.cfg.Topic)

	token := s.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(s.cfg.ConnectTimeout):
		s.client.Disconnect(0)
		return fmt.Errorf("sink: mqtt connection to %s timed out after %v", s.cfg.Broker, s.cfg.ConnectTimeout)
	case <-ctx.Done():
		s.client.Disconnect(0)
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("sink: mqtt connection failed: %w", err)
	}

	s.setConnected(true)
	return nil
}

// Topic returns the topic a record is published to.
func (s *MQTTSink) Topic(rec processor.Record) string {
	return fmt.Sprintf("%s/%s", s.cfg.Topic, rec.Posture)
}

// Publish encodes rec and waits up to PublishTimeout for the broker.
func (s *MQTTSink) Publish(rec processor.Record) error {
	if !s.isConnected() {
		s.countError()
		return ErrNotConnected
	}

	payload, err := s.cfg.Encoding.Encode(rec)
	if err != nil {
		s.countError()
		return fmt.Errorf("sink: encode record: %w", err)
	}

	topic := s.Topic(rec)
	token := s.client.Publish(topic, s.cfg.QoS, s.cfg.Retained, payload)
	if !token.WaitTimeout(s.cfg.PublishTimeout) {
		s.countError()
		return fmt.Errorf("sink: mqtt publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		s.countError()
		return fmt.Errorf("sink: mqtt publish failed: %w", err)
	}

	s.mu.Lock()
	s.published[topic]++
	s.mu.Unlock()

	slog.Debug("sink: record published",
		"topic", topic,
		"qos", s.cfg.QoS,
		"size", len(payload),
		"frame_seq", rec.FrameSeq,
	)
	return nil
}

// Close disconnects with a 250ms grace period.
func (s *MQTTSink) Close() error {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
		slog.Info("sink: mqtt disconnected", "broker", s.cfg.Broker)
	}
	s.setConnected(false)
	return nil
}

// Stats returns a counter snapshot.
func (s *MQTTSink) Stats() MQTTStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	published := make(map[string]uint64, len(s.published))
	for k, v := range s.published {
		published[k] = v
	}
	return MQTTStats{
		Connected: s.connected,
		Published: published,
		Errors:    s.errors,
	}
}

func (s *MQTTSink) isConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *MQTTSink) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func (s *MQTTSink) countError() {
	s.mu.Lock()
	s.errors++
	s.mu.Unlock()
}

func brokerURL(broker string) string {
	for _, scheme := range []string{"tcp://", "ssl://", "tls://", "ws://", "wss://", "mqtt://", "mqtts://"} {
		if strings.HasPrefix(broker, scheme) {
			return broker
		}
	}
	return "tcp://" + broker
}
