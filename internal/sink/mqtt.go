package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/andresmejia3/turnstile/internal/types"
	"github.com/sirupsen/logrus"
)

// MQTTConfig configures the MQTT publisher.
type MQTTConfig struct {
	Broker   string        `yaml:"broker"` // host:port or a full tcp:// / ssl:// URL
	Topic    string        `yaml:"topic"`
	ClientID string        `yaml:"client_id"`
	QoS      byte          `yaml:"qos"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ErrMQTTNotConnected is returned by Append while the broker is unreachable.
var ErrMQTTNotConnected = errors.New("mqtt not connected")

// MQTT publishes each event as JSON on <topic>/<in|out>.
type MQTT struct {
	cfg    MQTTConfig
	log    logrus.FieldLogger
	Client mqtt.Client

	newClient      func(*mqtt.ClientOptions) mqtt.Client
	connectTimeout time.Duration

	mu        sync.RWMutex
	published uint64
	errors    uint64
	connected bool
}

// MQTTStats is a snapshot of publisher counters.
type MQTTStats struct {
	Connected bool
	Published uint64
	Errors    uint64
}

// NewMQTT prepares a publisher; call Connect before Append.
func NewMQTT(cfg MQTTConfig, log logrus.FieldLogger) *MQTT {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.Topic == "" {
		cfg.Topic = "turnstile/attendance"
	}
	return &MQTT{cfg: cfg, log: log, newClient: mqtt.NewClient, connectTimeout: 5 * time.Second}
}

func brokerURL(b string) string {
	if strings.Contains(b, "://") {
		return b
	}
	return "tcp://" + b
}

// Connect establishes the broker connection with automatic reconnects.
func (m *MQTT) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(m.cfg.Broker))
	opts.SetClientID(m.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		m.setConnected(true)
		m.log.WithField("broker", m.cfg.Broker).Info("mqtt connection established")
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		m.setConnected(false)
		m.log.WithError(err).WithField("broker", m.cfg.Broker).Warn("mqtt connection lost, will auto-reconnect")
	}

	m.Client = m.newClient(opts)
	m.log.WithField("broker", m.cfg.Broker).Info("connecting to mqtt broker")

	token := m.Client.Connect()
	var err error
	select {
	case <-token.Done():
		if err = token.Error(); err != nil {
			err = fmt.Errorf("mqtt connection failed: %w", err)
		}
	case <-ctx.Done():
		err = ctx.Err()
	case <-time.After(m.connectTimeout):
		err = fmt.Errorf("mqtt connection timeout")
	}
	if err != nil {
		// stop the background connect retries of the abandoned client
		m.Client.Disconnect(0)
		m.Client = nil
		m.setConnected(false)
		return err
	}

	m.setConnected(true)
	return nil
}

// Topic is where an event with status s is published.
func (m *MQTT) Topic(s types.Status) string {
	return fmt.Sprintf("%s/%s", m.cfg.Topic, strings.ToLower(string(s)))
}

func (m *MQTT) Append(_ context.Context, ev types.AttendanceEvent) error {
	if !m.isConnected() {
		m.countError()
		return ErrMQTTNotConnected
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		m.countError()
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	topic := m.Topic(ev.Status)
	token := m.Client.Publish(topic, m.cfg.QoS, false, payload)
	if !token.WaitTimeout(m.cfg.Timeout) {
		m.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		m.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	m.mu.Lock()
	m.published++
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{"topic": topic, "size": len(payload)}).Debug("event published")
	return nil
}

// Disconnect closes the broker connection.
func (m *MQTT) Disconnect() {
	if m.Client != nil && m.Client.IsConnected() {
		m.Client.Disconnect(250) // 250ms grace period
		m.log.Info("mqtt disconnected")
	}
	m.setConnected(false)
}

// Stats returns publisher counters.
func (m *MQTT) Stats() MQTTStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return MQTTStats{Connected: m.connected, Published: m.published, Errors: m.errors}
}

func (m *MQTT) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

func (m *MQTT) isConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

func (m *MQTT) countError() {
	m.mu.Lock()
	m.errors++
	m.mu.Unlock()
}
