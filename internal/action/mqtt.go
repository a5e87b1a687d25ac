package action

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTConfig holds the broker connection settings for appliance control.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

const connectTimeout = 10 * time.Second

// NewMQTTClient connects to the broker and returns the client.
func NewMQTTClient(cfg MQTTConfig, logger *zap.Logger) (mqtt.Client, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker not configured")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("mqtt")

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("nimesh-%d", time.Now().Unix())
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.OnConnect = func(mqtt.Client) {
		logger.Info("connected to broker", zap.String("broker", cfg.Broker), zap.String("client_id", clientID))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("broker connection lost", zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("connect to %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, err)
	}
	return client, nil
}

// Publisher is the part of an MQTT client an appliance effect needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Appliance state payloads.
const (
	PayloadOn  = "ON"
	PayloadOff = "OFF"
)

// ApplianceEffect toggles an on/off appliance by publishing its new state
// to <prefix>/<appliance>/set. The state flips only after a successful publish.
type ApplianceEffect struct {
	publisher Publisher
	appliance string
	topic     string
	qos       byte

	mu sync.Mutex
	on bool
}

// NewApplianceEffect creates a toggle for the named appliance, starting off.
func NewApplianceEffect(pub Publisher, prefix, appliance string, qos byte) *ApplianceEffect {
	return &ApplianceEffect{
		publisher: pub,
		appliance: appliance,
		topic:     fmt.Sprintf("%s/%s/set", prefix, appliance),
		qos:       qos,
	}
}

// Topic returns the topic state changes are published to.
func (e *ApplianceEffect) Topic() string {
	return e.topic
}

// On reports the last state published.
func (e *ApplianceEffect) On() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.on
}

// Execute publishes the opposite of the current state.
func (e *ApplianceEffect) Execute(ctx context.Context, _ Request) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	payload := PayloadOn
	if e.on {
		payload = PayloadOff
	}

	token := e.publisher.Publish(e.topic, e.qos, true, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish %s to %s: %w", payload, e.topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s to %s: %w", payload, e.topic, err)
	}

	e.on = !e.on
	return nil
}
