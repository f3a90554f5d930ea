// Package mqtt publishes engine notifications to an MQTT broker.
package mqtt

import (
	"context"
	"time"

	"github.com/patchgraph/ingen/internal/conf"
)

const component = "mqtt"

// Client defines the interface for MQTT client operations.
type Client interface {
	// Connect attempts to connect to the MQTT broker.
	Connect(ctx context.Context) error

	// Publish sends payload to topic on the broker.
	Publish(ctx context.Context, topic string, payload []byte) error

	// IsConnected returns true if the client is currently connected to the MQTT broker.
	IsConnected() bool

	// Disconnect closes the connection to the MQTT broker.
	Disconnect()
}

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string // prefix; notifications go to <Topic>/<type>
	QoS      byte
	Retain   bool

	ReconnectCooldown time.Duration
	ReconnectDelay    time.Duration
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// DefaultConfig returns a Config with reasonable default values
func DefaultConfig() Config {
	return Config{
		ClientID:          "ingen",
		Topic:             "ingen",
		ReconnectCooldown: 5 * time.Second,
		ReconnectDelay:    1 * time.Second,
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
	}
}

// ConfigFromSettings builds a Config from the mqtt settings section
func ConfigFromSettings(s conf.MQTTSettings) Config {
	c := DefaultConfig()
	c.Broker = s.Broker
	if s.ClientID != "" {
		c.ClientID = s.ClientID
	}
	c.Username = s.Username
	c.Password = s.Password
	if s.Topic != "" {
		c.Topic = s.Topic
	}
	c.QoS = s.QoS
	c.Retain = s.Retain
	return c
}
