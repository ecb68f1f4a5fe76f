// Package mqtt publishes prediction events to an MQTT broker.
package mqtt

import (
	"context"
	"time"

	"github.com/tphakala/imaging-churn/internal/conf"
)

// Client defines the MQTT operations the application needs.
type Client interface {
	// Connect attempts to connect to the MQTT broker.
	Connect(ctx context.Context) error
	// Publish sends payload to topic. It fails when not connected.
	Publish(ctx context.Context, topic string, payload []byte) error
	// IsConnected reports whether the client is currently connected.
	IsConnected() bool
	// Disconnect closes the connection.
	Disconnect()
}

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string // base topic, events go to <Topic>/predictions
	QoS      byte
	Retain   bool
	// Connection timeouts
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// DefaultConfig returns a Config with reasonable default values.
func DefaultConfig() Config {
	return Config{
		ClientID:          "imaging-churn",
		Topic:             "imaging-churn",
		QoS:               1,
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
	}
}

// ConfigFromSettings fills DefaultConfig from the application settings.
func ConfigFromSettings(settings *conf.Settings) Config {
	cfg := DefaultConfig()
	m := settings.MQTT
	cfg.Broker = m.Broker
	cfg.Username = m.Username
	cfg.Password = m.Password
	cfg.QoS = m.QoS
	cfg.Retain = m.Retain
	if m.ClientID != "" {
		cfg.ClientID = m.ClientID
	} else if settings.Main.Name != "" {
		cfg.ClientID = settings.Main.Name
	}
	if m.Topic != "" {
		cfg.Topic = m.Topic
	}
	return cfg
}
