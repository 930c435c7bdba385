// Package publish pushes estimator results to an MQTT broker.
package publish

import (
	"errors"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/rssi.map/internal/monitoring"
)

// DefaultPrefix is the topic root when none is configured.
const DefaultPrefix = "rssi-map"

const connectTimeout = 10 * time.Second

// Config selects the broker. An empty Broker disables publishing.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Prefix   string
}

// ConfigFromEnv fills unset fields from MQTT_BROKER, MQTT_CLIENT_ID,
// MQTT_USERNAME, MQTT_PASSWORD and MQTT_PUBLISH_PREFIX.
func ConfigFromEnv(c Config) Config {
	set := func(dst *string, key string) {
		if *dst == "" {
			*dst = os.Getenv(key)
		}
	}
	set(&c.Broker, "MQTT_BROKER")
	set(&c.ClientID, "MQTT_CLIENT_ID")
	set(&c.Username, "MQTT_USERNAME")
	set(&c.Password, "MQTT_PASSWORD")
	set(&c.Prefix, "MQTT_PUBLISH_PREFIX")
	return c
}

// Enabled reports whether a broker is configured.
func (c Config) Enabled() bool { return c.Broker != "" }

// ClientOptions builds paho options for c.
func (c Config) ClientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.Broker)

	clientID := c.ClientID
	if clientID == "" {
		clientID = "rssi-map"
	}
	opts.SetClientID(clientID)
	if c.Username != "" {
		opts.SetUsername(c.Username)
		opts.SetPassword(c.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		monitoring.Logf("[mqtt] connection lost: %v", err)
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		monitoring.Logf("[mqtt] connected to %s", c.Broker)
	})
	return opts
}

// Dial connects to the configured broker and waits for the first connection
// attempt. With ConnectRetry set, paho keeps retrying in the background, so a
// timeout here is logged and the client is still returned.
func Dial(c Config) (mqtt.Client, error) {
	if !c.Enabled() {
		return nil, errors.New("mqtt broker not configured")
	}
	client := mqtt.NewClient(c.ClientOptions())
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		monitoring.Logf("[mqtt] still connecting to %s after %v", c.Broker, connectTimeout)
		return client, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", c.Broker, err)
	}
	return client, nil
}
