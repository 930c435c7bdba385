package publish

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rssi.map/internal/locate"
)

type mockToken struct {
	err error
}

func (t *mockToken) Wait() bool                     { return true }
func (t *mockToken) WaitTimeout(time.Duration) bool { return true }
func (t *mockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *mockToken) Error() error { return t.err }

type mockMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

type mockClient struct {
	mu        sync.Mutex
	connected bool
	failOn    string
	published []mockMessage
}

func (c *mockClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *mockClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failOn != "" && strings.HasSuffix(topic, c.failOn) {
		return &mockToken{err: errors.New("broker rejected")}
	}
	c.published = append(c.published, mockMessage{Topic: topic, Payload: payload.([]byte), QoS: qos, Retain: retained})
	return &mockToken{}
}

var _ mqtt.Token = (*mockToken)(nil)

func testEstimates() []locate.Estimate {
	return []locate.Estimate{
		{MAC: "aa:bb:cc:dd:ee:01", SSID: "cafe", Lat: 52.5, Lon: 13.4, RadiusM: 8, Score: 0.9, Mode: "min", NUsed: 8},
		{MAC: "aa:bb:cc:dd:ee:02", SSID: "", Lat: 52.6, Lon: 13.5, RadiusM: 20, Score: 0.2, Mode: "qmin0.20", NUsed: 9},
	}
}

func TestTopics(t *testing.T) {
	p := NewPublisher(nil, "home/wifi/")
	assert.Equal(t, "home/wifi/estimates", p.EstimatesTopic())
	assert.Equal(t, "home/wifi/device/aabbccddee01", p.DeviceTopic("aa:bb:cc:dd:ee:01"))

	assert.Equal(t, "rssi-map/estimates", NewPublisher(nil, "").EstimatesTopic())
}

func TestPublishRun(t *testing.T) {
	client := &mockClient{connected: true}
	p := NewPublisher(client, "test")
	at := time.Unix(1_800_000_000, 0)

	require.NoError(t, p.PublishRun("run-1", at, testEstimates()))
	require.Len(t, client.published, 3)

	dev := client.published[0]
	assert.Equal(t, "test/device/aabbccddee01", dev.Topic)
	assert.True(t, dev.Retain)
	assert.Equal(t, byte(0), dev.QoS)

	var dm map[string]interface{}
	require.NoError(t, json.Unmarshal(dev.Payload, &dm))
	assert.Equal(t, "run-1", dm["run_id"])
	assert.Equal(t, "aa:bb:cc:dd:ee:01", dm["mac"])
	assert.Equal(t, 8.0, dm["radius_m"])

	combined := client.published[2]
	assert.Equal(t, "test/estimates", combined.Topic)
	var rm RunMessage
	require.NoError(t, json.Unmarshal(combined.Payload, &rm))
	assert.Equal(t, int64(1_800_000_000), rm.Timestamp)
	assert.Equal(t, testEstimates(), rm.Estimates)
}

func TestPublishRun_Empty(t *testing.T) {
	client := &mockClient{connected: true}
	p := NewPublisher(client, "test")

	require.NoError(t, p.PublishRun("run-0", time.Unix(0, 0), nil))
	require.Len(t, client.published, 1)
	assert.Contains(t, string(client.published[0].Payload), `"estimates":[]`)
}

func TestPublishRun_NotConnected(t *testing.T) {
	p := NewPublisher(&mockClient{}, "test")
	assert.ErrorIs(t, p.PublishRun("r", time.Now(), testEstimates()), ErrNotConnected)

	p = NewPublisher(nil, "test")
	assert.ErrorIs(t, p.PublishRun("r", time.Now(), testEstimates()), ErrNotConnected)
}

func TestPublishRun_PartialFailure(t *testing.T) {
	client := &mockClient{connected: true, failOn: "aabbccddee01"}
	p := NewPublisher(client, "test")

	err := p.PublishRun("r", time.Now(), testEstimates())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test/device/aabbccddee01")
	// The other device and the combined document still went out.
	assert.Len(t, client.published, 2)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("MQTT_PUBLISH_PREFIX", "env-prefix")
	t.Setenv("MQTT_CLIENT_ID", "")

	c := ConfigFromEnv(Config{Prefix: "flag-prefix"})
	assert.Equal(t, "tcp://broker:1883", c.Broker)
	assert.Equal(t, "flag-prefix", c.Prefix, "explicit values win over the environment")
	assert.True(t, c.Enabled())

	opts := c.ClientOptions()
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "broker:1883", opts.Servers[0].Host)
	assert.Equal(t, "rssi-map", opts.ClientID)
}

func TestDial_Disabled(t *testing.T) {
	_, err := Dial(Config{})
	assert.Error(t, err)
	assert.False(t, Config{}.Enabled())
}
