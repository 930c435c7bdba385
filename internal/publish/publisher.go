package publish

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/rssi.map/internal/locate"
	"github.com/banshee-data/rssi.map/internal/monitoring"
)

// ErrNotConnected is returned when the broker connection is down.
var ErrNotConnected = errors.New("mqtt client not connected")

const publishTimeout = 2 * time.Second

// Client is the part of mqtt.Client the publisher needs.
type Client interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Publisher sends run results as retained QoS 0 messages: one combined
// document under <prefix>/estimates and one per device under
// <prefix>/device/<mac without colons>.
type Publisher struct {
	client Client
	prefix string
	qos    byte
	retain bool
}

// NewPublisher wraps client. An empty prefix uses DefaultPrefix.
func NewPublisher(client Client, prefix string) *Publisher {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Publisher{client: client, prefix: prefix, qos: 0, retain: true}
}

// RunMessage is the combined payload.
type RunMessage struct {
	RunID     string            `json:"run_id"`
	Timestamp int64             `json:"timestamp"`
	Estimates []locate.Estimate `json:"estimates"`
}

// DeviceMessage is the per-device payload.
type DeviceMessage struct {
	RunID     string `json:"run_id"`
	Timestamp int64  `json:"timestamp"`
	locate.Estimate
}

// EstimatesTopic is the combined topic.
func (p *Publisher) EstimatesTopic() string {
	return p.prefix + "/estimates"
}

// DeviceTopic is the per-device topic for mac.
func (p *Publisher) DeviceTopic(mac string) string {
	return p.prefix + "/device/" + strings.ReplaceAll(mac, ":", "")
}

// PublishRun publishes every estimate and then the combined document. A
// failure on one device does not stop the rest; all failures are joined.
func (p *Publisher) PublishRun(runID string, at time.Time, ests []locate.Estimate) error {
	if p.client == nil || !p.client.IsConnected() {
		return ErrNotConnected
	}
	ts := at.Unix()

	var errs []error
	for _, e := range ests {
		msg := DeviceMessage{RunID: runID, Timestamp: ts, Estimate: e}
		if err := p.publishJSON(p.DeviceTopic(e.MAC), msg); err != nil {
			errs = append(errs, err)
		}
	}

	if ests == nil {
		ests = []locate.Estimate{}
	}
	if err := p.publishJSON(p.EstimatesTopic(), RunMessage{RunID: runID, Timestamp: ts, Estimates: ests}); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	monitoring.Debugf("[mqtt] published run %s: %d devices", runID, len(ests))
	return nil
}

func (p *Publisher) publishJSON(topic string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", topic, err)
	}
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(publishTimeout) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}
