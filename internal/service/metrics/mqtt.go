package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"edgeclassifier/internal/logger"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTSink publishes each metric as JSON to <prefix>/metrics/<name>.
type MQTTSink struct {
	client mqtt.Client
	prefix string
	qos    byte
}

type metricMessage struct {
	Name       string            `json:"name"`
	Value      float64           `json:"value"`
	Dimensions map[string]string `json:"dimensions"`
	Timestamp  time.Time         `json:"timestamp"`
}

func NewMQTTSink(client mqtt.Client, prefix string) *MQTTSink {
	return &MQTTSink{client: client, prefix: prefix, qos: 1}
}

// Topic returns the topic a metric is published on.
func (s *MQTTSink) Topic(name string) string {
	return fmt.Sprintf("%s/metrics/%s", s.prefix, name)
}

func (s *MQTTSink) PutMetric(ctx context.Context, name string, value float64, dims map[string]string) error {
	payload, err := json.Marshal(metricMessage{
		Name:       name,
		Value:      value,
		Dimensions: dims,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode metric %s: %w", name, err)
	}

	token := s.client.Publish(s.Topic(name), s.qos, false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to publish metric %s: %w", name, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConnectMQTT connects to broker (host:port) with automatic reconnects.
func ConnectMQTT(broker, clientID string, log *logger.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", broker))
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		log.Info("MQTT connected to %s as %s", broker, clientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warning("MQTT connection to %s lost: %v", broker, err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("mqtt connection to %s timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	return client, nil
}
