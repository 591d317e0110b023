package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const setpointQoS = 1

// Publisher is the subset of the paho client the sink needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// Sink publishes setpoints to <prefix>/<deviceID>/t_set.
type Sink struct {
	client  Publisher
	prefix  string
	timeout time.Duration
}

type setpointMessage struct {
	Value     float64 `json:"value"`
	Timestamp string  `json:"timestamp"`
}

// NewSink constructs a Sink on an already connected client.
func NewSink(client Publisher, prefix string, timeout time.Duration) (*Sink, error) {
	if client == nil {
		return nil, errors.New("mqtt sink: nil client")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Sink{client: client, prefix: strings.TrimRight(prefix, "/"), timeout: timeout}, nil
}

// Connect dials the broker and returns a connected paho client.
func Connect(broker, clientID string, timeout time.Duration) (paho.Client, error) {
	if broker == "" {
		return nil, errors.New("mqtt sink: empty broker")
	}
	opts := paho.NewClientOptions().AddBroker(broker).SetClientID(clientID).SetAutoReconnect(true)
	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("mqtt sink: connect to %s timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt sink: connect: %w", err)
	}
	return client, nil
}

// Topic returns the setpoint topic of a device.
func (s *Sink) Topic(externalID string) string {
	if s.prefix == "" {
		return externalID + "/t_set"
	}
	return s.prefix + "/" + externalID + "/t_set"
}

// SetTemperatureSetpoint publishes a setpoint and waits for the broker ack.
func (s *Sink) SetTemperatureSetpoint(ctx context.Context, externalID string, setpoint float64) error {
	if externalID == "" {
		return errors.New("mqtt sink: empty device id")
	}
	payload, err := json.Marshal(setpointMessage{Value: setpoint, Timestamp: time.Now().UTC().Format(time.RFC3339)})
	if err != nil {
		return err
	}
	token := s.client.Publish(s.Topic(externalID), setpointQoS, false, payload)
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("mqtt sink: publish to %s timed out", s.Topic(externalID))
	case <-token.Done():
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt sink: publish: %w", err)
	}
	return nil
}
