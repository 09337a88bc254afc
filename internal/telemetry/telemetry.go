// Package telemetry publishes register readings to an MQTT broker as
// ThingsBoard-style telemetry.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	modbus "github.com/bronystylecrazy/gomodbus"
)

const (
	QOS                    = 1
	CONNECT_TIMEOUT        = 10 * time.Second
	CONNECT_RETRY_INTERVAL = 5 * time.Second
	PUBLISH_TIMEOUT        = 5 * time.Second
)

var ErrNotConnected = errors.New("telemetry: mqtt client not connected")

// Payload is the JSON document sent per poll cycle.
type Payload struct {
	TS     int64          `json:"ts"`
	Values map[string]any `json:"values"`
}

// BuildPayload collects the successful results into a payload stamped with
// ts. Results without a value are skipped. NaN and infinite floats cannot be
// encoded as JSON; their names are returned in skipped.
func BuildPayload(ts time.Time, results []modbus.ReadResult) (p Payload, skipped []string) {
	p = Payload{TS: ts.UnixMilli(), Values: make(map[string]any, len(results))}
	for _, r := range results {
		if r.Value == nil {
			continue
		}
		if !finite(r.Value) {
			skipped = append(skipped, r.Descriptor.Name)
			continue
		}
		p.Values[r.Descriptor.Name] = r.Value
	}
	return p, skipped
}

func finite(v any) bool {
	switch f := v.(type) {
	case float64:
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	case float32:
		return !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0)
	}
	return true
}

type Options struct {
	Broker      string
	ClientID    string
	AccessToken string
	Topic       string
	Logger      *zap.Logger
}

// Publisher sends payloads to one topic.
type Publisher struct {
	client mqtt.Client
	topic  string
	logger *zap.Logger
}

// NewPublisher configures a paho client that keeps retrying the initial
// connect and reconnects after a loss. Connect must be called before Publish.
func NewPublisher(o Options) *Publisher {
	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("telemetry").With(zap.String("broker", o.Broker))

	opts := mqtt.NewClientOptions()
	opts.AddBroker(o.Broker)
	opts.SetClientID(o.ClientID)
	// ThingsBoard authenticates devices by access token as username.
	opts.SetUsername(o.AccessToken)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(10 * time.Second)
	opts.SetConnectTimeout(CONNECT_TIMEOUT)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(CONNECT_RETRY_INTERVAL)
	opts.OnConnect = func(mqtt.Client) {
		logger.Info("connected")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("connection lost", zap.Error(err))
	}
	opts.OnReconnecting = func(mqtt.Client, *mqtt.ClientOptions) {
		logger.Info("reconnecting")
	}

	return newPublisher(mqtt.NewClient(opts), o.Topic, logger)
}

func newPublisher(client mqtt.Client, topic string, logger *zap.Logger) *Publisher {
	return &Publisher{client: client, topic: topic, logger: logger}
}

// Connect starts the connection. An error means the broker was not reached
// in time; the client keeps retrying in the background.
func (p *Publisher) Connect(ctx context.Context) error {
	token := p.client.Connect()
	if err := wait(ctx, token, CONNECT_TIMEOUT); err != nil {
		return fmt.Errorf("telemetry: connect: %w", err)
	}
	return nil
}

// Publish sends results as one telemetry message. A cycle with no successful
// reads publishes nothing.
func (p *Publisher) Publish(ctx context.Context, ts time.Time, results []modbus.ReadResult) error {
	payload, skipped := BuildPayload(ts, results)
	if len(skipped) > 0 {
		p.logger.Warn("skipping non-finite values", zap.Strings("registers", skipped))
	}
	if len(payload.Values) == 0 {
		return nil
	}
	if !p.client.IsConnected() {
		return ErrNotConnected
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telemetry: marshal: %w", err)
	}
	if err := wait(ctx, p.client.Publish(p.topic, QOS, false, data), PUBLISH_TIMEOUT); err != nil {
		return fmt.Errorf("telemetry: publish: %w", err)
	}
	p.logger.Debug("published", zap.String("topic", p.topic), zap.Int("values", len(payload.Values)))
	return nil
}

func (p *Publisher) Close() {
	p.client.Disconnect(250)
}

func wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return fmt.Errorf("timed out after %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
