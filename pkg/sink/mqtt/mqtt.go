// Package mqtt publishes payloads to an MQTT broker.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/informalsystems/sink-load-test/internal/logging"
	"github.com/informalsystems/sink-load-test/pkg/sink"
	uuid "github.com/satori/go.uuid"
)

const (
	// QoS is the quality of service at which payloads are published: at least
	// once, so that every publish is acknowledged by the broker.
	QoS byte = 1

	disconnectQuiesceMillis = 250
)

// publisher is the subset of the paho client used by the sink.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Sink publishes each payload to a single topic.
type Sink struct {
	cfg    sink.Config
	client publisher
	topic  string
	logger logging.Logger
}

var _ sink.MessageSink = (*Sink)(nil)

func init() {
	sink.MustRegister(sink.MQTT, func(ctx context.Context, cfg sink.Config) (sink.MessageSink, error) {
		return New(cfg)
	})
}

// NewClientOptions builds the paho client options for the given broker URL,
// e.g. "tcp://localhost:1883".
func NewClientOptions(cfg sink.Config, logger logging.Logger) *mqtt.ClientOptions {
	return mqtt.NewClientOptions().
		AddBroker(cfg.ConnectionString).
		SetClientID("sink-load-test-" + uuid.NewV4().String()).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetConnectTimeout(cfg.Timeout()).
		SetWriteTimeout(cfg.Timeout()).
		SetCleanSession(true).
		SetKeepAlive(60 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Error("Connection lost", "err", err)
		}).
		SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
			logger.Info("Reconnecting")
		})
}

// New connects to the broker at the URL given by the connection string. The
// sink's name is the topic to publish to.
func New(cfg sink.Config) (*Sink, error) {
	if len(cfg.Name) == 0 {
		return nil, fmt.Errorf("a topic name is required")
	}
	if len(cfg.ConnectionString) == 0 {
		return nil, fmt.Errorf("a broker URL is required")
	}
	logger := logging.NewLogrusLogger(fmt.Sprintf("sink[%s]", sink.MQTT), "topic", cfg.Name)
	client := mqtt.NewClient(NewClientOptions(cfg, logger))
	if err := wait(client.Connect(), cfg.Timeout()); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", cfg.ConnectionString, err)
	}
	logger.Info("Connected to MQTT broker", "broker", cfg.ConnectionString)
	return newSink(cfg, client, logger), nil
}

func newSink(cfg sink.Config, client publisher, logger logging.Logger) *Sink {
	return &Sink{
		cfg:    cfg,
		client: client,
		topic:  cfg.Name,
		logger: logger,
	}
}

func (s *Sink) Send(ctx context.Context, payload string) error {
	ctx, cancel := s.cfg.WithTimeout(ctx)
	defer cancel()
	return sink.Wrap("send", waitContext(ctx, s.client.Publish(s.topic, QoS, false, payload)))
}

// SendBatch publishes all of the payloads before waiting for any of the
// broker's acknowledgements.
func (s *Sink) SendBatch(ctx context.Context, payloads []string) error {
	ctx, cancel := s.cfg.WithTimeout(ctx)
	defer cancel()
	tokens := make([]mqtt.Token, 0, len(payloads))
	for _, p := range payloads {
		tokens = append(tokens, s.client.Publish(s.topic, QoS, false, p))
	}
	for _, t := range tokens {
		if err := waitContext(ctx, t); err != nil {
			return sink.Wrap("send_batch", err)
		}
	}
	return nil
}

func (s *Sink) Close(_ context.Context) error {
	s.client.Disconnect(disconnectQuiesceMillis)
	return nil
}

var errTokenTimeout = errors.New("timed out waiting for broker")

func wait(t mqtt.Token, timeout time.Duration) error {
	if !t.WaitTimeout(timeout) {
		return &sink.Error{Op: "connect", Kind: "Timeout", Err: errTokenTimeout}
	}
	return t.Error()
}

func waitContext(ctx context.Context, t mqtt.Token) error {
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
