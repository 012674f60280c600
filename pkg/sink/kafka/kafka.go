// Package kafka produces payloads to a Kafka topic.
package kafka

import (
	"context"
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	"github.com/informalsystems/sink-load-test/internal/logging"
	"github.com/informalsystems/sink-load-test/pkg/sink"
)

// Sink produces each payload as a message on a single topic, waiting for all
// in-sync replicas to acknowledge it.
type Sink struct {
	cfg      sink.Config
	producer sarama.SyncProducer
	topic    string
	logger   logging.Logger
}

var _ sink.MessageSink = (*Sink)(nil)

func init() {
	sink.MustRegister(sink.Kafka, func(ctx context.Context, cfg sink.Config) (sink.MessageSink, error) {
		return New(cfg)
	})
}

// NewConfig returns the producer configuration used by the sink.
func NewConfig(cfg sink.Config) *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = "sink-load-test"
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Timeout = cfg.Timeout()
	config.Producer.Retry.Max = 0
	config.Net.DialTimeout = cfg.Timeout()
	config.Net.WriteTimeout = cfg.Timeout()
	config.Net.ReadTimeout = cfg.Timeout()
	return config
}

// New connects to the comma-separated list of brokers in the connection
// string. The sink's name is the topic to produce to.
func New(cfg sink.Config) (*Sink, error) {
	if len(cfg.Name) == 0 {
		return nil, fmt.Errorf("a topic name is required")
	}
	brokers := splitBrokers(cfg.ConnectionString)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker address is required")
	}
	producer, err := sarama.NewSyncProducer(brokers, NewConfig(cfg))
	if err != nil {
		return nil, err
	}
	return newSink(cfg, producer), nil
}

func newSink(cfg sink.Config, producer sarama.SyncProducer) *Sink {
	logger := logging.NewLogrusLogger(fmt.Sprintf("sink[%s]", sink.Kafka), "topic", cfg.Name)
	logger.Info("Connected to Kafka")
	return &Sink{
		cfg:      cfg,
		producer: producer,
		topic:    cfg.Name,
		logger:   logger,
	}
}

func splitBrokers(connStr string) []string {
	var brokers []string
	for _, b := range strings.Split(connStr, ",") {
		if b = strings.TrimSpace(b); len(b) > 0 {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func (s *Sink) message(payload string) *sarama.ProducerMessage {
	return &sarama.ProducerMessage{
		Topic: s.topic,
		Value: sarama.StringEncoder(payload),
	}
}

func (s *Sink) Send(ctx context.Context, payload string) error {
	return s.do(ctx, "send", func() error {
		_, _, err := s.producer.SendMessage(s.message(payload))
		return err
	})
}

func (s *Sink) SendBatch(ctx context.Context, payloads []string) error {
	msgs := make([]*sarama.ProducerMessage, 0, len(payloads))
	for _, p := range payloads {
		msgs = append(msgs, s.message(p))
	}
	return s.do(ctx, "send_batch", func() error {
		return s.producer.SendMessages(msgs)
	})
}

// do runs the given blocking producer call, giving up once the context
// expires. The producer's own timeouts bound how long the call keeps running
// after that.
func (s *Sink) do(ctx context.Context, op string, f func() error) error {
	ctx, cancel := s.cfg.WithTimeout(ctx)
	defer cancel()
	errc := make(chan error, 1)
	go func() {
		errc <- f()
	}()
	select {
	case err := <-errc:
		return sink.Wrap(op, err)
	case <-ctx.Done():
		return sink.Wrap(op, ctx.Err())
	}
}

func (s *Sink) Close(_ context.Context) error {
	return sink.Wrap("close", s.producer.Close())
}
