// Package servicebus drives an Azure Service Bus queue.
package servicebus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus/admin"
	"github.com/informalsystems/sink-load-test/internal/logging"
	"github.com/informalsystems/sink-load-test/pkg/sink"
)

// Properties stamped on every message.
const (
	ContentType = "application/json"
	Subject     = "MyPayload"
	TimeToLive  = 100 * time.Minute
)

// Properties of the queue, if we have to create it.
const (
	queueMaxSizeInMegabytes = 1024
	queueSetupTimeout       = 30 * time.Second
)

// sender is the subset of *azservicebus.Sender that we use.
type sender interface {
	SendMessage(ctx context.Context, message *azservicebus.Message, options *azservicebus.SendMessageOptions) error
	NewMessageBatch(ctx context.Context, options *azservicebus.MessageBatchOptions) (*azservicebus.MessageBatch, error)
	SendMessageBatch(ctx context.Context, batch *azservicebus.MessageBatch, options *azservicebus.SendMessageBatchOptions) error
	Close(ctx context.Context) error
}

// Sink sends payloads to a Service Bus queue.
type Sink struct {
	cfg    sink.Config
	client *azservicebus.Client
	sender sender
	logger logging.Logger
}

var _ sink.MessageSink = (*Sink)(nil)

func init() {
	sink.MustRegister(sink.QueueClient, func(ctx context.Context, cfg sink.Config) (sink.MessageSink, error) {
		return New(ctx, cfg)
	})
}

// New connects to the queue named in the configuration, creating it first if
// it does not exist.
func New(ctx context.Context, cfg sink.Config) (*Sink, error) {
	if len(cfg.Name) == 0 {
		return nil, fmt.Errorf("a queue name is required")
	}
	logger := logging.NewLogrusLogger(fmt.Sprintf("sink[%s]", sink.QueueClient), "queue", cfg.Name)
	if err := ensureQueue(ctx, cfg, logger); err != nil {
		return nil, err
	}
	client, err := azservicebus.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, err
	}
	snd, err := client.NewSender(cfg.Name, nil)
	if err != nil {
		_ = client.Close(ctx)
		return nil, err
	}
	logger.Info("Connected to Service Bus queue")
	return &Sink{
		cfg:    cfg,
		client: client,
		sender: snd,
		logger: logger,
	}, nil
}

func ensureQueue(ctx context.Context, cfg sink.Config, logger logging.Logger) error {
	ac, err := admin.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, queueSetupTimeout)
	defer cancel()

	resp, err := ac.GetQueue(ctx, cfg.Name, nil)
	if err != nil {
		return fmt.Errorf("failed to look up queue %s: %w", cfg.Name, err)
	}
	if resp != nil {
		logger.Debug("Queue already exists")
		return nil
	}
	_, err = ac.CreateQueue(ctx, cfg.Name, &admin.CreateQueueOptions{
		Properties: &admin.QueueProperties{
			EnablePartitioning: to.Ptr(true),
			MaxSizeInMegabytes: to.Ptr(int32(queueMaxSizeInMegabytes)),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create queue %s: %w", cfg.Name, err)
	}
	logger.Info("Created queue", "maxSizeInMegabytes", queueMaxSizeInMegabytes)
	return nil
}

func newMessage(payload string) *azservicebus.Message {
	return &azservicebus.Message{
		Body:        []byte(payload),
		ContentType: to.Ptr(ContentType),
		Subject:     to.Ptr(Subject),
		TimeToLive:  to.Ptr(TimeToLive),
	}
}

func (s *Sink) Send(ctx context.Context, payload string) error {
	ctx, cancel := s.cfg.WithTimeout(ctx)
	defer cancel()
	return wrap("send", s.sender.SendMessage(ctx, newMessage(payload), nil))
}

// SendBatch sends the payloads in as few message batches as the queue's size
// limits allow.
func (s *Sink) SendBatch(ctx context.Context, payloads []string) error {
	ctx, cancel := s.cfg.WithTimeout(ctx)
	defer cancel()

	batch, err := s.sender.NewMessageBatch(ctx, nil)
	if err != nil {
		return wrap("send_batch", err)
	}
	for _, p := range payloads {
		err := batch.AddMessage(newMessage(p), nil)
		if errors.Is(err, azservicebus.ErrMessageTooLarge) && batch.NumMessages() > 0 {
			if err := s.sender.SendMessageBatch(ctx, batch, nil); err != nil {
				return wrap("send_batch", err)
			}
			if batch, err = s.sender.NewMessageBatch(ctx, nil); err != nil {
				return wrap("send_batch", err)
			}
			err = batch.AddMessage(newMessage(p), nil)
		}
		if err != nil {
			return wrap("send_batch", err)
		}
	}
	if batch.NumMessages() == 0 {
		return nil
	}
	return wrap("send_batch", s.sender.SendMessageBatch(ctx, batch, nil))
}

func (s *Sink) Close(ctx context.Context) error {
	ctx, cancel := s.cfg.WithTimeout(ctx)
	defer cancel()
	err := s.sender.Close(ctx)
	if s.client != nil {
		if cerr := s.client.Close(ctx); err == nil {
			err = cerr
		}
	}
	return wrap("close", err)
}

// wrap classifies Service Bus errors by their code.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var sbErr *azservicebus.Error
	if errors.As(err, &sbErr) {
		return &sink.Error{Op: op, Kind: "ServiceBus." + string(sbErr.Code), Err: err}
	}
	if errors.Is(err, azservicebus.ErrMessageTooLarge) {
		return &sink.Error{Op: op, Kind: "MessageTooLarge", Err: err}
	}
	return sink.Wrap(op, err)
}
