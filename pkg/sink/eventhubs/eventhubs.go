// Package eventhubs drives an Azure Event Hub, and reads events back from one
// for the receive command.
package eventhubs

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azeventhubs"
	"github.com/informalsystems/sink-load-test/internal/logging"
	"github.com/informalsystems/sink-load-test/pkg/sink"
)

// producer is the subset of *azeventhubs.ProducerClient that we use.
type producer interface {
	NewEventDataBatch(ctx context.Context, options *azeventhubs.EventDataBatchOptions) (*azeventhubs.EventDataBatch, error)
	SendEventDataBatch(ctx context.Context, batch *azeventhubs.EventDataBatch, options *azeventhubs.SendEventDataBatchOptions) error
	Close(ctx context.Context) error
}

// Sink sends payloads to an event hub. A single send is a batch of one.
type Sink struct {
	cfg      sink.Config
	producer producer
	logger   logging.Logger
}

var _ sink.MessageSink = (*Sink)(nil)

func init() {
	sink.MustRegister(sink.EventHub, func(ctx context.Context, cfg sink.Config) (sink.MessageSink, error) {
		return New(ctx, cfg)
	})
}

// New creates a producer for the event hub named in the configuration. The
// name may be omitted if the connection string carries an EntityPath.
func New(ctx context.Context, cfg sink.Config) (*Sink, error) {
	pc, err := azeventhubs.NewProducerClientFromConnectionString(cfg.ConnectionString, cfg.Name, nil)
	if err != nil {
		return nil, err
	}
	logger := logging.NewLogrusLogger(fmt.Sprintf("sink[%s]", sink.EventHub), "hub", cfg.Name)

	// fail fast if the hub can't be reached
	pctx, cancel := cfg.WithTimeout(ctx)
	defer cancel()
	props, err := pc.GetEventHubProperties(pctx, nil)
	if err != nil {
		_ = pc.Close(ctx)
		return nil, fmt.Errorf("failed to connect to event hub: %w", err)
	}
	logger.Info("Connected to event hub", "partitions", len(props.PartitionIDs))
	return &Sink{
		cfg:      cfg,
		producer: pc,
		logger:   logger,
	}, nil
}

func (s *Sink) Send(ctx context.Context, payload string) error {
	return s.send(ctx, "send", []string{payload})
}

func (s *Sink) SendBatch(ctx context.Context, payloads []string) error {
	return s.send(ctx, "send_batch", payloads)
}

// send packs the payloads into as few event batches as the hub's size limits
// allow, sending each as it fills up.
func (s *Sink) send(ctx context.Context, op string, payloads []string) error {
	ctx, cancel := s.cfg.WithTimeout(ctx)
	defer cancel()

	batch, err := s.producer.NewEventDataBatch(ctx, nil)
	if err != nil {
		return wrap(op, err)
	}
	for _, p := range payloads {
		err := batch.AddEventData(&azeventhubs.EventData{Body: []byte(p)}, nil)
		if errors.Is(err, azeventhubs.ErrEventDataTooLarge) && batch.NumEvents() > 0 {
			if err := s.producer.SendEventDataBatch(ctx, batch, nil); err != nil {
				return wrap(op, err)
			}
			if batch, err = s.producer.NewEventDataBatch(ctx, nil); err != nil {
				return wrap(op, err)
			}
			err = batch.AddEventData(&azeventhubs.EventData{Body: []byte(p)}, nil)
		}
		if err != nil {
			return wrap(op, err)
		}
	}
	if batch.NumEvents() == 0 {
		return nil
	}
	return wrap(op, s.producer.SendEventDataBatch(ctx, batch, nil))
}

func (s *Sink) Close(ctx context.Context) error {
	ctx, cancel := s.cfg.WithTimeout(ctx)
	defer cancel()
	return wrap("close", s.producer.Close(ctx))
}

// wrap classifies Event Hubs errors by their code.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var ehErr *azeventhubs.Error
	if errors.As(err, &ehErr) {
		return &sink.Error{Op: op, Kind: "EventHubs." + string(ehErr.Code), Err: err}
	}
	if errors.Is(err, azeventhubs.ErrEventDataTooLarge) {
		return &sink.Error{Op: op, Kind: "EventDataTooLarge", Err: err}
	}
	return sink.Wrap(op, err)
}
