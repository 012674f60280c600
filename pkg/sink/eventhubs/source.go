package eventhubs

import (
	"context"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azeventhubs"
	"github.com/informalsystems/sink-load-test/pkg/receiver"
	"github.com/informalsystems/sink-load-test/pkg/sink"
)

const defaultReceiveWait = 5 * time.Second

// Source reads events from every partition of an event hub, starting at the
// latest event.
type Source struct {
	client *azeventhubs.ConsumerClient
	wait   time.Duration
}

var _ receiver.Source = (*Source)(nil)

func init() {
	receiver.MustRegisterSource(string(sink.EventHub), func(ctx context.Context, cfg receiver.SourceConfig) (receiver.Source, error) {
		return NewSource(cfg)
	})
}

func NewSource(cfg receiver.SourceConfig) (*Source, error) {
	group := cfg.ConsumerGroup
	if len(group) == 0 {
		group = azeventhubs.DefaultConsumerGroup
	}
	client, err := azeventhubs.NewConsumerClientFromConnectionString(cfg.ConnectionString, cfg.Name, group, nil)
	if err != nil {
		return nil, err
	}
	wait := cfg.WaitTime
	if wait <= 0 {
		wait = defaultReceiveWait
	}
	return &Source{client: client, wait: wait}, nil
}

func (s *Source) PartitionIDs(ctx context.Context) ([]string, error) {
	props, err := s.client.GetEventHubProperties(ctx, nil)
	if err != nil {
		return nil, err
	}
	return props.PartitionIDs, nil
}

func (s *Source) OpenPartition(_ context.Context, partitionID string) (receiver.PartitionReceiver, error) {
	pc, err := s.client.NewPartitionClient(partitionID, &azeventhubs.PartitionClientOptions{
		StartPosition: azeventhubs.StartPosition{Latest: to.Ptr(true)},
	})
	if err != nil {
		return nil, err
	}
	return &partitionReceiver{id: partitionID, client: pc, wait: s.wait}, nil
}

func (s *Source) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

type partitionReceiver struct {
	id     string
	client *azeventhubs.PartitionClient
	wait   time.Duration
}

func (r *partitionReceiver) Receive(ctx context.Context, maxEvents int) ([]receiver.Event, error) {
	rctx, cancel := context.WithTimeout(ctx, r.wait)
	defer cancel()
	events, err := r.client.ReceiveEvents(rctx, maxEvents, nil)
	// running out of wait time is how an idle partition looks
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = nil
	}
	return convertEvents(r.id, events), err
}

func (r *partitionReceiver) Close(ctx context.Context) error {
	return r.client.Close(ctx)
}

func convertEvents(partitionID string, events []*azeventhubs.ReceivedEventData) []receiver.Event {
	res := make([]receiver.Event, 0, len(events))
	for _, ev := range events {
		res = append(res, receiver.Event{
			PartitionID:    partitionID,
			SequenceNumber: ev.SequenceNumber,
			EnqueuedTime:   ev.EnqueuedTime,
			Body:           ev.Body,
			Properties:     ev.Properties,
		})
	}
	return res
}
