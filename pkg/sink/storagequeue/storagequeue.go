// Package storagequeue drives an Azure Storage queue. Batches are sent as a
// single message holding a JSON array of the payloads.
package storagequeue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue/queueerror"
	"github.com/informalsystems/sink-load-test/internal/logging"
	"github.com/informalsystems/sink-load-test/pkg/sink"
)

// enqueuer is the subset of *azqueue.QueueClient that we use.
type enqueuer interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// Sink sends payloads to a storage queue.
type Sink struct {
	cfg    sink.Config
	queue  enqueuer
	logger logging.Logger
}

var _ sink.MessageSink = (*Sink)(nil)

func init() {
	sink.MustRegister(sink.BlobQueue, func(ctx context.Context, cfg sink.Config) (sink.MessageSink, error) {
		return New(ctx, cfg)
	})
}

// New connects to the queue named in the configuration, creating it if it
// does not exist.
func New(ctx context.Context, cfg sink.Config) (*Sink, error) {
	if len(cfg.Name) == 0 {
		return nil, fmt.Errorf("a queue name is required")
	}
	svc, err := azqueue.NewServiceClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, err
	}
	logger := logging.NewLogrusLogger(fmt.Sprintf("sink[%s]", sink.BlobQueue), "queue", cfg.Name)
	qc := svc.NewQueueClient(cfg.Name)

	cctx, cancel := cfg.WithTimeout(ctx)
	defer cancel()
	if _, err := qc.Create(cctx, nil); err != nil {
		if !queueerror.HasCode(err, queueerror.QueueAlreadyExists) {
			return nil, fmt.Errorf("failed to create queue %s: %w", cfg.Name, err)
		}
		logger.Debug("Queue already exists")
	} else {
		logger.Info("Created queue")
	}
	return &Sink{
		cfg:    cfg,
		queue:  qc,
		logger: logger,
	}, nil
}

func (s *Sink) Send(ctx context.Context, payload string) error {
	return s.enqueue(ctx, "send", payload)
}

func (s *Sink) SendBatch(ctx context.Context, payloads []string) error {
	return s.enqueue(ctx, "send_batch", joinPayloads(payloads))
}

func (s *Sink) enqueue(ctx context.Context, op, content string) error {
	ctx, cancel := s.cfg.WithTimeout(ctx)
	defer cancel()
	_, err := s.queue.EnqueueMessage(ctx, content, nil)
	return wrap(op, err)
}

// Close is a no-op: the queue client holds no connections of its own.
func (s *Sink) Close(_ context.Context) error {
	return nil
}

// joinPayloads renders the payloads, which are JSON objects, as a JSON array.
func joinPayloads(payloads []string) string {
	return "[" + strings.Join(payloads, ",") + "]"
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && len(respErr.ErrorCode) > 0 {
		return &sink.Error{Op: op, Kind: "Storage." + respErr.ErrorCode, Err: err}
	}
	return sink.Wrap(op, err)
}
