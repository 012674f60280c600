package receiver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/informalsystems/sink-load-test/internal/logging"
	"golang.org/x/sync/errgroup"
)

// Defaults for the processor.
const (
	DefaultMaxBatchSize = 100
	DefaultErrorBackoff = 1 * time.Second
)

// Config controls how the processor reads from its source.
type Config struct {
	MaxBatchSize int           // The maximum number of events to read from a partition at once.
	ErrorBackoff time.Duration // Pause after a failed receive.
}

func DefaultConfig() Config {
	return Config{
		MaxBatchSize: DefaultMaxBatchSize,
		ErrorBackoff: DefaultErrorBackoff,
	}
}

// Processor reads every partition of a source concurrently, logging each
// event and checkpointing each partition after every batch.
type Processor struct {
	src         Source
	cfg         Config
	logger      logging.Logger
	checkpoints *CheckpointStore
	handler     func(Event)
}

// Option allows us to modify the default behaviour of the processor.
type Option func(p *Processor)

// WithLogger overrides the processor's default logger.
func WithLogger(logger logging.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithHandler registers a function that is called with every event after it
// has been logged.
func WithHandler(h func(Event)) Option {
	return func(p *Processor) {
		p.handler = h
	}
}

func NewProcessor(src Source, cfg Config, opts ...Option) *Processor {
	if cfg.MaxBatchSize < 1 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	p := &Processor{
		src:         src,
		cfg:         cfg,
		checkpoints: NewCheckpointStore(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logging.NewLogrusLogger("receiver")
	}
	return p
}

// Checkpoints exposes the processor's checkpoint store.
func (p *Processor) Checkpoints() *CheckpointStore {
	return p.checkpoints
}

// Run processes all partitions until the given context is cancelled. It only
// returns an error if the partitions could not be listed or opened.
func (p *Processor) Run(ctx context.Context) error {
	ids, err := p.src.PartitionIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list partitions: %w", err)
	}
	p.logger.Info("Starting receiver", "partitions", len(ids))

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			return p.processPartition(gctx, id)
		})
	}
	err = g.Wait()
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = nil
	}
	p.logger.Info("Receiver stopped", "checkpoints", p.checkpoints.All())
	return err
}

func (p *Processor) processPartition(ctx context.Context, id string) error {
	pr, err := p.src.OpenPartition(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to open partition %s: %w", id, err)
	}
	p.logger.Info("Partition initialized", "partition", id)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := pr.Close(closeCtx); err != nil {
			p.logger.Error("Failed to close partition receiver", "partition", id, "err", err)
		}
		p.logger.Info("Partition closed", "partition", id, "reason", context.Cause(ctx))
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		events, err := pr.Receive(ctx, p.cfg.MaxBatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Error("Error on partition", "partition", id, "err", err)
			if !sleep(ctx, p.cfg.ErrorBackoff) {
				return nil
			}
			continue
		}
		if len(events) == 0 {
			continue
		}
		for _, ev := range events {
			p.handle(id, ev)
		}
		last := events[len(events)-1].SequenceNumber
		p.checkpoints.Update(id, last)
		p.logger.Debug("Checkpoint", "partition", id, "sequenceNumber", last)
	}
}

func (p *Processor) handle(partitionID string, ev Event) {
	if len(ev.PartitionID) == 0 {
		ev.PartitionID = partitionID
	}
	kvpairs := []interface{}{
		"partition", ev.PartitionID,
		"sequenceNumber", ev.SequenceNumber,
	}
	if len(ev.Properties) > 0 {
		kvpairs = append(kvpairs, "properties", ev.Properties)
	}
	p.logger.Info(fmt.Sprintf("Message received:\n%s", PrettyPrint(ev.Body)), kvpairs...)
	if p.handler != nil {
		p.handler(ev)
	}
}

// PrettyPrint indents the given body if it is JSON, and otherwise returns it
// unchanged.
func PrettyPrint(body []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		return string(body)
	}
	return buf.String()
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
