// Package redis appends payloads to a Redis stream.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/informalsystems/sink-load-test/internal/logging"
	"github.com/informalsystems/sink-load-test/pkg/sink"
	"github.com/redis/go-redis/v9"
)

// PayloadField is the stream entry field that holds the payload.
const PayloadField = "payload"

// Sink adds each payload to a stream with XADD. Batches are pipelined.
type Sink struct {
	cfg    sink.Config
	client *redis.Client
	stream string
	logger logging.Logger
}

var _ sink.MessageSink = (*Sink)(nil)

func init() {
	sink.MustRegister(sink.Redis, func(ctx context.Context, cfg sink.Config) (sink.MessageSink, error) {
		return New(ctx, cfg)
	})
}

// New connects to Redis. The connection string is either a redis:// URL or a
// plain host:port address. The sink's name is the stream key.
func New(ctx context.Context, cfg sink.Config) (*Sink, error) {
	if len(cfg.Name) == 0 {
		return nil, fmt.Errorf("a stream name is required")
	}
	opts, err := redis.ParseURL(cfg.ConnectionString)
	if err != nil {
		// try as host:port format
		opts = &redis.Options{Addr: cfg.ConnectionString}
	}
	opts.DialTimeout = cfg.Timeout()
	client := redis.NewClient(opts)

	pctx, cancel := cfg.WithTimeout(ctx)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logger := logging.NewLogrusLogger(fmt.Sprintf("sink[%s]", sink.Redis), "stream", cfg.Name)
	logger.Info("Connected to Redis", "addr", opts.Addr)
	return &Sink{
		cfg:    cfg,
		client: client,
		stream: cfg.Name,
		logger: logger,
	}, nil
}

func (s *Sink) args(payload string) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{PayloadField: payload},
	}
}

func (s *Sink) Send(ctx context.Context, payload string) error {
	ctx, cancel := s.cfg.WithTimeout(ctx)
	defer cancel()
	return wrap("send", s.client.XAdd(ctx, s.args(payload)).Err())
}

func (s *Sink) SendBatch(ctx context.Context, payloads []string) error {
	ctx, cancel := s.cfg.WithTimeout(ctx)
	defer cancel()
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range payloads {
			pipe.XAdd(ctx, s.args(p))
		}
		return nil
	})
	return wrap("send_batch", err)
}

func (s *Sink) Close(_ context.Context) error {
	return wrap("close", s.client.Close())
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.ErrClosed) {
		return &sink.Error{Op: op, Kind: "Closed", Err: err}
	}
	var rerr redis.Error
	if errors.As(err, &rerr) {
		return &sink.Error{Op: op, Kind: "Redis", Err: err}
	}
	return sink.Wrap(op, err)
}
