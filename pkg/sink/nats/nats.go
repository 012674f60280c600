// Package nats publishes payloads to a NATS subject.
package nats

import (
	"context"
	"errors"
	"fmt"

	"github.com/informalsystems/sink-load-test/internal/logging"
	"github.com/informalsystems/sink-load-test/pkg/sink"
	"github.com/nats-io/nats.go"
)

const clientName = "sink-load-test"

// Sink publishes each payload as a message on a single subject. Every call
// flushes the connection, so that a successful return means the server has
// received the messages.
type Sink struct {
	cfg     sink.Config
	nc      *nats.Conn
	subject string
	logger  logging.Logger
	closed  chan struct{} // Closed once the connection has fully closed.
}

var _ sink.MessageSink = (*Sink)(nil)

func init() {
	sink.MustRegister(sink.NATS, func(ctx context.Context, cfg sink.Config) (sink.MessageSink, error) {
		return New(cfg)
	})
}

// New connects to the NATS server at the configured URL. The sink's name is
// the subject to publish to.
func New(cfg sink.Config) (*Sink, error) {
	if len(cfg.Name) == 0 {
		return nil, fmt.Errorf("a subject name is required")
	}
	url := cfg.ConnectionString
	if len(url) == 0 {
		url = nats.DefaultURL
	}
	logger := logging.NewLogrusLogger(fmt.Sprintf("sink[%s]", sink.NATS), "subject", cfg.Name)
	closed := make(chan struct{})
	nc, err := nats.Connect(url, func(o *nats.Options) error {
		o.Name = clientName
		o.Timeout = cfg.Timeout()
		return nil
	}, nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
		if err != nil {
			logger.Error("Disconnected from NATS", "err", err)
		}
	}), nats.ReconnectHandler(func(nc *nats.Conn) {
		logger.Info("Reconnected to NATS", "url", nc.ConnectedUrl())
	}), nats.ClosedHandler(func(_ *nats.Conn) {
		close(closed)
	}))
	if err != nil {
		return nil, err
	}
	logger.Info("Connected to NATS", "url", nc.ConnectedUrl())
	return &Sink{
		cfg:     cfg,
		nc:      nc,
		subject: cfg.Name,
		logger:  logger,
		closed:  closed,
	}, nil
}

func (s *Sink) Send(ctx context.Context, payload string) error {
	return s.publish(ctx, "send", []string{payload})
}

func (s *Sink) SendBatch(ctx context.Context, payloads []string) error {
	return s.publish(ctx, "send_batch", payloads)
}

func (s *Sink) publish(ctx context.Context, op string, payloads []string) error {
	for _, p := range payloads {
		if err := s.nc.Publish(s.subject, []byte(p)); err != nil {
			return wrap(op, err)
		}
	}
	ctx, cancel := s.cfg.WithTimeout(ctx)
	defer cancel()
	return wrap(op, s.nc.FlushWithContext(ctx))
}

// Close drains any buffered messages and blocks until the connection has
// closed. If draining takes too long the connection is closed regardless.
func (s *Sink) Close(ctx context.Context) error {
	if s.nc.IsClosed() {
		return nil
	}
	if err := s.nc.Drain(); err != nil {
		s.nc.Close()
		return wrap("close", err)
	}
	ctx, cancel := s.cfg.WithTimeout(ctx)
	defer cancel()
	select {
	case <-s.closed:
		return nil
	case <-ctx.Done():
		s.nc.Close()
		return wrap("close", ctx.Err())
	}
}

func wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, nats.ErrConnectionClosed):
		return &sink.Error{Op: op, Kind: "ConnectionClosed", Err: err}
	case errors.Is(err, nats.ErrMaxPayload):
		return &sink.Error{Op: op, Kind: "MaxPayload", Err: err}
	case errors.Is(err, nats.ErrTimeout):
		return &sink.Error{Op: op, Kind: "Timeout", Err: err}
	}
	return sink.Wrap(op, err)
}
