// Package websocket streams payloads as text frames over a websockets
// connection.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/informalsystems/sink-load-test/internal/logging"
	"github.com/informalsystems/sink-load-test/pkg/sink"
)

// Sink writes each payload as a single text frame. All workers share one
// connection, whose writes are serialized by a single goroutine.
type Sink struct {
	cfg    sink.Config
	conn   *websocket.Conn
	socket *simpleSocket
	logger logging.Logger

	closeOnce sync.Once
	closeErr  error
}

var _ sink.MessageSink = (*Sink)(nil)

func init() {
	sink.MustRegister(sink.WebSocket, func(ctx context.Context, cfg sink.Config) (sink.MessageSink, error) {
		return New(ctx, cfg)
	})
}

// New dials the ws:// or wss:// URL given by the connection string.
func New(ctx context.Context, cfg sink.Config) (*Sink, error) {
	if len(cfg.ConnectionString) == 0 {
		return nil, fmt.Errorf("a websockets URL is required")
	}
	dialer := &websocket.Dialer{
		HandshakeTimeout: cfg.Timeout(),
	}
	dctx, cancel := cfg.WithTimeout(ctx)
	defer cancel()
	conn, _, err := dialer.DialContext(dctx, cfg.ConnectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.ConnectionString, err)
	}
	logger := logging.NewLogrusLogger(fmt.Sprintf("sink[%s]", sink.WebSocket), "url", cfg.ConnectionString)
	logger.Info("Connected to websockets server")
	return newSink(cfg, conn, logger), nil
}

func newSink(cfg sink.Config, conn *websocket.Conn, logger logging.Logger, opts ...simpleSocketOpt) *Sink {
	s := &Sink{
		cfg:    cfg,
		conn:   conn,
		socket: newSimpleSocket(conn, opts...),
		logger: logger,
	}
	go s.socket.Run()
	return s
}

func (s *Sink) Send(ctx context.Context, payload string) error {
	ctx, cancel := s.cfg.WithTimeout(ctx)
	defer cancel()
	return s.wrap("send", s.socket.Write(ctx, []byte(payload)))
}

// SendBatch writes the payloads as consecutive frames, stopping at the first
// failure.
func (s *Sink) SendBatch(ctx context.Context, payloads []string) error {
	ctx, cancel := s.cfg.WithTimeout(ctx)
	defer cancel()
	for _, p := range payloads {
		if err := s.socket.Write(ctx, []byte(p)); err != nil {
			return s.wrap("send_batch", err)
		}
	}
	return nil
}

// Close flushes any queued frames, sends a close message and closes the
// underlying connection.
func (s *Sink) Close(_ context.Context) error {
	s.closeOnce.Do(func() {
		s.socket.Stop()
		s.closeErr = s.conn.Close()
	})
	return sink.Wrap("close", s.closeErr)
}

func (s *Sink) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, errSocketStopped) {
		return &sink.Error{Op: op, Kind: "Closed", Err: err}
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return &sink.Error{Op: op, Kind: fmt.Sprintf("Close%d", ce.Code), Err: err}
	}
	return sink.Wrap(op, err)
}
