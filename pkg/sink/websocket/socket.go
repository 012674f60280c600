package websocket

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultWSWriteTimeout = 10 * time.Second
	defaultWSPingPeriod   = 27 * time.Second
)

var errSocketStopped = errors.New("socket stopped")

// simpleSocket serializes all writes to a websockets connection through a
// single goroutine, since Gorilla connections support only one concurrent
// writer.
type simpleSocket struct {
	conn *websocket.Conn

	flushOnStop      bool
	sendCloseMessage bool
	pingPeriod       time.Duration

	outbound chan websocketWriteRequest
	stop     chan struct{} // Close this to stop the primary event loop.
	stopped  chan struct{} // Closed once the event loop terminates.
}

type websocketWriteRequest struct {
	data     []byte
	deadline time.Time
	resp     chan error
}

type simpleSocketConfig struct {
	outboundBufSize  int           // The maximum size of the outbound message buffer.
	flushOnStop      bool          // Should we try to flush any remaining outbound messages when the Run operation is stopped?
	sendCloseMessage bool          // Should we send a close message when the Run operation is stopped?
	pingPeriod       time.Duration // How often to ping the server to keep the connection alive.
}

func defaultSimpleSocketConfig() *simpleSocketConfig {
	return &simpleSocketConfig{
		outboundBufSize:  100,
		flushOnStop:      true,
		sendCloseMessage: true,
		pingPeriod:       defaultWSPingPeriod,
	}
}

type simpleSocketOpt func(cfg *simpleSocketConfig)

func ssOutboundBufSize(size int) simpleSocketOpt {
	return func(cfg *simpleSocketConfig) {
		cfg.outboundBufSize = size
	}
}

func ssPingPeriod(d time.Duration) simpleSocketOpt {
	return func(cfg *simpleSocketConfig) {
		cfg.pingPeriod = d
	}
}

func newSimpleSocket(conn *websocket.Conn, opts ...simpleSocketOpt) *simpleSocket {
	cfg := defaultSimpleSocketConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return &simpleSocket{
		conn:             conn,
		outbound:         make(chan websocketWriteRequest, cfg.outboundBufSize),
		stop:             make(chan struct{}),
		stopped:          make(chan struct{}),
		flushOnStop:      cfg.flushOnStop,
		sendCloseMessage: cfg.sendCloseMessage,
		pingPeriod:       cfg.pingPeriod,
	}
}

// Run is a blocking operation, and executes all of the socket's writes in the
// calling goroutine. It runs until Stop is called from a separate goroutine.
func (s *simpleSocket) Run() {
	defer func() {
		s.close()
		close(s.stopped)
	}()

	pingTicker := time.NewTicker(s.pingPeriod)
	defer pingTicker.Stop()

	for {
		select {
		case req := <-s.outbound:
			s.handleWrite(req)

		case <-pingTicker.C:
			_ = s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(defaultWSWriteTimeout))

		case <-s.stop:
			return
		}
	}
}

// Write queues the given data as a text frame and blocks until it has been
// written, the context expires or the socket is stopped.
func (s *simpleSocket) Write(ctx context.Context, data []byte) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWSWriteTimeout)
	}
	req := websocketWriteRequest{
		data:     data,
		deadline: deadline,
		resp:     make(chan error, 1),
	}
	select {
	case s.outbound <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return errSocketStopped
	}
	select {
	case err := <-req.resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		// the final flush may still have written it
		select {
		case err := <-req.resp:
			return err
		default:
			return errSocketStopped
		}
	}
}

// Stop will end Run's event loop and block until it has completely stopped.
func (s *simpleSocket) Stop() {
	close(s.stop)
	<-s.stopped
}

func (s *simpleSocket) handleWrite(req websocketWriteRequest) {
	_ = s.conn.SetWriteDeadline(req.deadline)
	req.resp <- s.conn.WriteMessage(websocket.TextMessage, req.data)
}

func (s *simpleSocket) close() {
	if s.flushOnStop {
		remaining := len(s.outbound)
		for i := 0; i < remaining; i++ {
			req := <-s.outbound
			req.deadline = time.Now().Add(defaultWSWriteTimeout)
			s.handleWrite(req)
		}
	}
	if s.sendCloseMessage {
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(defaultWSWriteTimeout),
		)
	}
}
