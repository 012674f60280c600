// Package memory provides an in-process message sink. It records everything
// sent to it, can simulate latency and scripted failures, and is used for dry
// runs of the load generator as well as in tests.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/informalsystems/sink-load-test/pkg/sink"
)

// FailureFunc decides whether the given call should fail. Calls are numbered
// from 1 across both Send and SendBatch. Returning nil lets the call succeed.
type FailureFunc func(call int, payloads []string) error

// Sink is an in-memory MessageSink.
type Sink struct {
	latency  time.Duration
	failFunc FailureFunc

	mtx      sync.Mutex
	calls    int
	sent     []string   // Every payload accepted via Send.
	batches  [][]string // Every batch accepted via SendBatch.
	attempts [][]string // Every call, successful or not, in order.
	closed   bool
}

var _ sink.MessageSink = (*Sink)(nil)

// Option modifies the default behaviour of the sink.
type Option func(s *Sink)

// WithLatency makes every call take at least the given time.
func WithLatency(d time.Duration) Option {
	return func(s *Sink) {
		s.latency = d
	}
}

// WithFailures scripts which calls fail.
func WithFailures(f FailureFunc) Option {
	return func(s *Sink) {
		s.failFunc = f
	}
}

// FailAlways makes every call fail with the given error.
func FailAlways(err error) Option {
	return WithFailures(func(int, []string) error { return err })
}

// New creates an empty in-memory sink.
func New(opts ...Option) *Sink {
	s := &Sink{
		sent:     make([]string, 0),
		batches:  make([][]string, 0),
		attempts: make([][]string, 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func init() {
	sink.MustRegister(sink.Memory, func(_ context.Context, cfg sink.Config) (sink.MessageSink, error) {
		var opts []Option
		// for dry runs the connection string may carry a simulated latency,
		// e.g. "5ms"
		if len(cfg.ConnectionString) > 0 {
			d, err := time.ParseDuration(cfg.ConnectionString)
			if err != nil {
				return nil, err
			}
			opts = append(opts, WithLatency(d))
		}
		return New(opts...), nil
	})
}

func (s *Sink) Send(ctx context.Context, payload string) error {
	return s.call(ctx, "send", []string{payload}, false)
}

func (s *Sink) SendBatch(ctx context.Context, payloads []string) error {
	// take a copy, since the caller owns the slice
	batch := make([]string, len(payloads))
	copy(batch, payloads)
	return s.call(ctx, "send_batch", batch, true)
}

func (s *Sink) call(ctx context.Context, op string, payloads []string, isBatch bool) error {
	if s.latency > 0 {
		select {
		case <-time.After(s.latency):
		case <-ctx.Done():
			return sink.Wrap(op, ctx.Err())
		}
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.closed {
		return &sink.Error{Op: op, Kind: "Closed"}
	}
	s.calls++
	s.attempts = append(s.attempts, payloads)
	if s.failFunc != nil {
		if err := s.failFunc(s.calls, payloads); err != nil {
			return sink.Wrap(op, err)
		}
	}
	if isBatch {
		s.batches = append(s.batches, payloads)
	} else {
		s.sent = append(s.sent, payloads...)
	}
	return nil
}

func (s *Sink) Close(_ context.Context) error {
	s.mtx.Lock()
	s.closed = true
	s.mtx.Unlock()
	return nil
}

// Sent returns a copy of all payloads accepted via Send.
func (s *Sink) Sent() []string {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	res := make([]string, len(s.sent))
	copy(res, s.sent)
	return res
}

// Batches returns all batches accepted via SendBatch.
func (s *Sink) Batches() [][]string {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	res := make([][]string, len(s.batches))
	copy(res, s.batches)
	return res
}

// Attempts returns the payloads of every call made to the sink, including
// failed ones, in the order in which they were made.
func (s *Sink) Attempts() [][]string {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	res := make([][]string, len(s.attempts))
	copy(res, s.attempts)
	return res
}

// Calls returns the total number of Send and SendBatch calls received.
func (s *Sink) Calls() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.calls
}

// Closed reports whether Close has been called.
func (s *Sink) Closed() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.closed
}

func (s *Sink) String() string {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return "memory.Sink{calls: " + strconv.Itoa(s.calls) + "}"
}
