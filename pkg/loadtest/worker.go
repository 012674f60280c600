package loadtest

import (
	"context"
	"fmt"
	"time"

	"github.com/informalsystems/sink-load-test/internal/logging"
	"github.com/informalsystems/sink-load-test/pkg/sink"
)

const (
	opSend      = "send"
	opSendBatch = "send_batch"
)

// Worker synthesizes payloads and pushes them through a message sink until it
// reaches its quota or its context is cancelled. A worker's state is owned
// exclusively by the goroutine executing Run.
type Worker struct {
	id       string
	cfg      Config
	sink     sink.MessageSink
	gen      *PayloadGenerator
	logger   logging.Logger
	reporter Reporter
	metrics  *Metrics
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

// WorkerOption allows us to modify the default behaviour of a worker.
type WorkerOption func(w *Worker)

// workerState holds the counters for a single worker's run.
type workerState struct {
	seq       int64
	successes int64
	failures  int64
	delivered int64 // Payloads accepted by the sink.
	bytes     int64 // Total size of the payloads accepted by the sink.
	dropped   int64 // Payloads discarded because the batch buffer was full.
	pending   []string

	startTime time.Time
	lagStart  time.Time

	// Accumulated since the last progress report (single-send mode).
	windowMessages  int
	windowTransport time.Duration
}

// WorkerReporter overrides where the worker's progress and failure reports go.
// By default they're written to the worker's logger.
func WorkerReporter(r Reporter) WorkerOption {
	return func(w *Worker) {
		w.reporter = r
	}
}

// WorkerMetrics makes the worker record its activity in the given metrics.
func WorkerMetrics(m *Metrics) WorkerOption {
	return func(w *Worker) {
		w.metrics = m
	}
}

// WorkerSleeper replaces the function used to suspend the worker after a
// checkpoint or a failure.
func WorkerSleeper(sleep func(ctx context.Context, d time.Duration) error) WorkerOption {
	return func(w *Worker) {
		w.sleep = sleep
	}
}

// WorkerLogger overrides the worker's default logger.
func WorkerLogger(logger logging.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logger
	}
}

// WorkerClock replaces the worker's source of the current time.
func WorkerClock(now func() time.Time) WorkerOption {
	return func(w *Worker) {
		w.now = now
	}
}

// WorkerSeed seeds the worker's payload generator.
func WorkerSeed(seed int64) WorkerOption {
	return func(w *Worker) {
		w.gen = NewPayloadGenerator(w.cfg.MessageSize, seed)
	}
}

// NewWorker creates a worker with the given ID that will send to the given
// sink.
func NewWorker(id string, cfg Config, s sink.MessageSink, opts ...WorkerOption) *Worker {
	w := &Worker{
		id:    id,
		cfg:   cfg,
		sink:  s,
		gen:   NewPayloadGenerator(cfg.MessageSize, time.Now().UnixNano()),
		sleep: sleepContext,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logging.NewLogrusLogger(fmt.Sprintf("worker[%s]", id))
	}
	if w.reporter == nil {
		w.reporter = &logReporter{logger: w.logger}
	}
	return w
}

// makeWorkerID formats the worker's ID from its zero-based index.
func makeWorkerID(idx int) string {
	return fmt.Sprintf("%04d", idx)
}

func (w *Worker) ID() string {
	return w.id
}

// Run executes the worker's send loop, blocking until the worker reaches its
// quota or the given context is cancelled. It returns a summary of the
// worker's activity.
func (w *Worker) Run(ctx context.Context) WorkerSummary {
	w.metrics.workerStarted()
	defer w.metrics.workerStopped()

	now := w.now()
	st := &workerState{
		startTime: now,
		lagStart:  now,
		pending:   w.newBuffer(),
	}
	w.logger.Debug("Starting worker", "quota", w.cfg.MessagesToSend, "batchMode", w.cfg.BatchMode)

	for w.cfg.unbounded() || st.seq < w.quota() {
		if ctx.Err() != nil {
			w.logger.Info("Worker cancelled", "messageNumber", st.seq)
			break
		}
		st.seq++
		payload := w.gen.Next()
		w.metrics.observeAttempt()

		var err error
		if w.cfg.BatchMode {
			err = w.stepBatch(ctx, st, payload)
		} else {
			err = w.stepSingle(ctx, st, payload)
		}
		if err != nil {
			// only a cancelled suspension gets us here
			w.logger.Info("Worker cancelled", "messageNumber", st.seq)
			break
		}
	}

	summary := WorkerSummary{
		ID:        w.id,
		Sequence:  st.seq,
		Successes: st.successes,
		Failures:  st.failures,
		Delivered: st.delivered,
		Bytes:     st.bytes,
		Pending:   len(st.pending),
		Dropped:   st.dropped,
		Elapsed:   w.now().Sub(st.startTime),
	}
	summary.Log(w.logger)
	return summary
}

func (w *Worker) quota() int64 {
	return int64(w.cfg.MessagesToSend)
}

// hasMore reports whether the worker still has messages to send after the
// current one.
func (w *Worker) hasMore(st *workerState) bool {
	return w.cfg.unbounded() || st.seq < w.quota()
}

func (w *Worker) newBuffer() []string {
	if !w.cfg.BatchMode {
		return nil
	}
	return make([]string, 0, w.cfg.BatchSize)
}

func (w *Worker) stepSingle(ctx context.Context, st *workerState, payload string) error {
	start := w.now()
	err := w.sink.Send(ctx, payload)
	elapsed := w.now().Sub(start)
	w.metrics.observeRequest(opSend, 1, elapsed, sink.KindOf(err), err != nil)

	if err != nil {
		// the payload is dropped: single sends are never retried
		st.failures++
		w.reporter.Failure(NewFailureReport(w.id, opSend, st.seq, st.successes, st.failures, 0, elapsed, err))
		return w.backoff(ctx, st)
	}

	st.successes++
	st.delivered++
	st.bytes += int64(len(payload))
	st.windowMessages++
	st.windowTransport += elapsed

	if st.seq%int64(w.cfg.Checkpoint) != 0 {
		return nil
	}
	w.reporter.Progress(NewProgressReport(
		w.id,
		st.seq,
		w.quota(),
		0,
		st.windowMessages,
		w.now().Sub(st.lagStart),
		st.windowTransport,
		w.cfg.Delay.Duration(),
	))
	st.windowMessages = 0
	st.windowTransport = 0
	st.lagStart = w.now()
	return w.pace(ctx, st)
}

func (w *Worker) stepBatch(ctx context.Context, st *workerState, payload string) error {
	if len(st.pending) < w.cfg.BatchSize {
		st.pending = append(st.pending, payload)
	} else {
		// the buffer still holds a batch that failed to send
		st.dropped++
		w.metrics.observeDropped()
		w.logger.Debug("Batch buffer full, discarding payload", "messageNumber", st.seq)
	}
	if len(st.pending) < w.cfg.BatchSize && w.hasMore(st) {
		return nil
	}

	start := w.now()
	err := w.sink.SendBatch(ctx, st.pending)
	elapsed := w.now().Sub(start)
	w.metrics.observeRequest(opSendBatch, len(st.pending), elapsed, sink.KindOf(err), err != nil)

	if err != nil {
		// keep the buffer so that the next iteration retries the same batch
		st.failures++
		w.reporter.Failure(NewFailureReport(w.id, opSendBatch, st.seq, st.successes, st.failures, len(st.pending), elapsed, err))
		return w.backoff(ctx, st)
	}

	flushed := len(st.pending)
	st.successes++
	st.delivered += int64(flushed)
	for _, p := range st.pending {
		st.bytes += int64(len(p))
	}
	w.reporter.Progress(NewProgressReport(
		w.id,
		st.seq,
		w.quota(),
		flushed,
		flushed,
		w.now().Sub(st.lagStart),
		elapsed,
		w.cfg.Delay.Duration(),
	))
	st.pending = w.newBuffer()
	st.lagStart = w.now()
	return w.pace(ctx, st)
}

// pace suspends the worker for the configured delay after a checkpoint, as
// long as there are more messages to send.
func (w *Worker) pace(ctx context.Context, st *workerState) error {
	if !w.hasMore(st) || w.cfg.Delay <= 0 {
		return nil
	}
	return w.sleep(ctx, w.cfg.Delay.Duration())
}

// backoff suspends the worker after a failed send, as long as there are more
// messages to send.
func (w *Worker) backoff(ctx context.Context, st *workerState) error {
	if !w.hasMore(st) || w.cfg.FailureBackoff <= 0 {
		return nil
	}
	return w.sleep(ctx, w.cfg.FailureBackoff.Duration())
}

// sleepContext blocks for the given duration, or until the context is
// cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
