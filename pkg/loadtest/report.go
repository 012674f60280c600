package loadtest

import (
	"fmt"
	"time"

	"github.com/informalsystems/sink-load-test/internal/logging"
	"github.com/informalsystems/sink-load-test/pkg/sink"
)

// ProgressReport is emitted by a worker at each checkpoint (single-send mode)
// or after each successful batch flush (batch mode).
type ProgressReport struct {
	WorkerID      string
	Sequence      int64         // The worker's sequence counter at the time of the report.
	Quota         int64         // The worker's message quota (0 if unbounded).
	BatchSize     int           // The number of messages in the flushed batch (0 in single-send mode).
	Messages      int           // The number of messages delivered in this reporting window.
	Lag           time.Duration // Time since the worker's lag timer was last reset.
	TransportTime time.Duration // Time spent waiting on the sink during this window.
	Delay         time.Duration // The configured inter-send delay.
	NominalRate   float64       // Messages/sec over transport time alone.
	EffectiveRate float64       // Messages/sec over transport time plus the configured delay.
}

// FailureReport is emitted by a worker on every failed send or batch send.
type FailureReport struct {
	WorkerID  string
	Op        string // "send" or "send_batch".
	Sequence  int64
	Kind      string // A short classification of the failure.
	Message   string // The underlying error message, if one is available.
	Successes int64
	Failures  int64
	Pending   int           // The number of payloads held in the batch buffer (batch mode).
	Lag       time.Duration // Time spent on the failed attempt alone.
}

// Reporter receives the reports emitted by workers. Reports are purely
// informational: they never influence a worker's control flow. Reporters
// must be safe for concurrent use.
type Reporter interface {
	Progress(r ProgressReport)
	Failure(r FailureReport)
}

// NewProgressReport computes a progress report from a worker's counters.
func NewProgressReport(workerID string, seq, quota int64, batchSize, messages int, lag, transport, delay time.Duration) ProgressReport {
	r := ProgressReport{
		WorkerID:      workerID,
		Sequence:      seq,
		Quota:         quota,
		BatchSize:     batchSize,
		Messages:      messages,
		Lag:           lag,
		TransportTime: transport,
		Delay:         delay,
	}
	if transport > 0 {
		r.NominalRate = float64(messages) / transport.Seconds()
	}
	if transport+delay > 0 {
		r.EffectiveRate = float64(messages) / (transport + delay).Seconds()
	}
	return r
}

// NewFailureReport computes a failure report from a worker's counters and the
// error returned by the sink.
func NewFailureReport(workerID, op string, seq, successes, failures int64, pending int, lag time.Duration, err error) FailureReport {
	r := FailureReport{
		WorkerID:  workerID,
		Op:        op,
		Sequence:  seq,
		Kind:      sink.KindOf(err),
		Successes: successes,
		Failures:  failures,
		Pending:   pending,
		Lag:       lag,
	}
	if err != nil {
		r.Message = err.Error()
	}
	return r
}

func (r ProgressReport) quotaString() string {
	if r.Quota == 0 {
		return "unbounded"
	}
	return fmt.Sprintf("%d", r.Quota)
}

// Log writes the report to the given logger.
func (r ProgressReport) Log(logger logging.Logger) {
	kvpairs := []interface{}{
		"sent", fmt.Sprintf("%d / %s", r.Sequence, r.quotaString()),
		"messages", r.Messages,
		"speed", fmt.Sprintf("%.2f msg/sec", r.NominalRate),
		"effectiveSpeed", fmt.Sprintf("%.2f msg/sec", r.EffectiveRate),
		"sendingLag", r.Lag,
	}
	if r.BatchSize > 0 {
		kvpairs = append(kvpairs, "batchSize", r.BatchSize)
	}
	logger.Info("Progress", kvpairs...)
}

// Log writes the report to the given logger at error level.
func (r FailureReport) Log(logger logging.Logger) {
	kvpairs := []interface{}{
		"messageNumber", r.Sequence,
		"kind", r.Kind,
		"successfulRequests", r.Successes,
		"failedRequests", r.Failures,
		"sendingLag", r.Lag,
	}
	if r.Op == opSendBatch {
		kvpairs = append(kvpairs, "pending", r.Pending)
	}
	if len(r.Message) > 0 {
		kvpairs = append(kvpairs, "err", r.Message)
	}
	logger.Error(fmt.Sprintf("Failed to %s", r.Op), kvpairs...)
}

// logReporter writes reports to a worker's logger.
type logReporter struct {
	logger logging.Logger
}

var _ Reporter = (*logReporter)(nil)

func (l *logReporter) Progress(r ProgressReport) { r.Log(l.logger) }
func (l *logReporter) Failure(r FailureReport)   { r.Log(l.logger) }
