package loadtest

import (
	"time"

	"github.com/informalsystems/sink-load-test/internal/logging"
)

// WorkerSummary is a snapshot of a single worker's counters, taken once the
// worker has finished.
type WorkerSummary struct {
	ID        string
	Sequence  int64         // How many payloads the worker synthesized.
	Successes int64         // Successful sends (single-send mode) or batch flushes (batch mode).
	Failures  int64         // Failed sends or batch flushes.
	Delivered int64         // How many payloads the sink accepted.
	Bytes     int64         // The cumulative size of the payloads the sink accepted.
	Pending   int           // Payloads still in the batch buffer when the worker stopped.
	Dropped   int64         // Payloads discarded because the batch buffer was full.
	Elapsed   time.Duration // How long the worker ran for.
}

// Log will output the given worker summary using the specified logger.
func (s WorkerSummary) Log(logger logging.Logger) {
	kvpairs := []interface{}{
		"messages", s.Sequence,
		"successfulRequests", s.Successes,
		"failedRequests", s.Failures,
		"delivered", s.Delivered,
		"elapsed", s.Elapsed,
	}
	if s.Dropped > 0 {
		kvpairs = append(kvpairs, "dropped", s.Dropped)
	}
	if s.Pending > 0 {
		kvpairs = append(kvpairs, "unflushed", s.Pending)
	}
	logger.Info("Worker finished", kvpairs...)
}

// RunSummary aggregates the summaries of all of the workers in a run.
type RunSummary struct {
	Workers  []WorkerSummary
	Duration time.Duration // Wall-clock time from spawning the first worker to closing the sink.
	Stats    AggregateStats
}

func newRunSummary(workers []WorkerSummary, duration time.Duration) *RunSummary {
	s := &RunSummary{
		Workers:  workers,
		Duration: duration,
	}
	s.Stats.TotalTimeSeconds = duration.Seconds()
	for _, w := range workers {
		s.Stats.TotalMessages += w.Sequence
		s.Stats.TotalSuccesses += w.Successes
		s.Stats.TotalFailures += w.Failures
		s.Stats.TotalDelivered += w.Delivered
		s.Stats.TotalBytes += w.Bytes
		s.Stats.TotalPending += int64(w.Pending)
		s.Stats.TotalDropped += w.Dropped
	}
	s.Stats.Compute()
	return s
}

// Log will output the run summary using the specified logger.
func (s *RunSummary) Log(logger logging.Logger) {
	logger.Info(
		"Load test summary",
		"workers", len(s.Workers),
		"messages", s.Stats.TotalMessages,
		"delivered", s.Stats.TotalDelivered,
		"successfulRequests", s.Stats.TotalSuccesses,
		"failedRequests", s.Stats.TotalFailures,
		"unflushed", s.Stats.TotalPending,
		"dropped", s.Stats.TotalDropped,
		"totalTestTime", s.Duration,
	)
}
