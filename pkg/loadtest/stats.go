package loadtest

import (
	"encoding/csv"
	"fmt"
	"os"
)

type AggregateStats struct {
	TotalMessages    int64   // The total number of payloads synthesized.
	TotalDelivered   int64   // The total number of payloads accepted by the sink.
	TotalSuccesses   int64   // Successful sends or batch flushes.
	TotalFailures    int64   // Failed sends or batch flushes.
	TotalPending     int64   // Payloads left unflushed in batch buffers.
	TotalDropped     int64   // Payloads discarded while a batch buffer was full.
	TotalBytes       int64   // The cumulative number of payload bytes accepted by the sink.
	TotalTimeSeconds float64 // The total time taken by the run.

	// Computed statistics
	AvgMessageRate float64 // The rate at which payloads were delivered (msg/sec).
	AvgDataRate    float64 // The rate at which payload data was delivered (bytes/sec).
}

func (s *AggregateStats) String() string {
	return fmt.Sprintf(
		"AggregateStats{TotalTimeSeconds: %.3f, TotalMessages: %d, TotalDelivered: %d, TotalSuccesses: %d, TotalFailures: %d, TotalBytes: %d, AvgMessageRate: %.6f, AvgDataRate: %.6f}",
		s.TotalTimeSeconds,
		s.TotalMessages,
		s.TotalDelivered,
		s.TotalSuccesses,
		s.TotalFailures,
		s.TotalBytes,
		s.AvgMessageRate,
		s.AvgDataRate,
	)
}

func (s *AggregateStats) Compute() {
	s.AvgMessageRate = 0
	s.AvgDataRate = 0
	if s.TotalTimeSeconds > 0.0 {
		s.AvgMessageRate = float64(s.TotalDelivered) / s.TotalTimeSeconds
		s.AvgDataRate = float64(s.TotalBytes) / s.TotalTimeSeconds
	}
}

func writeAggregateStats(filename string, stats AggregateStats) error {
	stats.Compute()
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	records := [][]string{
		{"Parameter", "Value", "Units"},
		{"total_time", fmt.Sprintf("%.3f", stats.TotalTimeSeconds), "seconds"},
		{"total_messages", fmt.Sprintf("%d", stats.TotalMessages), "count"},
		{"total_delivered", fmt.Sprintf("%d", stats.TotalDelivered), "count"},
		{"total_successes", fmt.Sprintf("%d", stats.TotalSuccesses), "count"},
		{"total_failures", fmt.Sprintf("%d", stats.TotalFailures), "count"},
		{"total_unflushed", fmt.Sprintf("%d", stats.TotalPending), "count"},
		{"total_dropped", fmt.Sprintf("%d", stats.TotalDropped), "count"},
		{"total_bytes", fmt.Sprintf("%d", stats.TotalBytes), "bytes"},
		{"avg_message_rate", fmt.Sprintf("%.6f", stats.AvgMessageRate), "messages per second"},
		{"avg_data_rate", fmt.Sprintf("%.6f", stats.AvgDataRate), "bytes per second"},
	}
	// WriteAll flushes
	if err := w.WriteAll(records); err != nil {
		return err
	}
	return f.Close()
}
