package loadtest

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAggregateStatsCompute(t *testing.T) {
	testCases := []struct {
		stats          AggregateStats
		expMessageRate float64
		expDataRate    float64
	}{
		{AggregateStats{}, 0, 0},
		{AggregateStats{TotalDelivered: 100, TotalBytes: 1000, TotalTimeSeconds: 0}, 0, 0},
		{AggregateStats{TotalDelivered: 100, TotalBytes: 1000, TotalTimeSeconds: 2}, 50, 500},
		{AggregateStats{TotalMessages: 100, TotalDelivered: 40, TotalBytes: 400, TotalTimeSeconds: 4}, 10, 100},
	}
	for i, tc := range testCases {
		tc.stats.Compute()
		require.InDelta(t, tc.expMessageRate, tc.stats.AvgMessageRate, 1e-9, "test case %d", i)
		require.InDelta(t, tc.expDataRate, tc.stats.AvgDataRate, 1e-9, "test case %d", i)
	}
}

func TestRunSummaryAggregatesWorkers(t *testing.T) {
	s := newRunSummary([]WorkerSummary{
		{ID: "0000", Sequence: 10, Successes: 3, Failures: 1, Delivered: 10, Bytes: 450, Pending: 0},
		{ID: "0001", Sequence: 10, Successes: 2, Failures: 2, Delivered: 8, Bytes: 360, Pending: 2, Dropped: 1},
	}, 2*time.Second)

	require.EqualValues(t, 20, s.Stats.TotalMessages)
	require.EqualValues(t, 5, s.Stats.TotalSuccesses)
	require.EqualValues(t, 3, s.Stats.TotalFailures)
	require.EqualValues(t, 18, s.Stats.TotalDelivered)
	require.EqualValues(t, 810, s.Stats.TotalBytes)
	require.EqualValues(t, 2, s.Stats.TotalPending)
	require.EqualValues(t, 1, s.Stats.TotalDropped)
	require.InDelta(t, 9.0, s.Stats.AvgMessageRate, 1e-9)
	require.InDelta(t, 405.0, s.Stats.AvgDataRate, 1e-9)
}

func TestWriteAggregateStats(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "stats.csv")
	err := writeAggregateStats(filename, AggregateStats{
		TotalMessages:    20,
		TotalDelivered:   20,
		TotalSuccesses:   20,
		TotalBytes:       900,
		TotalTimeSeconds: 2,
	})
	require.NoError(t, err)

	f, err := os.Open(filename)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, records, 11)
	require.Equal(t, []string{"Parameter", "Value", "Units"}, records[0])
	values := make(map[string]string)
	for _, rec := range records[1:] {
		require.Len(t, rec, 3)
		values[rec[0]] = rec[1]
	}
	require.Equal(t, "2.000", values["total_time"])
	require.Equal(t, "20", values["total_messages"])
	require.Equal(t, "900", values["total_bytes"])
	require.Equal(t, "10.000000", values["avg_message_rate"])
	require.Equal(t, "450.000000", values["avg_data_rate"])
}
