package loadtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/informalsystems/sink-load-test/pkg/sink"
	"github.com/stretchr/testify/require"
)

func TestNewProgressReportRates(t *testing.T) {
	testCases := []struct {
		messages     int
		transport    time.Duration
		delay        time.Duration
		expNominal   float64
		expEffective float64
	}{
		{100, time.Second, 0, 100, 100},
		{100, time.Second, time.Second, 100, 50},
		{10, 0, 0, 0, 0},
		{10, 0, 500 * time.Millisecond, 0, 20},
	}
	for i, tc := range testCases {
		r := NewProgressReport("0000", 100, 1000, 0, tc.messages, time.Second, tc.transport, tc.delay)
		require.InDelta(t, tc.expNominal, r.NominalRate, 1e-9, "test case %d", i)
		require.InDelta(t, tc.expEffective, r.EffectiveRate, 1e-9, "test case %d", i)
	}
}

func TestNewFailureReport(t *testing.T) {
	r := NewFailureReport("0001", opSendBatch, 7, 2, 1, 4, time.Second, sink.Wrap(opSendBatch, context.DeadlineExceeded))
	require.Equal(t, "Timeout", r.Kind)
	require.Equal(t, 4, r.Pending)
	require.Contains(t, r.Message, "deadline exceeded")

	r = NewFailureReport("0001", opSend, 7, 2, 1, 0, time.Second, &sink.Error{Op: opSend, Kind: "QuotaExceeded"})
	require.Equal(t, "QuotaExceeded", r.Kind)

	r = NewFailureReport("0001", opSend, 7, 2, 1, 0, time.Second, errors.New("boom"))
	require.Equal(t, "boom", r.Message)
}

func TestProgressReportQuotaString(t *testing.T) {
	require.Equal(t, "unbounded", ProgressReport{}.quotaString())
	require.Equal(t, "10", ProgressReport{Quota: 10}.quotaString())
}
