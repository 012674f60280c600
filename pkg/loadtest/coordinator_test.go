package loadtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/informalsystems/sink-load-test/internal/logging"
	"github.com/informalsystems/sink-load-test/pkg/sink/memory"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type closeFailingSink struct {
	*memory.Sink
}

func (s *closeFailingSink) Close(ctx context.Context) error {
	_ = s.Sink.Close(ctx)
	return errors.New("connection reset")
}

func newTestCoordinator(cfg Config, s *memory.Sink, rep Reporter, m *Metrics) *Coordinator {
	return NewCoordinator(cfg, s,
		CoordinatorLogger(logging.NewNoopLogger()),
		CoordinatorMetrics(m),
		CoordinatorWorkerOptions(
			WorkerReporter(rep),
			WorkerLogger(logging.NewNoopLogger()),
			WorkerSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
		),
	)
}

// namingLogger records the contexts of the loggers derived from it.
type namingLogger struct {
	*logging.NoopLogger
	mtx   *sync.Mutex
	names *[]string
}

func (l namingLogger) Named(ctx string, _ ...interface{}) logging.Logger {
	l.mtx.Lock()
	*l.names = append(*l.names, ctx)
	l.mtx.Unlock()
	return l
}

func TestCoordinatorDerivesWorkerLoggers(t *testing.T) {
	cfg := testConfig()
	cfg.Threads = 3
	cfg.BatchMode = false
	cfg.MessagesToSend = 1

	var names []string
	logger := namingLogger{NoopLogger: &logging.NoopLogger{}, mtx: &sync.Mutex{}, names: &names}
	_, err := NewCoordinator(cfg, memory.New(),
		CoordinatorLogger(logger),
		CoordinatorWorkerOptions(WorkerReporter(&recordingReporter{})),
	).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"worker[0000]", "worker[0001]", "worker[0002]"}, names)
}

func TestCoordinatorTwoWorkersSingleMode(t *testing.T) {
	cfg := testConfig()
	cfg.Threads = 2
	cfg.MessageSize = 10
	cfg.MessagesToSend = 5
	cfg.BatchMode = false
	cfg.Checkpoint = 5

	s := memory.New()
	rep := &recordingReporter{}
	m := NewMetrics()
	summary, err := newTestCoordinator(cfg, s, rep, m).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.Workers, 2)
	for i, w := range summary.Workers {
		require.Equal(t, fmt.Sprintf("%04d", i), w.ID)
		require.EqualValues(t, 5, w.Sequence)
		require.EqualValues(t, 5, w.Successes)
		require.EqualValues(t, 0, w.Failures)
	}
	require.Len(t, rep.progress, 2)
	ids := []string{rep.progress[0].WorkerID, rep.progress[1].WorkerID}
	sort.Strings(ids)
	require.Equal(t, []string{"0000", "0001"}, ids)

	require.Len(t, s.Sent(), 10)
	for _, p := range s.Sent() {
		require.Len(t, p, 45)
	}
	require.True(t, s.Closed())

	require.EqualValues(t, 10, summary.Stats.TotalMessages)
	require.EqualValues(t, 10, summary.Stats.TotalDelivered)
	require.EqualValues(t, 450, summary.Stats.TotalBytes)

	require.Equal(t, 10.0, testutil.ToFloat64(m.Attempts))
	require.Equal(t, 10.0, testutil.ToFloat64(m.Delivered))
	require.Equal(t, 10.0, testutil.ToFloat64(m.Requests.WithLabelValues(opSend, resultSuccess)))
	require.Equal(t, 0.0, testutil.ToFloat64(m.ActiveWorkers))
	require.Equal(t, float64(runCompleted), testutil.ToFloat64(m.State))
}

func TestCoordinatorCountsFailuresByKind(t *testing.T) {
	cfg := testConfig()
	cfg.Threads = 3
	cfg.MessagesToSend = 2
	cfg.BatchMode = false

	s := memory.New(memory.FailAlways(context.DeadlineExceeded))
	m := NewMetrics()
	summary, err := newTestCoordinator(cfg, s, &recordingReporter{}, m).Run(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 6, summary.Stats.TotalFailures)
	require.Equal(t, 6.0, testutil.ToFloat64(m.Errors.WithLabelValues(opSend, "Timeout")))
	require.Equal(t, 0.0, testutil.ToFloat64(m.Delivered))
}

func TestCoordinatorCloseFailureIsNotFatal(t *testing.T) {
	cfg := testConfig()
	cfg.MessagesToSend = 3
	cfg.BatchMode = false

	s := &closeFailingSink{Sink: memory.New()}
	coord := NewCoordinator(cfg, s, CoordinatorLogger(logging.NewNoopLogger()), CoordinatorWorkerOptions(WorkerLogger(logging.NewNoopLogger())))
	summary, err := coord.Run(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 3, summary.Stats.TotalDelivered)
	require.True(t, s.Closed())
}

func TestCoordinatorWritesStats(t *testing.T) {
	cfg := testConfig()
	cfg.MessagesToSend = 8
	cfg.BatchSize = 4
	cfg.StatsOutputFile = filepath.Join(t.TempDir(), "stats.csv")

	_, err := newTestCoordinator(cfg, memory.New(), &recordingReporter{}, nil).Run(context.Background())
	require.NoError(t, err)
	b, err := os.ReadFile(cfg.StatsOutputFile)
	require.NoError(t, err)
	require.Contains(t, string(b), "total_delivered,8,count")
}

func TestCoordinatorCancellation(t *testing.T) {
	cfg := testConfig()
	cfg.Threads = 4
	cfg.MessagesToSend = 0

	ctx, cancel := context.WithCancel(context.Background())
	s := memory.New(memory.WithFailures(func(call int, _ []string) error {
		if call == 20 {
			cancel()
		}
		return nil
	}))
	type result struct {
		summary *RunSummary
		err     error
	}
	done := make(chan result, 1)
	go func() {
		summary, err := newTestCoordinator(cfg, s, &recordingReporter{}, nil).Run(ctx)
		done <- result{summary, err}
	}()

	select {
	case res := <-done:
		require.NoError(t, res.err)
		require.Len(t, res.summary.Workers, 4)
		require.True(t, s.Closed())
	case <-time.After(10 * time.Second):
		t.Fatal("coordinator did not stop after cancellation")
	}
}

func TestCoordinatorServesMetrics(t *testing.T) {
	cfg := testConfig()
	cfg.MetricsBind = "127.0.0.1:0"
	coord := newTestCoordinator(cfg, memory.New(), &recordingReporter{}, nil)
	require.NoError(t, coord.startMetricsServer())
	defer coord.shutdownServer()

	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", coord.MetricsAddr().String()))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "sinkloadtest_state")
}

func TestCoordinatorMetricsBindFailure(t *testing.T) {
	cfg := testConfig()
	cfg.MetricsBind = "256.0.0.1:99999"
	s := memory.New()
	_, err := newTestCoordinator(cfg, s, &recordingReporter{}, nil).Run(context.Background())
	require.True(t, IsErrorCode(err, ErrMetricsServerFailed))
	require.Equal(t, 0, s.Calls())
	require.True(t, s.Closed())
}
