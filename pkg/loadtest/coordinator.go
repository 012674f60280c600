package loadtest

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/informalsystems/sink-load-test/internal/logging"
	"github.com/informalsystems/sink-load-test/pkg/sink"
)

const (
	coordSinkCloseTimeout = 10 * time.Second
	coordShutdownTimeout  = 5 * time.Second
)

// Coordinator spawns the configured number of workers against a single
// message sink, waits for all of them to finish, closes the sink and reports
// on the run as a whole.
type Coordinator struct {
	cfg        Config
	sink       sink.MessageSink
	logger     logging.Logger
	metrics    *Metrics
	workerOpts []WorkerOption

	svr        *http.Server  // Serves metrics, if so configured.
	svrAddr    net.Addr      // The address on which the metrics server actually listens.
	svrStopped chan struct{} // Closed when the metrics server has shut down.
}

// CoordinatorOption allows us to modify the default behaviour of the
// coordinator.
type CoordinatorOption func(c *Coordinator)

// CoordinatorLogger overrides the coordinator's default logger.
func CoordinatorLogger(logger logging.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// CoordinatorMetrics makes the coordinator and its workers record their
// activity in the given metrics.
func CoordinatorMetrics(m *Metrics) CoordinatorOption {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// CoordinatorWorkerOptions passes the given options through to every worker
// the coordinator spawns.
func CoordinatorWorkerOptions(opts ...WorkerOption) CoordinatorOption {
	return func(c *Coordinator) {
		c.workerOpts = append(c.workerOpts, opts...)
	}
}

func NewCoordinator(cfg Config, s sink.MessageSink, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		cfg:        cfg,
		sink:       s,
		svrStopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.NewLogrusLogger("coordinator")
	}
	if c.metrics == nil {
		c.metrics = NewMetrics()
	}
	c.metrics.setState(runStarting)
	return c
}

// Run will execute the load test in a blocking manner. Cancelling the given
// context stops all workers at their next iteration boundary or suspension.
// Only a failure to start the metrics server results in an error: failures
// to send and to close the sink are logged. The sink is closed in every case.
func (c *Coordinator) Run(ctx context.Context) (*RunSummary, error) {
	if err := c.startMetricsServer(); err != nil {
		c.closeSink()
		return nil, NewError(ErrMetricsServerFailed, err, c.cfg.MetricsBind)
	}
	defer c.shutdownServer()

	startTime := time.Now()
	group := NewWorkerGroup()
	seed := startTime.UnixNano()
	for i := 0; i < c.cfg.Threads; i++ {
		id := makeWorkerID(i)
		opts := []WorkerOption{
			WorkerLogger(c.logger.Named(fmt.Sprintf("worker[%s]", id))),
			WorkerMetrics(c.metrics),
			WorkerSeed(seed + int64(i)),
		}
		opts = append(opts, c.workerOpts...)
		group.Add(NewWorker(id, c.cfg, c.sink, opts...))
	}

	c.logger.Info("Starting workers", "threads", group.Len(), "client", c.cfg.SinkType(), "batchMode", c.cfg.BatchMode)
	c.metrics.setState(runTesting)
	group.Start(ctx)
	summaries := group.Wait()

	c.metrics.setState(runClosing)
	c.closeSink()

	duration := time.Since(startTime)
	c.logger.Info(fmt.Sprintf("Time: %s", duration))
	if ctx.Err() != nil {
		c.logger.Info("Load test cancelled before completion")
	}

	summary := newRunSummary(summaries, duration)
	summary.Log(c.logger)
	c.logger.Debug(fmt.Sprintf("Aggregate statistics: %s", summary.Stats.String()))
	if len(c.cfg.StatsOutputFile) > 0 {
		if err := writeAggregateStats(c.cfg.StatsOutputFile, summary.Stats); err != nil {
			c.logger.Error("Failed to write aggregate statistics", "file", c.cfg.StatsOutputFile, "err", err)
		} else {
			c.logger.Info("Wrote aggregate statistics", "file", c.cfg.StatsOutputFile)
		}
	}
	c.metrics.setState(runCompleted)
	return summary, nil
}

// MetricsAddr returns the address on which metrics are being served, or nil
// if the metrics server is not running.
func (c *Coordinator) MetricsAddr() net.Addr {
	return c.svrAddr
}

func (c *Coordinator) closeSink() {
	// the run context may already have been cancelled, so the sink gets a
	// fresh one
	ctx, cancel := context.WithTimeout(context.Background(), coordSinkCloseTimeout)
	defer cancel()
	if err := c.sink.Close(ctx); err != nil {
		c.logger.Error("Failed to close message sink", "kind", sink.KindOf(err), "err", err)
		return
	}
	c.logger.Debug("Closed message sink")
}

func (c *Coordinator) startMetricsServer() error {
	if len(c.cfg.MetricsBind) == 0 {
		close(c.svrStopped)
		return nil
	}
	ln, err := net.Listen("tcp", c.cfg.MetricsBind)
	if err != nil {
		close(c.svrStopped)
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.metrics.Handler())
	c.svr = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	c.svrAddr = ln.Addr()
	go c.runServer(ln)
	return nil
}

func (c *Coordinator) runServer(ln net.Listener) {
	defer close(c.svrStopped)

	c.logger.Info("Serving metrics", "addr", ln.Addr().String())
	if err := c.svr.Serve(ln); err != nil && err != http.ErrServerClosed {
		c.logger.Error("Metrics server shut down", "err", err)
		return
	}
	c.logger.Debug("Metrics server shut down")
}

// Graceful shutdown for the metrics server.
func (c *Coordinator) shutdownServer() {
	if c.svr == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), coordShutdownTimeout)
	defer cancel()

	if err := c.svr.Shutdown(ctx); err != nil {
		c.logger.Error("Failed to gracefully shut down metrics server", "err", err)
	}
	select {
	case <-c.svrStopped:
	case <-time.After(coordShutdownTimeout):
		c.logger.Error("Failed to shut down within the required time period")
	}
}
