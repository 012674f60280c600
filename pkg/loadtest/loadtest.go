package loadtest

import (
	"context"
	"fmt"

	"github.com/informalsystems/sink-load-test/internal/logging"
	"github.com/informalsystems/sink-load-test/pkg/sink"
	uuid "github.com/satori/go.uuid"
)

// executeLoadTest constructs the configured message sink and drives a full
// load test run against it. Any error returned is an *Error.
func executeLoadTest(cfg Config) error {
	runID := uuid.NewV4().String()
	logger := logging.NewLogrusLogger("loadtest", "run", runID)

	sinkType := cfg.SinkType()
	if !sink.Exists(sinkType) {
		logger.Error("Unknown client type", "client", cfg.Client)
		return NewError(ErrUnknownSinkType, nil, cfg.Client)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", "err", err)
		return NewError(ErrInvalidConfig, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// we want to know if the user hits Ctrl+Break
	cancelTrap := trapInterrupts(cancel, logger)
	defer close(cancelTrap)

	logger.Info("Connecting to message sink", "client", sinkType, "name", cfg.Name)
	s, err := sink.New(ctx, sinkType, cfg.SinkConfig())
	if err != nil {
		logger.Error("Failed to set up message sink", "client", sinkType, "err", err)
		return NewError(ErrSinkSetupFailed, err, string(sinkType))
	}

	logger.Info("Initiating load test", "threads", cfg.Threads, "messages", cfg.MessagesToSend, "size", PayloadSize(cfg.MessageSize))
	coord := NewCoordinator(cfg, s, CoordinatorLogger(logger.Named("coordinator")))
	if _, err := coord.Run(ctx); err != nil {
		logger.Error("Failed to execute load test", "err", err)
		return err
	}
	if ctx.Err() != nil {
		return NewError(ErrKilled, ctx.Err())
	}
	logger.Info(fmt.Sprintf("Load test complete! (%s)", sinkType))
	return nil
}
