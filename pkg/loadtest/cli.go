package loadtest

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/informalsystems/sink-load-test/internal/logging"
	"github.com/informalsystems/sink-load-test/pkg/receiver"
	"github.com/informalsystems/sink-load-test/pkg/sink"
	"github.com/informalsystems/sink-load-test/pkg/timeutils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// CLIConfig allows developers to customize their own load testing tool.
type CLIConfig struct {
	AppName       string
	AppShortDesc  string
	AppLongDesc   string
	DefaultClient string // The sink type to use if none is given on the command line.
	DefaultSource string // The source type for the receive command.
}

var (
	flagVerbose    bool
	flagConfigFile string
)

// millisValue exposes a duration as an integer number of milliseconds on the
// command line.
type millisValue timeutils.ParseableDuration

var _ pflag.Value = (*millisValue)(nil)

func (m *millisValue) String() string {
	return strconv.FormatInt(time.Duration(*m).Milliseconds(), 10)
}

func (m *millisValue) Set(s string) error {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("expected a number of milliseconds: %w", err)
	}
	*m = millisValue(time.Duration(ms) * time.Millisecond)
	return nil
}

func (m *millisValue) Type() string {
	return "millis"
}

func buildCLI(cli *CLIConfig, logger logging.Logger) *cobra.Command {
	cobra.OnInitialize(func() { initLogLevel(logger) })
	cfg := DefaultConfig()
	if len(cli.DefaultClient) > 0 {
		cfg.Client = cli.DefaultClient
	}
	rootCmd := &cobra.Command{
		Use:   cli.AppName,
		Short: cli.AppShortDesc,
		Long:  cli.AppLongDesc,
		Run: func(cmd *cobra.Command, args []string) {
			if err := applyConfigFile(cmd.Flags(), &cfg); err != nil {
				logger.Error(err.Error())
				os.Exit(1)
			}
			logger.Debug(fmt.Sprintf("Configuration: %s", cfg.ToJSON()))
			if err := executeLoadTest(cfg); err != nil {
				os.Exit(1)
			}
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Increase output logging verbosity to DEBUG level")

	bindFlags(rootCmd.Flags(), &cfg)

	rootCmd.AddCommand(buildReceiveCmd(cli, logger))
	rootCmd.AddCommand(buildClientsCmd())
	return rootCmd
}

// bindFlags binds the load test flags to the given configuration, using its
// current values as defaults.
func bindFlags(flags *pflag.FlagSet, cfg *Config) {
	flags.StringVar(&flagConfigFile, "config", "", "An optional YAML configuration file. Flags given explicitly on the command line take precedence")
	flags.IntVarP(&cfg.Threads, "threads", "t", cfg.Threads, "The number of concurrent workers to spawn")
	flags.IntVarP(&cfg.MessageSize, "size", "s", cfg.MessageSize, fmt.Sprintf("The size of each payload's random string, in bytes (each message adds %d bytes of JSON)", PayloadOverhead))
	flags.IntVarP(&cfg.MessagesToSend, "messages", "m", cfg.MessagesToSend, "The number of messages each worker sends - set to 0 to send until interrupted")
	flags.StringVarP(&cfg.ConnectionString, "connection-string", "c", "", "The connection string (or URL) for the message sink")
	flags.StringVar(&cfg.Name, "name", "", "The queue, hub, topic, subject or stream to send to")
	flags.IntVar(&cfg.Checkpoint, "checkpoint", cfg.Checkpoint, "Report progress every N messages (single-send mode)")
	flags.BoolVarP(&cfg.BatchMode, "batch-mode", "b", cfg.BatchMode, "Send messages in batches")
	flags.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "The number of messages per batch")
	flags.StringVar(&cfg.Client, "client", cfg.Client, "The type of message sink to drive")
	flags.VarP((*millisValue)(&cfg.Delay), "delay", "d", "The delay (in milliseconds) after each checkpoint or batch")
	flags.Var(&cfg.FailureBackoff, "backoff", "How long to pause after a failed send (e.g. 1s)")
	flags.Var(&cfg.SendTimeout, "send-timeout", "The maximum time a single send or batch send may take (e.g. 2s)")
	flags.StringVar(&cfg.MetricsBind, "metrics-bind", "", "A host:port on which to serve Prometheus metrics during the test")
	flags.StringVar(&cfg.StatsOutputFile, "stats-output", "", "Where to store aggregate statistics (in CSV format) for the load test")
}

func buildReceiveCmd(cli *CLIConfig, logger logging.Logger) *cobra.Command {
	var (
		sourceType string
		srcCfg     receiver.SourceConfig
		procCfg    = receiver.DefaultConfig()
	)
	sourceType = cli.DefaultSource
	if len(sourceType) == 0 {
		sourceType = string(sink.EventHub)
	}
	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Receive and print the messages delivered to the sink",
		Run: func(cmd *cobra.Command, args []string) {
			if err := executeReceive(sourceType, srcCfg, procCfg, logger); err != nil {
				os.Exit(1)
			}
		},
	}
	cmd.Flags().StringVar(&sourceType, "source", sourceType, "The type of event source to read from")
	cmd.Flags().StringVarP(&srcCfg.ConnectionString, "connection-string", "c", "", "The connection string for the event source")
	cmd.Flags().StringVar(&srcCfg.Name, "name", "", "The hub or topic to read from")
	cmd.Flags().StringVar(&srcCfg.ConsumerGroup, "consumer-group", "", "The consumer group to read as (defaults to the source's default group)")
	cmd.Flags().DurationVar(&srcCfg.WaitTime, "wait", 5*time.Second, "How long a single receive may wait for events")
	cmd.Flags().IntVar(&procCfg.MaxBatchSize, "batch-size", procCfg.MaxBatchSize, "The maximum number of events to read from a partition at once")
	return cmd
}

func buildClientsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clients",
		Short: "List the supported message sink types",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(strings.Join(sink.SupportedTypes(), "\n"))
		},
	}
}

// applyConfigFile loads the configuration file, if one was given, underneath
// any flags that were explicitly set on the command line.
func applyConfigFile(flags *pflag.FlagSet, cfg *Config) error {
	if len(flagConfigFile) == 0 {
		return nil
	}
	explicit := make(map[string]string)
	flags.Visit(func(f *pflag.Flag) {
		explicit[f.Name] = f.Value.String()
	})
	if err := LoadConfigFile(flagConfigFile, cfg); err != nil {
		return err
	}
	for name, val := range explicit {
		if err := flags.Set(name, val); err != nil {
			return fmt.Errorf("failed to re-apply flag --%s: %w", name, err)
		}
	}
	return nil
}

func executeReceive(sourceType string, srcCfg receiver.SourceConfig, procCfg receiver.Config, logger logging.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cancelTrap := trapInterrupts(cancel, logger)
	defer close(cancelTrap)

	src, err := receiver.NewSource(ctx, sourceType, srcCfg)
	if err != nil {
		logger.Error("Failed to set up event source", "source", sourceType, "err", err)
		return err
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), coordSinkCloseTimeout)
		defer closeCancel()
		if err := src.Close(closeCtx); err != nil {
			logger.Error("Failed to close event source", "err", err)
		}
	}()

	logger.Info("Receiving messages. Press Ctrl+C to stop.", "source", sourceType, "name", srcCfg.Name)
	if err := receiver.NewProcessor(src, procCfg, receiver.WithLogger(logger.Named("receiver", "source", sourceType))).Run(ctx); err != nil {
		logger.Error("Receiver failed", "err", err)
		return err
	}
	return nil
}

func initLogLevel(logger logging.Logger) {
	if flagVerbose {
		logrus.SetLevel(logrus.DebugLevel)
		logger.Debug("Set logging level to DEBUG")
	}
}

// Run must be executed from your `main` function in your Go code. Sink
// adapters must have been registered (usually by importing their packages)
// beforehand.
func Run(cli *CLIConfig) {
	logging.SplitOutput(os.Stdout, os.Stderr)
	logger := logging.NewLogrusLogger("main")
	if err := buildCLI(cli, logger).Execute(); err != nil {
		logger.Error("Error", "err", err)
		os.Exit(1)
	}
}

func trapInterrupts(onKill func(), logger logging.Logger) chan struct{} {
	sigc := make(chan os.Signal, 1)
	cancelTrap := make(chan struct{})
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigc)
		select {
		case <-sigc:
			logger.Info("Caught kill signal")
			onKill()
		case <-cancelTrap:
			return
		}
	}()
	return cancelTrap
}
