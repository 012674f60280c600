package loadtest

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/informalsystems/sink-load-test/pkg/sink"
	"github.com/informalsystems/sink-load-test/pkg/timeutils"
	"gopkg.in/yaml.v3"
)

// Defaults for the load test configuration.
const (
	DefaultThreads        = 5
	DefaultMessageSize    = 1024
	DefaultMessagesToSend = 100
	DefaultCheckpoint     = 100
	DefaultBatchMode      = true
	DefaultBatchSize      = 100
	DefaultClient         = string(sink.EventHub)
	DefaultFailureBackoff = 1 * time.Second
)

// Config represents the configuration for a single load test run. It is
// created once at startup and shared, read-only, by all workers.
type Config struct {
	Client           string                      `json:"client" yaml:"client"`                                 // The type of message sink to drive.
	ConnectionString string                      `json:"-" yaml:"connection_string"`                           // Sink-specific connection string. Never rendered by ToJSON.
	Name             string                      `json:"name" yaml:"name"`                                     // The queue, hub, topic, subject or stream name.
	Threads          int                         `json:"threads" yaml:"threads"`                               // The number of concurrent workers to spawn.
	MessageSize      int                         `json:"message_size" yaml:"message_size"`                     // The size of each payload's random string, in bytes.
	MessagesToSend   int                         `json:"messages_to_send" yaml:"messages_to_send"`             // Messages to send per worker. Set to 0 for no limit.
	Checkpoint       int                         `json:"checkpoint" yaml:"checkpoint"`                         // Report progress every N messages (single-send mode).
	BatchMode        bool                        `json:"batch_mode" yaml:"batch_mode"`                         // Whether to send messages in batches.
	BatchSize        int                         `json:"batch_size" yaml:"batch_size"`                         // The number of messages per batch in batch mode.
	Delay            timeutils.ParseableDuration `json:"delay" yaml:"delay"`                                   // Pause after each checkpoint or batch flush.
	FailureBackoff   timeutils.ParseableDuration `json:"failure_backoff" yaml:"failure_backoff"`               // Pause after each failed send or batch send.
	SendTimeout      timeutils.ParseableDuration `json:"send_timeout" yaml:"send_timeout"`                     // Upper bound on a single sink operation.
	MetricsBind      string                      `json:"metrics_bind,omitempty" yaml:"metrics_bind"`           // Where to serve Prometheus metrics, if anywhere.
	StatsOutputFile  string                      `json:"stats_output_file,omitempty" yaml:"stats_output_file"` // Where to write aggregate statistics as CSV, if anywhere.
}

// DefaultConfig returns a configuration populated with the default values.
func DefaultConfig() Config {
	return Config{
		Client:         DefaultClient,
		Threads:        DefaultThreads,
		MessageSize:    DefaultMessageSize,
		MessagesToSend: DefaultMessagesToSend,
		Checkpoint:     DefaultCheckpoint,
		BatchMode:      DefaultBatchMode,
		BatchSize:      DefaultBatchSize,
		FailureBackoff: timeutils.ParseableDuration(DefaultFailureBackoff),
		SendTimeout:    timeutils.ParseableDuration(sink.DefaultSendTimeout),
	}
}

func (c Config) Validate() error {
	if len(c.Client) == 0 {
		return fmt.Errorf("client type must be specified")
	}
	if t := sink.ParseType(c.Client); !sink.Exists(t) {
		return fmt.Errorf("client type %q does not exist (supported: %s)", c.Client, strings.Join(sink.SupportedTypes(), ", "))
	}
	if c.Threads < 1 {
		return fmt.Errorf("expected threads to be >= 1, but was %d", c.Threads)
	}
	if c.MessageSize < 0 {
		return fmt.Errorf("expected message size to be >= 0, but was %d", c.MessageSize)
	}
	if c.MessagesToSend < 0 {
		return fmt.Errorf("expected messages to send to be >= 0 (0 for no limit), but was %d", c.MessagesToSend)
	}
	if c.Checkpoint < 1 {
		return fmt.Errorf("expected checkpoint to be >= 1, but was %d", c.Checkpoint)
	}
	if c.BatchMode && c.BatchSize < 1 {
		return fmt.Errorf("expected batch size to be >= 1 in batch mode, but was %d", c.BatchSize)
	}
	if c.Delay < 0 {
		return fmt.Errorf("expected delay to be >= 0, but was %s", c.Delay)
	}
	if c.FailureBackoff < 0 {
		return fmt.Errorf("expected failure backoff to be >= 0, but was %s", c.FailureBackoff)
	}
	if c.SendTimeout < 0 {
		return fmt.Errorf("expected send timeout to be >= 0, but was %s", c.SendTimeout)
	}
	return nil
}

// SinkType returns the normalized type of sink to construct.
func (c Config) SinkType() sink.Type {
	return sink.ParseType(c.Client)
}

// SinkConfig extracts the parameters needed to construct the sink.
func (c Config) SinkConfig() sink.Config {
	return sink.Config{
		ConnectionString: c.ConnectionString,
		Name:             c.Name,
		SendTimeout:      c.SendTimeout.Duration(),
	}
}

// unbounded reports whether workers run until cancelled.
func (c Config) unbounded() bool {
	return c.MessagesToSend == 0
}

func (c Config) ToJSON() string {
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Sprintf("%v", c)
	}
	return string(b)
}

// LoadConfigFile decodes the YAML configuration file at the given path on top
// of the given configuration. Fields absent from the file keep their current
// values.
func LoadConfigFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return NewError(ErrFailedToReadConfigFile, err, path)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return NewError(ErrFailedToDecodeConfig, err, path)
	}
	return nil
}
