// Package receiver implements the receive side of the load test: it drains
// the events a sink delivered, partition by partition, logging each one and
// tracking how far it has read.
package receiver

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Event is a single event read from a partition.
type Event struct {
	PartitionID    string
	SequenceNumber int64
	EnqueuedTime   *time.Time
	Body           []byte
	Properties     map[string]interface{}
}

// PartitionReceiver reads events from a single partition.
type PartitionReceiver interface {
	// Receive blocks until at least one event is available, or until an
	// implementation-specific wait time elapses, returning at most maxEvents
	// events. Returning no events and no error is valid.
	Receive(ctx context.Context, maxEvents int) ([]Event, error)
	Close(ctx context.Context) error
}

// Source is a partitioned stream of events.
type Source interface {
	PartitionIDs(ctx context.Context) ([]string, error)
	OpenPartition(ctx context.Context, partitionID string) (PartitionReceiver, error)
	Close(ctx context.Context) error
}

// SourceConfig carries the parameters from which a source is constructed.
type SourceConfig struct {
	ConnectionString string
	Name             string // The hub or topic to read from.
	ConsumerGroup    string
	WaitTime         time.Duration // How long a single receive may wait for events.
}

// SourceFactory constructs a source from the given configuration.
type SourceFactory func(ctx context.Context, cfg SourceConfig) (Source, error)

var (
	sourcesMtx sync.RWMutex
	sources    = make(map[string]SourceFactory)
)

// RegisterSource makes a source factory available under the given name.
func RegisterSource(name string, f SourceFactory) error {
	sourcesMtx.Lock()
	defer sourcesMtx.Unlock()
	if _, exists := sources[name]; exists {
		return fmt.Errorf("source type %q already registered", name)
	}
	sources[name] = f
	return nil
}

// MustRegisterSource is like RegisterSource, but panics on failure.
func MustRegisterSource(name string, f SourceFactory) {
	if err := RegisterSource(name, f); err != nil {
		panic(err)
	}
}

// NewSource constructs a source of the given type.
func NewSource(ctx context.Context, name string, cfg SourceConfig) (Source, error) {
	sourcesMtx.RLock()
	f, ok := sources[name]
	sourcesMtx.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unrecognized source type %q (supported: %s)", name, strings.Join(SupportedSources(), ", "))
	}
	return f(ctx, cfg)
}

// SupportedSources returns a sorted list of the registered source types.
func SupportedSources() []string {
	sourcesMtx.RLock()
	defer sourcesMtx.RUnlock()
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
