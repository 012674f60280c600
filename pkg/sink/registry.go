package sink

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Type identifies a kind of message sink.
type Type string

// The sink types known to the load generator. Adapters register themselves
// against one of these in their package's init function.
const (
	QueueClient Type = "queue-client" // Azure Service Bus queue.
	EventHub    Type = "event-hub"    // Azure Event Hubs.
	BlobQueue   Type = "blob-queue"   // Azure Storage queue.
	EventGrid   Type = "event-grid"   // Azure Event Grid topic.
	Kafka       Type = "kafka"
	NATS        Type = "nats"
	Redis       Type = "redis" // Redis stream.
	MQTT        Type = "mqtt"
	WebSocket   Type = "websocket"
	Memory      Type = "memory" // In-process sink, for dry runs.
)

// Aliases accepted for backwards compatibility with older command lines.
var typeAliases = map[string]Type{
	"queueclient":      QueueClient,
	"eventhub":         EventHub,
	"cloudqueueclient": BlobQueue,
	"eventgridclient":  EventGrid,
	"eventgrid":        EventGrid,
}

// Factory constructs a sink from the given configuration. Construction is
// expected to fail fast if the target is unreachable or misconfigured.
type Factory func(ctx context.Context, cfg Config) (MessageSink, error)

var (
	registryMtx sync.RWMutex
	registry    = make(map[Type]Factory)
)

// Register makes a sink factory available under the given type. Registering
// the same type twice is an error.
func Register(t Type, f Factory) error {
	registryMtx.Lock()
	defer registryMtx.Unlock()
	if _, exists := registry[t]; exists {
		return fmt.Errorf("sink type %q already registered", t)
	}
	registry[t] = f
	return nil
}

// MustRegister is like Register, but panics on failure.
func MustRegister(t Type, f Factory) {
	if err := Register(t, f); err != nil {
		panic(err)
	}
}

// Exists reports whether a factory has been registered for the given type.
func Exists(t Type) bool {
	registryMtx.RLock()
	defer registryMtx.RUnlock()
	_, ok := registry[t]
	return ok
}

// ParseType normalizes the given name into a sink type, accepting the legacy
// aliases. It does not check whether the type has been registered.
func ParseType(name string) Type {
	n := strings.ToLower(strings.TrimSpace(name))
	if t, ok := typeAliases[n]; ok {
		return t
	}
	return Type(n)
}

// New constructs a sink of the given type.
func New(ctx context.Context, t Type, cfg Config) (MessageSink, error) {
	registryMtx.RLock()
	f, ok := registry[t]
	registryMtx.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unrecognized sink type %q (supported: %s)", t, strings.Join(SupportedTypes(), ", "))
	}
	return f(ctx, cfg)
}

// SupportedTypes returns a sorted list of the registered sink types.
func SupportedTypes() []string {
	registryMtx.RLock()
	defer registryMtx.RUnlock()
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	return ids
}
