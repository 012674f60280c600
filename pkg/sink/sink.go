// Package sink defines the contract between the load generator and the
// message transports it drives, along with a registry from which transports
// are selected by name at startup.
package sink

import (
	"context"
	"time"
)

// DefaultSendTimeout bounds every send, batch send and close operation when
// no explicit timeout has been configured.
const DefaultSendTimeout = 2 * time.Second

// MessageSink accepts payloads on behalf of a specific transport. A single
// MessageSink is shared by all workers, so implementations must be safe for
// concurrent use. Every call must eventually return: implementations bound
// each operation with their own timeout.
type MessageSink interface {
	// Send delivers a single payload.
	Send(ctx context.Context, payload string) error

	// SendBatch delivers the given payloads, in order, as a single logical
	// operation.
	SendBatch(ctx context.Context, payloads []string) error

	// Close releases any resources held by the sink.
	Close(ctx context.Context) error
}

// Config carries the transport-agnostic parameters from which a sink is
// constructed.
type Config struct {
	ConnectionString string        `json:"connection_string"` // Transport-specific connection string or URL.
	Name             string        `json:"name"`              // The queue, hub, topic, subject or stream to target.
	SendTimeout      time.Duration `json:"send_timeout"`      // Upper bound on a single sink operation.
}

// Timeout returns the configured send timeout, or DefaultSendTimeout if none
// was configured.
func (c Config) Timeout() time.Duration {
	if c.SendTimeout <= 0 {
		return DefaultSendTimeout
	}
	return c.SendTimeout
}

// WithTimeout derives a context for a single sink operation.
func (c Config) WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.Timeout())
}
