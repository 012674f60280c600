package timeutils

import (
	"encoding"
	"time"
)

// ParseableDuration represents a time.Duration that implements
// encoding.TextUnmarshaler and encoding.TextMarshaler, so that it can be
// written as "250ms" or "2s" in JSON and YAML configuration.
type ParseableDuration time.Duration

// ParseableDuration implements encoding.TextUnmarshaler
var _ encoding.TextUnmarshaler = (*ParseableDuration)(nil)
var _ encoding.TextMarshaler = ParseableDuration(0)

// UnmarshalText allows us a convenient way to unmarshal durations.
func (d *ParseableDuration) UnmarshalText(text []byte) error {
	dur, err := time.ParseDuration(string(text))
	if err == nil {
		*d = ParseableDuration(dur)
	}
	return err
}

// MarshalText renders the duration in Go's duration string format.
func (d ParseableDuration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Duration is a convenience method for converting this parseable duration into
// a standard time.Duration instance.
func (d ParseableDuration) Duration() time.Duration {
	return time.Duration(d)
}

func (d ParseableDuration) String() string {
	return time.Duration(d).String()
}

// Set parses the given duration string, so that a ParseableDuration can be
// used directly as a command line flag.
func (d *ParseableDuration) Set(s string) error {
	return d.UnmarshalText([]byte(s))
}

func (d *ParseableDuration) Type() string {
	return "duration"
}
