package logging

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger is the interface to our internal logger.
type Logger interface {
	Debug(msg string, kvpairs ...interface{})
	Info(msg string, kvpairs ...interface{})
	Error(msg string, kvpairs ...interface{})

	// Named derives a logger for a sub-component. The child keeps the parent's
	// persistent fields, replaces its context and adds the given fields.
	Named(ctx string, kvpairs ...interface{}) Logger
}

// LogrusLogger is a thread-safe logger with a fixed set of persistent fields.
type LogrusLogger struct {
	entry  *logrus.Entry
	fields logrus.Fields // Persistent fields, never mutated after construction.
}

// NoopLogger implements Logger, but does nothing.
type NoopLogger struct{}

var (
	_ Logger = (*LogrusLogger)(nil)
	_ Logger = (*NoopLogger)(nil)
)

// NewLogrusLogger will instantiate a logger with the given context.
func NewLogrusLogger(ctx string, kvpairs ...interface{}) Logger {
	return newLogrusLogger(ctx, serializeKVPairs(kvpairs...))
}

func newLogrusLogger(ctx string, fields logrus.Fields) *LogrusLogger {
	entry := logrus.NewEntry(logrus.StandardLogger())
	if len(ctx) > 0 {
		entry = entry.WithField("ctx", ctx)
	}
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	return &LogrusLogger{entry: entry, fields: fields}
}

// serializeKVPairs turns alternating keys and values into fields. Pairs whose
// key is not a string are skipped, and an odd number of arguments yields no
// fields at all.
func serializeKVPairs(kvpairs ...interface{}) logrus.Fields {
	res := make(logrus.Fields)
	if len(kvpairs)%2 != 0 {
		return res
	}
	for i := 0; i < len(kvpairs); i += 2 {
		if key, ok := kvpairs[i].(string); ok {
			res[key] = kvpairs[i+1]
		}
	}
	return res
}

func (l *LogrusLogger) with(kvpairs []interface{}) *logrus.Entry {
	if fields := serializeKVPairs(kvpairs...); len(fields) > 0 {
		return l.entry.WithFields(fields)
	}
	return l.entry
}

func (l *LogrusLogger) Debug(msg string, kvpairs ...interface{}) {
	l.with(kvpairs).Debugln(msg)
}

func (l *LogrusLogger) Info(msg string, kvpairs ...interface{}) {
	l.with(kvpairs).Infoln(msg)
}

func (l *LogrusLogger) Error(msg string, kvpairs ...interface{}) {
	l.with(kvpairs).Errorln(msg)
}

func (l *LogrusLogger) Named(ctx string, kvpairs ...interface{}) Logger {
	fields := make(logrus.Fields, len(l.fields)+len(kvpairs)/2)
	for k, v := range l.fields {
		fields[k] = v
	}
	for k, v := range serializeKVPairs(kvpairs...) {
		fields[k] = v
	}
	return newLogrusLogger(ctx, fields)
}

// levelSplitHook writes error-level (and more severe) entries to one writer
// and everything else to another.
type levelSplitHook struct {
	mtx    sync.Mutex
	stdout io.Writer
	stderr io.Writer
}

var _ logrus.Hook = (*levelSplitHook)(nil)

func (h *levelSplitHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *levelSplitHook) Fire(entry *logrus.Entry) error {
	line, err := entry.Bytes()
	if err != nil {
		return err
	}
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if entry.Level <= logrus.ErrorLevel {
		_, err = h.stderr.Write(line)
	} else {
		_, err = h.stdout.Write(line)
	}
	return err
}

// SplitOutput configures the standard logrus logger such that errors go to
// stderr and all other output goes to stdout.
func SplitOutput(stdout, stderr io.Writer) {
	std := logrus.StandardLogger()
	std.SetOutput(io.Discard)
	std.ReplaceHooks(make(logrus.LevelHooks))
	std.AddHook(&levelSplitHook{stdout: stdout, stderr: stderr})
}

// NewNoopLogger will instantiate a logger that does nothing when called.
func NewNoopLogger() Logger {
	return &NoopLogger{}
}

func (l *NoopLogger) Debug(msg string, kvpairs ...interface{}) {}
func (l *NoopLogger) Info(msg string, kvpairs ...interface{})  {}
func (l *NoopLogger) Error(msg string, kvpairs ...interface{}) {}

func (l *NoopLogger) Named(string, ...interface{}) Logger {
	return l
}
