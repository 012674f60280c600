package sink

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// Error wraps a failed sink operation with a short, stable classification of
// the failure.
type Error struct {
	Op   string // The operation that failed, e.g. "send" or "send_batch".
	Kind string // A short classification of the failure, e.g. "Timeout".
	Err  error  // The underlying transport error.
}

var _ error = (*Error)(nil)

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s failed (%s)", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s failed (%s): %s", e.Op, e.Kind, e.Err.Error())
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap returns nil if err is nil, otherwise a *Error for the given operation
// whose kind is derived from err.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: KindOf(err), Err: err}
}

// KindOf classifies the given error. Sink errors report their own kind;
// context expiry is reported as "Timeout" or "Canceled"; anything else is
// classified by the type name of the innermost wrapped error.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) && len(se.Kind) > 0 {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "Timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "Canceled"
	}
	inner := err
	for {
		next := errors.Unwrap(inner)
		if next == nil {
			break
		}
		inner = next
	}
	return typeName(inner)
}

func typeName(err error) string {
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	name := t.Name()
	if len(name) == 0 {
		return "Error"
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
