package gc

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrOutOfMemory is returned when the collector could not free enough
// memory and the underlying native allocation also failed (spec.md §7).
var ErrOutOfMemory = errors.New("gc: out of memory")

// ErrDeadReference is returned by IDToRef when the id names an object that
// has already been recycled.
var ErrDeadReference = errors.New("gc: id refers to a recycled object")

// ErrNotAnID is returned by IDToRef when the argument was never produced by
// ObjectID.
var ErrNotAnID = errors.New("gc: value is not an object id")

// InvariantError reports a fatal invariant violation: an allocation request
// during an active GC cycle, or the tracer encountering a slot with an
// impossible type tag. Per spec.md §7 these are not recoverable — the
// collector that raises one has already corrupted its own bookkeeping and
// the process should abort rather than continue.
type InvariantError struct {
	msg   string
	cause error
}

func (e *InvariantError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("gc: invariant violated: %s: %v", e.msg, e.cause)
	}
	return fmt.Sprintf("gc: invariant violated: %s", e.msg)
}

func (e *InvariantError) Unwrap() error { return e.cause }

func newInvariantError(msg string) *InvariantError {
	return &InvariantError{msg: msg}
}

func wrapInvariantError(msg string, cause error) *InvariantError {
	return &InvariantError{msg: msg, cause: errors.WithStack(cause)}
}

// argError reports an invalid xmalloc*-family argument (negative size,
// multiplication overflow). These propagate to the caller; they are not
// fatal.
func argError(format string, args ...interface{}) error {
	return errors.Errorf(format, args...)
}
