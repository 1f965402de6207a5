package labelscan

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed store, writer or reader.
	ErrClosed = errors.New("label index is closed")

	// ErrReadOnly is returned when a mutating operation reaches a read-only
	// index, and is the cause of startup failures when a read-only index
	// would have to be rebuilt.
	ErrReadOnly = errors.New("label index is read-only")

	// ErrWriterActive is returned by NewWriter while another writer is open.
	ErrWriterActive = errors.New("another writer is active")

	// ErrOverlappingLabels is returned when an update adds and removes the
	// same label.
	ErrOverlappingLabels = errors.New("added and removed labels overlap")

	// ErrNoChangeStream is returned when a rebuild is required but no change
	// stream was provided.
	ErrNoChangeStream = errors.New("no change stream to rebuild from")
)

// StartupError is returned by Open when the index could not be brought up.
//
// The original underlying error can be accessed via errors.Unwrap; a
// read-only start that would have required a rebuild satisfies
// errors.Is(err, ErrReadOnly).
type StartupError struct {
	Op    string
	cause error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("label index startup failed during %s: %v", e.Op, e.cause)
}

func (e *StartupError) Unwrap() error { return e.cause }

// CommitError is returned by Writer.Close when the batch could not be
// persisted. None of the batch is applied.
//
// The original underlying error can be accessed via errors.Unwrap.
type CommitError struct {
	Ranges int
	cause  error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit of %d range(s) failed: %v", e.Ranges, e.cause)
}

func (e *CommitError) Unwrap() error { return e.cause }
