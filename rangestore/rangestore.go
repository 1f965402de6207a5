// Package rangestore defines the persistence contract between the label index
// facade and its storage engines.
//
// An engine stores range documents keyed by range id and provides atomic
// batch writes, ordered iteration, point-in-time read views, a fast validity
// probe for startup, and access to its backing files for backups. Engines in
// this module: memstore (in-memory) and pebblestore (LSM, production).
package rangestore

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"github.com/hupe1980/labelscan/document"
)

var (
	// ErrNotFound is returned by ReadRange when no document was ever written
	// for the range.
	ErrNotFound = errors.New("rangestore: range not found")

	// ErrReadOnly is returned by mutating operations on a read-only store.
	ErrReadOnly = errors.New("rangestore: store is read-only")

	// ErrClosed is returned once the store has been closed.
	ErrClosed = errors.New("rangestore: store is closed")
)

// Validity is the result of a startup probe.
type Validity uint8

const (
	// Valid means prior state exists and passed the format check.
	Valid Validity = iota
	// Missing means no prior state exists.
	Missing
	// Corrupted means prior state exists but failed the format check.
	Corrupted
)

// String implements fmt.Stringer.
func (v Validity) String() string {
	switch v {
	case Valid:
		return "valid"
	case Missing:
		return "missing"
	case Corrupted:
		return "corrupted"
	default:
		return "unknown"
	}
}

// Store is the engine contract. Implementations must be safe for concurrent
// use. Documents passed in or out never alias engine-internal state: callers
// own what they read, engines copy or serialize what they are handed.
type Store interface {
	// Probe is the fast startup validity check. It inspects a format marker
	// and a bounded sample of stored documents, never the full dataset. An
	// error means the store could not be probed at all, for example because
	// another process holds it; that is distinct from Corrupted.
	Probe(ctx context.Context) (Validity, error)

	// ReadRange returns the document stored for rangeID, or ErrNotFound.
	ReadRange(ctx context.Context, rangeID uint64) (*document.Document, error)

	// WriteBatch atomically persists every document in docs, keyed by range
	// id. Empty documents are persisted too; a range once written is never
	// individually removed. An empty batch is a no-op.
	WriteBatch(ctx context.Context, docs map[uint64]*document.Document) error

	// All iterates every persisted range in ascending range id order.
	All(ctx context.Context) (Iterator, error)

	// Clear drops all state, including the validity seal: a cleared store
	// probes as Missing until the next Flush. The rebuild protocol relies on
	// this so a rebuild that dies halfway is redone rather than trusted.
	Clear(ctx context.Context) error

	// Flush makes prior writes as durable as the engine can and seals the
	// store as Valid. A non-nil limit paces the flush IO; nil flushes
	// unthrottled.
	Flush(ctx context.Context, limit *rate.Limiter) error

	// Files returns the engine's backing files. The returned set stays
	// readable and unchanging until it is closed.
	Files(ctx context.Context) (FileSet, error)

	// Snapshot returns a point-in-time read view unaffected by later writes.
	Snapshot(ctx context.Context) (View, error)

	// ReadOnly reports whether the store rejects mutations.
	ReadOnly() bool

	Close() error
}

// View is a point-in-time read view of a store.
type View interface {
	ReadRange(ctx context.Context, rangeID uint64) (*document.Document, error)
	All(ctx context.Context) (Iterator, error)
	Close() error
}

// Iterator is a single-pass cursor over persisted ranges in ascending range
// id order. Typical use:
//
//	for it.Next() {
//	    process(it.RangeID(), it.Document())
//	}
//	if err := it.Err(); err != nil { ... }
//
// Iterators are not safe for concurrent use and must be closed.
type Iterator interface {
	Next() bool
	RangeID() uint64
	// Document returns the current document. The caller owns it.
	Document() *document.Document
	Err() error
	Close() error
}

// FileSet is a stable set of backing file paths. Closing it releases the
// stability guarantee and any resources backing it.
type FileSet interface {
	Paths() []string
	Close() error
}

// Fileset helpers shared by engines.

type fileSet struct {
	paths []string
	close func() error
}

// NewFileSet builds a FileSet over paths; onClose may be nil.
func NewFileSet(paths []string, onClose func() error) FileSet {
	return &fileSet{paths: paths, close: onClose}
}

func (fs *fileSet) Paths() []string {
	return fs.paths
}

func (fs *fileSet) Close() error {
	if fs.close == nil {
		return nil
	}
	return fs.close()
}
