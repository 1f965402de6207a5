package labelscan

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/hupe1980/labelscan/rangestore"
)

// Store is the label index facade. It owns a storage engine, decides at Open
// time whether the stored state can be trusted, rebuilds it from a change
// stream when it cannot, and hands out readers and the single writer.
type Store struct {
	mu               sync.Mutex
	engine           rangestore.Store
	stream           ChangeStream
	logger           *Logger
	monitor          Monitor
	metrics          MetricsCollector
	readOnly         bool
	rebuildBatchSize int
	writerActive     bool
	closed           bool
}

// Open starts the label index on top of the given storage engine.
//
// Open probes the engine first. A valid index is used as is. A missing or
// damaged index is dropped and rebuilt from the change stream, which makes
// the stream optional whenever the stored state is healthy: passing nil is
// fine until a rebuild is actually needed, at which point Open fails with a
// StartupError wrapping ErrNoChangeStream.
//
// The index is read-only when WithReadOnly is set or when the engine itself
// is. A read-only index that would need a rebuild cannot start; the returned
// StartupError wraps ErrReadOnly.
//
// On success the Store takes ownership of the engine and closes it on Close.
// On error the engine is left untouched and remains owned by the caller.
func Open(ctx context.Context, engine rangestore.Store, stream ChangeStream, optFns ...Option) (*Store, error) {
	opts := applyOptions(optFns)

	s := &Store{
		engine:           engine,
		stream:           stream,
		logger:           opts.logger,
		monitor:          opts.monitor,
		metrics:          opts.metricsCollector,
		readOnly:         opts.readOnly || engine.ReadOnly(),
		rebuildBatchSize: opts.rebuildBatchSize,
	}

	s.monitor.Init()

	if err := s.start(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) start(ctx context.Context) error {
	validity, err := s.engine.Probe(ctx)
	if err != nil {
		s.monitor.LockedIndex(err)
		s.logger.Error("label index cannot be probed", "error", err)

		return &StartupError{Op: "probe", cause: err}
	}

	switch validity {
	case rangestore.Valid:
		s.logger.Debug("label index is valid")
		return nil
	case rangestore.Missing:
		s.monitor.NoIndex()
		s.logger.Info("no label index found, rebuild required")
	case rangestore.Corrupted:
		s.monitor.NotValidIndex()
		s.logger.Warn("label index is not usable, rebuild required")
	}

	if s.readOnly {
		return &StartupError{Op: "rebuild", cause: fmt.Errorf("cannot rebuild %s label index: %w", validity, ErrReadOnly)}
	}
	if s.stream == nil {
		return &StartupError{Op: "rebuild", cause: ErrNoChangeStream}
	}

	if _, err := s.rebuild(ctx); err != nil {
		return &StartupError{Op: "rebuild", cause: err}
	}

	return nil
}

// NewReader opens a Reader over a snapshot of the current index state. The
// Reader is unaffected by writers that commit after this call and must be
// closed when no longer needed.
func (s *Store) NewReader(ctx context.Context) (*Reader, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return nil, ErrClosed
	}

	view, err := s.engine.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	return &Reader{view: view}, nil
}

// AllRanges yields every stored range in ascending range id order, each as a
// NodeLabelRange. Every call opens its own snapshot, so one pass is
// internally consistent even while a writer is committing.
func (s *Store) AllRanges(ctx context.Context) iter.Seq2[*NodeLabelRange, error] {
	return func(yield func(*NodeLabelRange, error) bool) {
		r, err := s.NewReader(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		defer r.Close()

		for nr, err := range r.AllRanges(ctx) {
			if !yield(nr, err) {
				return
			}
		}
	}
}

// SnapshotFiles returns the set of files that make up a consistent on-disk
// snapshot of the index, for backup tooling. The set must be closed when the
// backup is done. Engines without files return an empty set.
func (s *Store) SnapshotFiles(ctx context.Context) (rangestore.FileSet, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return nil, ErrClosed
	}

	return s.engine.Files(ctx)
}

// ReadOnly reports whether the index rejects writers.
func (s *Store) ReadOnly() bool {
	return s.readOnly
}
