package labelscan

import (
	"context"
	"errors"
	"time"

	"github.com/hupe1980/labelscan/bitmap"
	"github.com/hupe1980/labelscan/document"
	"github.com/hupe1980/labelscan/rangestore"
)

// Writer applies label updates to the index. Updates are buffered per range
// and become visible atomically when Close commits them; a Reader opened
// before Close never observes a partial batch.
//
// At most one Writer can be open per Store. A Writer is not safe for
// concurrent use.
type Writer struct {
	store *Store
	ctx   context.Context
	docs  map[uint64]*document.Document
	held  bool
	done  bool
}

// NewWriter opens the single writer of the index. It fails with
// ErrWriterActive while another writer is open, with ErrReadOnly on a
// read-only index and with ErrClosed after Close.
//
// The context is retained for the engine reads and the commit performed by
// the returned Writer.
func (s *Store) NewWriter(ctx context.Context) (*Writer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if s.readOnly {
		return nil, ErrReadOnly
	}
	if s.writerActive {
		return nil, ErrWriterActive
	}
	s.writerActive = true

	return &Writer{
		store: s,
		ctx:   ctx,
		docs:  make(map[uint64]*document.Document),
		held:  true,
	}, nil
}

// Write buffers a single update. Removed labels are cleared before added
// labels are set, and clearing an absent label or setting a present one is
// a no-op. The update must not list a label as both removed and added.
func (w *Writer) Write(u Update) error {
	if w.done {
		return ErrClosed
	}

	start := time.Now()

	err := w.write(u)

	w.store.metrics.RecordWrite(time.Since(start), err)

	return err
}

func (w *Writer) write(u Update) error {
	if err := u.validate(); err != nil {
		return err
	}
	if len(u.Removed) == 0 && len(u.Added) == 0 {
		return nil
	}

	rangeID := bitmap.RangeOf(u.Entity)

	doc, ok := w.docs[rangeID]
	if !ok {
		var err error

		doc, err = w.store.engine.ReadRange(w.ctx, rangeID)
		if err != nil {
			if !errors.Is(err, rangestore.ErrNotFound) {
				return err
			}
			doc = document.New(rangeID)
		}

		w.docs[rangeID] = doc
	}

	offset := bitmap.OffsetOf(u.Entity)

	for _, label := range u.Removed {
		doc.Clear(label, offset)
	}
	for _, label := range u.Added {
		doc.Set(label, offset)
	}

	return nil
}

// Close commits all buffered updates in a single atomic batch and releases
// the writer slot. Ranges whose document became empty are still written, so
// a once-touched range stays stored. A failed commit leaves the index
// unchanged and is reported as a CommitError. Close is idempotent.
func (w *Writer) Close() error {
	if w.done {
		return nil
	}
	w.done = true

	start := time.Now()

	err := w.commit()

	w.store.metrics.RecordCommit(len(w.docs), time.Since(start), err)
	w.release()

	if err != nil {
		return &CommitError{Ranges: len(w.docs), cause: err}
	}

	return nil
}

func (w *Writer) commit() error {
	if len(w.docs) == 0 {
		return nil
	}

	if err := w.store.engine.WriteBatch(w.ctx, w.docs); err != nil {
		return err
	}

	w.store.logger.Debug("committed label updates", "ranges", len(w.docs))

	return nil
}

// Discard drops all buffered updates without committing and releases the
// writer slot. Discard is idempotent.
func (w *Writer) Discard() {
	if w.done {
		return
	}
	w.done = true

	w.docs = nil
	w.release()
}

func (w *Writer) release() {
	if !w.held {
		return
	}

	w.store.mu.Lock()
	w.store.writerActive = false
	w.store.mu.Unlock()
}
