package labelscan

import (
	"context"
	"errors"
	"iter"

	"github.com/hupe1980/labelscan/bitmap"
	"github.com/hupe1980/labelscan/rangestore"
)

// Reader answers label queries against a fixed snapshot of the index.
//
// A Reader pins the engine view that was current when NewReader was called;
// writers that commit afterwards do not change what the Reader sees. Readers
// are safe for concurrent use, and any number of them may be open at once.
// Close releases the snapshot and must be called when the Reader is no
// longer needed.
type Reader struct {
	view   rangestore.View
	closed bool
}

// LabelsFor returns the labels carried by the given entity, in ascending
// order. An entity without labels yields an empty slice.
func (r *Reader) LabelsFor(ctx context.Context, entity uint64) ([]uint32, error) {
	if r.closed {
		return nil, ErrClosed
	}

	doc, err := r.view.ReadRange(ctx, bitmap.RangeOf(entity))
	if err != nil {
		if errors.Is(err, rangestore.ErrNotFound) {
			return []uint32{}, nil
		}
		return nil, err
	}

	return doc.LabelsAt(bitmap.OffsetOf(entity)), nil
}

// EntitiesWithLabel returns the entities carrying the given label, in
// ascending order with no duplicates.
func (r *Reader) EntitiesWithLabel(ctx context.Context, label uint32) iter.Seq2[uint64, error] {
	return r.EntitiesWithAnyOf(ctx, label)
}

// EntitiesWithAnyOf returns the entities carrying at least one of the given
// labels, in ascending order with no duplicates. Duplicate labels in the
// argument list are ignored. With no labels the sequence is empty.
func (r *Reader) EntitiesWithAnyOf(ctx context.Context, labels ...uint32) iter.Seq2[uint64, error] {
	if r.closed {
		return errSeq(ErrClosed)
	}
	return unionSeq(ctx, r.view, dedupeLabels(labels))
}

// EntitiesWithAllOf returns the entities carrying every one of the given
// labels, in ascending order with no duplicates. Duplicate labels in the
// argument list are ignored. With no labels the sequence is empty.
func (r *Reader) EntitiesWithAllOf(ctx context.Context, labels ...uint32) iter.Seq2[uint64, error] {
	if r.closed {
		return errSeq(ErrClosed)
	}
	return intersectSeq(ctx, r.view, dedupeLabels(labels))
}

// AllRanges yields every stored range of the snapshot in ascending range id
// order, including ranges whose document has become empty.
func (r *Reader) AllRanges(ctx context.Context) iter.Seq2[*NodeLabelRange, error] {
	return func(yield func(*NodeLabelRange, error) bool) {
		if r.closed {
			yield(nil, ErrClosed)
			return
		}

		it, err := r.view.All(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		defer it.Close()

		for it.Next() {
			if !yield(newNodeLabelRange(it.Document()), nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			yield(nil, err)
		}
	}
}

// Close releases the snapshot held by the Reader. Close is idempotent.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	return r.view.Close()
}

func errSeq(err error) iter.Seq2[uint64, error] {
	return func(yield func(uint64, error) bool) {
		yield(0, err)
	}
}
