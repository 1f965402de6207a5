package labelscan

import (
	"context"
	"iter"
	"slices"

	"github.com/hupe1980/labelscan/bitmap"
	"github.com/hupe1980/labelscan/rangestore"
)

// A postingCursor streams the ascending entity ids carrying one label. It
// walks the view's range documents and drains each document's bit-vector for
// the label before moving on, so a full traversal costs one pass over the
// persisted ranges.
type postingCursor struct {
	label uint32
	it    rangestore.Iterator

	rangeID uint64
	bits    bitmap.Bitmap

	entity uint64
	err    error
}

func newPostingCursor(ctx context.Context, view rangestore.View, label uint32) (*postingCursor, error) {
	it, err := view.All(ctx)
	if err != nil {
		return nil, err
	}
	return &postingCursor{label: label, it: it}, nil
}

// next advances to the following entity carrying the label. It returns false
// when the posting list is exhausted or failed; check err afterwards.
func (c *postingCursor) next() bool {
	for {
		if offset, ok := c.bits.NextSet(0); ok {
			c.bits.Clear(offset)
			c.entity = bitmap.EntityAt(c.rangeID, offset)
			return true
		}
		if !c.it.Next() {
			c.err = c.it.Err()
			return false
		}
		d := c.it.Document()
		if b, ok := d.Bits(c.label); ok {
			c.rangeID = d.RangeID()
			c.bits = b
		}
	}
}

func (c *postingCursor) close() {
	_ = c.it.Close()
}

func openCursors(ctx context.Context, view rangestore.View, labels []uint32) ([]*postingCursor, error) {
	cursors := make([]*postingCursor, 0, len(labels))
	for _, label := range labels {
		c, err := newPostingCursor(ctx, view, label)
		if err != nil {
			for _, open := range cursors {
				open.close()
			}
			return nil, err
		}
		cursors = append(cursors, c)
	}
	return cursors, nil
}

func closeCursors(cursors []*postingCursor) {
	for _, c := range cursors {
		c.close()
	}
}

// dedupeLabels returns labels sorted with duplicates removed. Querying the
// same label twice must not change any result.
func dedupeLabels(labels []uint32) []uint32 {
	out := slices.Clone(labels)
	slices.Sort(out)
	return slices.Compact(out)
}

// cursorHeap is a binary min-heap of posting cursors keyed by their current
// entity id, used for k-way union merges.
type cursorHeap []*postingCursor

func (h *cursorHeap) push(c *postingCursor) {
	*h = append(*h, c)
	h.up(len(*h) - 1)
}

func (h *cursorHeap) pop() *postingCursor {
	buf := *h
	min := buf[0]
	n := len(buf) - 1
	buf[0], buf[n] = buf[n], buf[0]
	*h = buf[:n]
	h.down(0)
	return min
}

func (h cursorHeap) up(j int) {
	for {
		i := (j - 1) / 2 // parent
		if i == j || h[j].entity >= h[i].entity {
			break
		}
		h[i], h[j] = h[j], h[i]
		j = i
	}
}

func (h cursorHeap) down(i int) {
	n := len(h)
	for {
		j := 2*i + 1 // left child
		if j >= n {
			break
		}
		if r := j + 1; r < n && h[r].entity < h[j].entity {
			j = r
		}
		if h[j].entity >= h[i].entity {
			break
		}
		h[i], h[j] = h[j], h[i]
		i = j
	}
}

// unionSeq merges k posting cursors into one ascending, duplicate-free
// entity sequence.
func unionSeq(ctx context.Context, view rangestore.View, labels []uint32) iter.Seq2[uint64, error] {
	return func(yield func(uint64, error) bool) {
		cursors, err := openCursors(ctx, view, labels)
		if err != nil {
			yield(0, err)
			return
		}
		defer closeCursors(cursors)

		var h cursorHeap
		for _, c := range cursors {
			if c.next() {
				h.push(c)
			} else if c.err != nil {
				yield(0, c.err)
				return
			}
		}

		first := true
		var last uint64
		for len(h) > 0 {
			c := h.pop()
			entity := c.entity
			if c.next() {
				h.push(c)
			} else if c.err != nil {
				yield(0, c.err)
				return
			}
			if !first && entity == last {
				continue
			}
			if !yield(entity, nil) {
				return
			}
			first = false
			last = entity
		}
	}
}

// intersectSeq merges k posting cursors into the ascending sequence of
// entities present in all of them: repeatedly advance the cursor with the
// smallest current entity, emit whenever all k agree.
func intersectSeq(ctx context.Context, view rangestore.View, labels []uint32) iter.Seq2[uint64, error] {
	return func(yield func(uint64, error) bool) {
		if len(labels) == 0 {
			return
		}
		cursors, err := openCursors(ctx, view, labels)
		if err != nil {
			yield(0, err)
			return
		}
		defer closeCursors(cursors)

		for _, c := range cursors {
			if !c.next() {
				if c.err != nil {
					yield(0, c.err)
				}
				return
			}
		}

		for {
			minIdx := 0
			aligned := true
			for i, c := range cursors {
				if c.entity != cursors[minIdx].entity {
					aligned = false
				}
				if c.entity < cursors[minIdx].entity {
					minIdx = i
				}
			}

			if aligned {
				if !yield(cursors[0].entity, nil) {
					return
				}
				for _, c := range cursors {
					if !c.next() {
						if c.err != nil {
							yield(0, c.err)
						}
						return
					}
				}
				continue
			}

			c := cursors[minIdx]
			if !c.next() {
				if c.err != nil {
					yield(0, c.err)
				}
				return
			}
		}
	}
}
