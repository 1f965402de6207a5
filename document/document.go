// Package document implements the storage unit of the label index: one range
// of entities and, per label, the bit-vector of range members carrying it.
//
// Documents are sparse. A label whose bit-vector would be all zero is not
// stored at all, and clearing the last bit of a label removes the label entry.
// A document with no labels left is still a valid (empty) document; whether it
// stays persisted is the store's decision, not the document's.
package document

import (
	"slices"

	"github.com/hupe1980/labelscan/bitmap"
)

// Document maps label ids to membership bit-vectors for a single range.
// It is not safe for concurrent use.
type Document struct {
	rangeID uint64
	labels  map[uint32]bitmap.Bitmap
}

// New returns an empty document for rangeID.
func New(rangeID uint64) *Document {
	return &Document{
		rangeID: rangeID,
		labels:  make(map[uint32]bitmap.Bitmap),
	}
}

// RangeID returns the range this document covers.
func (d *Document) RangeID() uint64 {
	return d.rangeID
}

// Set marks the entity at offset as carrying label. Idempotent.
func (d *Document) Set(label, offset uint32) {
	b := d.labels[label]
	b.Set(offset)
	d.labels[label] = b
}

// Clear removes label from the entity at offset. Clearing the last member
// drops the label entry entirely. Idempotent.
func (d *Document) Clear(label, offset uint32) {
	b, ok := d.labels[label]
	if !ok {
		return
	}
	b.Clear(offset)
	if b.IsEmpty() {
		delete(d.labels, label)
	} else {
		d.labels[label] = b
	}
}

// Has reports whether the entity at offset carries label.
func (d *Document) Has(label, offset uint32) bool {
	return d.labels[label].Has(offset)
}

// Bits returns the membership vector for label and whether the label is
// present. An absent label reads as the empty vector.
func (d *Document) Bits(label uint32) (bitmap.Bitmap, bool) {
	b, ok := d.labels[label]
	return b, ok
}

// Labels returns the labels present in this document in ascending order.
func (d *Document) Labels() []uint32 {
	out := make([]uint32, 0, len(d.labels))
	for label := range d.labels {
		out = append(out, label)
	}
	slices.Sort(out)
	return out
}

// LabelsAt returns the labels carried by the entity at offset, ascending.
func (d *Document) LabelsAt(offset uint32) []uint32 {
	var out []uint32
	for label, b := range d.labels {
		if b.Has(offset) {
			out = append(out, label)
		}
	}
	slices.Sort(out)
	return out
}

// Entities returns the entity ids in this range carrying at least one label,
// in ascending order.
func (d *Document) Entities() []uint64 {
	var union bitmap.Bitmap
	for _, b := range d.labels {
		union = union.Or(b)
	}
	out := make([]uint64, 0, union.Count())
	for offset := range union.Offsets() {
		out = append(out, bitmap.EntityAt(d.rangeID, offset))
	}
	return out
}

// Len returns the number of labels present.
func (d *Document) Len() int {
	return len(d.labels)
}

// Empty reports whether no label is present.
func (d *Document) Empty() bool {
	return len(d.labels) == 0
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	c := &Document{
		rangeID: d.rangeID,
		labels:  make(map[uint32]bitmap.Bitmap, len(d.labels)),
	}
	for label, b := range d.labels {
		c.labels[label] = b
	}
	return c
}
