// Package bitmap provides the fixed-width bit-vectors and entity addressing
// used by the label index.
//
// The index partitions the entity id space into ranges of RangeWidth
// consecutive ids. Within a range, membership of a single label is a Bitmap:
// bit k is set when entity FirstEntity(range)+k carries the label. RangeWidth
// is a power of two, so all addressing is shift and mask arithmetic.
package bitmap

import (
	"iter"
	"math/bits"
)

const (
	// RangeWidth is the number of consecutive entity ids covered by one range.
	RangeWidth = 32

	rangeShift = 5
	offsetMask = RangeWidth - 1
)

// RangeOf returns the id of the range containing entity.
func RangeOf(entity uint64) uint64 {
	return entity >> rangeShift
}

// OffsetOf returns the position of entity within its range.
func OffsetOf(entity uint64) uint32 {
	return uint32(entity & offsetMask)
}

// FirstEntity returns the lowest entity id covered by rangeID.
func FirstEntity(rangeID uint64) uint64 {
	return rangeID << rangeShift
}

// EntityAt returns the entity id at offset within rangeID.
func EntityAt(rangeID uint64, offset uint32) uint64 {
	return rangeID<<rangeShift | uint64(offset&offsetMask)
}

// Bitmap is a bit-vector over the RangeWidth offsets of one range. The zero
// value is empty. Bitmap is a value type; mutating methods take a pointer.
type Bitmap uint32

// Set marks offset as a member.
func (b *Bitmap) Set(offset uint32) {
	*b |= 1 << (offset & offsetMask)
}

// Clear removes offset from the members.
func (b *Bitmap) Clear(offset uint32) {
	*b &^= 1 << (offset & offsetMask)
}

// Has reports whether offset is a member.
func (b Bitmap) Has(offset uint32) bool {
	return b&(1<<(offset&offsetMask)) != 0
}

// IsEmpty reports whether no offset is a member.
func (b Bitmap) IsEmpty() bool {
	return b == 0
}

// Count returns the number of members.
func (b Bitmap) Count() int {
	return bits.OnesCount32(uint32(b))
}

// And returns the intersection of b and other.
func (b Bitmap) And(other Bitmap) Bitmap {
	return b & other
}

// Or returns the union of b and other.
func (b Bitmap) Or(other Bitmap) Bitmap {
	return b | other
}

// NextSet returns the lowest member offset >= from, and whether one exists.
func (b Bitmap) NextSet(from uint32) (uint32, bool) {
	if from >= RangeWidth {
		return 0, false
	}
	w := uint32(b) >> from
	if w == 0 {
		return 0, false
	}
	return from + uint32(bits.TrailingZeros32(w)), true
}

// Offsets iterates the member offsets in ascending order.
func (b Bitmap) Offsets() iter.Seq[uint32] {
	return func(yield func(uint32) bool) {
		w := uint32(b)
		for w != 0 {
			if !yield(uint32(bits.TrailingZeros32(w))) {
				return
			}
			w &= w - 1
		}
	}
}
