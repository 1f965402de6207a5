package labelscan

import (
	"fmt"
	"strings"

	"github.com/hupe1980/labelscan/bitmap"
	"github.com/hupe1980/labelscan/document"
)

// NodeLabelRange is an immutable snapshot of one range as yielded by
// AllRanges: which entities in the range carry at least one label, and which
// labels each of them carries.
type NodeLabelRange struct {
	rangeID uint64
	labels  []uint32
	bits    []bitmap.Bitmap
}

func newNodeLabelRange(d *document.Document) *NodeLabelRange {
	labels := d.Labels()
	bits := make([]bitmap.Bitmap, len(labels))
	for i, label := range labels {
		bits[i], _ = d.Bits(label)
	}
	return &NodeLabelRange{
		rangeID: d.RangeID(),
		labels:  labels,
		bits:    bits,
	}
}

// RangeID returns the id of the covered range.
func (nr NodeLabelRange) RangeID() uint64 {
	return nr.rangeID
}

// Entities returns the entity ids in this range carrying at least one label,
// in ascending order.
func (nr NodeLabelRange) Entities() []uint64 {
	var union bitmap.Bitmap
	for _, b := range nr.bits {
		union = union.Or(b)
	}
	out := make([]uint64, 0, union.Count())
	for offset := range union.Offsets() {
		out = append(out, bitmap.EntityAt(nr.rangeID, offset))
	}
	return out
}

// Labels returns the labels carried by entity, in ascending order. Entities
// outside the range or without labels yield nothing.
func (nr NodeLabelRange) Labels(entity uint64) []uint32 {
	if bitmap.RangeOf(entity) != nr.rangeID {
		return nil
	}
	offset := bitmap.OffsetOf(entity)
	var out []uint32
	for i, b := range nr.bits {
		if b.Has(offset) {
			out = append(out, nr.labels[i])
		}
	}
	return out
}

// String implements fmt.Stringer.
func (nr NodeLabelRange) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "NodeLabelRange{range: %d, entities: [%d..%d]",
		nr.rangeID, bitmap.FirstEntity(nr.rangeID), bitmap.FirstEntity(nr.rangeID)+bitmap.RangeWidth-1)
	for _, entity := range nr.Entities() {
		fmt.Fprintf(&sb, ", %d: %v", entity, nr.Labels(entity))
	}
	sb.WriteString("}")
	return sb.String()
}
