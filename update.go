package labelscan

import (
	"fmt"
	"slices"
)

// Update describes a change to one entity's label set: the labels it lost and
// the labels it gained. Labels in neither slice are untouched. Removed and
// Added must be disjoint.
type Update struct {
	Entity  uint64
	Removed []uint32
	Added   []uint32
}

// LabelChanges builds the Update that turns an entity's label set from
// before into after. The inputs need not be sorted and may contain
// duplicates.
func LabelChanges(entity uint64, before, after []uint32) Update {
	beforeSet := make(map[uint32]struct{}, len(before))
	for _, label := range before {
		beforeSet[label] = struct{}{}
	}
	afterSet := make(map[uint32]struct{}, len(after))
	for _, label := range after {
		afterSet[label] = struct{}{}
	}

	u := Update{Entity: entity}
	for label := range beforeSet {
		if _, ok := afterSet[label]; !ok {
			u.Removed = append(u.Removed, label)
		}
	}
	for label := range afterSet {
		if _, ok := beforeSet[label]; !ok {
			u.Added = append(u.Added, label)
		}
	}
	slices.Sort(u.Removed)
	slices.Sort(u.Added)
	return u
}

func (u Update) validate() error {
	if len(u.Removed) == 0 || len(u.Added) == 0 {
		return nil
	}
	for _, label := range u.Added {
		if slices.Contains(u.Removed, label) {
			return fmt.Errorf("%w: entity %d, label %d", ErrOverlappingLabels, u.Entity, label)
		}
	}
	return nil
}
