package testutil

import (
	"context"
	"math/rand"
	"slices"
	"sync"

	"github.com/hupe1980/labelscan"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Entity returns a pseudo-random entity id in [0,maxEntity).
func (r *RNG) Entity(maxEntity uint64) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return uint64(r.rand.Int63n(int64(maxEntity)))
}

// Labels returns a pseudo-random sorted label set drawn from [0,maxLabel),
// with between 0 and maxLabels elements.
func (r *RNG) Labels(maxLabels int, maxLabel uint32) []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.rand.Intn(maxLabels + 1)
	set := make(map[uint32]struct{}, n)
	for range n {
		set[uint32(r.rand.Intn(int(maxLabel)))] = struct{}{}
	}

	labels := make([]uint32, 0, len(set))
	for label := range set {
		labels = append(labels, label)
	}
	slices.Sort(labels)

	return labels
}

// Update returns a random label diff for a random entity in [0,maxEntity):
// up to maxLabels added labels and up to maxLabels removed labels drawn from
// [0,maxLabel), with the overlap stripped so the update is always valid.
func (r *RNG) Update(maxEntity uint64, maxLabels int, maxLabel uint32) labelscan.Update {
	u := labelscan.Update{
		Entity:  r.Entity(maxEntity),
		Removed: r.Labels(maxLabels, maxLabel),
		Added:   r.Labels(maxLabels, maxLabel),
	}
	u.Removed = slices.DeleteFunc(u.Removed, func(label uint32) bool {
		return slices.Contains(u.Added, label)
	})

	return u
}

// Model is an exhaustive in-memory entity/label mapping used as ground truth
// when checking the index. The zero value is not usable; call NewModel.
type Model struct {
	labels map[uint64]map[uint32]struct{}
}

// NewModel creates an empty Model.
func NewModel() *Model {
	return &Model{labels: make(map[uint64]map[uint32]struct{})}
}

// Apply applies the update to the model.
func (m *Model) Apply(u labelscan.Update) {
	set := m.labels[u.Entity]
	if set == nil {
		set = make(map[uint32]struct{})
		m.labels[u.Entity] = set
	}
	for _, label := range u.Removed {
		delete(set, label)
	}
	for _, label := range u.Added {
		set[label] = struct{}{}
	}
	if len(set) == 0 {
		delete(m.labels, u.Entity)
	}
}

// LabelsFor returns the entity's labels in ascending order. Entities without
// labels yield an empty slice.
func (m *Model) LabelsFor(entity uint64) []uint32 {
	labels := make([]uint32, 0, len(m.labels[entity]))
	for label := range m.labels[entity] {
		labels = append(labels, label)
	}
	slices.Sort(labels)

	return labels
}

// Entities returns every entity with at least one label, ascending.
func (m *Model) Entities() []uint64 {
	entities := make([]uint64, 0, len(m.labels))
	for entity := range m.labels {
		entities = append(entities, entity)
	}
	slices.Sort(entities)

	return entities
}

// EntitiesWith returns the entities carrying the label, ascending.
func (m *Model) EntitiesWith(label uint32) []uint64 {
	return m.EntitiesWithAny(label)
}

// EntitiesWithAny returns the entities carrying at least one of the labels,
// ascending and duplicate-free.
func (m *Model) EntitiesWithAny(labels ...uint32) []uint64 {
	entities := make([]uint64, 0)
	for entity, set := range m.labels {
		for _, label := range labels {
			if _, ok := set[label]; ok {
				entities = append(entities, entity)
				break
			}
		}
	}
	slices.Sort(entities)

	return entities
}

// EntitiesWithAll returns the entities carrying every one of the labels,
// ascending. With no labels the result is empty.
func (m *Model) EntitiesWithAll(labels ...uint32) []uint64 {
	if len(labels) == 0 {
		return []uint64{}
	}

	entities := make([]uint64, 0)
	for entity, set := range m.labels {
		all := true
		for _, label := range labels {
			if _, ok := set[label]; !ok {
				all = false
				break
			}
		}
		if all {
			entities = append(entities, entity)
		}
	}
	slices.Sort(entities)

	return entities
}

// Stream returns a ChangeStream replaying the model's current state, one
// "labels added" update per labeled entity in ascending entity order. It
// matches what a primary store's full scan would feed a rebuild.
func (m *Model) Stream() labelscan.ChangeStream {
	return labelscan.ChangeStreamFunc(func(ctx context.Context, sink func(labelscan.Update) error) (int64, error) {
		var count int64
		for _, entity := range m.Entities() {
			if err := ctx.Err(); err != nil {
				return count, err
			}
			if err := sink(labelscan.Update{Entity: entity, Added: m.LabelsFor(entity)}); err != nil {
				return count, err
			}
			count++
		}

		return count, nil
	})
}
