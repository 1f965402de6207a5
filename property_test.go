package labelscan_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/labelscan"
	"github.com/hupe1980/labelscan/rangestore/memstore"
	"github.com/hupe1980/labelscan/testutil"
)

// TestRandomizedAgainstModel drives the index with seeded random update
// batches, mirrors every update into an exhaustive in-memory model, and
// checks both lookup directions plus the boolean merges after each commit.
func TestRandomizedAgainstModel(t *testing.T) {
	const (
		maxEntity = 500
		maxLabels = 4
		maxLabel  = 12
		batches   = 20
		batchSize = 50
	)

	ctx := context.Background()
	rng := testutil.NewRNG(4711)
	model := testutil.NewModel()

	store, err := labelscan.Open(ctx, memstore.New(), streamOf(nil))
	require.NoError(t, err)
	defer store.Close()

	for range batches {
		w, err := store.NewWriter(ctx)
		require.NoError(t, err)

		for range batchSize {
			u := rng.Update(maxEntity, maxLabels, maxLabel)
			require.NoError(t, w.Write(u))
			model.Apply(u)
		}
		require.NoError(t, w.Close())

		r, err := store.NewReader(ctx)
		require.NoError(t, err)

		for entity := uint64(0); entity < maxEntity; entity++ {
			labels, err := r.LabelsFor(ctx, entity)
			require.NoError(t, err)
			// append normalizes nil vs empty for unlabeled entities
			assert.Equal(t, model.LabelsFor(entity), append([]uint32{}, labels...), "entity %d", entity)
		}

		a := uint32(rng.Intn(maxLabel))
		b := uint32(rng.Intn(maxLabel))
		assert.Equal(t, model.EntitiesWith(a), collect(t, r.EntitiesWithLabel(ctx, a)))
		assert.Equal(t, model.EntitiesWithAny(a, b), collect(t, r.EntitiesWithAnyOf(ctx, a, b)))
		assert.Equal(t, model.EntitiesWithAll(a, b), collect(t, r.EntitiesWithAllOf(ctx, a, b)))

		require.NoError(t, r.Close())
	}

	report, err := store.Verify(ctx, model.Stream())
	require.NoError(t, err)
	assert.True(t, report.Ok(), "verify: %+v", report)
}

// TestRebuildMatchesIncremental rebuilds a fresh index from the model's
// stream and checks it answers exactly like the incrementally built one.
func TestRebuildMatchesIncremental(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(1337)
	model := testutil.NewModel()

	incremental, err := labelscan.Open(ctx, memstore.New(), streamOf(nil))
	require.NoError(t, err)
	defer incremental.Close()

	w, err := incremental.NewWriter(ctx)
	require.NoError(t, err)
	for range 500 {
		u := rng.Update(200, 3, 8)
		require.NoError(t, w.Write(u))
		model.Apply(u)
	}
	require.NoError(t, w.Close())

	rebuilt, err := labelscan.Open(ctx, memstore.New(), model.Stream())
	require.NoError(t, err)
	defer rebuilt.Close()

	ri, err := incremental.NewReader(ctx)
	require.NoError(t, err)
	defer ri.Close()

	rr, err := rebuilt.NewReader(ctx)
	require.NoError(t, err)
	defer rr.Close()

	for label := uint32(0); label < 8; label++ {
		assert.Equal(t,
			collect(t, ri.EntitiesWithLabel(ctx, label)),
			collect(t, rr.EntitiesWithLabel(ctx, label)), "label %d", label)
	}

	for _, entity := range model.Entities() {
		want, err := ri.LabelsFor(ctx, entity)
		require.NoError(t, err)
		got, err := rr.LabelsFor(ctx, entity)
		require.NoError(t, err)
		assert.Equal(t, want, got, "entity %d", entity)
	}
}
