package labelscan_test

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/labelscan"
	"github.com/hupe1980/labelscan/bitmap"
	"github.com/hupe1980/labelscan/rangestore/memstore"
)

// trackingMonitor records lifecycle events in arrival order.
type trackingMonitor struct {
	mu      sync.Mutex
	events  []string
	rebuilt int64
	locked  error
}

func (m *trackingMonitor) Init()          { m.record("init") }
func (m *trackingMonitor) NoIndex()       { m.record("no-index") }
func (m *trackingMonitor) NotValidIndex() { m.record("not-valid") }
func (m *trackingMonitor) Rebuilding()    { m.record("rebuilding") }

func (m *trackingMonitor) Rebuilt(entities int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, "rebuilt")
	m.rebuilt = entities
}

func (m *trackingMonitor) LockedIndex(cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, "locked")
	m.locked = cause
}

func (m *trackingMonitor) record(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, name)
}

// streamOf replays the given label sets in ascending entity order.
func streamOf(labels map[uint64][]uint32) labelscan.ChangeStreamFunc {
	return func(ctx context.Context, sink func(labelscan.Update) error) (int64, error) {
		ids := make([]uint64, 0, len(labels))
		for id := range labels {
			ids = append(ids, id)
		}
		slices.Sort(ids)

		for _, id := range ids {
			if err := sink(labelscan.LabelChanges(id, nil, labels[id])); err != nil {
				return 0, err
			}
		}
		return int64(len(ids)), nil
	}
}

func collect(t *testing.T, seq iter.Seq2[uint64, error]) []uint64 {
	t.Helper()

	out := []uint64{}
	for entity, err := range seq {
		require.NoError(t, err)
		out = append(out, entity)
	}
	return out
}

// canonicalLabels is a small fixture covering shared labels, exclusive
// labels and entities with one, two and three labels.
func canonicalLabels() map[uint64][]uint32 {
	return map[uint64][]uint32{
		1: {3},
		2: {3, 5},
		3: {3},
		4: {3, 13},
		5: {3, 5, 13},
		6: {5},
		7: {5},
		8: {13},
		9: {13},
	}
}

func openCanonical(t *testing.T) *labelscan.Store {
	t.Helper()

	store, err := labelscan.Open(context.Background(), memstore.New(), streamOf(canonicalLabels()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestOpen_FreshIndexRebuilds(t *testing.T) {
	ctx := context.Background()
	monitor := &trackingMonitor{}

	store, err := labelscan.Open(ctx, memstore.New(), streamOf(canonicalLabels()),
		labelscan.WithMonitor(monitor),
	)
	require.NoError(t, err)
	defer store.Close()

	require.Equal(t, []string{"init", "no-index", "rebuilding", "rebuilt"}, monitor.events)
	require.EqualValues(t, 9, monitor.rebuilt)

	r, err := store.NewReader(ctx)
	require.NoError(t, err)
	defer r.Close()

	labels, err := r.LabelsFor(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []uint32{3, 5, 13}, labels)

	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, collect(t, r.EntitiesWithLabel(ctx, 3)))
}

func TestOpen_ValidIndexSkipsRebuild(t *testing.T) {
	ctx := context.Background()

	engine := memstore.New()
	store, err := labelscan.Open(ctx, engine, streamOf(canonicalLabels()))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	monitor := &trackingMonitor{}
	store, err = labelscan.Open(ctx, engine.Reopen(), nil, labelscan.WithMonitor(monitor))
	require.NoError(t, err)
	defer store.Close()

	require.Equal(t, []string{"init"}, monitor.events)

	r, err := store.NewReader(ctx)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []uint64{2, 6, 7}, collect(t, r.EntitiesWithAnyOf(ctx, 5)))
}

func TestOpen_CorruptedIndexRebuilds(t *testing.T) {
	ctx := context.Background()

	engine := memstore.New()
	store, err := labelscan.Open(ctx, engine, streamOf(canonicalLabels()))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened := engine.Reopen()
	reopened.Corrupt()

	monitor := &trackingMonitor{}
	store, err = labelscan.Open(ctx, reopened, streamOf(canonicalLabels()), labelscan.WithMonitor(monitor))
	require.NoError(t, err)
	defer store.Close()

	require.Equal(t, []string{"init", "not-valid", "rebuilding", "rebuilt"}, monitor.events)
	require.EqualValues(t, 9, monitor.rebuilt)
}

func TestOpen_RebuildDropsStaleState(t *testing.T) {
	ctx := context.Background()

	engine := memstore.New()
	store, err := labelscan.Open(ctx, engine, streamOf(map[uint64][]uint32{100: {1}, 200: {2}}))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened := engine.Reopen()
	reopened.Corrupt()

	store, err = labelscan.Open(ctx, reopened, streamOf(map[uint64][]uint32{100: {1}}))
	require.NoError(t, err)
	defer store.Close()

	r, err := store.NewReader(ctx)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []uint64{100}, collect(t, r.EntitiesWithLabel(ctx, 1)))
	assert.Empty(t, collect(t, r.EntitiesWithLabel(ctx, 2)))
}

func TestOpen_ProbeFailure(t *testing.T) {
	ctx := context.Background()

	boom := errors.New("device gone")
	engine := memstore.New()
	engine.FailProbe(boom)

	monitor := &trackingMonitor{}
	_, err := labelscan.Open(ctx, engine, streamOf(canonicalLabels()), labelscan.WithMonitor(monitor))
	require.Error(t, err)

	var startupErr *labelscan.StartupError
	require.ErrorAs(t, err, &startupErr)
	assert.Equal(t, "probe", startupErr.Op)
	assert.ErrorIs(t, err, boom)

	require.Equal(t, []string{"init", "locked"}, monitor.events)
	assert.ErrorIs(t, monitor.locked, boom)
}

func TestOpen_ReadOnlyCannotRebuild(t *testing.T) {
	ctx := context.Background()

	t.Run("missing index", func(t *testing.T) {
		monitor := &trackingMonitor{}
		_, err := labelscan.Open(ctx, memstore.New(memstore.WithReadOnly(true)), streamOf(canonicalLabels()),
			labelscan.WithMonitor(monitor),
		)
		require.Error(t, err)

		var startupErr *labelscan.StartupError
		require.ErrorAs(t, err, &startupErr)
		assert.Equal(t, "rebuild", startupErr.Op)
		assert.ErrorIs(t, err, labelscan.ErrReadOnly)

		require.Equal(t, []string{"init", "no-index"}, monitor.events)
	})

	t.Run("corrupted index", func(t *testing.T) {
		engine := memstore.New()
		store, err := labelscan.Open(ctx, engine, streamOf(canonicalLabels()))
		require.NoError(t, err)
		require.NoError(t, store.Close())

		reopened := engine.Reopen(memstore.WithReadOnly(true))
		reopened.Corrupt()

		monitor := &trackingMonitor{}
		_, err = labelscan.Open(ctx, reopened, streamOf(canonicalLabels()), labelscan.WithMonitor(monitor))
		require.Error(t, err)
		assert.ErrorIs(t, err, labelscan.ErrReadOnly)

		require.Equal(t, []string{"init", "not-valid"}, monitor.events)
	})
}

func TestOpen_NilStreamNeedsRebuild(t *testing.T) {
	_, err := labelscan.Open(context.Background(), memstore.New(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, labelscan.ErrNoChangeStream)
}

func TestOpen_ReadOnlyValidIndex(t *testing.T) {
	ctx := context.Background()

	engine := memstore.New()
	store, err := labelscan.Open(ctx, engine, streamOf(canonicalLabels()))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = labelscan.Open(ctx, engine.Reopen(memstore.WithReadOnly(true)), nil)
	require.NoError(t, err)
	defer store.Close()

	assert.True(t, store.ReadOnly())

	_, err = store.NewWriter(ctx)
	assert.ErrorIs(t, err, labelscan.ErrReadOnly)

	// Reads and Force still work; Force is a no-op.
	r, err := store.NewReader(ctx)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, []uint64{4, 5, 8, 9}, collect(t, r.EntitiesWithLabel(ctx, 13)))

	require.NoError(t, store.Force(ctx, nil))
}

func TestOpen_ReadOnlyOption(t *testing.T) {
	ctx := context.Background()

	engine := memstore.New()
	store, err := labelscan.Open(ctx, engine, streamOf(canonicalLabels()))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = labelscan.Open(ctx, engine.Reopen(), nil, labelscan.WithReadOnly(true))
	require.NoError(t, err)
	defer store.Close()

	assert.True(t, store.ReadOnly())

	_, err = store.NewWriter(ctx)
	assert.ErrorIs(t, err, labelscan.ErrReadOnly)
}

func TestQueries_Canonical(t *testing.T) {
	ctx := context.Background()
	store := openCanonical(t)

	r, err := store.NewReader(ctx)
	require.NoError(t, err)
	defer r.Close()

	t.Run("any of", func(t *testing.T) {
		tests := []struct {
			labels []uint32
			want   []uint64
		}{
			{labels: []uint32{3, 5}, want: []uint64{1, 2, 3, 4, 5, 6, 7}},
			{labels: []uint32{3, 13}, want: []uint64{1, 2, 3, 4, 5, 8, 9}},
			{labels: []uint32{5, 13}, want: []uint64{2, 4, 5, 6, 7, 8, 9}},
			{labels: []uint32{3, 5, 13}, want: []uint64{1, 2, 3, 4, 5, 6, 7, 8, 9}},
			{labels: []uint32{3, 3, 5, 5}, want: []uint64{1, 2, 3, 4, 5, 6, 7}},
			{labels: []uint32{42}, want: []uint64{}},
			{labels: nil, want: []uint64{}},
		}

		for _, tt := range tests {
			t.Run(fmt.Sprintf("%v", tt.labels), func(t *testing.T) {
				assert.Equal(t, tt.want, collect(t, r.EntitiesWithAnyOf(ctx, tt.labels...)))
			})
		}
	})

	t.Run("all of", func(t *testing.T) {
		tests := []struct {
			labels []uint32
			want   []uint64
		}{
			{labels: []uint32{3, 5}, want: []uint64{2, 5}},
			{labels: []uint32{3, 13}, want: []uint64{4, 5}},
			{labels: []uint32{5, 13}, want: []uint64{5}},
			{labels: []uint32{3, 5, 13}, want: []uint64{5}},
			{labels: []uint32{13, 13}, want: []uint64{4, 5, 8, 9}},
			{labels: []uint32{3, 42}, want: []uint64{}},
			{labels: nil, want: []uint64{}},
		}

		for _, tt := range tests {
			t.Run(fmt.Sprintf("%v", tt.labels), func(t *testing.T) {
				assert.Equal(t, tt.want, collect(t, r.EntitiesWithAllOf(ctx, tt.labels...)))
			})
		}
	})

	t.Run("labels for", func(t *testing.T) {
		for entity, want := range canonicalLabels() {
			labels, err := r.LabelsFor(ctx, entity)
			require.NoError(t, err)
			assert.Equal(t, want, labels, "entity %d", entity)
		}

		// Entity 0 shares range 0 with the fixture but has no labels.
		labels, err := r.LabelsFor(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, labels)

		// Entity far outside any stored range.
		labels, err = r.LabelsFor(ctx, 1<<40)
		require.NoError(t, err)
		assert.Empty(t, labels)
	})
}

func TestQueries_SpanRanges(t *testing.T) {
	ctx := context.Background()

	// 34 consecutive entities with the same label cross a range boundary.
	labels := make(map[uint64][]uint32)
	for entity := uint64(0); entity < 34; entity++ {
		labels[entity] = []uint32{0}
	}

	store, err := labelscan.Open(ctx, memstore.New(), streamOf(labels))
	require.NoError(t, err)
	defer store.Close()

	r, err := store.NewReader(ctx)
	require.NoError(t, err)
	defer r.Close()

	got := collect(t, r.EntitiesWithLabel(ctx, 0))
	require.Len(t, got, 34)
	for i, entity := range got {
		assert.EqualValues(t, i, entity)
	}

	var rangeIDs []uint64
	for nr, err := range store.AllRanges(ctx) {
		require.NoError(t, err)
		rangeIDs = append(rangeIDs, nr.RangeID())
	}
	assert.Equal(t, []uint64{0, 1}, rangeIDs)
}

func TestQueries_LargeScan(t *testing.T) {
	ctx := context.Background()

	const n = bitmap.RangeWidth*16 + 10

	labels := make(map[uint64][]uint32, n)
	for entity := uint64(0); entity < n; entity++ {
		labels[entity] = []uint32{7}
	}

	store, err := labelscan.Open(ctx, memstore.New(), streamOf(labels))
	require.NoError(t, err)
	defer store.Close()

	r, err := store.NewReader(ctx)
	require.NoError(t, err)
	defer r.Close()

	got := collect(t, r.EntitiesWithLabel(ctx, 7))
	require.Len(t, got, n)
	assert.True(t, slices.IsSorted(got))
	assert.EqualValues(t, n-1, got[n-1])
}

func TestReader_SnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	store := openCanonical(t)

	before, err := store.NewReader(ctx)
	require.NoError(t, err)
	defer before.Close()

	w, err := store.NewWriter(ctx)
	require.NoError(t, err)
	require.NoError(t, w.Write(labelscan.LabelChanges(100, nil, []uint32{3})))
	require.NoError(t, w.Close())

	// The old reader still sees the pre-commit state.
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, collect(t, before.EntitiesWithLabel(ctx, 3)))

	after, err := store.NewReader(ctx)
	require.NoError(t, err)
	defer after.Close()

	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 100}, collect(t, after.EntitiesWithLabel(ctx, 3)))
}

func TestStore_AllRangesGaps(t *testing.T) {
	ctx := context.Background()

	store, err := labelscan.Open(ctx, memstore.New(), streamOf(map[uint64][]uint32{
		1:    {7},
		40:   {7, 9},
		1000: {9},
	}))
	require.NoError(t, err)
	defer store.Close()

	var got []*labelscan.NodeLabelRange
	for nr, err := range store.AllRanges(ctx) {
		require.NoError(t, err)
		got = append(got, nr)
	}

	require.Len(t, got, 3)
	assert.Equal(t, []uint64{0, 1, 31}, []uint64{got[0].RangeID(), got[1].RangeID(), got[2].RangeID()})

	assert.Equal(t, []uint64{40}, got[1].Entities())
	assert.Equal(t, []uint32{7, 9}, got[1].Labels(40))
	assert.Nil(t, got[1].Labels(1000), "entity outside the range")
}

func TestStore_ClosedOperations(t *testing.T) {
	ctx := context.Background()

	store, err := labelscan.Open(ctx, memstore.New(), streamOf(canonicalLabels()))
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, err = store.NewReader(ctx)
	assert.ErrorIs(t, err, labelscan.ErrClosed)

	_, err = store.NewWriter(ctx)
	assert.ErrorIs(t, err, labelscan.ErrClosed)

	_, err = store.SnapshotFiles(ctx)
	assert.ErrorIs(t, err, labelscan.ErrClosed)

	assert.ErrorIs(t, store.Force(ctx, nil), labelscan.ErrClosed)

	_, err = store.Verify(ctx, streamOf(canonicalLabels()))
	assert.ErrorIs(t, err, labelscan.ErrClosed)
}

func TestStore_SnapshotFiles(t *testing.T) {
	ctx := context.Background()
	store := openCanonical(t)

	files, err := store.SnapshotFiles(ctx)
	require.NoError(t, err)
	defer files.Close()

	// The in-memory engine has nothing on disk.
	assert.Empty(t, files.Paths())
}

func TestOpen_RebuildBatches(t *testing.T) {
	ctx := context.Background()

	labels := make(map[uint64][]uint32)
	for entity := uint64(0); entity < 25; entity++ {
		labels[entity*100] = []uint32{uint32(entity % 3)}
	}

	monitor := &trackingMonitor{}
	store, err := labelscan.Open(ctx, memstore.New(), streamOf(labels),
		labelscan.WithMonitor(monitor),
		labelscan.WithRebuildBatchSize(10),
	)
	require.NoError(t, err)
	defer store.Close()

	require.EqualValues(t, 25, monitor.rebuilt)

	r, err := store.NewReader(ctx)
	require.NoError(t, err)
	defer r.Close()

	union := collect(t, r.EntitiesWithAnyOf(ctx, 0, 1, 2))
	assert.Len(t, union, 25)
}

func TestOpen_RebuildStreamFailure(t *testing.T) {
	ctx := context.Background()

	boom := errors.New("store unavailable")
	stream := labelscan.ChangeStreamFunc(func(ctx context.Context, sink func(labelscan.Update) error) (int64, error) {
		if err := sink(labelscan.LabelChanges(1, nil, []uint32{3})); err != nil {
			return 0, err
		}
		return 1, boom
	})

	_, err := labelscan.Open(ctx, memstore.New(), stream)
	require.Error(t, err)

	var startupErr *labelscan.StartupError
	require.ErrorAs(t, err, &startupErr)
	assert.Equal(t, "rebuild", startupErr.Op)
	assert.ErrorIs(t, err, boom)
}

func TestStore_Metrics(t *testing.T) {
	ctx := context.Background()

	metrics := &labelscan.BasicMetricsCollector{}
	store, err := labelscan.Open(ctx, memstore.New(), streamOf(canonicalLabels()),
		labelscan.WithMetricsCollector(metrics),
	)
	require.NoError(t, err)
	defer store.Close()

	w, err := store.NewWriter(ctx)
	require.NoError(t, err)
	require.NoError(t, w.Write(labelscan.LabelChanges(50, nil, []uint32{1})))
	require.NoError(t, w.Write(labelscan.LabelChanges(51, nil, []uint32{1})))
	require.NoError(t, w.Close())

	require.NoError(t, store.Force(ctx, nil))

	stats := metrics.GetStats()
	assert.EqualValues(t, 1, stats.RebuildCount)
	assert.EqualValues(t, 9, stats.RebuildEntities)
	assert.EqualValues(t, 2, stats.WriteCount)
	assert.EqualValues(t, 1, stats.CommitCount)
	assert.EqualValues(t, 1, stats.CommitRanges)
	assert.EqualValues(t, 1, stats.ForceCount)
	assert.Zero(t, stats.WriteErrors)
}
