package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/labelscan/document"
	"github.com/hupe1980/labelscan/rangestore"
)

func doc(rangeID uint64, label uint32, offsets ...uint32) *document.Document {
	d := document.New(rangeID)
	for _, off := range offsets {
		d.Set(label, off)
	}
	return d
}

func TestProbeTransitions(t *testing.T) {
	ctx := context.Background()
	s := New()

	v, err := s.Probe(ctx)
	require.NoError(t, err)
	assert.Equal(t, rangestore.Missing, v)

	// Writes alone do not seal the store.
	require.NoError(t, s.WriteBatch(ctx, map[uint64]*document.Document{0: doc(0, 1, 2)}))
	v, err = s.Probe(ctx)
	require.NoError(t, err)
	assert.Equal(t, rangestore.Missing, v)

	require.NoError(t, s.Flush(ctx, nil))
	v, err = s.Probe(ctx)
	require.NoError(t, err)
	assert.Equal(t, rangestore.Valid, v)

	s.Corrupt()
	v, err = s.Probe(ctx)
	require.NoError(t, err)
	assert.Equal(t, rangestore.Corrupted, v)

	// Clear heals the corruption but drops the seal with the data.
	require.NoError(t, s.Clear(ctx))
	v, err = s.Probe(ctx)
	require.NoError(t, err)
	assert.Equal(t, rangestore.Missing, v)

	require.NoError(t, s.Flush(ctx, nil))
	v, err = s.Probe(ctx)
	require.NoError(t, err)
	assert.Equal(t, rangestore.Valid, v)

	probeErr := errors.New("held elsewhere")
	s.FailProbe(probeErr)
	_, err = s.Probe(ctx)
	assert.ErrorIs(t, err, probeErr)
}

func TestReadRangeCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.WriteBatch(ctx, map[uint64]*document.Document{3: doc(3, 7, 1)}))

	got, err := s.ReadRange(ctx, 3)
	require.NoError(t, err)
	got.Set(7, 30) // must not leak back into the store

	again, err := s.ReadRange(ctx, 3)
	require.NoError(t, err)
	assert.False(t, again.Has(7, 30))

	_, err = s.ReadRange(ctx, 99)
	assert.ErrorIs(t, err, rangestore.ErrNotFound)
}

func TestWriteBatchKeyMismatch(t *testing.T) {
	s := New()
	err := s.WriteBatch(context.Background(), map[uint64]*document.Document{5: doc(4, 1, 0)})
	require.Error(t, err)
}

func TestSnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.WriteBatch(ctx, map[uint64]*document.Document{0: doc(0, 1, 5)}))

	view, err := s.Snapshot(ctx)
	require.NoError(t, err)
	defer view.Close()

	require.NoError(t, s.WriteBatch(ctx, map[uint64]*document.Document{
		0: doc(0, 1, 5, 6),
		1: doc(1, 1, 0),
	}))

	d, err := view.ReadRange(ctx, 0)
	require.NoError(t, err)
	assert.False(t, d.Has(1, 6))

	_, err = view.ReadRange(ctx, 1)
	assert.ErrorIs(t, err, rangestore.ErrNotFound)

	// Live store sees the new state.
	d, err = s.ReadRange(ctx, 0)
	require.NoError(t, err)
	assert.True(t, d.Has(1, 6))
}

func TestAllOrdered(t *testing.T) {
	ctx := context.Background()
	s := New()
	batch := map[uint64]*document.Document{
		9: doc(9, 1, 0),
		0: doc(0, 1, 0),
		4: doc(4, 1, 0),
	}
	require.NoError(t, s.WriteBatch(ctx, batch))

	it, err := s.All(ctx)
	require.NoError(t, err)
	defer it.Close()

	var ids []uint64
	for it.Next() {
		ids = append(ids, it.RangeID())
		assert.Equal(t, it.RangeID(), it.Document().RangeID())
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []uint64{0, 4, 9}, ids)
}

func TestReadOnly(t *testing.T) {
	ctx := context.Background()
	s := New(WithReadOnly(true))
	require.True(t, s.ReadOnly())

	err := s.WriteBatch(ctx, map[uint64]*document.Document{0: doc(0, 1, 0)})
	assert.ErrorIs(t, err, rangestore.ErrReadOnly)
	assert.ErrorIs(t, s.Clear(ctx), rangestore.ErrReadOnly)
}

func TestReopenKeepsState(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.WriteBatch(ctx, map[uint64]*document.Document{2: doc(2, 3, 1)}))
	require.NoError(t, s.Flush(ctx, nil))

	ro := s.Reopen(WithReadOnly(true))
	require.True(t, ro.ReadOnly())

	v, err := ro.Probe(ctx)
	require.NoError(t, err)
	assert.Equal(t, rangestore.Valid, v)

	d, err := ro.ReadRange(ctx, 2)
	require.NoError(t, err)
	assert.True(t, d.Has(3, 1))

	// The old handle is dead.
	_, err = s.Probe(ctx)
	assert.ErrorIs(t, err, rangestore.ErrClosed)
}

func TestClosed(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Close())

	_, err := s.ReadRange(ctx, 0)
	assert.ErrorIs(t, err, rangestore.ErrClosed)
	assert.ErrorIs(t, s.WriteBatch(ctx, map[uint64]*document.Document{0: doc(0, 1, 0)}), rangestore.ErrClosed)
	_, err = s.Snapshot(ctx)
	assert.ErrorIs(t, err, rangestore.ErrClosed)
}

func TestFilesEmpty(t *testing.T) {
	s := New()
	fs, err := s.Files(context.Background())
	require.NoError(t, err)
	assert.Empty(t, fs.Paths())
	require.NoError(t, fs.Close())
}
