package labelscan

import (
	"context"
	"slices"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// verifySampleLimit caps the number of differing entity ids kept in a
// VerifyReport.
const verifySampleLimit = 16

// VerifyReport is the result of comparing the index against a change stream.
type VerifyReport struct {
	// Entities is the number of entities replayed from the stream.
	Entities int64

	// Missing counts labeled entities the index has no labels for.
	Missing int64

	// Extra counts indexed entities the stream never mentioned.
	Extra int64

	// Mismatched counts entities whose stored labels differ from the stream.
	Mismatched int64

	// Samples holds up to verifySampleLimit differing entity ids.
	Samples []uint64
}

// Ok reports whether the index matches the stream exactly.
func (r *VerifyReport) Ok() bool {
	return r.Missing == 0 && r.Extra == 0 && r.Mismatched == 0
}

func (r *VerifyReport) sample(entity uint64) {
	if len(r.Samples) < verifySampleLimit {
		r.Samples = append(r.Samples, entity)
	}
}

// Verify compares the index against a change stream without modifying either.
// The stream plays the same role as in a rebuild: one update per labeled
// entity, carrying that entity's full label set. A nil stream falls back to
// the stream the Store was opened with; having neither is ErrNoChangeStream.
//
// Verify reads from a single snapshot, so it reports a consistent point in
// time even while writers commit concurrently.
func (s *Store) Verify(ctx context.Context, stream ChangeStream) (*VerifyReport, error) {
	if stream == nil {
		stream = s.stream
	}
	if stream == nil {
		return nil, ErrNoChangeStream
	}

	r, err := s.NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	report := &VerifyReport{}
	want := roaring64.New()

	entities, err := stream.ReplayInto(ctx, func(u Update) error {
		if err := u.validate(); err != nil {
			return err
		}

		want.Add(u.Entity)

		stored, err := r.LabelsFor(ctx, u.Entity)
		if err != nil {
			return err
		}

		if len(stored) == 0 {
			report.Missing++
			report.sample(u.Entity)

			return nil
		}

		expect := slices.Clone(u.Added)
		slices.Sort(expect)

		if !slices.Equal(stored, expect) {
			report.Mismatched++
			report.sample(u.Entity)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	report.Entities = entities

	have := roaring64.New()
	for nr, err := range r.AllRanges(ctx) {
		if err != nil {
			return nil, err
		}
		have.AddMany(nr.Entities())
	}

	extra := roaring64.AndNot(have, want)
	report.Extra = int64(extra.GetCardinality())

	it := extra.Iterator()
	for it.HasNext() && len(report.Samples) < verifySampleLimit {
		report.sample(it.Next())
	}

	if !report.Ok() {
		s.logger.Warn("label index differs from change stream",
			"missing", report.Missing, "extra", report.Extra, "mismatched", report.Mismatched)
	}

	return report, nil
}
