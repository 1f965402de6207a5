package labelscan

import (
	"context"
	"time"

	"github.com/hupe1980/labelscan/document"
)

// ChangeStream replays the current label state of the graph, one update per
// labeled entity. It is the source of truth the index is rebuilt from when
// its stored state is missing or damaged.
//
// ReplayInto must call sink once per entity that carries at least one label,
// with Removed empty and Added holding the entity's labels, and must stop
// with the sink's error if one is returned. It reports the number of
// entities replayed.
type ChangeStream interface {
	ReplayInto(ctx context.Context, sink func(Update) error) (int64, error)
}

// ChangeStreamFunc adapts a function to the ChangeStream interface.
type ChangeStreamFunc func(ctx context.Context, sink func(Update) error) (int64, error)

// ReplayInto calls f.
func (f ChangeStreamFunc) ReplayInto(ctx context.Context, sink func(Update) error) (int64, error) {
	return f(ctx, sink)
}

// rebuild drops all stored state and repopulates the index from the change
// stream, committing in batches so the replay of a large graph is not one
// giant write.
func (s *Store) rebuild(ctx context.Context) (int64, error) {
	start := time.Now()

	entities, err := s.doRebuild(ctx)

	s.metrics.RecordRebuild(entities, time.Since(start), err)

	return entities, err
}

func (s *Store) doRebuild(ctx context.Context) (int64, error) {
	if err := s.engine.Clear(ctx); err != nil {
		return 0, err
	}

	s.monitor.Rebuilding()
	s.logger.Info("rebuilding label index")

	w := &Writer{
		store: s,
		ctx:   ctx,
		docs:  make(map[uint64]*document.Document),
	}

	pending := 0

	entities, err := s.stream.ReplayInto(ctx, func(u Update) error {
		if err := w.write(u); err != nil {
			return err
		}

		pending++
		if pending < s.rebuildBatchSize {
			return nil
		}

		if err := w.commit(); err != nil {
			return err
		}

		w.docs = make(map[uint64]*document.Document)
		pending = 0

		return nil
	})
	if err != nil {
		return entities, err
	}

	if err := w.commit(); err != nil {
		return entities, err
	}

	if err := s.engine.Flush(ctx, nil); err != nil {
		return entities, err
	}

	s.monitor.Rebuilt(entities)
	s.logger.Info("label index rebuilt", "entities", entities)

	return entities, nil
}
