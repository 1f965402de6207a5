package labelscan

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Force flushes the engine's buffered state to durable storage. The limiter
// paces the write-out when non-nil; a nil limiter flushes at full speed. On
// a read-only index Force is a no-op.
func (s *Store) Force(ctx context.Context, limit *rate.Limiter) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if s.readOnly {
		return nil
	}

	start := time.Now()

	err := s.engine.Flush(ctx, limit)

	s.metrics.RecordForce(time.Since(start), err)

	return err
}

// Close flushes a writable index and shuts down the engine. Readers and the
// writer must be closed first; operations on a closed Store fail with
// ErrClosed. Close is idempotent.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var firstErr error
	if !s.readOnly {
		if err := s.engine.Flush(context.Background(), nil); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.engine.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	s.logger.Debug("label index closed")

	return firstErr
}
