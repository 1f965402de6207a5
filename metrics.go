package labelscan

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; the prom
// subpackage ships a Prometheus implementation.
type MetricsCollector interface {
	// RecordWrite is called after each update applied through a writer.
	// duration is the time taken, err is nil if successful.
	RecordWrite(duration time.Duration, err error)

	// RecordCommit is called after each writer commit.
	// ranges is the number of range documents in the batch.
	RecordCommit(ranges int, duration time.Duration, err error)

	// RecordRebuild is called after a full rebuild attempt.
	// entities is the number of entities replayed from the change stream.
	RecordRebuild(entities int64, duration time.Duration, err error)

	// RecordForce is called after each explicit flush.
	RecordForce(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordWrite(time.Duration, error)          {}
func (NoopMetricsCollector) RecordCommit(int, time.Duration, error)    {}
func (NoopMetricsCollector) RecordRebuild(int64, time.Duration, error) {}
func (NoopMetricsCollector) RecordForce(time.Duration, error)          {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	WriteCount       atomic.Int64
	WriteErrors      atomic.Int64
	WriteTotalNanos  atomic.Int64
	CommitCount      atomic.Int64
	CommitErrors     atomic.Int64
	CommitRanges     atomic.Int64
	CommitTotalNanos atomic.Int64
	RebuildCount     atomic.Int64
	RebuildErrors    atomic.Int64
	RebuildEntities  atomic.Int64
	ForceCount       atomic.Int64
	ForceErrors      atomic.Int64
}

// RecordWrite implements MetricsCollector.
func (b *BasicMetricsCollector) RecordWrite(duration time.Duration, err error) {
	b.WriteCount.Add(1)
	b.WriteTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.WriteErrors.Add(1)
	}
}

// RecordCommit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCommit(ranges int, duration time.Duration, err error) {
	b.CommitCount.Add(1)
	b.CommitRanges.Add(int64(ranges))
	b.CommitTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.CommitErrors.Add(1)
	}
}

// RecordRebuild implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRebuild(entities int64, duration time.Duration, err error) {
	b.RebuildCount.Add(1)
	if err != nil {
		b.RebuildErrors.Add(1)
		return
	}
	b.RebuildEntities.Store(entities)
}

// RecordForce implements MetricsCollector.
func (b *BasicMetricsCollector) RecordForce(duration time.Duration, err error) {
	b.ForceCount.Add(1)
	if err != nil {
		b.ForceErrors.Add(1)
	}
}

// BasicMetricsStats is a point-in-time snapshot of a BasicMetricsCollector.
type BasicMetricsStats struct {
	WriteCount      int64
	WriteErrors     int64
	WriteAvgNanos   int64
	CommitCount     int64
	CommitErrors    int64
	CommitRanges    int64
	CommitAvgNanos  int64
	RebuildCount    int64
	RebuildErrors   int64
	RebuildEntities int64
	ForceCount      int64
	ForceErrors     int64
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	stats := BasicMetricsStats{
		WriteCount:      b.WriteCount.Load(),
		WriteErrors:     b.WriteErrors.Load(),
		CommitCount:     b.CommitCount.Load(),
		CommitErrors:    b.CommitErrors.Load(),
		CommitRanges:    b.CommitRanges.Load(),
		RebuildCount:    b.RebuildCount.Load(),
		RebuildErrors:   b.RebuildErrors.Load(),
		RebuildEntities: b.RebuildEntities.Load(),
		ForceCount:      b.ForceCount.Load(),
		ForceErrors:     b.ForceErrors.Load(),
	}
	if stats.WriteCount > 0 {
		stats.WriteAvgNanos = b.WriteTotalNanos.Load() / stats.WriteCount
	}
	if stats.CommitCount > 0 {
		stats.CommitAvgNanos = b.CommitTotalNanos.Load() / stats.CommitCount
	}
	return stats
}
