package labelscan

import (
	"log/slog"
)

const defaultRebuildBatchSize = 10_000

type options struct {
	logger           *Logger
	monitor          Monitor
	metricsCollector MetricsCollector
	readOnly         bool
	rebuildBatchSize int
}

// Option configures Open behavior.
type Option func(*options)

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := labelscan.NewJSONLogger(slog.LevelInfo)
//	store, _ := labelscan.Open(ctx, engine, stream, labelscan.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMonitor configures a lifecycle monitor. Use MultiMonitor to attach
// more than one.
func WithMonitor(m Monitor) Option {
	return func(o *options) {
		if m == nil {
			m = NoopMonitor{}
		}
		o.monitor = m
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &labelscan.BasicMetricsCollector{}
//	store, _ := labelscan.Open(ctx, engine, stream, labelscan.WithMetricsCollector(metrics))
//	// ... use store ...
//	stats := metrics.GetStats()
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithReadOnly opens the index in read-only mode: writers are refused,
// flushes are no-ops, and startup fails instead of rebuilding a missing or
// invalid index. The index is also read-only whenever its engine is.
func WithReadOnly(readOnly bool) Option {
	return func(o *options) {
		o.readOnly = readOnly
	}
}

// WithRebuildBatchSize bounds how many updates a rebuild buffers before
// committing a batch. Values below 1 keep the default.
func WithRebuildBatchSize(size int) Option {
	return func(o *options) {
		if size >= 1 {
			o.rebuildBatchSize = size
		}
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:           NoopLogger(),
		monitor:          NoopMonitor{},
		metricsCollector: NoopMetricsCollector{},
		rebuildBatchSize: defaultRebuildBatchSize,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
