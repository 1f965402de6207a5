// Package prom exports the label index's lifecycle events and operation
// metrics to Prometheus.
//
// Monitor implements labelscan.Monitor and Collector implements
// labelscan.MetricsCollector; plug them in via labelscan.WithMonitor and
// labelscan.WithMetricsCollector. EngineCollector additionally exposes the
// internals of a pebble-backed engine.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hupe1980/labelscan"
)

const defaultNamespace = "labelscan"

// Options configures the metric names.
type Options struct {
	// Namespace prefixes every metric name. Defaults to "labelscan".
	Namespace string
}

// WithNamespace overrides the metric namespace.
func WithNamespace(namespace string) func(*Options) {
	return func(o *Options) {
		o.Namespace = namespace
	}
}

func applyOptions(optFns []func(*Options)) Options {
	opts := Options{Namespace: defaultNamespace}
	for _, fn := range optFns {
		fn(&opts)
	}
	return opts
}

// Monitor counts index lifecycle events.
type Monitor struct {
	events          *prometheus.CounterVec
	rebuiltEntities prometheus.Gauge
}

var _ labelscan.Monitor = (*Monitor)(nil)

// NewMonitor creates a Monitor registered with reg.
func NewMonitor(reg prometheus.Registerer, optFns ...func(*Options)) *Monitor {
	opts := applyOptions(optFns)
	factory := promauto.With(reg)

	return &Monitor{
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Name:      "lifecycle_events_total",
			Help:      "Index lifecycle events by kind.",
		}, []string{"event"}),
		rebuiltEntities: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: opts.Namespace,
			Name:      "rebuilt_entities",
			Help:      "Entities replayed by the most recent completed rebuild.",
		}),
	}
}

// Init implements labelscan.Monitor.
func (m *Monitor) Init() {
	m.events.WithLabelValues("init").Inc()
}

// NoIndex implements labelscan.Monitor.
func (m *Monitor) NoIndex() {
	m.events.WithLabelValues("no_index").Inc()
}

// NotValidIndex implements labelscan.Monitor.
func (m *Monitor) NotValidIndex() {
	m.events.WithLabelValues("not_valid_index").Inc()
}

// Rebuilding implements labelscan.Monitor.
func (m *Monitor) Rebuilding() {
	m.events.WithLabelValues("rebuilding").Inc()
}

// Rebuilt implements labelscan.Monitor.
func (m *Monitor) Rebuilt(entities int64) {
	m.events.WithLabelValues("rebuilt").Inc()
	m.rebuiltEntities.Set(float64(entities))
}

// LockedIndex implements labelscan.Monitor.
func (m *Monitor) LockedIndex(error) {
	m.events.WithLabelValues("locked_index").Inc()
}

// Collector observes writer, commit, rebuild and flush operations.
type Collector struct {
	writeDuration   prometheus.Histogram
	writeErrors     prometheus.Counter
	commitDuration  prometheus.Histogram
	commitRanges    prometheus.Histogram
	commitErrors    prometheus.Counter
	rebuildDuration prometheus.Histogram
	rebuildErrors   prometheus.Counter
	forceDuration   prometheus.Histogram
	forceErrors     prometheus.Counter
}

var _ labelscan.MetricsCollector = (*Collector)(nil)

// NewCollector creates a Collector registered with reg.
func NewCollector(reg prometheus.Registerer, optFns ...func(*Options)) *Collector {
	opts := applyOptions(optFns)
	factory := promauto.With(reg)

	return &Collector{
		writeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: opts.Namespace,
			Name:      "write_duration_seconds",
			Help:      "Time spent applying one update to the writer buffer.",
			Buckets:   prometheus.DefBuckets,
		}),
		writeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Name:      "write_errors_total",
			Help:      "Updates the writer rejected.",
		}),
		commitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: opts.Namespace,
			Name:      "commit_duration_seconds",
			Help:      "Time spent committing a writer batch.",
			Buckets:   prometheus.DefBuckets,
		}),
		commitRanges: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: opts.Namespace,
			Name:      "commit_ranges",
			Help:      "Range documents per committed batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		commitErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Name:      "commit_errors_total",
			Help:      "Writer commits that failed.",
		}),
		rebuildDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: opts.Namespace,
			Name:      "rebuild_duration_seconds",
			Help:      "Time spent rebuilding the index from the change stream.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 12),
		}),
		rebuildErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Name:      "rebuild_errors_total",
			Help:      "Rebuild attempts that failed.",
		}),
		forceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: opts.Namespace,
			Name:      "force_duration_seconds",
			Help:      "Time spent in explicit flushes.",
			Buckets:   prometheus.DefBuckets,
		}),
		forceErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Name:      "force_errors_total",
			Help:      "Explicit flushes that failed.",
		}),
	}
}

// RecordWrite implements labelscan.MetricsCollector.
func (c *Collector) RecordWrite(duration time.Duration, err error) {
	c.writeDuration.Observe(duration.Seconds())
	if err != nil {
		c.writeErrors.Inc()
	}
}

// RecordCommit implements labelscan.MetricsCollector.
func (c *Collector) RecordCommit(ranges int, duration time.Duration, err error) {
	c.commitDuration.Observe(duration.Seconds())
	c.commitRanges.Observe(float64(ranges))
	if err != nil {
		c.commitErrors.Inc()
	}
}

// RecordRebuild implements labelscan.MetricsCollector.
func (c *Collector) RecordRebuild(entities int64, duration time.Duration, err error) {
	c.rebuildDuration.Observe(duration.Seconds())
	if err != nil {
		c.rebuildErrors.Inc()
	}
}

// RecordForce implements labelscan.MetricsCollector.
func (c *Collector) RecordForce(duration time.Duration, err error) {
	c.forceDuration.Observe(duration.Seconds())
	if err != nil {
		c.forceErrors.Inc()
	}
}
