package prom

import (
	"github.com/cockroachdb/pebble"
	"github.com/prometheus/client_golang/prometheus"
)

// EngineCollector exposes the internals of a pebble-backed engine: memtable
// pressure, WAL volume and compaction behavior. It reads the metrics lazily
// on every scrape.
//
// Register it alongside Monitor and Collector:
//
//	engine, _ := pebblestore.Open(dir)
//	reg.MustRegister(prom.NewEngineCollector(engine.Metrics))
type EngineCollector struct {
	metrics func() *pebble.Metrics

	memtableSize   *prometheus.Desc
	memtableCount  *prometheus.Desc
	walFiles       *prometheus.Desc
	walSize        *prometheus.Desc
	walBytesIn     *prometheus.Desc
	compactions    *prometheus.Desc
	compactionDebt *prometheus.Desc
	flushes        *prometheus.Desc
}

var _ prometheus.Collector = (*EngineCollector)(nil)

// NewEngineCollector builds a collector over a metrics source. The source
// may return nil, in which case the scrape reports nothing; this covers the
// window after the engine is closed.
func NewEngineCollector(metrics func() *pebble.Metrics, optFns ...func(*Options)) *EngineCollector {
	opts := applyOptions(optFns)
	ns := opts.Namespace

	return &EngineCollector{
		metrics: metrics,

		memtableSize: prometheus.NewDesc(
			prometheus.BuildFQName(ns, "engine", "memtable_size_bytes"),
			"Current size of the engine memtable.",
			nil, nil,
		),
		memtableCount: prometheus.NewDesc(
			prometheus.BuildFQName(ns, "engine", "memtable_count"),
			"Current number of memtables.",
			nil, nil,
		),
		walFiles: prometheus.NewDesc(
			prometheus.BuildFQName(ns, "engine", "wal_files"),
			"Number of live WAL files.",
			nil, nil,
		),
		walSize: prometheus.NewDesc(
			prometheus.BuildFQName(ns, "engine", "wal_size_bytes"),
			"Size of live WAL data.",
			nil, nil,
		),
		walBytesIn: prometheus.NewDesc(
			prometheus.BuildFQName(ns, "engine", "wal_bytes_in_total"),
			"Logical bytes written to the WAL.",
			nil, nil,
		),
		compactions: prometheus.NewDesc(
			prometheus.BuildFQName(ns, "engine", "compactions_total"),
			"Compactions performed.",
			nil, nil,
		),
		compactionDebt: prometheus.NewDesc(
			prometheus.BuildFQName(ns, "engine", "compaction_debt_bytes"),
			"Estimated bytes to compact to reach a stable state.",
			nil, nil,
		),
		flushes: prometheus.NewDesc(
			prometheus.BuildFQName(ns, "engine", "flushes_total"),
			"Memtable flushes performed.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (ec *EngineCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- ec.memtableSize
	ch <- ec.memtableCount
	ch <- ec.walFiles
	ch <- ec.walSize
	ch <- ec.walBytesIn
	ch <- ec.compactions
	ch <- ec.compactionDebt
	ch <- ec.flushes
}

// Collect implements prometheus.Collector.
func (ec *EngineCollector) Collect(ch chan<- prometheus.Metric) {
	m := ec.metrics()
	if m == nil {
		return
	}

	ch <- prometheus.MustNewConstMetric(ec.memtableSize, prometheus.GaugeValue, float64(m.MemTable.Size))
	ch <- prometheus.MustNewConstMetric(ec.memtableCount, prometheus.GaugeValue, float64(m.MemTable.Count))
	ch <- prometheus.MustNewConstMetric(ec.walFiles, prometheus.GaugeValue, float64(m.WAL.Files))
	ch <- prometheus.MustNewConstMetric(ec.walSize, prometheus.GaugeValue, float64(m.WAL.Size))
	ch <- prometheus.MustNewConstMetric(ec.walBytesIn, prometheus.CounterValue, float64(m.WAL.BytesIn))
	ch <- prometheus.MustNewConstMetric(ec.compactions, prometheus.CounterValue, float64(m.Compact.Count))
	ch <- prometheus.MustNewConstMetric(ec.compactionDebt, prometheus.GaugeValue, float64(m.Compact.EstimatedDebt))
	ch <- prometheus.MustNewConstMetric(ec.flushes, prometheus.CounterValue, float64(m.Flush.Count))
}
