package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	OpSet = "set"
	OpRm  = "rm"

	ResultHit  = "hit"
	ResultMiss = "miss"
)

// Store holds the engine collectors.
type Store struct {
	Writes             *prometheus.CounterVec
	Reads              *prometheus.CounterVec
	Flushes            prometheus.Counter
	Compactions        prometheus.Counter
	FlushDuration      prometheus.Histogram
	CompactionDuration prometheus.Histogram
	Segments           prometheus.Gauge
	MemtableEntries    prometheus.Gauge
	WALRecordsSkipped  prometheus.Counter
}

// NewStore creates the collectors and registers them on registerer under the
// lsmkv_store_ prefix. A nil registerer leaves them unregistered.
func NewStore(registerer prometheus.Registerer) *Store {
	m := &Store{
		Writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "writes_total",
			Help: "Total number of committed mutations by operation.",
		}, []string{"op"}),
		Reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reads_total",
			Help: "Total number of point lookups by result.",
		}, []string{"result"}),
		Flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flushes_total",
			Help: "Total number of memtable flushes.",
		}),
		Compactions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "compactions_total",
			Help: "Total number of full segment compactions.",
		}),
		FlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "flush_duration_seconds",
			Help:    "Duration of memtable flushes.",
			Buckets: prometheus.DefBuckets,
		}),
		CompactionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "compaction_duration_seconds",
			Help:    "Duration of segment compactions.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		Segments: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "segments",
			Help: "Number of active segments.",
		}),
		MemtableEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "memtable_entries",
			Help: "Number of keys in the active memtable.",
		}),
		WALRecordsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wal_records_skipped_total",
			Help: "WAL records dropped during recovery because they did not decode.",
		}),
	}

	if registerer != nil {
		registerer = prometheus.WrapRegistererWithPrefix("lsmkv_store_", registerer)
		registerer.MustRegister(
			m.Writes,
			m.Reads,
			m.Flushes,
			m.Compactions,
			m.FlushDuration,
			m.CompactionDuration,
			m.Segments,
			m.MemtableEntries,
			m.WALRecordsSkipped,
		)
	}

	return m
}
