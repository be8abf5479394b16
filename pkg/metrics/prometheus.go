package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Lookup results.
const (
	LookupHit     = "hit"
	LookupMiss    = "miss"
	LookupCorrupt = "corrupt"
	LookupError   = "error"
)

// CacheMetrics holds the Prometheus collectors exported by the cache.
// The embedding service decides where (and whether) they are scraped.
type CacheMetrics struct {
	lookups      *prometheus.CounterVec
	writes       *prometheus.CounterVec
	bytesWritten prometheus.Counter
	indexEntries prometheus.Gauge
}

// NewCacheMetrics creates the collectors and registers them on reg.
// A nil reg leaves them unregistered, which is what most tests want.
func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	m := &CacheMetrics{
		lookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "voicecache",
				Name:      "lookups_total",
				Help:      "Cache lookups by result",
			},
			[]string{"result"},
		),
		writes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "voicecache",
				Name:      "writes_total",
				Help:      "Stream-end write attempts by outcome",
			},
			[]string{"outcome"},
		),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voicecache",
			Name:      "written_bytes_total",
			Help:      "Bytes written to artifacts, header included",
		}),
		indexEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voicecache",
			Name:      "index_entries",
			Help:      "Number of entries in the cache index",
		}),
	}
	if reg != nil {
		reg.MustRegister(m)
	}
	return m
}

// Describe implements prometheus.Collector.
func (m *CacheMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.lookups.Describe(ch)
	m.writes.Describe(ch)
	m.bytesWritten.Describe(ch)
	m.indexEntries.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *CacheMetrics) Collect(ch chan<- prometheus.Metric) {
	m.lookups.Collect(ch)
	m.writes.Collect(ch)
	m.bytesWritten.Collect(ch)
	m.indexEntries.Collect(ch)
}

func (m *CacheMetrics) Lookup(result string) {
	m.lookups.WithLabelValues(result).Inc()
}

func (m *CacheMetrics) Write(outcome string, bytes int64) {
	m.writes.WithLabelValues(outcome).Inc()
	if bytes > 0 {
		m.bytesWritten.Add(float64(bytes))
	}
}

func (m *CacheMetrics) SetIndexEntries(n int) {
	m.indexEntries.Set(float64(n))
}
