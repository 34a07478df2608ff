package civd

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors the bridge server and caddy
// module report against; callers register these with whatever registry
// they use (prometheus.DefaultRegisterer in the common case).
type Metrics struct {
	QueriesTotal   *prometheus.CounterVec
	TilesDecoded   *prometheus.CounterVec
	BytesRead      prometheus.Counter
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	QueryDuration  *prometheus.HistogramVec
	CacheSizeTiles prometheus.Gauge
}

// NewMetrics constructs a fresh Metrics set with the given namespace
// (typically "civd" or "civd_bridge").
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		QueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total ROI queries served, by mode and result.",
		}, []string{"mode", "result"}),
		TilesDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tiles_decoded_total",
			Help:      "Total tiles decoded, by ref_mode.",
		}, []string{"ref_mode"}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_read_total",
			Help:      "Total compressed bytes read from pack files.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total tile cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total tile cache misses.",
		}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_ms",
			Help:      "ROI query decode duration in milliseconds.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		}, []string{"mode"}),
		CacheSizeTiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_size_tiles",
			Help:      "Tiles currently resident in the stream cache.",
		}),
	}
}

// Register adds every collector to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.QueriesTotal, m.TilesDecoded, m.BytesRead, m.CacheHits,
		m.CacheMisses, m.QueryDuration, m.CacheSizeTiles,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveQuery records one completed query's outcome and the stream's
// cache-hit bookkeeping.
func (m *Metrics) ObserveQuery(mode QueryMode, err error, pkt *VolumePacket, stats StreamStats) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.QueriesTotal.WithLabelValues(string(mode), result).Inc()
	if pkt != nil {
		m.BytesRead.Add(float64(pkt.BytesRead))
		m.QueryDuration.WithLabelValues(string(mode)).Observe(pkt.DecodeMS)
	}
	m.CacheHits.Add(float64(stats.Hits))
	m.CacheMisses.Add(float64(stats.Misses))
}
