package cache

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the intelligence cache.
type Metrics struct {
	HitsTotal      *prometheus.CounterVec
	MissesTotal    prometheus.Counter
	EvictionsTotal *prometheus.CounterVec
	CorruptTotal   prometheus.Counter
	Entries        *prometheus.GaugeVec
}

// NewMetrics registers the cache metrics once per process.
//
// Metrics:
//   - ctxrouter_cache_hits_total{tier}
//   - ctxrouter_cache_misses_total
//   - ctxrouter_cache_evictions_total{tier} - entries pushed out of tier
//   - ctxrouter_cache_corrupt_total
//   - ctxrouter_cache_entries{tier} - in-memory tier sizes
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			HitsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ctxrouter_cache_hits_total",
					Help: "Total number of cache hits by tier",
				},
				[]string{"tier"},
			),
			MissesTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "ctxrouter_cache_misses_total",
				Help: "Total number of cache misses",
			}),
			EvictionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ctxrouter_cache_evictions_total",
					Help: "Total number of entries evicted from a tier",
				},
				[]string{"tier"},
			),
			CorruptTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "ctxrouter_cache_corrupt_total",
				Help: "Total number of corrupt cold entries discarded",
			}),
			Entries: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "ctxrouter_cache_entries",
					Help: "Current number of entries in each in-memory tier",
				},
				[]string{"tier"},
			),
		}
	})
	return globalMetrics
}

func (m *Metrics) hit(t Tier) {
	if m != nil {
		m.HitsTotal.WithLabelValues(string(t)).Inc()
	}
}

func (m *Metrics) miss() {
	if m != nil {
		m.MissesTotal.Inc()
	}
}

func (m *Metrics) evicted(t Tier) {
	if m != nil {
		m.EvictionsTotal.WithLabelValues(string(t)).Inc()
	}
}

func (m *Metrics) corrupt() {
	if m != nil {
		m.CorruptTotal.Inc()
	}
}

func (m *Metrics) sizes(hot, warm int) {
	if m != nil {
		m.Entries.WithLabelValues(string(TierHot)).Set(float64(hot))
		m.Entries.WithLabelValues(string(TierWarm)).Set(float64(warm))
	}
}
