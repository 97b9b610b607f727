package pipeline

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the pipeline.
type Metrics struct {
	RequestsTotal *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	PanicsTotal   *prometheus.CounterVec
	OutcomesTotal *prometheus.CounterVec
	Sessions      prometheus.Gauge
}

// NewMetrics registers the pipeline metrics once per process.
//
// Metrics:
//   - ctxrouter_requests_total{result} - enhanced, native or fallback
//   - ctxrouter_stage_duration_seconds{stage}
//   - ctxrouter_panics_total{stage} - recovered panics
//   - ctxrouter_outcomes_total{result} - recorded or rejected outcomes
//   - ctxrouter_sessions - sessions with tracked history
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			RequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ctxrouter_requests_total",
					Help: "Total number of routed requests by result",
				},
				[]string{"result"},
			),
			StageDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "ctxrouter_stage_duration_seconds",
					Help:    "Time spent in each pipeline stage",
					Buckets: []float64{0.001, 0.005, 0.015, 0.05, 0.1, 0.15, 0.2, 0.5},
				},
				[]string{"stage"},
			),
			PanicsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ctxrouter_panics_total",
					Help: "Total number of recovered panics by stage",
				},
				[]string{"stage"},
			),
			OutcomesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ctxrouter_outcomes_total",
					Help: "Total number of reported outcomes by result",
				},
				[]string{"result"},
			),
			Sessions: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "ctxrouter_sessions",
				Help: "Current number of sessions with tracked history",
			}),
		}
	})
	return globalMetrics
}

func (m *Metrics) request(result string) {
	if m != nil {
		m.RequestsTotal.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) stage(name string, start time.Time) {
	if m != nil {
		m.StageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) panicked(stage string) {
	if m != nil {
		m.PanicsTotal.WithLabelValues(stage).Inc()
	}
}

func (m *Metrics) outcome(result string) {
	if m != nil {
		m.OutcomesTotal.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) sessions(n int) {
	if m != nil {
		m.Sessions.Set(float64(n))
	}
}
