package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Record outcomes.
const (
	Accepted = "accepted"
	Dropped  = "dropped"
	Stored   = "stored"
	Failed   = "failed"
	Skipped  = "skipped_material"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	siteFetch     *prometheus.CounterVec
	records       *prometheus.CounterVec
	cycleDuration prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		siteFetch: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stock_site_fetch_total",
			Help: "Site fetch attempts by result.",
		}, []string{"result"}),
		records: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stock_records_total",
			Help: "Inventory records by outcome.",
		}, []string{"outcome"}),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "stock_cycle_duration_seconds",
			Help:    "Wall time of one sync cycle over all sites.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
}

func (m *Metrics) ObserveFetch(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.siteFetch.WithLabelValues(result).Inc()
}

func (m *Metrics) AddRecords(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.records.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.cycleDuration.Observe(d.Seconds())
}
