package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's prometheus instruments.
type Metrics struct {
	ReportsStarted   prometheus.Counter
	ReportsCompleted prometheus.Counter
	ReportsFailed    prometheus.Counter
	StoresProcessed  prometheus.Counter
	StoreFaults      prometheus.Counter
	ReportDuration   prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ReportsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "storewatch_reports_started_total",
			Help: "Report jobs triggered.",
		}),
		ReportsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "storewatch_reports_completed_total",
			Help: "Report jobs that produced an artifact.",
		}),
		ReportsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "storewatch_reports_failed_total",
			Help: "Report jobs that ended in error.",
		}),
		StoresProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "storewatch_stores_processed_total",
			Help: "Stores whose metrics rows were computed.",
		}),
		StoreFaults: factory.NewCounter(prometheus.CounterOpts{
			Name: "storewatch_store_faults_total",
			Help: "Stores skipped because their computation faulted.",
		}),
		ReportDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "storewatch_report_duration_seconds",
			Help:    "Wall time of a full report run.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		}),
	}
}
