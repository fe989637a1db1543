package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	BatchRuns       prometheus.Counter
	MessagesFetched prometheus.Counter
	UploadSuccesses prometheus.Counter
	UploadFailures  prometheus.Counter
	PublishFailures prometheus.Counter
	BatchAborts     prometheus.Counter
	BatchDuration   prometheus.Histogram
}

// NewMetrics creates new Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		BatchRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "invoice_relay_batch_runs_total",
			Help: "Total number of batch runs started",
		}),
		MessagesFetched: promauto.NewCounter(prometheus.CounterOpts{
			Name: "invoice_relay_messages_fetched_total",
			Help: "Total number of matching unread messages fetched",
		}),
		UploadSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "invoice_relay_upload_successes_total",
			Help: "Total number of invoices uploaded to the vendor",
		}),
		UploadFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "invoice_relay_upload_failures_total",
			Help: "Total number of invoices that failed to upload",
		}),
		PublishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "invoice_relay_publish_failures_total",
			Help: "Total number of Drive publish failures after a successful upload",
		}),
		BatchAborts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "invoice_relay_batch_aborts_total",
			Help: "Total number of batch runs aborted before completion",
		}),
		BatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "invoice_relay_batch_duration_seconds",
			Help:    "Time spent per batch run",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
