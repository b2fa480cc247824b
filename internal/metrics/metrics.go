// Package metrics exposes Prometheus collectors for dispatch runs and
// progress streams.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EmailsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "batchmailer_emails_sent_total",
		Help: "Total number of recipients whose email was sent",
	}, []string{"transport"})
	EmailsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "batchmailer_emails_failed_total",
		Help: "Total number of recipients whose send failed",
	}, []string{"transport"})
	// Store write failures never abort a run but leave durable state behind
	// the registry, so they are worth alerting on.
	StoreWriteErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "batchmailer_store_write_errors_total",
		Help: "Total number of recipient store writes that failed during dispatch",
	}, []string{"op"})
	SendDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "batchmailer_send_duration_seconds",
		Help:    "Time spent in a single transport send",
		Buckets: prometheus.DefBuckets,
	}, []string{"transport"})
	DispatchRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "batchmailer_dispatch_runs_total",
		Help: "Dispatch runs by outcome (started, completed, rejected)",
	}, []string{"outcome"})
	ActiveDispatches = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "batchmailer_active_dispatches",
		Help: "Number of dispatch loops currently running",
	})
	OpenStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "batchmailer_open_streams",
		Help: "Number of progress streams currently connected",
	})
	StreamEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "batchmailer_stream_events_total",
		Help: "Progress events written to observers by type",
	}, []string{"type"})
	ReportsArchived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "batchmailer_reports_archived_total",
		Help: "Delivery reports uploaded to S3 by result",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(EmailsSent)
	prometheus.MustRegister(EmailsFailed)
	prometheus.MustRegister(StoreWriteErrors)
	prometheus.MustRegister(SendDuration)
	prometheus.MustRegister(DispatchRuns)
	prometheus.MustRegister(ActiveDispatches)
	prometheus.MustRegister(OpenStreams)
	prometheus.MustRegister(StreamEvents)
	prometheus.MustRegister(ReportsArchived)
}

// Handler returns an http.Handler exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
