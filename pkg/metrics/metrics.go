// Package metrics provides Prometheus metrics for nicesync. Collectors
// cover record flow, API traffic, window processing, and export jobs, and
// register automatically on first use.
//
// # Basic Usage
//
//	// Count extracted records
//	metrics.RecordsExtracted.WithLabelValues("skills_summary").Add(42)
//
//	// Time a stream sync
//	timer := metrics.NewTimer("skills_summary")
//	runStream()
//	metrics.StreamSyncDuration.WithLabelValues("skills_summary").Observe(timer.Stop().Seconds())
//
// The metrics endpoint is off unless the config sets metrics_addr.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RecordsExtracted counts records received from the API before
	// filtering. Labels: stream
	RecordsExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nicesync_records_extracted_total",
			Help: "Total number of records extracted from the API",
		},
		[]string{"stream"},
	)

	// RecordsEmitted counts records written to the output after the
	// watermark filter. Labels: stream
	RecordsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nicesync_records_emitted_total",
			Help: "Total number of records emitted to the output",
		},
		[]string{"stream"},
	)

	// RecordsFiltered counts records dropped by the watermark filter.
	// Labels: stream
	RecordsFiltered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nicesync_records_filtered_total",
			Help: "Total number of records dropped by the watermark filter",
		},
		[]string{"stream"},
	)

	// APIRequests counts completed API requests by outcome.
	// Labels: method, status (the HTTP status code, or "error" for
	// connection failures)
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nicesync_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "status"},
	)

	// APIRetries counts retried API requests. Labels: method
	APIRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nicesync_api_retries_total",
			Help: "Total number of retried API requests",
		},
		[]string{"method"},
	)

	// WindowsProcessed counts date windows fully extracted. Labels: stream
	WindowsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nicesync_windows_processed_total",
			Help: "Total number of date windows processed",
		},
		[]string{"stream"},
	)

	// WindowsAbandoned counts windows given up after an unrecoverable
	// API error. Labels: stream, reason (the error type)
	WindowsAbandoned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nicesync_windows_abandoned_total",
			Help: "Total number of date windows abandoned",
		},
		[]string{"stream", "reason"},
	)

	// ExportJobs counts export jobs by terminal state.
	// Labels: entity, status (succeeded/failed/cancelled/expired/timeout)
	ExportJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nicesync_export_jobs_total",
			Help: "Total number of export jobs by terminal state",
		},
		[]string{"entity", "status"},
	)

	// StreamSyncDuration tracks per-stream sync wall time in seconds.
	// Labels: stream
	StreamSyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nicesync_stream_sync_duration_seconds",
			Help:    "Stream sync duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"stream"},
	)
)

// Timer measures elapsed time for an operation.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a timer and starts it immediately. The name is for
// identification in logs.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Stop returns the elapsed time since creation. Calling Stop again
// returns the new total.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// Serve exposes the Prometheus registry on addr in a background
// goroutine. Errors from the listener are reported on the returned
// channel; the server runs until the process exits.
func Serve(addr string) <-chan error {
	errc := make(chan error, 1)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		errc <- (&http.Server{Addr: addr, Handler: mux}).ListenAndServe()
	}()

	return errc
}
