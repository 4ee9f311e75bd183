package metrics

/*
secagg — client for aggregating security metadata about domain names
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry           = prometheus.NewRegistry()
	defaultRegisterer  = promauto.With(registry)
	metricsInitialized sync.Once
	metricsEnabled     bool
	metricsServer      *http.Server
)

// Metrics contains all the Prometheus metrics for the application
type Metrics struct {
	// Submission metrics
	SubmissionsTotal     *prometheus.CounterVec
	DomainsPerSubmission *prometheus.HistogramVec
	ResultSetSize        prometheus.Gauge

	// Network metrics
	NetworkRequestDuration *prometheus.HistogramVec
	NetworkRequestsTotal   *prometheus.CounterVec
	NetworkErrorsTotal     *prometheus.CounterVec

	// Disk I/O metrics
	DiskWriteDuration *prometheus.HistogramVec
	DiskWriteBytes    *prometheus.HistogramVec
	DiskWriteOps      *prometheus.CounterVec
	DiskErrors        *prometheus.CounterVec

	// Drop zone metrics
	DropFilesTotal *prometheus.CounterVec
}

// Global instance of metrics
var globalMetrics *Metrics
var metricsOnce sync.Once

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = newMetrics()
	})
	return globalMetrics
}

// EnableMetrics enables metrics collection
func EnableMetrics() {
	metricsEnabled = true
}

// IsMetricsEnabled returns whether metrics collection is enabled
func IsMetricsEnabled() bool {
	return metricsEnabled
}

// newMetrics creates and registers all metrics
func newMetrics() *Metrics {
	buckets := []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120}
	countBuckets := []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}
	byteBuckets := []float64{256, 1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024}

	m := &Metrics{
		SubmissionsTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secagg_submissions_total",
				Help: "Total number of aggregation submissions by outcome",
			},
			[]string{"outcome"},
		),
		DomainsPerSubmission: defaultRegisterer.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "secagg_domains_per_submission",
				Help:    "Number of normalized domains carried by one submission",
				Buckets: countBuckets,
			},
			[]string{"outcome"},
		),
		ResultSetSize: defaultRegisterer.NewGauge(
			prometheus.GaugeOpts{
				Name: "secagg_result_set_size",
				Help: "Number of records in the current result set",
			},
		),

		NetworkRequestDuration: defaultRegisterer.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "secagg_network_request_duration_seconds",
				Help:    "Time spent on requests to the aggregation backend",
				Buckets: buckets,
			},
			[]string{"endpoint"},
		),
		NetworkRequestsTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secagg_network_requests_total",
				Help: "Total number of requests to the aggregation backend",
			},
			[]string{"endpoint", "status"},
		),
		NetworkErrorsTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secagg_network_errors_total",
				Help: "Total number of failed requests to the aggregation backend",
			},
			[]string{"endpoint", "error_type"},
		),

		DiskWriteDuration: defaultRegisterer.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "secagg_disk_write_duration_seconds",
				Help:    "Time spent writing files to disk",
				Buckets: buckets,
			},
			[]string{"operation"},
		),
		DiskWriteBytes: defaultRegisterer.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "secagg_disk_write_bytes",
				Help:    "Size of files written to disk",
				Buckets: byteBuckets,
			},
			[]string{"operation"},
		),
		DiskWriteOps: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secagg_disk_write_ops_total",
				Help: "Total number of files written to disk",
			},
			[]string{"operation"},
		),
		DiskErrors: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secagg_disk_errors_total",
				Help: "Total number of disk errors",
			},
			[]string{"operation", "error_type"},
		),

		DropFilesTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secagg_drop_files_total",
				Help: "Files picked up from the drop directory by outcome",
			},
			[]string{"outcome"},
		),
	}

	return m
}

// StartMetricsServer starts an HTTP server to expose Prometheus metrics
func StartMetricsServer(addr string) error {
	if !metricsEnabled {
		return nil
	}

	// Only start once
	var startErr error
	metricsInitialized.Do(func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

		metricsServer = &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			log.Printf("Starting metrics server on %s", addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("Metrics server error: %v", err)
			}
		}()
	})

	return startErr
}

// ShutdownMetricsServer gracefully shuts down the metrics server
func ShutdownMetricsServer(ctx context.Context) error {
	if metricsServer != nil {
		log.Println("Shutting down metrics server...")
		return metricsServer.Shutdown(ctx)
	}
	return nil
}

// MeasureDuration is a helper to measure the duration of a function
func MeasureDuration(histogram *prometheus.HistogramVec, labels prometheus.Labels) func() {
	if !metricsEnabled {
		return func() {}
	}

	start := time.Now()
	return func() {
		duration := time.Since(start)
		histogram.With(labels).Observe(duration.Seconds())
	}
}

// RecordSubmission counts one submission outcome ("done", "error", "rejected").
func (m *Metrics) RecordSubmission(outcome string, domains int) {
	if !metricsEnabled {
		return
	}

	m.SubmissionsTotal.WithLabelValues(outcome).Inc()
	m.DomainsPerSubmission.WithLabelValues(outcome).Observe(float64(domains))
}

// SetResultSetSize publishes the size of the cached result set.
func (m *Metrics) SetResultSetSize(n int) {
	if !metricsEnabled {
		return
	}

	m.ResultSetSize.Set(float64(n))
}

// RecordRequest counts one backend request. status is the HTTP status code,
// 0 when no response was received; errorType is empty on success.
func (m *Metrics) RecordRequest(endpoint string, status int, errorType string) {
	if !metricsEnabled {
		return
	}

	m.NetworkRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	if errorType != "" {
		m.NetworkErrorsTotal.WithLabelValues(endpoint, errorType).Inc()
	}
}

// RecordRequestError counts a failure detected after the response was accepted,
// such as an undecodable body.
func (m *Metrics) RecordRequestError(endpoint, errorType string) {
	if !metricsEnabled {
		return
	}

	m.NetworkErrorsTotal.WithLabelValues(endpoint, errorType).Inc()
}

// RecordWrite records a completed file write, or a failed one when err is set.
func (m *Metrics) RecordWrite(operation string, bytes int64, err error) {
	if !metricsEnabled {
		return
	}

	if err != nil {
		m.DiskErrors.WithLabelValues(operation, "write").Inc()
		return
	}
	m.DiskWriteOps.WithLabelValues(operation).Inc()
	m.DiskWriteBytes.WithLabelValues(operation).Observe(float64(bytes))
}

// RecordDrop counts a file picked up from the drop directory ("merged", "empty", "error").
func (m *Metrics) RecordDrop(outcome string) {
	if !metricsEnabled {
		return
	}

	m.DropFilesTotal.WithLabelValues(outcome).Inc()
}
