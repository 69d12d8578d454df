// internal/monitoring/metrics.go
package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsManager manages Prometheus metrics for a crawl. It implements
// scraper.Recorder. Each manager owns its registry so several crawls in one
// process (and tests) do not collide.
type MetricsManager struct {
	registry *prometheus.Registry

	// Request metrics
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestErrors   *prometheus.CounterVec
	requestRetries  *prometheus.CounterVec
	rateLimitWaits  *prometheus.HistogramVec

	// Crawl metrics
	pagesScraped    *prometheus.CounterVec
	listingsTotal   *prometheus.CounterVec
	listingDuration prometheus.Histogram

	// Output metrics
	recordsWritten *prometheus.CounterVec
	outputErrors   *prometheus.CounterVec
	outputTime     *prometheus.HistogramVec

	// Run metrics
	runsTotal   *prometheus.CounterVec
	runDuration prometheus.Histogram

	namespace string
	subsystem string
}

// MetricsConfig configuration for metrics
type MetricsConfig struct {
	Namespace            string `json:"namespace"`
	Subsystem            string `json:"subsystem"`
	EnableGoMetrics      bool   `json:"enable_go_metrics"`
	EnableProcessMetrics bool   `json:"enable_process_metrics"`
}

// NewMetricsManager creates a new metrics manager
func NewMetricsManager(config MetricsConfig) *MetricsManager {
	if config.Namespace == "" {
		config.Namespace = "craigslist"
	}
	if config.Subsystem == "" {
		config.Subsystem = "scraper"
	}

	mm := &MetricsManager{
		registry:  prometheus.NewRegistry(),
		namespace: config.Namespace,
		subsystem: config.Subsystem,
	}

	if config.EnableGoMetrics {
		mm.registry.MustRegister(collectors.NewGoCollector())
	}
	if config.EnableProcessMetrics {
		mm.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	mm.initializeMetrics()

	return mm
}

func (mm *MetricsManager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: mm.namespace,
		Subsystem: mm.subsystem,
		Name:      name,
		Help:      help,
	}, labels)
	mm.registry.MustRegister(c)
	return c
}

func (mm *MetricsManager) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: mm.namespace,
		Subsystem: mm.subsystem,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)
	mm.registry.MustRegister(h)
	return h
}

func (mm *MetricsManager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: mm.namespace,
		Subsystem: mm.subsystem,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	})
	mm.registry.MustRegister(h)
	return h
}

// initializeMetrics initializes all Prometheus metrics
func (mm *MetricsManager) initializeMetrics() {
	mm.requestsTotal = mm.counterVec("requests_total",
		"Total number of HTTP requests made", "method", "status_code", "host")
	mm.requestDuration = mm.histogramVec("request_duration_seconds",
		"HTTP request duration in seconds", prometheus.DefBuckets, "method", "host")
	mm.requestErrors = mm.counterVec("request_errors_total",
		"Total number of HTTP request errors", "error_type", "host")
	mm.requestRetries = mm.counterVec("request_retries_total",
		"Total number of HTTP request retries", "reason", "host")
	mm.rateLimitWaits = mm.histogramVec("rate_limit_wait_seconds",
		"Time spent waiting on the rate limiter", []float64{0.01, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0}, "host")

	mm.pagesScraped = mm.counterVec("pages_scraped_total",
		"Total number of pages scraped", "kind", "status")
	mm.listingsTotal = mm.counterVec("listings_total",
		"Total number of listings processed", "status")
	mm.listingDuration = mm.histogram("listing_duration_seconds",
		"Time to fetch and extract one listing", []float64{0.1, 0.5, 1, 2, 5, 10, 30})

	mm.recordsWritten = mm.counterVec("records_written_total",
		"Total number of records written", "format")
	mm.outputErrors = mm.counterVec("output_errors_total",
		"Total number of output errors", "format")
	mm.outputTime = mm.histogramVec("output_duration_seconds",
		"Time spent writing output", prometheus.DefBuckets, "format")

	mm.runsTotal = mm.counterVec("runs_total",
		"Total number of crawl runs by final status", "command", "status")
	mm.runDuration = mm.histogram("run_duration_seconds",
		"Crawl run duration in seconds", prometheus.ExponentialBuckets(1, 4, 8))
}

// RecordRequest records a completed HTTP request.
func (mm *MetricsManager) RecordRequest(method, host string, statusCode int, duration time.Duration) {
	mm.requestsTotal.WithLabelValues(method, strconv.Itoa(statusCode), host).Inc()
	mm.requestDuration.WithLabelValues(method, host).Observe(duration.Seconds())
}

func (mm *MetricsManager) RecordRequestError(errorType, host string) {
	mm.requestErrors.WithLabelValues(errorType, host).Inc()
}

func (mm *MetricsManager) RecordRequestRetry(reason, host string) {
	mm.requestRetries.WithLabelValues(reason, host).Inc()
}

func (mm *MetricsManager) RecordRateLimitWait(host string, wait time.Duration) {
	mm.rateLimitWaits.WithLabelValues(host).Observe(wait.Seconds())
}

// Crawl metrics
func (mm *MetricsManager) RecordPageScraped(kind, status string) {
	mm.pagesScraped.WithLabelValues(kind, status).Inc()
}

func (mm *MetricsManager) RecordListing(status string, duration time.Duration) {
	mm.listingsTotal.WithLabelValues(status).Inc()
	mm.listingDuration.Observe(duration.Seconds())
}

// RecordOutput records a write of records in format.
func (mm *MetricsManager) RecordOutput(format string, records int, duration time.Duration, err error) {
	mm.outputTime.WithLabelValues(format).Observe(duration.Seconds())
	if err != nil {
		mm.outputErrors.WithLabelValues(format).Inc()
		return
	}
	mm.recordsWritten.WithLabelValues(format).Add(float64(records))
}

// RecordRun records the final status of a crawl.
func (mm *MetricsManager) RecordRun(command, status string, duration time.Duration) {
	mm.runsTotal.WithLabelValues(command, status).Inc()
	mm.runDuration.Observe(duration.Seconds())
}

// Registry exposes the registry for additional collectors.
func (mm *MetricsManager) Registry() *prometheus.Registry {
	return mm.registry
}

// MetricsHandler returns an HTTP handler for metrics endpoint
func (mm *MetricsManager) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(mm.registry, promhttp.HandlerOpts{Registry: mm.registry})
}
