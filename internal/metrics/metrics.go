// Package metrics exposes process-wide Prometheus collectors for the crawler.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Enqueue results recorded by ObserveEnqueue.
const (
	EnqueueAccepted  = "accepted"
	EnqueueDuplicate = "duplicate"
	EnqueueRejected  = "rejected"
	EnqueueDropped   = "dropped"
	EnqueueError     = "error"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	enqueueTotal               *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaySeconds      *prometheus.HistogramVec
	archiveWritesTotal         *prometheus.CounterVec
	publishTotal               *prometheus.CounterVec

	once sync.Once
)

// Init registers the collectors with the default registry. It is safe to
// call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chesscrawler_http_requests_total",
				Help: "API requests served, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chesscrawler_http_request_duration_seconds",
				Help:    "API request latency, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "route"},
		)

		enqueueTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chesscrawler_enqueue_total",
				Help: "Work items offered to the queue, labeled by kind and result.",
			},
			[]string{"kind", "result"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "chesscrawler_active_workers",
				Help: "Workers currently executing an attempt.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chesscrawler_rate_limit_delay_seconds",
				Help:    "Time spent waiting on the outbound rate limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"host"},
		)

		archiveWritesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chesscrawler_archive_writes_total",
				Help: "Payload archive writes, labeled by result.",
			},
			[]string{"result"},
		)

		publishTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chesscrawler_publish_total",
				Help: "Attempt notifications published, labeled by result.",
			},
			[]string{"result"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname from rawURL for use as a label.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest records one served API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveEnqueue counts one enqueue of the given kind ("seed", "discovered",
// "retry") with its result.
func ObserveEnqueue(kind, result string) {
	Init()
	enqueueTotal.WithLabelValues(kind, result).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveArchive counts a payload archive write.
func ObserveArchive(err error) {
	Init()
	archiveWritesTotal.WithLabelValues(resultLabel(err)).Inc()
}

// ObservePublish counts an attempt notification.
func ObservePublish(err error) {
	Init()
	publishTotal.WithLabelValues(resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
