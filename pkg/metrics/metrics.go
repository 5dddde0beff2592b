package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTP Metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wmcache_http_requests_total",
			Help: "Total number of HTTP requests processed.",
		},
		[]string{"method", "status", "route"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wmcache_http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "status", "route"},
	)

	// Derivative cache lookups
	CacheOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wmcache_cache_ops_total",
			Help: "Total number of derivative cache lookups.",
		},
		[]string{"type"}, // hit_marker, hit_disk, miss, stale
	)

	// Scheduling
	ScheduleTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wmcache_schedule_total",
			Help: "Deferred generation requests by outcome.",
		},
		[]string{"result"}, // scheduled, deduplicated, rejected
	)

	// Processing Metrics
	GenerateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wmcache_generate_duration_seconds",
			Help:    "Duration of watermark generation (read, composite, write).",
			Buckets: prometheus.DefBuckets,
		},
	)
	GenerateErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wmcache_generate_errors_total",
			Help: "Total number of watermark generation errors.",
		},
		[]string{"op"},
	)

	// Bulk regeneration
	BatchImagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wmcache_batch_images_total",
			Help: "Images processed by bulk regeneration batches.",
		},
		[]string{"result"}, // success, failure
	)
	BatchesInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wmcache_batches_in_flight",
			Help: "Bulk regeneration batches currently processing.",
		},
	)

	// Storage Metrics
	StorageOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wmcache_storage_op_duration_seconds",
			Help:    "Duration of blob store operations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "op"},
	)
)

// Init registers all metrics with Prometheus
func Init() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(CacheOpsTotal)
	prometheus.MustRegister(ScheduleTotal)
	prometheus.MustRegister(GenerateDuration)
	prometheus.MustRegister(GenerateErrorsTotal)
	prometheus.MustRegister(BatchImagesTotal)
	prometheus.MustRegister(BatchesInFlight)
	prometheus.MustRegister(StorageOpDuration)
}
