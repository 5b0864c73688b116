// Package observability holds the process-wide Prometheus collectors.
package observability

import (
	"errors"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	backendLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backend_request_duration_seconds",
			Help:    "Latency of search backend calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"backend", "op", "outcome"},
	)

	queryModes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feature_query_mode_total",
			Help: "Feature queries by orchestrator mode.",
		},
		[]string{"mode"},
	)

	featuresReturned = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feature_query_features",
			Help:    "Number of features returned per query.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
		[]string{"mode"},
	)

	conversionWarnings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feature_conversion_warnings_total",
			Help: "Documents or buckets that failed geometry or date conversion.",
		},
		[]string{"kind"},
	)

	metadataLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metadata_cache_lookups_total",
			Help: "Metadata cache lookups by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	cacheOpSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "response_cache_op_duration_seconds",
			Help:    "Duration of response cache operations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op", "outcome"},
	)

	cacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "response_cache_results_total",
			Help: "Response cache results by outcome.",
		},
		[]string{"outcome"},
	)

	hotKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "response_cache_hot_keys",
			Help: "Cache keys currently tracked by the admission hotness model.",
		},
	)

	cacheAdmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "response_cache_admissions_total",
			Help: "Response cache store attempts by admission decision.",
		},
		[]string{"decision"},
	)

	invalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "response_cache_invalidations_total",
			Help: "Dataset invalidation events by operation and result.",
		},
		[]string{"op", "result"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "featureserver_build_info",
			Help: "Build information for the feature server.",
		},
		[]string{"version"},
	)

	collectors = []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds, backendLatencySeconds,
		queryModes, featuresReturned, conversionWarnings, metadataLookups,
		cacheOpSeconds, cacheResults, hotKeys, cacheAdmissions, invalidations,
		buildInfo,
	}

	initOnce sync.Once
)

// Init additionally registers the collectors with a dedicated registry (the
// metrics listener). They are always registered with the default registry.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil {
		return
	}
	initOnce.Do(func() {
		for _, c := range collectors {
			var are prometheus.AlreadyRegisteredError
			if err := reg.Register(c); err != nil && !errors.As(err, &are) {
				panic(err)
			}
		}
	})
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveBackend(backend, op string, err error, durationSeconds float64) {
	backendLatencySeconds.WithLabelValues(backend, op, outcome(err)).Observe(durationSeconds)
}

func ObserveQuery(mode string, features int) {
	queryModes.WithLabelValues(mode).Inc()
	featuresReturned.WithLabelValues(mode).Observe(float64(features))
}

func IncConversionWarning(kind string) {
	conversionWarnings.WithLabelValues(kind).Inc()
}

// ObserveMetadata records a metadata lookup; outcome is hit, fetch, shared or error.
func ObserveMetadata(kind, outcome string) {
	metadataLookups.WithLabelValues(kind, outcome).Inc()
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	cacheOpSeconds.WithLabelValues(op, outcome(err)).Observe(durationSeconds)
}

func AddCacheHits(n int) {
	if n > 0 {
		cacheResults.WithLabelValues("hit").Add(float64(n))
	}
}

func AddCacheMisses(n int) {
	if n > 0 {
		cacheResults.WithLabelValues("miss").Add(float64(n))
	}
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}

func SetHotKeys(n int) { hotKeys.Set(float64(n)) }

func ObserveAdmission(admitted bool) {
	if admitted {
		cacheAdmissions.WithLabelValues("admit").Inc()
		return
	}
	cacheAdmissions.WithLabelValues("reject").Inc()
}

// ObserveInvalidation records a consumed invalidation event; result is
// applied, stale or invalid.
func ObserveInvalidation(op, result string) {
	invalidations.WithLabelValues(op, result).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
