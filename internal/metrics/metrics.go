package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors exported on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestTotal    *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	UploadTotal *prometheus.CounterVec
	UploadBytes prometheus.Histogram

	StorageOperationTotal    *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec

	EventPublishTotal *prometheus.CounterVec

	AssetCacheTotal *prometheus.CounterVec
}

// New registers the GeoClip collectors on a private registry together with the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	registerOrGet(reg, collectors.NewGoCollector())
	registerOrGet(reg, collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		HTTPRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geoclip",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "geoclip",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		UploadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geoclip",
			Name:      "uploads_total",
			Help:      "Clip uploads by outcome",
		}, []string{"outcome"}),
		UploadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "geoclip",
			Name:      "upload_size_bytes",
			Help:      "Decoded size of accepted clips",
			Buckets:   prometheus.ExponentialBuckets(64*1024, 4, 8),
		}),
		StorageOperationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geoclip",
			Name:      "storage_operations_total",
			Help:      "Object storage operations",
		}, []string{"operation", "status"}),
		StorageOperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "geoclip",
			Name:      "storage_operation_duration_seconds",
			Help:      "Object storage operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "status"}),
		EventPublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geoclip",
			Name:      "event_publish_total",
			Help:      "Event publish attempts",
		}, []string{"event_type", "status"}),
		AssetCacheTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geoclip",
			Name:      "asset_cache_lookups_total",
			Help:      "Asset cache lookups by result",
		}, []string{"result"}),
	}

	m.HTTPRequestTotal = registerOrGet(reg, m.HTTPRequestTotal)
	m.HTTPRequestDuration = registerOrGet(reg, m.HTTPRequestDuration)
	m.UploadTotal = registerOrGet(reg, m.UploadTotal)
	m.UploadBytes = registerOrGet(reg, m.UploadBytes)
	m.StorageOperationTotal = registerOrGet(reg, m.StorageOperationTotal)
	m.StorageOperationDuration = registerOrGet(reg, m.StorageOperationDuration)
	m.EventPublishTotal = registerOrGet(reg, m.EventPublishTotal)
	m.AssetCacheTotal = registerOrGet(reg, m.AssetCacheTotal)

	return m
}

// registerOrGet registers c, returning the already registered collector on a
// duplicate registration.
func registerOrGet[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gatherer exposes the registry for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// ObserveRequest records one completed HTTP request.
func (m *Metrics) ObserveRequest(method, path, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(elapsed.Seconds())
}

// ObserveUpload records an upload outcome such as "stored", "duplicate" or "rejected".
func (m *Metrics) ObserveUpload(outcome string, size int64) {
	if m == nil {
		return
	}
	m.UploadTotal.WithLabelValues(outcome).Inc()
	if size > 0 {
		m.UploadBytes.Observe(float64(size))
	}
}

// ObserveStorage records an object storage call.
func (m *Metrics) ObserveStorage(operation string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := statusLabel(err)
	m.StorageOperationTotal.WithLabelValues(operation, status).Inc()
	m.StorageOperationDuration.WithLabelValues(operation, status).Observe(elapsed.Seconds())
}

// ObserveEvent records an event publish attempt.
func (m *Metrics) ObserveEvent(eventType string, err error) {
	if m == nil {
		return
	}
	m.EventPublishTotal.WithLabelValues(eventType, statusLabel(err)).Inc()
}

// ObserveCache records an asset cache hit or miss.
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.AssetCacheTotal.WithLabelValues(result).Inc()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
