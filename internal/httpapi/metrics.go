package httpapi

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelswitch",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "modelswitch",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)

	httpInflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "modelswitch",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "In-flight HTTP requests",
		},
		[]string{"path"},
	)

	backpressureTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelswitch",
			Subsystem: "http",
			Name:      "backpressure_total",
			Help:      "Total backpressure rejections (429)",
		},
		[]string{"reason"},
	)

	inferenceLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "modelswitch",
			Subsystem: "model",
			Name:      "inference_latency_seconds",
			Help:      "Time spent on model inference",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"version"},
	)

	predictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelswitch",
			Subsystem: "model",
			Name:      "predictions_total",
			Help:      "Total number of prediction requests",
		},
		[]string{"version", "status"},
	)

	loadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "modelswitch",
			Subsystem: "model",
			Name:      "load_duration_seconds",
			Help:      "Time spent loading model artifacts",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"version", "outcome"},
	)

	resolvesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelswitch",
			Subsystem: "model",
			Name:      "resolves_total",
			Help:      "Total registry resolves by cache outcome",
		},
		[]string{"version", "cache"},
	)

	activeVersion = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "modelswitch",
			Subsystem: "model",
			Name:      "active_version",
			Help:      "Currently active model version (1 for active, 0 otherwise)",
		},
		[]string{"version"},
	)

	loadedModels = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "modelswitch",
			Subsystem: "model",
			Name:      "loaded_models",
			Help:      "Number of model instances currently cached in memory",
		},
	)

	availableVersions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "modelswitch",
			Subsystem: "model",
			Name:      "available_versions",
			Help:      "Number of model versions discoverable in storage",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal, httpRequestDuration, httpInflight, backpressureTotal,
		inferenceLatency, predictionsTotal, loadDuration, resolvesTotal,
		activeVersion, loadedModels, availableVersions,
	)
}

// MetricsObserver bridges registry lifecycle events into the prometheus
// collectors. It satisfies registry.Observer.
type MetricsObserver struct {
	mu   sync.Mutex
	last string
}

func (o *MetricsObserver) ModelLoaded(version string, d time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	loadDuration.WithLabelValues(version, outcome).Observe(d.Seconds())
	if err == nil {
		loadedModels.Inc()
	}
}

func (o *MetricsObserver) ModelEvicted(string) {
	loadedModels.Dec()
}

func (o *MetricsObserver) ActiveChanged(_, newVersion string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last != "" && o.last != newVersion {
		activeVersion.WithLabelValues(o.last).Set(0)
	}
	if newVersion != "" {
		activeVersion.WithLabelValues(newVersion).Set(1)
	}
	o.last = newVersion
}

func (o *MetricsObserver) Resolved(version string, cacheHit bool) {
	cache := "miss"
	if cacheHit {
		cache = "hit"
	}
	resolvesTotal.WithLabelValues(version, cache).Inc()
}

// SetAvailableVersions updates the storage discovery gauge; the models-dir
// watcher calls this after each change.
func SetAvailableVersions(n int) {
	availableVersions.Set(float64(n))
}

// IncrementBackpressure is called when returning 429 to the client.
func IncrementBackpressure(reason string) {
	if reason == "" {
		reason = "unspecified"
	}
	backpressureTotal.WithLabelValues(reason).Inc()
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// MetricsMiddleware instruments requests for Prometheus.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := routePatternOrPath(r)
		httpInflight.WithLabelValues(path).Inc()
		defer httpInflight.WithLabelValues(path).Dec()

		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sr, r)

		status := strconv.Itoa(sr.status)
		httpRequestsTotal.WithLabelValues(path, r.Method, status).Inc()
		httpRequestDuration.WithLabelValues(path, r.Method, status).Observe(time.Since(start).Seconds())
	})
}

// routePatternOrPath returns the chi route pattern if available, otherwise
// the URL path. This avoids high-cardinality label values.
func routePatternOrPath(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
