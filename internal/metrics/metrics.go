package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name
const Namespace = "notesearch"

// CacheStats is implemented by caches that count hits and misses
type CacheStats interface {
	Stats() (hits, misses uint64)
}

// Collectors holds the service's Prometheus metrics on a private registry.
// A nil *Collectors is valid and records nothing.
type Collectors struct {
	registry *prometheus.Registry

	searchDuration *prometheus.HistogramVec
	searchRequests *prometheus.CounterVec
	providerHits   *prometheus.CounterVec
	ingestedNotes  *prometheus.CounterVec

	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
}

// New creates and registers all collectors
func New() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),

		searchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "search_duration_seconds",
				Help:      "Search request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"mode"},
		),
		searchRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "search_requests_total",
				Help:      "Total number of search requests by outcome",
			},
			[]string{"mode", "code"},
		),
		providerHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "provider_hits_total",
				Help:      "Candidates returned by each retrieval provider",
			},
			[]string{"provider"},
		),
		ingestedNotes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "ingested_notes_total",
				Help:      "Notes processed by ingestion",
			},
			[]string{"status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path", "status"},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.searchDuration,
		c.searchRequests,
		c.providerHits,
		c.ingestedNotes,
		c.httpRequestDuration,
		c.httpRequestsTotal,
	)
	return c
}

// Registry exposes the underlying registry
func (c *Collectors) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ObserveSearch records one finished search. code is empty on success.
func (c *Collectors) ObserveSearch(mode, code string, d time.Duration) {
	if c == nil {
		return
	}
	if code == "" {
		code = "ok"
	}
	c.searchDuration.WithLabelValues(mode).Observe(d.Seconds())
	c.searchRequests.WithLabelValues(mode, code).Inc()
}

// ObserveProvider records the size of one provider's candidate list
func (c *Collectors) ObserveProvider(provider string, hits int) {
	if c == nil {
		return
	}
	c.providerHits.WithLabelValues(provider).Add(float64(hits))
}

// ObserveIngest records n notes with the given status (indexed, skipped, failed)
func (c *Collectors) ObserveIngest(status string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.ingestedNotes.WithLabelValues(status).Add(float64(n))
}

// RegisterCache exports a cache's hit and miss counters under name
func (c *Collectors) RegisterCache(name string, cache CacheStats) {
	if c == nil || cache == nil {
		return
	}
	labels := prometheus.Labels{"cache": name}
	c.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        "cache_hits_total",
			Help:        "Cache hits",
			ConstLabels: labels,
		}, func() float64 {
			hits, _ := cache.Stats()
			return float64(hits)
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        "cache_misses_total",
			Help:        "Cache misses",
			ConstLabels: labels,
		}, func() float64 {
			_, misses := cache.Stats()
			return float64(misses)
		}),
	)
}

// Handler serves /metrics and /healthz
func (c *Collectors) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(c.Middleware())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	return r
}

// Middleware records HTTP request duration and count.
func (c *Collectors) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(ww.status)

			// Use chi route pattern for path normalization
			path := "unknown"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				path = rctx.RoutePattern()
			}

			c.httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(duration)
			c.httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		})
	}
}

// statusWriter captures the response status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.wroteHeader = true
	}
	return w.ResponseWriter.Write(b)
}
