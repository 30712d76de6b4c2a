package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "food_delivery"

// Metrics satisfies order.TransitionRecorder, notify.Metrics and
// realtime.Gauge (via Connections).
type Metrics struct {
	Transitions *prometheus.CounterVec
	Publishes   *prometheus.CounterVec
	Dropped     prometheus.Counter
	Connections prometheus.Gauge
	Latency     *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers every collector on reg. Pass prometheus.NewRegistry() in
// tests to avoid clashing with the default registry.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_transitions_total",
			Help:      "Order lifecycle actions by outcome.",
		}, []string{"action", "result"}),
		Publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_publish_total",
			Help:      "Channel publishes by channel kind and outcome.",
		}, []string{"channel", "result"}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_dropped_total",
			Help:      "Events dropped because the notify queue was full or closed.",
		}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_connections",
			Help:      "Currently attached realtime connections.",
		}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		gatherer: reg,
	}

	reg.MustRegister(m.Transitions, m.Publishes, m.Dropped, m.Connections, m.Latency)
	return m
}

func (m *Metrics) ObserveTransition(action, result string) {
	m.Transitions.WithLabelValues(action, result).Inc()
}

func (m *Metrics) ObservePublish(channelKind, result string) {
	m.Publishes.WithLabelValues(channelKind, result).Inc()
}

func (m *Metrics) ObserveDropped() {
	m.Dropped.Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware records latency labelled by the matched chi route pattern, so
// path parameters do not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.Latency.WithLabelValues(route, r.Method, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}
