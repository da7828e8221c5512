package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

const subsystem = "purge"

type PrometheusMetrics struct {
	registry    *prometheus.Registry
	httpHandler func(*fasthttp.RequestCtx)

	invalidationsTotal *prometheus.CounterVec
	banRequestsTotal   *prometheus.CounterVec
	banRequestDuration prometheus.Histogram
	queueDepth         *prometheus.GaugeVec
}

func NewPrometheusMetrics(namespace string, logger *zap.Logger) *PrometheusMetrics {
	if namespace == "" {
		namespace = "banpurge"
	}

	pm := &PrometheusMetrics{
		registry: prometheus.NewRegistry(),
	}

	pm.invalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "invalidations_total",
			Help:      "Invalidations processed, by type and final state of the attempt",
		},
		[]string{"type", "state"},
	)

	pm.banRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ban_requests_total",
			Help:      "Ban requests sent to the proxy API, by outcome",
		},
		[]string{"outcome"},
	)

	pm.banRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ban_request_duration_seconds",
			Help:      "Duration of ban requests in seconds",
			Buckets:   []float64{.025, .05, .1, .25, .5, 1, 2, 4, 8, 10},
		},
	)

	pm.queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queue_depth",
			Help:      "Invalidations waiting in the queue, by type",
		},
		[]string{"type"},
	)

	pm.registry.MustRegister(
		pm.invalidationsTotal,
		pm.banRequestsTotal,
		pm.banRequestDuration,
		pm.queueDepth,
	)

	handler := promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
	pm.httpHandler = fasthttpadaptor.NewFastHTTPHandler(handler)

	logger.Info("Prometheus metrics initialized for Purge Daemon",
		zap.String("namespace", namespace))

	return pm
}

func (pm *PrometheusMetrics) RecordInvalidation(invalidationType, state string) {
	pm.invalidationsTotal.WithLabelValues(invalidationType, state).Inc()
}

func (pm *PrometheusMetrics) RecordBanRequest(outcome string, seconds float64) {
	pm.banRequestsTotal.WithLabelValues(outcome).Inc()
	pm.banRequestDuration.Observe(seconds)
}

func (pm *PrometheusMetrics) SetQueueDepth(invalidationType string, depth int64) {
	pm.queueDepth.WithLabelValues(invalidationType).Set(float64(depth))
}

func (pm *PrometheusMetrics) Gatherer() prometheus.Gatherer {
	return pm.registry
}

func (pm *PrometheusMetrics) ServeHTTP(ctx *fasthttp.RequestCtx) {
	pm.httpHandler(ctx)
}
