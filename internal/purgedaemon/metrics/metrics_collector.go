package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/edgecomet/banpurge/internal/purge/dispatch"
)

// MetricsCollector records purge-daemon metrics. It also observes every ban
// request the dispatcher sends.
type MetricsCollector struct {
	prometheus *PrometheusMetrics
	logger     *zap.Logger
}

func NewMetricsCollector(namespace string, logger *zap.Logger) *MetricsCollector {
	return &MetricsCollector{
		prometheus: NewPrometheusMetrics(namespace, logger),
		logger:     logger,
	}
}

// ObserveDispatch implements dispatch.Observer
func (mc *MetricsCollector) ObserveDispatch(result dispatch.Result) {
	mc.prometheus.RecordBanRequest(result.Outcome, result.Duration.Seconds())

	mc.logger.Debug("Recorded ban request metric",
		zap.String("outcome", result.Outcome),
		zap.String("type", result.Type.String()),
		zap.Duration("duration", result.Duration))
}

func (mc *MetricsCollector) RecordInvalidation(invalidationType, state string) {
	mc.prometheus.RecordInvalidation(invalidationType, state)
}

func (mc *MetricsCollector) SetQueueDepth(invalidationType string, depth int64) {
	mc.prometheus.SetQueueDepth(invalidationType, depth)
}

// Gatherer exposes the underlying registry
func (mc *MetricsCollector) Gatherer() prometheus.Gatherer {
	return mc.prometheus.Gatherer()
}

func (mc *MetricsCollector) ServeHTTP(ctx *fasthttp.RequestCtx) {
	mc.prometheus.ServeHTTP(ctx)
}
