package purgedaemon

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/edgecomet/banpurge/internal/common/httputil"
	"github.com/edgecomet/banpurge/internal/purge/invalidation"
	"github.com/edgecomet/banpurge/pkg/types"
)

const authHeader = "X-Internal-Auth"

// ServeHTTP is the main HTTP request handler for the purge daemon API
func (d *PurgeDaemon) ServeHTTP(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	method := string(ctx.Method())

	expected := d.daemonConfig.HTTPApi.AuthKey
	authKey := ctx.Request.Header.Peek(authHeader)
	if expected == "" || subtle.ConstantTimeCompare(authKey, []byte(expected)) != 1 {
		d.logger.Warn("Unauthorized API request",
			zap.String("path", path),
			zap.String("remote_addr", ctx.RemoteAddr().String()))
		httputil.JSONError(ctx, "unauthorized", fasthttp.StatusUnauthorized)
		return
	}

	switch {
	case method == fasthttp.MethodPost && path == "/internal/purge/invalidate":
		d.handleInvalidateAPI(ctx)
	case method == fasthttp.MethodGet && path == "/internal/purge/invalidation":
		d.handleInvalidationAPI(ctx)
	case method == fasthttp.MethodGet && path == "/status":
		d.handleStatusAPI(ctx)
	case method == fasthttp.MethodPost && path == "/internal/scheduler/pause":
		d.handleSchedulerPauseAPI(ctx)
	case method == fasthttp.MethodPost && path == "/internal/scheduler/resume":
		d.handleSchedulerResumeAPI(ctx)
	default:
		httputil.JSONError(ctx, "not found", fasthttp.StatusNotFound)
	}
}

func (d *PurgeDaemon) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d.daemonConfig.HTTPApi.RequestTimeout.ToDuration())
}

// handleInvalidateAPI handles POST /internal/purge/invalidate
func (d *PurgeDaemon) handleInvalidateAPI(ctx *fasthttp.RequestCtx) {
	var req types.InvalidateAPIRequest
	if err := httputil.DecodeJSON(ctx, &req); err != nil {
		httputil.JSONError(ctx, err.Error(), fasthttp.StatusBadRequest)
		return
	}

	t, err := invalidation.ParseType(req.Type)
	if err != nil {
		httputil.JSONError(ctx, err.Error(), fasthttp.StatusBadRequest)
		return
	}
	if !d.purger.Supports(t) {
		httputil.JSONError(ctx, fmt.Sprintf("purger %s does not support type %s", d.purger.Label(), t), fasthttp.StatusBadRequest)
		return
	}

	// One everything invalidation needs no expression
	if t == invalidation.TypeEverything && len(req.Expressions) == 0 {
		req.Expressions = []string{""}
	}
	if len(req.Expressions) == 0 {
		httputil.JSONError(ctx, "expressions array cannot be empty", fasthttp.StatusBadRequest)
		return
	}
	if maxExpr := d.daemonConfig.HTTPApi.MaxExpressions; len(req.Expressions) > maxExpr {
		httputil.JSONError(ctx, fmt.Sprintf("expressions array cannot exceed %d entries", maxExpr), fasthttp.StatusBadRequest)
		return
	}

	accepted := make([]string, 0, len(req.Expressions))
	var rejected []string
	for _, expression := range req.Expressions {
		if err := invalidation.Validate(t, expression); err != nil {
			d.logger.Warn("Invalid expression rejected",
				zap.String("type", string(t)),
				zap.String("expression", expression),
				zap.Error(err))
			rejected = append(rejected, expression)
			continue
		}
		accepted = append(accepted, expression)
	}
	if len(accepted) == 0 {
		httputil.JSONResponse(ctx, httputil.APIResponse{
			Message: "no valid expressions",
			Data:    types.InvalidateAPIData{Type: string(t), Rejected: rejected},
		}, fasthttp.StatusBadRequest)
		return
	}

	reqCtx, cancel := d.requestContext()
	defer cancel()

	ids, err := d.queue.Enqueue(reqCtx, t, accepted)
	if err != nil {
		d.logger.Error("Failed to enqueue invalidations",
			zap.String("type", string(t)),
			zap.Int("stored", len(ids)),
			zap.Error(err))
		httputil.JSONError(ctx, "failed to enqueue invalidations", fasthttp.StatusInternalServerError)
		return
	}

	httputil.JSONData(ctx, types.InvalidateAPIData{
		Type:     string(t),
		Queued:   len(ids),
		IDs:      ids,
		Rejected: rejected,
	}, fasthttp.StatusAccepted)

	d.logger.Info("Invalidate request queued",
		zap.String("type", string(t)),
		zap.Int("queued", len(ids)),
		zap.Int("rejected", len(rejected)))
}

// handleInvalidationAPI handles GET /internal/purge/invalidation?id=
func (d *PurgeDaemon) handleInvalidationAPI(ctx *fasthttp.RequestCtx) {
	id := string(ctx.QueryArgs().Peek("id"))
	if id == "" {
		httputil.JSONError(ctx, "id is required", fasthttp.StatusBadRequest)
		return
	}

	reqCtx, cancel := d.requestContext()
	defer cancel()

	record, err := d.queue.Get(reqCtx, id)
	if errors.Is(err, ErrNotFound) {
		httputil.JSONError(ctx, fmt.Sprintf("invalidation %s not found", id), fasthttp.StatusNotFound)
		return
	}
	if err != nil {
		httputil.JSONError(ctx, "failed to read invalidation", fasthttp.StatusInternalServerError)
		return
	}
	httputil.JSONData(ctx, record, fasthttp.StatusOK)
}

// handleStatusAPI handles GET /status
func (d *PurgeDaemon) handleStatusAPI(ctx *fasthttp.RequestCtx) {
	reqCtx, cancel := d.requestContext()
	defer cancel()

	httputil.JSONData(ctx, d.Status(reqCtx), fasthttp.StatusOK)
}

// Status builds the daemon status snapshot
func (d *PurgeDaemon) Status(ctx context.Context) StatusResponse {
	d.lastTickMu.RLock()
	lastTick := d.lastTickTime
	cooldownUntil := d.cooldownUntil
	d.lastTickMu.RUnlock()

	redisHealthy := true
	if err := d.redis.HealthCheck(ctx); err != nil {
		redisHealthy = false
		d.logger.Warn("Redis health check failed", zap.Error(err))
	}

	advertised := d.purger.Types()
	typeNames := make([]string, len(advertised))
	queues := make(map[string]QueueStatus, len(advertised))
	for i, t := range advertised {
		typeNames[i] = string(t)
		total, due, err := d.queue.Depth(ctx, t)
		if err != nil {
			continue
		}
		queues[string(t)] = QueueStatus{Total: total, DueNow: due}
	}

	capacity := CapacityStatus{
		IdealConditionsLimit: d.purger.IdealConditionsLimit(),
		CooldownSeconds:      d.purger.CooldownTime().Seconds(),
		TimeHintSeconds:      d.purger.TimeHint().Seconds(),
		RuntimeMeasurement:   d.purger.HasRuntimeMeasurement(),
	}
	if time.Now().Before(cooldownUntil) {
		capacity.CooldownUntil = cooldownUntil.Format(time.RFC3339Nano)
	}

	status := StatusResponse{
		Daemon: DaemonStatus{
			DaemonID:        d.daemonConfig.DaemonID,
			UptimeSeconds:   int(time.Since(d.startTime).Seconds()),
			SchedulerPaused: d.IsSchedulerPaused(),
			RedisHealthy:    redisHealthy,
		},
		Purger: PurgerStatus{
			Label: d.purger.Label(),
			Types: typeNames,
		},
		Queues:   queues,
		Capacity: capacity,
	}
	if !lastTick.IsZero() {
		status.Daemon.LastTick = lastTick.Format(time.RFC3339)
	}
	return status
}

// handleSchedulerPauseAPI handles POST /internal/scheduler/pause (when scheduler_control_api enabled)
func (d *PurgeDaemon) handleSchedulerPauseAPI(ctx *fasthttp.RequestCtx) {
	if !d.daemonConfig.HTTPApi.SchedulerControlAPI {
		httputil.JSONError(ctx, "Scheduler control API not enabled", fasthttp.StatusForbidden)
		return
	}
	d.PauseScheduler()
	httputil.JSONSuccess(ctx, "Scheduler paused", fasthttp.StatusOK)
}

// handleSchedulerResumeAPI handles POST /internal/scheduler/resume (when scheduler_control_api enabled)
func (d *PurgeDaemon) handleSchedulerResumeAPI(ctx *fasthttp.RequestCtx) {
	if !d.daemonConfig.HTTPApi.SchedulerControlAPI {
		httputil.JSONError(ctx, "Scheduler control API not enabled", fasthttp.StatusForbidden)
		return
	}
	d.ResumeScheduler()
	httputil.JSONSuccess(ctx, "Scheduler resumed", fasthttp.StatusOK)
}
