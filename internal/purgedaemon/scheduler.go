package purgedaemon

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/edgecomet/banpurge/internal/purge/invalidation"
	"github.com/edgecomet/banpurge/internal/purge/purger"
)

const persistTimeout = 5 * time.Second

// Run is the main scheduler loop that drains the invalidation queues.
// It returns when ctx is cancelled.
func (d *PurgeDaemon) Run(ctx context.Context) {
	tickInterval := d.daemonConfig.Scheduler.TickInterval.ToDuration()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	d.logger.Info("Scheduler started",
		zap.Duration("tick_interval", tickInterval),
		zap.Int("max_parallel_types", d.daemonConfig.Scheduler.MaxParallelTypes))

	tickCount := 0
	for {
		select {
		case <-ticker.C:
			tickCount++
			now := time.Now().UTC()
			d.lastTickMu.Lock()
			d.lastTickTime = now
			cooling := now.Before(d.cooldownUntil)
			d.lastTickMu.Unlock()

			if d.IsSchedulerPaused() {
				d.logger.Debug("Scheduler paused, skipping processing", zap.Int("tick", tickCount))
				continue
			}
			if cooling {
				d.logger.Debug("Purger cooling down, skipping processing", zap.Int("tick", tickCount))
				continue
			}

			processed := d.ProcessTick(ctx)
			if processed > 0 || tickCount%10 == 0 {
				d.logger.Info("Scheduler status",
					zap.Int("tick", tickCount),
					zap.Int("processed", processed))
			}

		case <-ctx.Done():
			d.logger.Info("Scheduler shutdown requested")
			return
		}
	}
}

// ProcessTick claims up to IdealConditionsLimit due invalidations across the
// advertised types and dispatches each type group. It returns the number of
// invalidations handed to the purger.
func (d *PurgeDaemon) ProcessTick(ctx context.Context) int {
	budget := d.purger.IdealConditionsLimit()
	groups := make(map[invalidation.Type][]*Entry)
	claimed := 0

	for _, t := range d.purger.Types() {
		if claimed >= budget {
			break
		}
		entries, err := d.queue.Claim(ctx, t, budget-claimed)
		if err != nil {
			d.logger.Error("Failed to claim invalidations",
				zap.String("type", string(t)),
				zap.Error(err))
		}
		if len(entries) == 0 {
			continue
		}
		groups[t] = entries
		claimed += len(entries)
	}

	if claimed > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(d.daemonConfig.Scheduler.MaxParallelTypes)
		for t, entries := range groups {
			g.Go(func() error {
				d.processGroup(gctx, t, entries)
				return nil
			})
		}
		_ = g.Wait()

		if cooldown := d.purger.CooldownTime(); cooldown > 0 {
			d.lastTickMu.Lock()
			d.cooldownUntil = time.Now().UTC().Add(cooldown)
			d.lastTickMu.Unlock()
		}
	}

	d.updateQueueDepth(ctx)
	return claimed
}

// processGroup dispatches one same-type group and persists the outcome of
// every entry. Failures are retried with exponential backoff; entries the
// purger did not reach are re-queued without consuming an attempt.
func (d *PurgeDaemon) processGroup(ctx context.Context, t invalidation.Type, entries []*Entry) {
	invs := make([]invalidation.Invalidation, len(entries))
	for i, e := range entries {
		invs[i] = e
	}

	start := time.Now()
	err := d.purger.Dispatch(ctx, t, invs)
	misuse := err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	if misuse {
		level := d.logger.Error
		if !errors.Is(err, purger.ErrRouterMisuse) {
			level = d.logger.Warn
		}
		level("Dispatch rejected invalidation group",
			zap.String("type", string(t)),
			zap.Int("invalidations", len(entries)),
			zap.Error(err))
	}

	d.logger.Debug("Invalidation group processed",
		zap.String("type", string(t)),
		zap.Int("invalidations", len(entries)),
		zap.Duration("duration", time.Since(start)))

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	for _, e := range entries {
		if misuse {
			e.SetState(invalidation.StateFailed)
			e.Attempts++
			d.persist(persistCtx, e, err.Error(), -1)
			continue
		}

		switch e.State() {
		case invalidation.StateSucceeded:
			e.Attempts++
			d.persist(persistCtx, e, "", -1)
		case invalidation.StateFailed:
			e.Attempts++
			lastError := "ban request failed"
			if verr := e.ValidateExpression(); verr != nil {
				lastError = verr.Error()
			}
			if e.Attempts < d.daemonConfig.Queue.MaxAttempts {
				d.persist(persistCtx, e, lastError, d.retryDelay(e.Attempts))
			} else {
				d.logger.Warn("Invalidation failed permanently",
					zap.String("id", e.ID()),
					zap.String("type", string(t)),
					zap.String("expression", e.Expression()),
					zap.Int("attempts", e.Attempts))
				d.persist(persistCtx, e, lastError, -1)
			}
		default:
			// Not reached by the purger in this run
			e.SetState(invalidation.StateNew)
			d.persist(persistCtx, e, "", 0)
		}
	}
}

// persist saves the entry and, when requeueAfter >= 0, schedules it again
func (d *PurgeDaemon) persist(ctx context.Context, e *Entry, lastError string, requeueAfter time.Duration) {
	d.metricsCollector.RecordInvalidation(string(e.Type()), e.State().String())

	if err := d.queue.Save(ctx, e, lastError); err != nil {
		d.logger.Error("Failed to persist invalidation state",
			zap.String("id", e.ID()),
			zap.String("state", e.State().String()),
			zap.Error(err))
	}
	if requeueAfter < 0 {
		return
	}
	if err := d.queue.Requeue(ctx, e, requeueAfter); err != nil {
		d.logger.Error("Failed to re-queue invalidation",
			zap.String("id", e.ID()),
			zap.Error(err))
		return
	}
	if requeueAfter > 0 {
		d.logger.Debug("Invalidation failed, will retry with backoff",
			zap.String("id", e.ID()),
			zap.Int("attempts", e.Attempts),
			zap.Duration("retry_after", requeueAfter))
	}
}

// retryDelay is the backoff before attempt n+1: base, 2*base, 4*base...
// capped at queue.max_retry_delay.
func (d *PurgeDaemon) retryDelay(attempts int) time.Duration {
	base := d.daemonConfig.Queue.RetryBaseDelay.ToDuration()
	limit := d.daemonConfig.Queue.MaxRetryDelay.ToDuration()
	if limit > 0 && base > limit {
		return limit
	}
	delay := base
	for i := 1; i < attempts; i++ {
		if limit > 0 && delay >= limit/2 {
			return limit
		}
		if delay > math.MaxInt64/2 {
			return time.Duration(math.MaxInt64)
		}
		delay *= 2
	}
	return delay
}

func (d *PurgeDaemon) updateQueueDepth(ctx context.Context) {
	for _, t := range d.purger.Types() {
		total, _, err := d.queue.Depth(ctx, t)
		if err != nil {
			continue
		}
		d.metricsCollector.SetQueueDepth(string(t), total)
	}
}
