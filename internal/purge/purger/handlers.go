package purger

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/edgecomet/banpurge/internal/purge/batcher"
	"github.com/edgecomet/banpurge/internal/purge/invalidation"
	"github.com/edgecomet/banpurge/internal/purge/tagshash"
	"github.com/edgecomet/banpurge/internal/purge/tokens"
)

// InvalidateTags sends tag invalidations, bundled into hashed batches
// unless bundle_tags is off
func (p *Purger) InvalidateTags(ctx context.Context, invalidations []invalidation.Invalidation) error {
	if !p.cfg.IsBundleTags() {
		return p.invalidateEach(ctx, invalidations)
	}

	batches := p.batcher.Group(invalidations)
	failed := 0
	for i := range batches {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("Tag invalidation interrupted, remaining batches left unprocessed",
				zap.Int("batches_left", len(batches)-i),
				zap.Int("failed_batches", failed),
				zap.Error(err))
			return err
		}
		if !p.sendBatch(ctx, &batches[i]) {
			failed++
		}
	}
	p.logCompleted("Tag invalidation batches completed", len(batches), failed)
	return nil
}

// sendBatch reports whether the batch was sent successfully. Batch states
// are set either here or by the sender.
func (p *Purger) sendBatch(ctx context.Context, batch *batcher.Batch) bool {
	batch.SetState(invalidation.StateProcessing)

	digest := tagshash.Compute(batch.Tags)
	expr := p.compiler.CompileTagDigest(digest)

	req, err := p.builder.Build(tokens.NewData(batch.Invalidations[0], batch.Len(), p.purgerData()))
	if err != nil {
		p.logger.Error("Failed to build ban request",
			zap.String("type", string(invalidation.TypeTag)),
			zap.Int("invalidations", batch.Len()),
			zap.Error(err))
		batch.SetState(invalidation.StateFailed)
		return false
	}
	req.Headers[strings.ToLower(p.cfg.DigestHeader)] = digest.Sum

	p.logger.Debug("Tag invalidations bundled",
		zap.Int("invalidations", batch.Len()),
		zap.Int("tags", digest.Len()),
		zap.String("digest", digest.Sum),
		zap.String("expression", expr.String()))

	return p.sender.Send(ctx, req, expr, batch.Invalidations...) == nil
}

// InvalidateURLs sends one request per URL
func (p *Purger) InvalidateURLs(ctx context.Context, invalidations []invalidation.Invalidation) error {
	return p.invalidateEach(ctx, invalidations)
}

// InvalidateWildcardURLs sends one request per URL pattern
func (p *Purger) InvalidateWildcardURLs(ctx context.Context, invalidations []invalidation.Invalidation) error {
	return p.invalidateEach(ctx, invalidations)
}

// InvalidatePaths sends one request per path
func (p *Purger) InvalidatePaths(ctx context.Context, invalidations []invalidation.Invalidation) error {
	return p.invalidateEach(ctx, invalidations)
}

// InvalidateWildcardPaths sends one request per path pattern
func (p *Purger) InvalidateWildcardPaths(ctx context.Context, invalidations []invalidation.Invalidation) error {
	return p.invalidateEach(ctx, invalidations)
}

// InvalidateDomain sends one request per hostname
func (p *Purger) InvalidateDomain(ctx context.Context, invalidations []invalidation.Invalidation) error {
	return p.invalidateEach(ctx, invalidations)
}

// InvalidateRegex sends each ban fragment as is. The ban grammar has no
// cheap OR, so these are never bundled.
func (p *Purger) InvalidateRegex(ctx context.Context, invalidations []invalidation.Invalidation) error {
	return p.invalidateEach(ctx, invalidations)
}

// InvalidateRawExpression sends each raw ban expression as is
func (p *Purger) InvalidateRawExpression(ctx context.Context, invalidations []invalidation.Invalidation) error {
	return p.invalidateEach(ctx, invalidations)
}

// InvalidateEverything bans the whole site once, however many
// invalidations asked for it
func (p *Purger) InvalidateEverything(ctx context.Context, invalidations []invalidation.Invalidation) error {
	if len(invalidations) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, inv := range invalidations {
		inv.SetState(invalidation.StateProcessing)
	}

	req, err := p.builder.Build(tokens.NewData(invalidations[0], len(invalidations), p.purgerData()))
	if err != nil {
		p.logger.Error("Failed to build ban request",
			zap.String("type", string(invalidation.TypeEverything)),
			zap.Error(err))
		for _, inv := range invalidations {
			inv.SetState(invalidation.StateFailed)
		}
		return nil
	}

	expr := p.compiler.CompileEverything()
	p.logger.Debug("Invalidating everything", zap.String("expression", expr.String()))

	// the sender logs failures and sets the final states
	if err := p.sender.Send(ctx, req, expr, invalidations...); err != nil {
		p.logger.Debug("Invalidate everything request failed", zap.Error(err))
	}
	return nil
}

// invalidateEach sends one request per invalidation. Failures stay on the
// invalidation; only cancellation stops the loop, leaving the rest NEW.
func (p *Purger) invalidateEach(ctx context.Context, invalidations []invalidation.Invalidation) error {
	failed := 0
	for i, inv := range invalidations {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("Invalidation interrupted, remaining items left unprocessed",
				zap.Int("items_left", len(invalidations)-i),
				zap.Int("failed", failed),
				zap.Error(err))
			return err
		}

		inv.SetState(invalidation.StateProcessing)

		if err := inv.ValidateExpression(); err != nil {
			p.fail(inv, "Invalid expression", err)
			failed++
			continue
		}
		expr, err := p.compiler.Compile(inv.Type(), inv.Expression())
		if err != nil {
			p.fail(inv, "Invalid expression", err)
			failed++
			continue
		}
		req, err := p.builder.Build(tokens.NewData(inv, 1, p.purgerData()))
		if err != nil {
			p.fail(inv, "Failed to build ban request", err)
			failed++
			continue
		}

		p.logger.Debug("Invalidating",
			zap.String("type", string(inv.Type())),
			zap.String("id", inv.ID()),
			zap.String("expression", expr.String()))

		if err := p.sender.Send(ctx, req, expr, inv); err != nil {
			failed++
		}
	}
	p.logCompleted("Invalidations completed", len(invalidations), failed)
	return nil
}

// logCompleted summarises one handler run; failures were already logged
// individually by the sender.
func (p *Purger) logCompleted(msg string, total, failed int) {
	if failed == 0 {
		p.logger.Debug(msg, zap.Int("requests", total))
		return
	}
	p.logger.Warn(msg,
		zap.Int("requests", total),
		zap.Int("failed", failed))
}

func (p *Purger) fail(inv invalidation.Invalidation, msg string, err error) {
	p.logger.Error(msg,
		zap.String("type", string(inv.Type())),
		zap.String("id", inv.ID()),
		zap.String("expression", inv.Expression()),
		zap.Error(err))
	inv.SetState(invalidation.StateFailed)
}

func (p *Purger) purgerData() tokens.PurgerData {
	return tokens.PurgerData{Name: p.cfg.Name, SiteName: p.cfg.SiteName}
}
