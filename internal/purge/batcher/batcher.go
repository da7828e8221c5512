package batcher

import (
	"go.uber.org/zap"

	"github.com/edgecomet/banpurge/internal/purge/invalidation"
)

// BatchLimit is the maximum number of tags sent in one ban request
const BatchLimit = 250

// Batch is a run of valid tag invalidations that share one ban request
type Batch struct {
	Invalidations []invalidation.Invalidation
	Tags          []string
}

// Len returns the number of invalidations in the batch
func (b *Batch) Len() int {
	return len(b.Invalidations)
}

// SetState moves every invalidation of the batch to s
func (b *Batch) SetState(s invalidation.State) {
	for _, inv := range b.Invalidations {
		inv.SetState(s)
	}
}

// Batcher splits tag invalidations into bounded batches
type Batcher struct {
	limit  int
	logger *zap.Logger
}

// NewBatcher creates a batcher. A non-positive limit falls back to BatchLimit.
func NewBatcher(limit int, logger *zap.Logger) *Batcher {
	if limit <= 0 {
		limit = BatchLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Batcher{limit: limit, logger: logger}
}

// Limit returns the maximum batch size
func (b *Batcher) Limit() int {
	return b.limit
}

// Group validates every invalidation and packs the valid ones into
// consecutive batches in input order. Invalid invalidations are logged,
// marked FAILED and left out of every batch.
func (b *Batcher) Group(invalidations []invalidation.Invalidation) []Batch {
	var batches []Batch
	var current *Batch

	for _, inv := range invalidations {
		if err := inv.ValidateExpression(); err != nil {
			b.logger.Error("Invalid expression",
				zap.String("id", inv.ID()),
				zap.String("expression", inv.Expression()),
				zap.Error(err))
			inv.SetState(invalidation.StateFailed)
			continue
		}

		if current == nil || current.Len() >= b.limit {
			batches = append(batches, Batch{
				Invalidations: make([]invalidation.Invalidation, 0, b.limit),
				Tags:          make([]string, 0, b.limit),
			})
			current = &batches[len(batches)-1]
		}
		current.Invalidations = append(current.Invalidations, inv)
		current.Tags = append(current.Tags, inv.Expression())
	}

	return batches
}
