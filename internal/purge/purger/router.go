package purger

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/edgecomet/banpurge/internal/purge/invalidation"
)

// ErrRouterMisuse is returned when the generic entry point is called on a
// purger that routes every type to its own handler
var ErrRouterMisuse = errors.New("invalidate called on a purger that routes each invalidation type to its own handler")

// Method names the handler an invalidation type is routed to
type Method string

const (
	MethodInvalidateTags          Method = "invalidateTags"
	MethodInvalidateURLs          Method = "invalidateUrls"
	MethodInvalidateWildcardURLs  Method = "invalidateWildcardUrls"
	MethodInvalidatePaths         Method = "invalidatePaths"
	MethodInvalidateWildcardPaths Method = "invalidateWildcardPaths"
	MethodInvalidateDomain        Method = "invalidateDomain"
	MethodInvalidateRegex         Method = "invalidateRegex"
	MethodInvalidateRawExpression Method = "invalidateRawExpression"
	MethodInvalidateEverything    Method = "invalidateEverything"
	// MethodInvalidate is the generic entry point, used for unknown types
	MethodInvalidate Method = "invalidate"
)

// HandlerFunc processes a slice of invalidations sharing one type
type HandlerFunc func(ctx context.Context, invalidations []invalidation.Invalidation) error

// RouteTypeToMethod maps an invalidation type to its handler
func RouteTypeToMethod(t invalidation.Type) Method {
	switch t {
	case invalidation.TypeTag:
		return MethodInvalidateTags
	case invalidation.TypeURL:
		return MethodInvalidateURLs
	case invalidation.TypeWildcardURL:
		return MethodInvalidateWildcardURLs
	case invalidation.TypePath:
		return MethodInvalidatePaths
	case invalidation.TypeWildcardPath:
		return MethodInvalidateWildcardPaths
	case invalidation.TypeDomain:
		return MethodInvalidateDomain
	case invalidation.TypeRegex:
		return MethodInvalidateRegex
	case invalidation.TypeRaw:
		return MethodInvalidateRawExpression
	case invalidation.TypeEverything:
		return MethodInvalidateEverything
	default:
		return MethodInvalidate
	}
}

// Handler returns the handler bound to method
func (p *Purger) Handler(method Method) HandlerFunc {
	switch method {
	case MethodInvalidateTags:
		return p.InvalidateTags
	case MethodInvalidateURLs:
		return p.InvalidateURLs
	case MethodInvalidateWildcardURLs:
		return p.InvalidateWildcardURLs
	case MethodInvalidatePaths:
		return p.InvalidatePaths
	case MethodInvalidateWildcardPaths:
		return p.InvalidateWildcardPaths
	case MethodInvalidateDomain:
		return p.InvalidateDomain
	case MethodInvalidateRegex:
		return p.InvalidateRegex
	case MethodInvalidateRawExpression:
		return p.InvalidateRawExpression
	case MethodInvalidateEverything:
		return p.InvalidateEverything
	default:
		return p.Invalidate
	}
}

// Dispatch routes invalidations of type t to their handler. All
// invalidations must share type t.
func (p *Purger) Dispatch(ctx context.Context, t invalidation.Type, invalidations []invalidation.Invalidation) error {
	if len(invalidations) == 0 {
		return nil
	}
	for _, inv := range invalidations {
		if inv.Type() != t {
			return fmt.Errorf("invalidation %s has type %s, expected %s", inv.ID(), inv.Type(), t)
		}
	}
	return p.Handler(RouteTypeToMethod(t))(ctx, invalidations)
}

// Invalidate is the generic single-type entry point. Every type has its own
// handler, so reaching it is an integration bug.
func (p *Purger) Invalidate(_ context.Context, invalidations []invalidation.Invalidation) error {
	p.logger.Error("Generic invalidate called on a routing purger",
		zap.String("purger", p.Label()),
		zap.Int("invalidations", len(invalidations)),
		zap.Error(ErrRouterMisuse))
	return ErrRouterMisuse
}
