package invalidation

import (
	"errors"
	"fmt"
)

// ErrInvalidExpression is returned when an expression is structurally wrong
// for its declared type. It is a per-item failure.
var ErrInvalidExpression = errors.New("invalid expression")

// InvalidExpressionError describes why a single expression was rejected
type InvalidExpressionError struct {
	Type       Type
	Expression string
	Reason     string
}

func (e *InvalidExpressionError) Error() string {
	return fmt.Sprintf("invalid %s expression %q: %s", e.Type, e.Expression, e.Reason)
}

func (e *InvalidExpressionError) Unwrap() error {
	return ErrInvalidExpression
}

// NewInvalidExpression builds an InvalidExpressionError
func NewInvalidExpression(t Type, expression, reason string) error {
	return &InvalidExpressionError{Type: t, Expression: expression, Reason: reason}
}
