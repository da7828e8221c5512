package invalidation

import (
	"net/url"
	"strings"
	"unicode"
)

// Invalidation is the contract between the purge queue and the purger.
// The queue owns the object; the purger only moves its state forward.
type Invalidation interface {
	ID() string
	Type() Type
	Expression() string
	State() State
	SetState(State)
	ValidateExpression() error
}

// Item is the in-memory Invalidation used by the purge daemon and tests
type Item struct {
	id         string
	typ        Type
	expression string
	state      State
}

// NewItem creates an invalidation in state NEW
func NewItem(id string, t Type, expression string) *Item {
	return &Item{id: id, typ: t, expression: expression, state: StateNew}
}

func (i *Item) ID() string         { return i.id }
func (i *Item) Type() Type         { return i.typ }
func (i *Item) Expression() string { return i.expression }
func (i *Item) State() State       { return i.state }

func (i *Item) SetState(s State) {
	i.state = s
}

func (i *Item) ValidateExpression() error {
	return Validate(i.typ, i.expression)
}

// Validate runs the structural checks for an expression of the given type.
// Only shape is checked here; compilation may still reject the expression.
func Validate(t Type, expression string) error {
	if !t.Valid() {
		return NewInvalidExpression(t, expression, "unsupported type")
	}
	if t == TypeEverything {
		return nil
	}
	if strings.TrimSpace(expression) == "" {
		return NewInvalidExpression(t, expression, "expression cannot be empty")
	}
	if strings.IndexFunc(expression, unicode.IsControl) >= 0 {
		return NewInvalidExpression(t, expression, "expression contains control characters")
	}

	switch t {
	case TypeTag:
		if strings.IndexFunc(expression, unicode.IsSpace) >= 0 {
			return NewInvalidExpression(t, expression, "tags cannot contain whitespace")
		}
	case TypeURL, TypeWildcardURL:
		if !strings.Contains(expression, "://") {
			return NewInvalidExpression(t, expression, "url must include a scheme")
		}
	case TypePath, TypeWildcardPath:
		if strings.Contains(expression, "://") {
			return NewInvalidExpression(t, expression, "path cannot contain a scheme or host")
		}
	case TypeDomain:
		if strings.ContainsAny(expression, "/ ") {
			return NewInvalidExpression(t, expression, "domain must be a bare hostname")
		}
		if _, err := url.Parse("//" + expression); err != nil {
			return NewInvalidExpression(t, expression, "domain is not a valid hostname")
		}
	}
	return nil
}
