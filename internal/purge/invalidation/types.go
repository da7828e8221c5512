package invalidation

import (
	"fmt"
	"strings"
)

// Type identifies how an invalidation expression is interpreted
type Type string

const (
	TypeTag          Type = "tag"
	TypeURL          Type = "url"
	TypeWildcardURL  Type = "wildcardurl"
	TypePath         Type = "path"
	TypeWildcardPath Type = "wildcardpath"
	TypeDomain       Type = "domain"
	TypeRegex        Type = "regex"
	TypeRaw          Type = "raw"
	TypeEverything   Type = "everything"
)

// AllTypes lists every supported invalidation type in routing order
var AllTypes = []Type{
	TypeTag,
	TypeURL,
	TypeWildcardURL,
	TypePath,
	TypeWildcardPath,
	TypeDomain,
	TypeRegex,
	TypeRaw,
	TypeEverything,
}

// ParseType converts a type name into a Type. Matching is case-insensitive.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if t.Valid() {
		return t, nil
	}
	return "", fmt.Errorf("unsupported invalidation type %q", s)
}

// Valid reports whether t is one of the supported types
func (t Type) Valid() bool {
	switch t {
	case TypeTag, TypeURL, TypeWildcardURL, TypePath, TypeWildcardPath,
		TypeDomain, TypeRegex, TypeRaw, TypeEverything:
		return true
	default:
		return false
	}
}

func (t Type) String() string {
	return string(t)
}

// State is the processing state of an invalidation
type State int

const (
	StateNew State = iota
	StateProcessing
	StateSucceeded
	StateFailed
)

var stateNames = map[State]string{
	StateNew:        "NEW",
	StateProcessing: "PROCESSING",
	StateSucceeded:  "SUCCEEDED",
	StateFailed:     "FAILED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no further transitions are expected in this attempt
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// ParseState converts a persisted state name back into a State
func ParseState(s string) (State, error) {
	for state, name := range stateNames {
		if name == s {
			return state, nil
		}
	}
	return StateNew, fmt.Errorf("unknown invalidation state %q", s)
}
