package requestid

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// MaxLabelLength caps the sanitized label so ids stay header friendly
const MaxLabelLength = 27

var (
	sanitizeRegex           = regexp.MustCompile(`[^a-zA-Z0-9-]+`)
	consecutiveHyphensRegex = regexp.MustCompile(`-+`)
)

// New returns a random UUID, used for queued invalidations
func New() string {
	return uuid.NewString()
}

// Generate returns an id of the form {label}-{8 random hex chars}. The label
// is sanitized to [a-zA-Z0-9-]; an empty label falls back to a plain UUID.
func Generate(label string) string {
	sanitized := strings.ReplaceAll(strings.TrimSpace(label), " ", "-")
	sanitized = sanitizeRegex.ReplaceAllString(sanitized, "")
	sanitized = consecutiveHyphensRegex.ReplaceAllString(sanitized, "-")
	sanitized = strings.Trim(sanitized, "-")

	if sanitized == "" {
		return New()
	}
	if len(sanitized) > MaxLabelLength {
		sanitized = strings.TrimRight(sanitized[:MaxLabelLength], "-")
	}

	id := uuid.New()
	return strings.ToLower(sanitized) + "-" + id.String()[:8]
}

// Valid reports whether s looks like an id produced by this package
func Valid(s string) bool {
	if s == "" || len(s) > 36 {
		return false
	}
	if _, err := uuid.Parse(s); err == nil {
		return true
	}
	return !sanitizeRegex.MatchString(s)
}
