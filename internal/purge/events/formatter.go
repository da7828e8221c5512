package events

import (
	"fmt"
	"strconv"
	"strings"
)

const defaultTemplate = "{timestamp}\t{request_id}\t{purger}\t{type}\t{items}\t{outcome}\t{status_code}\t{duration}\t{expression}\t{error}"

var validFields = map[string]bool{
	"timestamp":   true,
	"request_id":  true,
	"purger":      true,
	"type":        true,
	"items":       true,
	"outcome":     true,
	"status_code": true,
	"duration":    true,
	"expression":  true,
	"error":       true,
}

type placeholder struct {
	field string
	start int
	end   int
}

// TemplateFormatter renders a DispatchEvent through a {placeholder} template
type TemplateFormatter struct {
	template     string
	placeholders []placeholder
}

// NewTemplateFormatter parses template. Unknown placeholders are rejected.
func NewTemplateFormatter(template string) (*TemplateFormatter, error) {
	if template == "" {
		return nil, fmt.Errorf("template cannot be empty")
	}

	var placeholders []placeholder
	for i := 0; i < len(template); {
		start := strings.IndexByte(template[i:], '{')
		if start == -1 {
			break
		}
		start += i

		end := strings.IndexByte(template[start:], '}')
		if end == -1 {
			return nil, fmt.Errorf("unclosed placeholder at position %d", start)
		}
		end += start

		field := template[start+1 : end]
		if field == "" {
			return nil, fmt.Errorf("empty placeholder at position %d", start)
		}
		if !validFields[field] {
			return nil, fmt.Errorf("unknown placeholder {%s}", field)
		}

		placeholders = append(placeholders, placeholder{field: field, start: start, end: end + 1})
		i = end + 1
	}

	return &TemplateFormatter{template: template, placeholders: placeholders}, nil
}

// Template returns the original template string
func (f *TemplateFormatter) Template() string {
	return f.template
}

// Format renders the event
func (f *TemplateFormatter) Format(event *DispatchEvent) string {
	var b strings.Builder
	last := 0
	for _, p := range f.placeholders {
		b.WriteString(f.template[last:p.start])
		b.WriteString(fieldValue(event, p.field))
		last = p.end
	}
	b.WriteString(f.template[last:])
	return b.String()
}

func fieldValue(e *DispatchEvent, field string) string {
	switch field {
	case "timestamp":
		return e.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z")
	case "request_id":
		return formatString(e.RequestID)
	case "purger":
		return formatString(e.Purger)
	case "type":
		return formatString(e.Type)
	case "items":
		return strconv.Itoa(e.Items)
	case "outcome":
		return formatString(e.Outcome)
	case "status_code":
		return strconv.Itoa(e.StatusCode)
	case "duration":
		return fmt.Sprintf("%.3f", e.Duration.Seconds())
	case "expression":
		return formatString(e.Expression)
	case "error":
		return formatString(e.Error)
	default:
		return "-"
	}
}

var escaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\t", `\t`,
	"\r", `\r`,
)

func formatString(s string) string {
	if s == "" {
		return "-"
	}
	return `"` + escaper.Replace(s) + `"`
}
