package tokens

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	sprig "github.com/Masterminds/sprig/v3"

	"github.com/edgecomet/banpurge/internal/purge/invalidation"
)

// Data is the value exposed to header and path templates, e.g.
// {{ .Invalidation.Type }} or {{ .Purger.SiteName | lower }}
type Data struct {
	Invalidation InvalidationData
	Purger       PurgerData
}

// InvalidationData describes the invalidation a request is built for
type InvalidationData struct {
	ID         string
	Type       string
	Expression string
	Count      int
}

// PurgerData describes the purger instance building the request
type PurgerData struct {
	Name     string
	SiteName string
}

// NewData builds template data for the first invalidation of a request
// covering count invalidations.
func NewData(inv invalidation.Invalidation, count int, purger PurgerData) Data {
	d := Data{Purger: purger}
	if inv != nil {
		d.Invalidation = InvalidationData{
			ID:         inv.ID(),
			Type:       string(inv.Type()),
			Expression: inv.Expression(),
			Count:      count,
		}
	}
	return d
}

// Renderer compiles token templates with the sprig function set.
// Environment and filesystem helpers are removed so configuration cannot
// leak process state into outbound headers.
type Renderer struct {
	funcs template.FuncMap
}

// Template is a compiled token template, safe for concurrent use
type Template struct {
	name   string
	source string
	tmpl   *template.Template
}

// NewRenderer creates a renderer
func NewRenderer() *Renderer {
	funcs := sprig.TxtFuncMap()
	for _, name := range []string{
		"env",
		"expandenv",
		"readDir",
		"mustReadDir",
		"readFile",
		"mustReadFile",
		"glob",
	} {
		delete(funcs, name)
	}
	return &Renderer{funcs: funcs}
}

// Compile parses source. Sources without template actions are returned
// as constants and never executed.
func (r *Renderer) Compile(name, source string) (*Template, error) {
	if !strings.Contains(source, "{{") {
		return &Template{name: name, source: source}, nil
	}
	tmpl, err := template.New(name).Funcs(r.funcs).Option("missingkey=zero").Parse(source)
	if err != nil {
		return nil, fmt.Errorf("tokens: compile %q: %w", name, err)
	}
	return &Template{name: name, source: source, tmpl: tmpl}, nil
}

// MustCompile is Compile for sources known to be valid
func (r *Renderer) MustCompile(name, source string) *Template {
	t, err := r.Compile(name, source)
	if err != nil {
		panic(err)
	}
	return t
}

// Render executes the template. Constant templates return their source.
func (t *Template) Render(data Data) (string, error) {
	if t == nil {
		return "", nil
	}
	if t.tmpl == nil {
		return t.source, nil
	}
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("tokens: execute %q: %w", t.name, err)
	}
	return buf.String(), nil
}

// Name returns the template name used in errors
func (t *Template) Name() string {
	if t == nil {
		return ""
	}
	return t.name
}
