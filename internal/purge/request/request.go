package request

import (
	"fmt"
	"strings"
	"time"

	"github.com/edgecomet/banpurge/internal/common/configtypes"
	"github.com/edgecomet/banpurge/internal/purge/secrets"
	"github.com/edgecomet/banpurge/internal/purge/tokens"
)

// UserAgent identifies ban requests to the proxy API
const UserAgent = "banpurge purge-daemon"

const uriFormat = "%s://%s:%d%sapi/v1/account/%s/application/%s/environment/%s/proxy/%s/state?banExpression="

// Options are the transport settings of one request
type Options struct {
	ConnectTimeout time.Duration
	Timeout        time.Duration
	// Verify is nil for plain http where it has no meaning
	Verify     *bool
	HTTPErrors bool
}

// Request is a fully built ban request, missing only the expression
type Request struct {
	Method   string
	URI      string
	Headers  map[string]string
	Body     string
	Username string
	Password string
	Options  Options
}

// HasAuth reports whether basic credentials are set
func (r *Request) HasAuth() bool {
	return r.Username != "" || r.Password != ""
}

type header struct {
	name  string
	value *tokens.Template
}

// Builder produces requests for one purger configuration. Templates are
// compiled once; Build is safe for concurrent use.
type Builder struct {
	cfg     *configtypes.PurgerConfig
	secrets secrets.Lookup
	path    *tokens.Template
	body    *tokens.Template
	headers []header
}

// NewBuilder compiles the configured path, body and header templates
func NewBuilder(cfg *configtypes.PurgerConfig, renderer *tokens.Renderer, lookup secrets.Lookup) (*Builder, error) {
	if cfg == nil {
		return nil, fmt.Errorf("purger config is required")
	}
	if renderer == nil {
		return nil, fmt.Errorf("token renderer is required")
	}
	if lookup == nil {
		return nil, fmt.Errorf("secret lookup is required")
	}

	b := &Builder{cfg: cfg, secrets: lookup}

	var err error
	if b.path, err = renderer.Compile("path", cfg.Path); err != nil {
		return nil, err
	}
	if b.body, err = renderer.Compile("body", cfg.Body); err != nil {
		return nil, err
	}
	for _, h := range cfg.Headers {
		name := strings.ToLower(strings.TrimSpace(h.Field))
		tmpl, err := renderer.Compile("header "+name, h.Value)
		if err != nil {
			return nil, err
		}
		b.headers = append(b.headers, header{name: name, value: tmpl})
	}

	return b, nil
}

// Build renders a request for data. The returned URI ends with the
// banExpression query key and expects the encoded expression appended.
func (b *Builder) Build(data tokens.Data) (*Request, error) {
	path, err := b.path.Render(data)
	if err != nil {
		return nil, err
	}

	headers := map[string]string{
		"content-type": "application/json",
		"accept":       "application/json",
		"user-agent":   UserAgent,
	}

	body, err := b.body.Render(data)
	if err != nil {
		return nil, err
	}
	if body != "" {
		headers["content-type"] = b.cfg.BodyContentType
	}

	for _, h := range b.headers {
		value, err := h.value.Render(data)
		if err != nil {
			return nil, err
		}
		headers[h.name] = value
	}

	password, err := b.secrets.Lookup(b.cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve purger password: %w", err)
	}

	opts := Options{
		ConnectTimeout: b.cfg.ConnectTimeout.ToDuration(),
		Timeout:        b.cfg.Timeout.ToDuration(),
		HTTPErrors:     b.cfg.IsHTTPErrors(),
	}
	if b.cfg.Scheme == "https" {
		verify := b.cfg.IsVerify()
		opts.Verify = &verify
	}

	return &Request{
		Method: b.cfg.RequestMethod,
		URI: fmt.Sprintf(uriFormat,
			b.cfg.Scheme,
			b.cfg.Hostname,
			b.cfg.Port,
			path,
			b.cfg.Account,
			b.cfg.Application,
			b.cfg.Environment,
			b.cfg.Proxy,
		),
		Headers:  headers,
		Body:     body,
		Username: b.cfg.Username,
		Password: password,
		Options:  opts,
	}, nil
}
