package banexpr

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/edgecomet/banpurge/internal/purge/invalidation"
	"github.com/edgecomet/banpurge/internal/purge/tagshash"
)

const (
	// DefaultTagsHeader is the response header carrying tag hashes, matched by bundled bans
	DefaultTagsHeader = "Section-Cache-Tags"
	// DefaultRawTagsHeader is the response header carrying raw tags, matched by single tag bans
	DefaultRawTagsHeader = "Purge-Cache-Tags"
)

// Compiler turns invalidations into ban expressions. It holds only
// read-only configuration and is safe for concurrent use.
type Compiler struct {
	siteName      string
	tagsHeader    string
	rawTagsHeader string
}

// NewCompiler creates a compiler. An empty siteName disables site scoping,
// empty header names fall back to the defaults.
func NewCompiler(siteName, tagsHeader, rawTagsHeader string) *Compiler {
	if tagsHeader == "" {
		tagsHeader = DefaultTagsHeader
	}
	if rawTagsHeader == "" {
		rawTagsHeader = DefaultRawTagsHeader
	}
	return &Compiler{
		siteName:      strings.TrimSpace(siteName),
		tagsHeader:    tagsHeader,
		rawTagsHeader: rawTagsHeader,
	}
}

// SiteName returns the configured site scope, if any
func (c *Compiler) SiteName() string {
	return c.siteName
}

// TagsHeader returns the hashed tags header matched by bundled expressions
func (c *Compiler) TagsHeader() string {
	return c.tagsHeader
}

// RawTagsHeader returns the raw tags header matched by single tag expressions
func (c *Compiler) RawTagsHeader() string {
	return c.rawTagsHeader
}

// Compile builds the expression for a single invalidation of type t.
// Tags compile to the single (non-bundled) form.
func (c *Compiler) Compile(t invalidation.Type, expression string) (Expression, error) {
	switch t {
	case invalidation.TypeTag:
		return c.CompileTags([]string{expression})
	case invalidation.TypeURL, invalidation.TypeWildcardURL:
		return c.CompileURL(t, expression)
	case invalidation.TypePath, invalidation.TypeWildcardPath:
		return c.CompilePath(expression), nil
	case invalidation.TypeDomain:
		return c.CompileDomain(expression), nil
	case invalidation.TypeRegex, invalidation.TypeRaw:
		return Expression(expression), nil
	case invalidation.TypeEverything:
		return c.CompileEverything(), nil
	default:
		return "", invalidation.NewInvalidExpression(t, expression, "unsupported type")
	}
}

// CompileTags matches any of the given tags in the raw tags header
func (c *Compiler) CompileTags(tags []string) (Expression, error) {
	if len(tags) == 0 {
		return "", invalidation.NewInvalidExpression(invalidation.TypeTag, "", "no tags given")
	}
	escaped := make([]string, len(tags))
	for i, tag := range tags {
		escaped[i] = Escape(tag)
	}
	expr := fmt.Sprintf(`obj.http.%s ~ "(%s)+"`, c.rawTagsHeader, strings.Join(escaped, "|"))
	return c.scoped(expr), nil
}

// CompileTagDigest matches any of the digest's per-tag hashes in the
// hashed tags header. The bundled form is never site scoped.
func (c *Compiler) CompileTagDigest(digest tagshash.Digest) Expression {
	return Expression(fmt.Sprintf(`obj.http.%s ~ "(%s)+"`, c.tagsHeader, digest.Pattern()))
}

// CompileURL matches one URL, or a URL pattern when it contains '*'
func (c *Compiler) CompileURL(t invalidation.Type, raw string) (Expression, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", invalidation.NewInvalidExpression(t, raw, err.Error())
	}
	if u.Scheme == "" || u.Host == "" {
		return "", invalidation.NewInvalidExpression(t, raw, "url must be absolute")
	}

	// EscapedPath keeps the caller's encoding, which is what the proxy sees in req.url
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}

	expr := fmt.Sprintf(`req.http.X-Forwarded-Proto == "%s" && req.http.host == "%s" && req.url ~ "^%s$"`,
		EscapeLiteral(u.Scheme), EscapeLiteral(u.Host), Escape(path))
	return c.scoped(expr), nil
}

// CompilePath matches a site-relative path. One leading slash is optional.
func (c *Compiler) CompilePath(path string) Expression {
	path = strings.TrimPrefix(strings.TrimSpace(path), "/")
	return c.scoped(fmt.Sprintf(`req.url ~ "^/%s$"`, Escape(path)))
}

// CompileDomain matches every object served for a hostname
func (c *Compiler) CompileDomain(host string) Expression {
	return c.scoped(fmt.Sprintf(`req.http.host == "%s"`, EscapeLiteral(strings.TrimSpace(host))))
}

// CompileEverything matches every cached object of the site
func (c *Compiler) CompileEverything() Expression {
	return c.scoped(string(Everything))
}

func (c *Compiler) scoped(expr string) Expression {
	if c.siteName == "" {
		return Expression(expr)
	}
	return Expression(expr + fmt.Sprintf(` && req.http.host == "%s"`, EscapeLiteral(c.siteName)))
}
