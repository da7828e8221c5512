package banexpr

import (
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgecomet/banpurge/internal/purge/invalidation"
	"github.com/edgecomet/banpurge/internal/purge/tagshash"
)

func TestEscape(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"news/article-1", `news/article-1`},
		{"news/*", `news/.*`},
		{"a.b", `a\.b`},
		{"(x|y)+", `\(x\|y\)\+`},
		{"[1]{2}", `\[1\]\{2\}`},
		{"^start$", `\^start\$`},
		{"a,b#c?", `a\,b\#c\?`},
		{`back\slash`, `back\\slash`},
		{`say "hi"`, `say \"hi\"`},
		{"*.jpg", `.*\.jpg`},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Escape(tt.in))
		})
	}
}

func TestEscapeLiteral(t *testing.T) {
	assert.Equal(t, "example.com", EscapeLiteral("example.com"))
	assert.Equal(t, `a\"b\\c`, EscapeLiteral(`a"b\c`))
}

func TestCompile(t *testing.T) {
	tests := []struct {
		name     string
		siteName string
		typ      invalidation.Type
		expr     string
		want     string
	}{
		{
			name: "domain without site",
			typ:  invalidation.TypeDomain,
			expr: "example.com",
			want: `req.http.host == "example.com"`,
		},
		{
			name:     "path wildcard with site",
			siteName: "mysite",
			typ:      invalidation.TypePath,
			expr:     "/news/*",
			want:     `req.url ~ "^/news/.*$" && req.http.host == "mysite"`,
		},
		{
			name: "path without leading slash",
			typ:  invalidation.TypePath,
			expr: "news/article-1",
			want: `req.url ~ "^/news/article-1$"`,
		},
		{
			name: "wildcardpath alias",
			typ:  invalidation.TypeWildcardPath,
			expr: "news/*.html",
			want: `req.url ~ "^/news/.*\.html$"`,
		},
		{
			name: "everything",
			typ:  invalidation.TypeEverything,
			want: `obj.status != 0`,
		},
		{
			name:     "everything with site",
			siteName: "mysite",
			typ:      invalidation.TypeEverything,
			want:     `obj.status != 0 && req.http.host == "mysite"`,
		},
		{
			name: "url",
			typ:  invalidation.TypeURL,
			expr: "https://example.com/node/1",
			want: `req.http.X-Forwarded-Proto == "https" && req.http.host == "example.com" && req.url ~ "^/node/1$"`,
		},
		{
			name: "url with query",
			typ:  invalidation.TypeURL,
			expr: "http://example.com/search?q=a.b",
			want: `req.http.X-Forwarded-Proto == "http" && req.http.host == "example.com" && req.url ~ "^/search\?q=a\.b$"`,
		},
		{
			name: "url without path and with fragment",
			typ:  invalidation.TypeURL,
			expr: "https://example.com#top",
			want: `req.http.X-Forwarded-Proto == "https" && req.http.host == "example.com" && req.url ~ "^/$"`,
		},
		{
			name:     "wildcard url with site",
			siteName: "mysite",
			typ:      invalidation.TypeWildcardURL,
			expr:     "https://example.com/node/*",
			want:     `req.http.X-Forwarded-Proto == "https" && req.http.host == "example.com" && req.url ~ "^/node/.*$" && req.http.host == "mysite"`,
		},
		{
			name:     "single tag with site",
			siteName: "mysite",
			typ:      invalidation.TypeTag,
			expr:     "config:system.site",
			want:     `obj.http.Purge-Cache-Tags ~ "(config:system\.site)+" && req.http.host == "mysite"`,
		},
		{
			name:     "regex is verbatim",
			siteName: "mysite",
			typ:      invalidation.TypeRegex,
			expr:     `req.url ~ "\.(jpg|css)$"`,
			want:     `req.url ~ "\.(jpg|css)$"`,
		},
		{
			name:     "raw is verbatim",
			siteName: "mysite",
			typ:      invalidation.TypeRaw,
			expr:     `obj.status == 404 && req.url ~ node`,
			want:     `obj.status == 404 && req.url ~ node`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCompiler(tt.siteName, "", "")
			got, err := c.Compile(tt.typ, tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestCompile_InvalidURL(t *testing.T) {
	c := NewCompiler("", "", "")

	for _, raw := range []string{"not a url", "/relative/path", "https://", "http://[::1"} {
		t.Run(raw, func(t *testing.T) {
			_, err := c.Compile(invalidation.TypeURL, raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, invalidation.ErrInvalidExpression))
		})
	}
}

func TestCompile_UnknownType(t *testing.T) {
	_, err := NewCompiler("", "", "").Compile(invalidation.Type("cookie"), "x")
	assert.ErrorIs(t, err, invalidation.ErrInvalidExpression)
}

func TestCompile_WildcardsBecomeDotStar(t *testing.T) {
	c := NewCompiler("", "", "")
	for _, path := range []string{"*", "/a/*", "a/*/b", "*.css", "a**b"} {
		got, err := c.Compile(invalidation.TypePath, path)
		require.NoError(t, err)
		stripped := strings.ReplaceAll(got.String(), ".*", "")
		assert.NotContains(t, stripped, "*", "path %q compiled to %q", path, got)
		assert.Equal(t, strings.Count(path, "*"), strings.Count(got.String(), ".*"))
	}
}

func TestCompile_Idempotent(t *testing.T) {
	c := NewCompiler("mysite", "", "")
	for _, typ := range invalidation.AllTypes {
		expr := "https://example.com/a/*"
		first, err1 := c.Compile(typ, expr)
		second, err2 := c.Compile(typ, expr)
		assert.Equal(t, err1, err2)
		assert.Equal(t, first, second)
	}
}

func TestCompileTags(t *testing.T) {
	c := NewCompiler("", "", "")

	got, err := c.CompileTags([]string{"node:1", "node_list"})
	require.NoError(t, err)
	assert.Equal(t, `obj.http.Purge-Cache-Tags ~ "(node:1|node_list)+"`, got.String())

	_, err = c.CompileTags(nil)
	assert.ErrorIs(t, err, invalidation.ErrInvalidExpression)
}

func TestCompileTags_HeaderNames(t *testing.T) {
	tests := []struct {
		name       string
		tagsHeader string
		rawHeader  string
		wantSingle string
		wantDigest string
	}{
		{"defaults", "", "", "Purge-Cache-Tags", "Section-Cache-Tags"},
		{"custom hashed", "X-Tag-Hashes", "", "Purge-Cache-Tags", "X-Tag-Hashes"},
		{"custom raw", "", "X-Tags", "X-Tags", "Section-Cache-Tags"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCompiler("", tt.tagsHeader, tt.rawHeader)

			single, err := c.CompileTags([]string{"node:1"})
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(single.String(), "obj.http."+tt.wantSingle+" ~ "), single.String())

			digest := c.CompileTagDigest(tagshash.Compute([]string{"node:1"}))
			assert.True(t, strings.HasPrefix(digest.String(), "obj.http."+tt.wantDigest+" ~ "), digest.String())

			assert.Equal(t, tt.wantDigest, c.TagsHeader())
			assert.Equal(t, tt.wantSingle, c.RawTagsHeader())
		})
	}
}

func TestCompileTagDigest(t *testing.T) {
	c := NewCompiler("mysite", "", "")
	digest := tagshash.Compute([]string{"node:2", "node:1"})

	got := c.CompileTagDigest(digest)
	assert.Equal(t, `obj.http.Section-Cache-Tags ~ "(`+digest.Pattern()+`)+"`, got.String())
	assert.NotContains(t, got.String(), "mysite")
	assert.Equal(t, got, c.CompileTagDigest(tagshash.Compute([]string{"node:1", "node:2", "node:1"})))
}

func TestExpression_QueryEscaped(t *testing.T) {
	expr := Expression(`obj.status != 0 && req.http.host == "my site"`)
	escaped := expr.QueryEscaped()

	assert.NotContains(t, escaped, "&")
	assert.NotContains(t, escaped, " ")
	assert.NotContains(t, escaped, `"`)
	assert.Contains(t, escaped, "%26%26")

	decoded, err := url.QueryUnescape(escaped)
	require.NoError(t, err)
	assert.Equal(t, expr.String(), decoded)
}
