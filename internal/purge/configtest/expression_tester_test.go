package configtest

import (
	"bytes"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edgecomet/banpurge/internal/common/configtypes"
	"github.com/edgecomet/banpurge/internal/purge/invalidation"
	"github.com/edgecomet/banpurge/internal/purge/purger"
	"github.com/edgecomet/banpurge/internal/purge/tagshash"
)

func newTestPurger(t *testing.T, mutate func(cfg *configtypes.PurgerConfig)) (*purger.Purger, *configtypes.PurgerConfig) {
	t.Helper()
	cfg := &configtypes.PurgerConfig{
		Account:     "42",
		Application: "7",
		SiteName:    "www.example.com",
	}
	if mutate != nil {
		mutate(cfg)
	}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	p, err := purger.New(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p, cfg
}

func banExpression(t *testing.T, uri string) string {
	t.Helper()
	u, err := url.Parse(uri)
	require.NoError(t, err)
	return u.Query().Get("banExpression")
}

func TestTestExpression(t *testing.T) {
	p, cfg := newTestPurger(t, nil)

	tests := []struct {
		name         string
		typ          string
		expression   string
		wantCompiled string
		wantError    string
	}{
		{
			name:         "wildcard path with site",
			typ:          "wildcardpath",
			expression:   "/news/*",
			wantCompiled: `req.url ~ "^/news/.*$" && req.http.host == "www.example.com"`,
		},
		{
			name:         "everything",
			typ:          "everything",
			wantCompiled: `obj.status != 0 && req.http.host == "www.example.com"`,
		},
		{
			name:       "unknown type",
			typ:        "bogus",
			expression: "x",
			wantError:  "unsupported invalidation type",
		},
		{
			name:       "empty path",
			typ:        "path",
			expression: "",
			wantError:  "cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := TestExpression(p, cfg, tt.typ, tt.expression)
			if tt.wantError != "" {
				assert.Contains(t, result.Error, tt.wantError)
				return
			}
			require.Empty(t, result.Error)
			assert.Equal(t, tt.wantCompiled, result.Compiled.String())
			assert.Equal(t, tt.wantCompiled, banExpression(t, result.URI))
			assert.True(t, strings.HasPrefix(result.URI,
				"https://aperture.section.io:443/api/v1/account/42/application/7/environment/Production/proxy/varnish/state?banExpression="))
			assert.Equal(t, "POST", result.Method)
		})
	}
}

func TestTestExpression_BundledTag(t *testing.T) {
	p, cfg := newTestPurger(t, nil)

	result := TestExpression(p, cfg, "tag", "node:1")
	require.Empty(t, result.Error)
	require.NotNil(t, result.Digest)

	hash := tagshash.Hash("node:1")
	assert.True(t, result.Bundled)
	assert.Equal(t, `obj.http.Section-Cache-Tags ~ "(`+hash+`)+"`, result.Compiled.String())
	assert.Equal(t, hash, result.SectionHeader)
	assert.Equal(t, "node:1", result.PurgeHeader)
	assert.Equal(t, result.Digest.Sum, result.Headers["x-cache-tags-digest"])
}

func TestTestExpression_UnbundledTagAndUnsupportedType(t *testing.T) {
	off := false
	p, cfg := newTestPurger(t, func(cfg *configtypes.PurgerConfig) {
		cfg.BundleTags = &off
		cfg.Types = []string{"tag"}
	})

	result := TestExpression(p, cfg, "tag", "node:1")
	require.Empty(t, result.Error)
	assert.False(t, result.Bundled)
	assert.Nil(t, result.Digest)
	assert.Equal(t, `obj.http.Purge-Cache-Tags ~ "(node:1)+"`, result.Compiled.String())
	assert.Equal(t, "Purge-Cache-Tags", result.RawHeaderName)

	result = TestExpression(p, cfg, "url", "https://www.example.com/")
	assert.Equal(t, invalidation.TypeURL, result.Type)
	assert.Contains(t, result.Error, "does not support type url")
}

func TestPrintOutput(t *testing.T) {
	p, cfg := newTestPurger(t, nil)

	var buf bytes.Buffer
	PrintPurgerSummary(&buf, cfg)
	PrintExpressionTestResult(&buf, TestExpression(p, cfg, "tag", "node:1"))
	PrintExpressionTestResult(&buf, TestExpression(p, cfg, "path", ""))

	out := buf.String()
	assert.Contains(t, out, "=== Purger: Section ===")
	assert.Contains(t, out, "Endpoint: https://aperture.section.io:443/")
	assert.Contains(t, out, "Mode: bundled (hashed tags)")
	assert.Contains(t, out, "Response header: Section-Cache-Tags: ")
	assert.Contains(t, out, "Response header: Purge-Cache-Tags: node:1")
	assert.Contains(t, out, "ERROR: ")
}
