package configtest

import (
	"fmt"
	"strings"

	"github.com/edgecomet/banpurge/internal/common/configtypes"
	"github.com/edgecomet/banpurge/internal/purge/banexpr"
	"github.com/edgecomet/banpurge/internal/purge/invalidation"
	"github.com/edgecomet/banpurge/internal/purge/purger"
	"github.com/edgecomet/banpurge/internal/purge/tagshash"
	"github.com/edgecomet/banpurge/internal/purge/tagsheader"
	"github.com/edgecomet/banpurge/internal/purge/tokens"
)

// ExpressionTestResult shows what the purger would send for one expression
type ExpressionTestResult struct {
	Type       invalidation.Type
	Expression string
	Bundled    bool
	Compiled   banexpr.Expression
	Method     string
	URI        string // Full request URI including the escaped expression
	Headers    map[string]string

	// Tag only
	Digest           *tagshash.Digest
	SectionHeader    string
	PurgeHeader      string
	HashedHeaderName string
	RawHeaderName    string

	Error string
}

// TestExpression compiles expression as type t and builds the request the
// purger would send, without sending it
func TestExpression(p *purger.Purger, cfg *configtypes.PurgerConfig, typeName, expression string) *ExpressionTestResult {
	result := &ExpressionTestResult{Expression: expression}

	t, err := invalidation.ParseType(typeName)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Type = t

	if !p.Supports(t) {
		result.Error = fmt.Sprintf("purger %s does not support type %s", p.Label(), t)
		return result
	}
	if err := invalidation.Validate(t, expression); err != nil {
		result.Error = err.Error()
		return result
	}

	if t == invalidation.TypeTag {
		result.HashedHeaderName = p.Compiler().TagsHeader()
		result.RawHeaderName = p.Compiler().RawTagsHeader()
	}

	if t == invalidation.TypeTag && cfg.IsBundleTags() {
		header := tagsheader.New([]string{expression})
		result.Bundled = true
		result.Digest = &header.Digest
		result.Compiled = p.Compiler().CompileTagDigest(header.Digest)
		result.SectionHeader = header.Hashed()
		result.PurgeHeader = header.Raw()
	} else {
		compiled, err := p.Compiler().Compile(t, expression)
		if err != nil {
			result.Error = err.Error()
			return result
		}
		result.Compiled = compiled
		if t == invalidation.TypeTag {
			result.PurgeHeader = expression
		}
	}

	item := invalidation.NewItem("configtest", t, expression)
	req, err := p.Builder().Build(tokens.NewData(item, 1, tokens.PurgerData{Name: cfg.Name, SiteName: cfg.SiteName}))
	if err != nil {
		result.Error = fmt.Sprintf("failed to build request: %v", err)
		return result
	}
	if result.Digest != nil {
		req.Headers[strings.ToLower(cfg.DigestHeader)] = result.Digest.Sum
	}

	result.Method = req.Method
	result.URI = req.URI + result.Compiled.QueryEscaped()
	result.Headers = req.Headers
	return result
}
