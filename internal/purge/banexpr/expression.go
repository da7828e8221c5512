package banexpr

import "net/url"

// Expression is a compiled ban expression in the proxy's ban grammar
type Expression string

func (e Expression) String() string {
	return string(e)
}

// QueryEscaped returns the expression encoded for a URL query value
func (e Expression) QueryEscaped() string {
	return url.QueryEscape(string(e))
}

// Everything matches every object with a non-empty response
const Everything Expression = "obj.status != 0"
