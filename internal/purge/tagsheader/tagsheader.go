package tagsheader

import (
	"sort"
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/edgecomet/banpurge/internal/purge/tagshash"
)

const (
	// SectionCacheTags carries the hashed tag set that bundled bans match
	SectionCacheTags = "Section-Cache-Tags"
	// PurgeCacheTags carries the raw tag set for debugging and single tag bans
	PurgeCacheTags = "Purge-Cache-Tags"
)

// Value is the pair of header values describing one response's tags
type Value struct {
	Tags   []string
	Digest tagshash.Digest
}

// New builds header values for the tags attached to a response
func New(tags []string) Value {
	uniq := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		uniq = append(uniq, tag)
	}
	sort.Strings(uniq)

	return Value{Tags: uniq, Digest: tagshash.Compute(uniq)}
}

// Raw returns the space separated tag list
func (v Value) Raw() string {
	return strings.Join(v.Tags, " ")
}

// Hashed returns the space separated hash list
func (v Value) Hashed() string {
	return v.Digest.String()
}

// Apply sets the hashed value under hashedName and the raw tags under
// rawName, defaulting to Section-Cache-Tags and Purge-Cache-Tags. When both
// names are the same only the raw tags are written. Nothing is written for an
// empty tag set.
func (v Value) Apply(h *fasthttp.ResponseHeader, hashedName, rawName string) {
	if len(v.Tags) == 0 {
		return
	}
	if hashedName == "" {
		hashedName = SectionCacheTags
	}
	if rawName == "" {
		rawName = PurgeCacheTags
	}
	if !strings.EqualFold(hashedName, rawName) {
		h.Set(hashedName, v.Hashed())
	}
	h.Set(rawName, v.Raw())
}
