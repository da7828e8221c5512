package tagshash

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	// HashLength is the width of a single tag hash in hex characters
	HashLength = 16
	// SumLength is the width of the set sum in hex characters
	SumLength = 16
)

// Digest is the order and duplicate independent fingerprint of a tag set
type Digest struct {
	// Hashes holds one fixed-width hash per distinct tag, sorted
	Hashes []string
	// Sum identifies the whole set
	Sum string
}

// Hash returns the fixed-width hash of a single tag
func Hash(tag string) string {
	return padHex(xxhash.Sum64String(tag), HashLength)
}

// Compute builds the digest for a set of tags. Empty tags are ignored.
func Compute(tags []string) Digest {
	seen := make(map[string]struct{}, len(tags))
	hashes := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		h := Hash(tag)
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)

	sum := padHex(xxhash.Sum64String(strings.Join(hashes, " ")), SumLength)
	return Digest{Hashes: hashes, Sum: sum}
}

func padHex(v uint64, width int) string {
	h := strconv.FormatUint(v, 16)
	if len(h) < width {
		h = strings.Repeat("0", width-len(h)) + h
	}
	return h
}

// String returns the space separated hash list used as a response header value
func (d Digest) String() string {
	return strings.Join(d.Hashes, " ")
}

// Pattern returns the hash list as a ban regex alternation body
func (d Digest) Pattern() string {
	return strings.Join(d.Hashes, "|")
}

// Len returns the number of distinct tags in the digest
func (d Digest) Len() int {
	return len(d.Hashes)
}

// Equal reports whether both digests describe the same tag set
func (d Digest) Equal(other Digest) bool {
	return d.Sum == other.Sum
}
