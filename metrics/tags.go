package metrics

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/mstoykov/atlas"
)

// Tag names attached by the engine itself.
const (
	TagProto            = "proto"
	TagSubproto         = "subproto"
	TagStatus           = "status"
	TagMethod           = "method"
	TagURL              = "url"
	TagName             = "name"
	TagGroup            = "group"
	TagCheck            = "check"
	TagError            = "error"
	TagErrorCode        = "error_code"
	TagTLSVersion       = "tls_version"
	TagScenario         = "scenario"
	TagExpectedResponse = "expected_response"
	TagVU               = "vu"
	TagIter             = "iter"
)

// TagSet is an immutable set of key-value tags, backed by an atlas node so
// that identical tag sets share one allocation. Use With() to derive a new
// set; the receiver is never modified.
type TagSet atlas.Node

func (ts *TagSet) node() *atlas.Node {
	return (*atlas.Node)(ts)
}

// With returns a TagSet that holds the receiver's tags plus the given one.
func (ts *TagSet) With(key, value string) *TagSet {
	return (*TagSet)(ts.node().AddLink(key, value))
}

// WithTagsFromMap adds every pair from the map, in key order.
func (ts *TagSet) WithTagsFromMap(m map[string]string) *TagSet {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	res := ts
	for _, k := range keys {
		res = res.With(k, m[k])
	}
	return res
}

// Without returns a TagSet without the given key.
func (ts *TagSet) Without(key string) *TagSet {
	return (*TagSet)(ts.node().DeleteKey(key))
}

// Get returns the value of the tag with the given key.
func (ts *TagSet) Get(key string) (string, bool) {
	return ts.node().ValueByKey(key)
}

// IsEmpty is true when the set has no tags.
func (ts *TagSet) IsEmpty() bool {
	return ts.node().IsRoot()
}

// Len returns the number of tags.
func (ts *TagSet) Len() int {
	return ts.node().Len()
}

// Map returns a copy of the tags as a plain map.
func (ts *TagSet) Map() map[string]string {
	return ts.node().Path()
}

// HasAll reports whether every tag of other is present, with the same
// value, in the receiver.
func (ts *TagSet) HasAll(other *TagSet) bool {
	if other == nil {
		return true
	}
	for k, v := range other.Map() {
		if got, ok := ts.Get(k); !ok || got != v {
			return false
		}
	}
	return true
}

// String renders the tags as "k1=v1,k2=v2" in key order.
func (ts *TagSet) String() string {
	m := ts.Map()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(m[k])
	}
	return b.String()
}

// MarshalJSON serializes the TagSet as a JSON object.
func (ts *TagSet) MarshalJSON() ([]byte, error) {
	if ts == nil {
		return []byte("null"), nil
	}
	return json.Marshal(ts.Map())
}
