package metrics

import (
	"encoding/json"
	"testing"

	"github.com/mstoykov/atlas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagSetWith(t *testing.T) {
	t.Parallel()

	root := (*TagSet)(atlas.New())
	ts := root.With("key1", "val1")
	ts2 := ts.With("key2", "val2")
	ts3 := ts2.With("key1", "other")

	assert.Equal(t, map[string]string{"key1": "val1"}, ts.Map())
	assert.Equal(t, map[string]string{"key1": "val1", "key2": "val2"}, ts2.Map())
	assert.Equal(t, map[string]string{"key1": "other", "key2": "val2"}, ts3.Map())
	assert.Equal(t, 2, ts3.Len())

	v, ok := ts2.Get("key2")
	assert.True(t, ok)
	assert.Equal(t, "val2", v)
	_, ok = ts.Get("key2")
	assert.False(t, ok)

	assert.Equal(t, ts, ts2.Without("key2"))
	assert.True(t, root.IsEmpty())
	assert.False(t, ts.IsEmpty())
}

func TestTagSetHasAll(t *testing.T) {
	t.Parallel()

	root := (*TagSet)(atlas.New())
	full := root.WithTagsFromMap(map[string]string{"group": "::A", "status": "200", "method": "GET"})

	assert.True(t, full.HasAll(root.With("status", "200")))
	assert.True(t, full.HasAll(root.With("status", "200").With("group", "::A")))
	assert.False(t, full.HasAll(root.With("status", "500")))
	assert.False(t, full.HasAll(root.With("name", "x")))
	assert.True(t, full.HasAll(root))
	assert.True(t, full.HasAll(nil))
}

func TestTagSetStringAndJSON(t *testing.T) {
	t.Parallel()

	ts := (*TagSet)(atlas.New()).WithTagsFromMap(map[string]string{"b": "2", "a": "1"})
	assert.Equal(t, "a=1,b=2", ts.String())

	out, err := json.Marshal(ts)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"1","b":"2"}`, string(out))

	var nilSet *TagSet
	out, err = json.Marshal(nilSet)
	require.NoError(t, err)
	assert.Equal(t, "null", string(out))
}
