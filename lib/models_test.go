package lib

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGroup(t *testing.T) {
	t.Parallel()

	t.Run("Root", func(t *testing.T) {
		t.Parallel()
		g, err := NewGroup("", nil)
		require.NoError(t, err)
		assert.Equal(t, "", g.Name)
		assert.Nil(t, g.Parent)
		assert.Empty(t, g.Path)
	})

	t.Run("Nested", func(t *testing.T) {
		t.Parallel()
		root, err := NewGroup("", nil)
		require.NoError(t, err)
		outer, err := root.Group("Outer")
		require.NoError(t, err)
		inner, err := outer.Group("Inner")
		require.NoError(t, err)
		assert.Equal(t, "::Outer", outer.Path)
		assert.Equal(t, "::Outer::Inner", inner.Path)
		assert.Same(t, outer, inner.Parent)

		same, err := root.Group("Outer")
		require.NoError(t, err)
		assert.Same(t, outer, same)
	})

	t.Run("Separator", func(t *testing.T) {
		t.Parallel()
		root, err := NewGroup("", nil)
		require.NoError(t, err)
		_, err = root.Group("a::b")
		assert.ErrorIs(t, err, ErrNameContainsGroupSeparator)
		_, err = root.Check("a::b")
		assert.ErrorIs(t, err, ErrNameContainsGroupSeparator)
	})
}

func TestGroupCheckOrderAndCounts(t *testing.T) {
	t.Parallel()

	root, err := NewGroup("", nil)
	require.NoError(t, err)
	home, err := root.Group("Homepage")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := home.Check("status is 200")
			if err != nil {
				return
			}
			c.Record(i%5 != 0)
		}(i)
	}
	wg.Wait()

	c, err := home.Check("status is 200")
	require.NoError(t, err)
	passes, fails := c.Counts()
	assert.Equal(t, int64(40), passes)
	assert.Equal(t, int64(10), fails)
	assert.Equal(t, "::Homepage::status is 200", c.Path)

	_, err = home.Check("body contains Odoo")
	require.NoError(t, err)
	_, err = root.Group("Web Client")
	require.NoError(t, err)

	checks := home.SnapshotChecks()
	require.Len(t, checks, 2)
	assert.Equal(t, "status is 200", checks[0].Name)
	assert.Equal(t, "body contains Odoo", checks[1].Name)

	groups := root.SnapshotGroups()
	require.Len(t, groups, 2)
	assert.Equal(t, "Homepage", groups[0].Name)
	assert.Equal(t, "Web Client", groups[1].Name)
}
