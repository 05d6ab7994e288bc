package httpext

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExpectedStatuses(t *testing.T) {
	t.Parallel()

	statuses, err := ParseExpectedStatuses("200-299", " 404 ", "500-500")
	require.NoError(t, err)
	assert.Equal(t, ExpectedStatuses{{200, 299}, {404, 404}, {500, 500}}, statuses)
	assert.Equal(t, "200-299,404,500", statuses.String())

	assert.True(t, statuses.Matches(204))
	assert.True(t, statuses.Matches(404))
	assert.False(t, statuses.Matches(301))
	assert.False(t, statuses.Matches(0))

	for _, invalid := range []string{"", "abc", "300-200", "-1", "200-1000", "2xx"} {
		_, err := ParseExpectedStatuses(invalid)
		assert.ErrorIs(t, err, ErrInvalidStatusRange, invalid)
	}
}

func TestDefaultExpectedStatuses(t *testing.T) {
	t.Parallel()

	statuses := DefaultExpectedStatuses()
	assert.True(t, statuses.Matches(200))
	assert.True(t, statuses.Matches(399))
	assert.False(t, statuses.Matches(400))
	assert.False(t, statuses.Matches(199))
}
