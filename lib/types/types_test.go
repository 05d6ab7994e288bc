package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExtendedDuration(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		durStr string
		expErr bool
		expDur time.Duration
	}{
		{"", true, 0},
		{"d", true, 0},
		{"2.1d", true, 0},
		{"2d-2h", true, 0},
		{"2da", true, 0},
		{"1.12s", false, 1120 * time.Millisecond},
		{"2m", false, 2 * time.Minute},
		{"1d", false, 24 * time.Hour},
		{"1d23h", false, 47 * time.Hour},
		{"-1d2h", false, -26 * time.Hour},
		{"1500", false, 1500 * time.Millisecond},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.durStr, func(t *testing.T) {
			t.Parallel()
			result, err := ParseExtendedDuration(tc.durStr)
			if tc.expErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expDur, result)
		})
	}
}

func TestNullDurationJSON(t *testing.T) {
	t.Parallel()

	var d NullDuration
	require.NoError(t, json.Unmarshal([]byte(`"5m"`), &d))
	assert.Equal(t, NullDurationFrom(5*time.Minute), d)

	require.NoError(t, json.Unmarshal([]byte(`2500`), &d))
	assert.Equal(t, NullDurationFrom(2500*time.Millisecond), d)

	require.NoError(t, json.Unmarshal([]byte(`null`), &d))
	assert.False(t, d.Valid)
	assert.Equal(t, Duration(0), d.ValueOrZero())

	out, err := json.Marshal(NullDurationFrom(90 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(out))

	out, err = json.Marshal(NullDuration{})
	require.NoError(t, err)
	assert.Equal(t, `null`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`true`), &d))
}

func TestNullDurationText(t *testing.T) {
	t.Parallel()

	var d NullDuration
	require.NoError(t, d.UnmarshalText([]byte("2d")))
	assert.Equal(t, 48*time.Hour, d.TimeDuration())
	require.NoError(t, d.UnmarshalText(nil))
	assert.False(t, d.Valid)
}
