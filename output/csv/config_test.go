package csv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/loadrun/lib/types"
)

func TestNewConfig(t *testing.T) {
	t.Parallel()

	config := NewConfig()
	assert.Equal(t, "file.csv", config.FileName.String)
	assert.Equal(t, time.Second, config.SaveInterval.TimeDuration())
	assert.Equal(t, "unix", config.TimeFormat.String)
}

func TestApply(t *testing.T) {
	t.Parallel()

	base := NewConfig().Apply(Config{
		FileName:     null.StringFrom(""),
		SaveInterval: types.NullDurationFrom(2 * time.Second),
	})
	assert.Equal(t, "", base.FileName.String)
	assert.Equal(t, 2*time.Second, base.SaveInterval.TimeDuration())
	assert.Equal(t, "unix", base.TimeFormat.String)

	base = base.Apply(Config{
		FileName:     null.StringFrom("newPath"),
		SaveInterval: types.NewNullDuration(time.Minute, false),
	})
	assert.Equal(t, "newPath", base.FileName.String)
	assert.Equal(t, 2*time.Second, base.SaveInterval.TimeDuration())
}

func TestParseArg(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		config      Config
		expectedErr bool
	}{
		"test_file.csv": {
			config: Config{FileName: null.StringFrom("test_file.csv")},
		},
		"saveInterval=5s": {
			config: Config{SaveInterval: types.NullDurationFrom(5 * time.Second)},
		},
		"fileName=test.csv,saveInterval=5s": {
			config: Config{
				FileName:     null.StringFrom("test.csv"),
				SaveInterval: types.NullDurationFrom(5 * time.Second),
			},
		},
		"fileName=test.csv,timeFormat=rfc3339": {
			config: Config{
				FileName:   null.StringFrom("test.csv"),
				TimeFormat: null.StringFrom("rfc3339"),
			},
		},
		"filename=test.csv":        {expectedErr: true},
		"fileName=test.csv,broken": {expectedErr: true},
		"saveInterval=soon":        {expectedErr: true},
	}

	for arg, testCase := range cases {
		arg, testCase := arg, testCase
		t.Run(arg, func(t *testing.T) {
			t.Parallel()
			config, err := ParseArg(arg)
			if testCase.expectedErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, testCase.config, config)
		})
	}
}

func TestGetConsolidatedConfig(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"LOADRUN_CSV_FILENAME":      "env.csv",
		"LOADRUN_CSV_SAVE_INTERVAL": "3s",
		"LOADRUN_CSV_TIME_FORMAT":   "rfc3339",
	}

	config, err := GetConsolidatedConfig(env, "")
	require.NoError(t, err)
	assert.Equal(t, "env.csv", config.FileName.String)
	assert.Equal(t, 3*time.Second, config.SaveInterval.TimeDuration())
	assert.Equal(t, "rfc3339", config.TimeFormat.String)

	config, err = GetConsolidatedConfig(env, "fileName=arg.csv,timeFormat=unix")
	require.NoError(t, err)
	assert.Equal(t, "arg.csv", config.FileName.String)
	assert.Equal(t, 3*time.Second, config.SaveInterval.TimeDuration())
	assert.Equal(t, "unix", config.TimeFormat.String)

	_, err = GetConsolidatedConfig(map[string]string{"LOADRUN_CSV_TIME_FORMAT": "iso"}, "")
	assert.ErrorContains(t, err, `unknown time format "iso"`)

	_, err = GetConsolidatedConfig(nil, "saveInterval=0s")
	assert.ErrorContains(t, err, "saveInterval must be positive")
}
