package log

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileHookFromConfigLine(t *testing.T) {
	t.Parallel()

	tests := [...]struct {
		line       string
		err        bool
		errMessage string
		path       string
		levels     []logrus.Level
	}{
		{line: "file", err: true},
		{line: "file=/loadrun.log,level=info", path: "/loadrun.log", levels: logrus.AllLevels[:5]},
		{line: "file=/loadrun.log", path: "/loadrun.log", levels: logrus.AllLevels},
		{line: "file=run.log,level=warning", path: "run.log", levels: logrus.AllLevels[:4]},
		{line: "file=/a/c/", err: true},
		{line: "file=,level=info", err: true, errMessage: "filepath must not be empty"},
		{line: "file=/loadrun.log,level=tea", err: true, errMessage: "unknown log level tea"},
		{line: "file=/loadrun.log,unknown", err: true},
		{line: "file=/loadrun.log,level=", err: true},
		{line: "file=/loadrun.log,level=,", err: true},
		{
			line:       "file=/loadrun.log,unknown=something",
			err:        true,
			errMessage: "unknown logfile config key unknown",
		},
		{
			line:       "unknown=something",
			err:        true,
			errMessage: "logfile configuration should be in the form `file=path-to-local-file` but is `unknown=something`",
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.line, func(t *testing.T) {
			t.Parallel()

			getCwd := func() (string, error) {
				return "/", nil
			}

			res, err := FileHookFromConfigLine(afero.NewMemMapFs(), getCwd, logrus.New(), test.line)

			if test.err {
				require.Error(t, err)

				if test.errMessage != "" {
					require.Equal(t, test.errMessage, err.Error())
				}

				return
			}

			require.NoError(t, err)
			hook := res.(*fileHook)
			assert.NotNil(t, hook.w)
			assert.Equal(t, test.path, hook.path)
			assert.Equal(t, test.levels, hook.Levels())
		})
	}
}

func TestFileHookListen(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/var/log", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/var/log/loadrun.log", []byte("earlier run\n"), 0o600))

	hook, err := FileHookFromConfigLine(fs, func() (string, error) { return "/var/log", nil },
		logrus.New(), "file=loadrun.log,level=info")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hook.Listen(ctx)
	}()

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.DebugLevel)
	logger.AddHook(hook)
	logger.WithField("vu", 3).Info("iteration failed")
	logger.Debug("not written")
	logger.Warn("threshold crossed")

	cancel()
	<-done

	data, err := afero.ReadFile(fs, "/var/log/loadrun.log")
	require.NoError(t, err)
	assert.Contains(t, string(data), "earlier run\n")
	assert.Contains(t, string(data), `msg="iteration failed" vu=3`)
	assert.Contains(t, string(data), `msg="threshold crossed"`)
	assert.NotContains(t, string(data), "not written")
}
