package json

import (
	"bufio"
	"bytes"
	stdlibjson "encoding/json"
	"io"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/loadrun/lib/testutils"
	"github.com/liuxd6825/loadrun/metrics"
	"github.com/liuxd6825/loadrun/output"
)

func generateTestSamples(t testing.TB) []metrics.SampleContainer {
	t.Helper()
	registry := metrics.NewRegistry()
	reqs := registry.MustNewMetric("http_reqs", metrics.Counter)
	errs := registry.MustNewMetric("errors", metrics.Rate)
	stamp := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	tags := registry.RootTagSet().With("group", "::Homepage").With("url", "https://odoo-stage.local/?a=1&b=<2>")

	return []metrics.SampleContainer{
		reqs.Sample(stamp, tags, 1),
		metrics.ConnectedSamples{
			Samples: []metrics.Sample{reqs.Sample(stamp, tags, 1), errs.Sample(stamp, tags, 0)},
			Tags:    tags,
			Time:    stamp,
		},
	}
}

type line struct {
	Type   string                           `json:"type"`
	Metric string                           `json:"metric"`
	Data   map[string]stdlibjson.RawMessage `json:"data"`
}

func readLines(t *testing.T, r io.Reader) []line {
	t.Helper()
	var result []line
	s := bufio.NewScanner(r)
	for s.Scan() {
		var l line
		require.NoError(t, stdlibjson.Unmarshal(s.Bytes(), &l), s.Text())
		result = append(result, l)
	}
	require.NoError(t, s.Err())
	return result
}

func runOutput(t *testing.T, params output.Params) {
	t.Helper()
	out, err := New(params)
	require.NoError(t, err)
	out.(output.WithThresholds).SetThresholds(map[string]metrics.Thresholds{
		"errors": metrics.NewThresholds([]string{"rate<0.1"}),
	})
	require.NoError(t, out.Start())
	out.AddMetricSamples(generateTestSamples(t))
	require.NoError(t, out.Stop())
}

func checkLines(t *testing.T, lines []line) {
	t.Helper()
	require.Len(t, lines, 5)
	assert.Equal(t, "Metric", lines[0].Type)
	assert.Equal(t, "http_reqs", lines[0].Metric)
	assert.JSONEq(t, `"counter"`, string(lines[0].Data["type"]))
	assert.JSONEq(t, `[]`, string(lines[0].Data["thresholds"]))

	assert.Equal(t, "Point", lines[1].Type)
	assert.JSONEq(t, `1`, string(lines[1].Data["value"]))
	assert.JSONEq(t, `"2024-03-01T12:00:00Z"`, string(lines[1].Data["time"]))
	assert.JSONEq(t, `{"group":"::Homepage","url":"https://odoo-stage.local/?a=1&b=<2>"}`, string(lines[1].Data["tags"]))

	assert.Equal(t, "Point", lines[2].Type)
	assert.Equal(t, "Metric", lines[3].Type)
	assert.Equal(t, "errors", lines[3].Metric)
	assert.JSONEq(t, `["rate<0.1"]`, string(lines[3].Data["thresholds"]))
	assert.Equal(t, "errors", lines[4].Metric)
}

func TestJSONOutputStdout(t *testing.T) {
	t.Parallel()

	stdout := &bytes.Buffer{}
	runOutput(t, output.Params{
		Logger: testutils.NewLogger(t),
		StdOut: stdout,
	})
	checkLines(t, readLines(t, stdout))
}

func TestJSONOutputFile(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	runOutput(t, output.Params{
		Logger:         testutils.NewLogger(t),
		FS:             fs,
		ConfigArgument: "/results/run.json",
	})

	f, err := fs.Open("/results/run.json")
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	checkLines(t, readLines(t, f))
}

func TestJSONOutputGzipFile(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	runOutput(t, output.Params{
		Logger:         testutils.NewLogger(t),
		FS:             fs,
		ConfigArgument: "/results/run.json.gz",
	})

	f, err := fs.Open("/results/run.json.gz")
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	checkLines(t, readLines(t, gz))
}

func TestJSONOutputDescription(t *testing.T) {
	t.Parallel()

	for arg, desc := range map[string]string{"": "json (stdout)", "-": "json (stdout)", "out.json": "json (out.json)"} {
		out, err := New(output.Params{Logger: testutils.NewLogger(t), ConfigArgument: arg})
		require.NoError(t, err)
		assert.Equal(t, desc, out.Description())
	}
}
