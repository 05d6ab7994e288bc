package statsd

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/loadrun/lib/testutils"
	"github.com/liuxd6825/loadrun/metrics"
	"github.com/liuxd6825/loadrun/output"
)

// listen returns the address of a UDP listener and a channel with every
// packet it receives.
func listen(t *testing.T) (string, <-chan string) {
	t.Helper()
	listener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	ch := make(chan string, 20)
	go func() {
		defer close(ch)
		var buf [4096]byte
		for {
			n, _, err := listener.ReadFromUDP(buf[:])
			if err != nil {
				return
			}
			ch <- string(buf[:n])
		}
	}()
	return listener.LocalAddr().String(), ch
}

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case packet := <-ch:
		return packet
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a statsd packet")
		return ""
	}
}

func TestOutput(t *testing.T) {
	t.Parallel()

	addr, ch := listen(t)
	out, err := New(output.Params{
		Logger:         testutils.NewLogger(t),
		ConfigArgument: "addr=" + addr + ",namespace=testing.things.,bufferSize=5,pushInterval=10ms",
	})
	require.NoError(t, err)
	assert.Equal(t, "statsd ("+addr+")", out.Description())
	require.NoError(t, out.Start())
	t.Cleanup(func() { require.NoError(t, out.Stop()) })

	registry := metrics.NewRegistry()
	tags := registry.RootTagSet().With("group", "::Homepage")
	sample := func(m *metrics.Metric, value float64, tags *metrics.TagSet) metrics.Sample {
		return m.Sample(time.Now(), tags, value)
	}
	myCounter := registry.MustNewMetric("my_counter", metrics.Counter)
	myGauge := registry.MustNewMetric("my_gauge", metrics.Gauge)
	myTrend := registry.MustNewMetric("my_trend", metrics.Trend)
	myRate := registry.MustNewMetric("errors", metrics.Rate)
	checks := registry.MustNewMetric(metrics.ChecksName, metrics.Rate)

	testMatrix := []struct {
		input  []metrics.SampleContainer
		output string
	}{
		{[]metrics.SampleContainer{sample(myCounter, 12, tags)}, "testing.things.my_counter:12|c"},
		{[]metrics.SampleContainer{sample(myGauge, 13, tags)}, "testing.things.my_gauge:13.000000|g"},
		{[]metrics.SampleContainer{sample(myTrend, 14, tags)}, "testing.things.my_trend:14.000000|ms"},
		{[]metrics.SampleContainer{sample(myRate, 1, tags)}, "testing.things.errors:1|c"},
		{
			[]metrics.SampleContainer{
				sample(checks, 1, tags.With("check", "status is 200")),
				sample(checks, 0, tags.With("check", "page contains Odoo")),
			},
			"testing.things.check.status is 200.pass:1|c\ntesting.things.check.page contains Odoo.fail:1|c",
		},
	}
	for _, test := range testMatrix {
		out.AddMetricSamples(test.input)
		assert.Equal(t, test.output, strings.TrimSpace(receive(t, ch)))
	}
}

func TestOutputWithTags(t *testing.T) {
	t.Parallel()

	addr, ch := listen(t)
	out, err := New(output.Params{
		Logger:         testutils.NewLogger(t),
		ConfigArgument: "addr=" + addr + ",enableTags=true,pushInterval=10ms",
		Environment:    map[string]string{"LOADRUN_STATSD_NAMESPACE": "odoo."},
	})
	require.NoError(t, err)
	require.NoError(t, out.Start())
	t.Cleanup(func() { require.NoError(t, out.Stop()) })

	registry := metrics.NewRegistry()
	reqs := registry.MustNewMetric(metrics.HTTPReqsName, metrics.Counter)
	tags := registry.RootTagSet().WithTagsFromMap(map[string]string{
		"group":  "::Web Client",
		"status": "200",
		"url":    "https://odoo-stage.local/web",
		"vu":     "2",
	})
	out.AddMetricSamples([]metrics.SampleContainer{reqs.Sample(time.Now(), tags, 1)})
	assert.Equal(t, "odoo.http_reqs:1|c|#group:::Web Client,status:200", strings.TrimSpace(receive(t, ch)))
}

func TestConfig(t *testing.T) {
	t.Parallel()

	conf, err := getConsolidatedConfig(nil, "")
	require.NoError(t, err)
	assert.Equal(t, "localhost:8125", conf.Addr.String)
	assert.Equal(t, int64(20), conf.BufferSize.Int64)
	assert.Equal(t, "loadrun.", conf.Namespace.String)
	assert.Equal(t, []string{"vu", "iter", "url"}, conf.TagBlocklist)
	assert.False(t, conf.EnableTags.Bool)

	conf, err = getConsolidatedConfig(map[string]string{
		"LOADRUN_STATSD_ADDR":          "statsd.local:8125",
		"LOADRUN_STATSD_TAG_BLOCKLIST": "vu,iter",
	}, "10.0.0.1:9125")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:9125", conf.Addr.String)
	assert.Equal(t, []string{"vu", "iter"}, conf.TagBlocklist)

	conf, err = getConsolidatedConfig(nil, "tagBlocklist=vu iter name")
	require.NoError(t, err)
	assert.Equal(t, []string{"vu", "iter", "name"}, conf.TagBlocklist)

	for arg, msg := range map[string]string{
		"addr=":            "the statsd address is empty",
		"bufferSize=many":  "invalid bufferSize",
		"pushInterval=0s":  "pushInterval must be positive",
		"enableTags=maybe": "enableTags must be true or false",
		"prefix=loadrun":   `unknown key "prefix"`,
		"addr=x:1,broken":  `couldn't parse "broken"`,
	} {
		_, err := getConsolidatedConfig(nil, arg)
		assert.ErrorContains(t, err, msg, arg)
	}
}
