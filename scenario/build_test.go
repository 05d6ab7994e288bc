package scenario

import (
	"context"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/loadrun/lib"
	"github.com/liuxd6825/loadrun/lib/netext/httpext"
	"github.com/liuxd6825/loadrun/lib/testutils"
	"github.com/liuxd6825/loadrun/lib/types"
	"github.com/liuxd6825/loadrun/metrics"
	"github.com/liuxd6825/loadrun/runner"
)

type recorder struct {
	mu      sync.Mutex
	samples []metrics.Sample
}

func (r *recorder) factory(uint64) metrics.SamplePusher {
	return metrics.PusherFunc(func(containers ...metrics.SampleContainer) {
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, c := range containers {
			r.samples = append(r.samples, c.GetSamples()...)
		}
	})
}

func (r *recorder) byMetric(name string) []metrics.Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []metrics.Sample
	for _, s := range r.samples {
		if s.Metric.Name == name {
			result = append(result, s)
		}
	}
	return result
}

func newOdooServer(t *testing.T, selectorStatus int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><title>Odoo</title></html>`))
	})
	mux.HandleFunc("/web", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>web client</html>`))
	})
	mux.HandleFunc("/web/database/selector", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(selectorStatus)
	})
	mux.HandleFunc("/web/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"pass"}`))
	})
	mux.HandleFunc("/web/login", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<form action="/web/login"></form>`))
	})
	mux.HandleFunc("/web/webclient/version_info", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":null,"result":{"server_version":"17.0"}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// odooWithoutSleeps returns the odoo preset pointed at baseURL.
func odooWithoutSleeps(t *testing.T, baseURL string) *File {
	t.Helper()
	f, err := Preset(DefaultPreset, map[string]string{"BASE_URL": baseURL})
	require.NoError(t, err)
	for i := range f.Groups {
		for j := range f.Groups[i].Requests {
			f.Groups[i].Requests[j].Sleep = Pause{}
		}
	}
	return f
}

func runIteration(t *testing.T, f *File) (*lib.TestRun, *recorder) {
	t.Helper()
	sc, err := Build(f)
	require.NoError(t, err)
	return runIterations(t, sc, f.Options, 1, 1)
}

// runIterations runs n iterations of sc on the VU with the given id.
func runIterations(t *testing.T, sc runner.Scenario, opts lib.Options, vuID uint64, n int) (*lib.TestRun, *recorder) {
	t.Helper()
	test, err := lib.NewTestRun(testutils.NewLogger(t), lib.DefaultOptions().Apply(opts), lib.RuntimeOptions{})
	require.NoError(t, err)
	rec := &recorder{}
	r, err := runner.New(test, sc, rec.factory, nil)
	require.NoError(t, err)
	require.NoError(t, r.Setup(context.Background()))

	vu, err := r.NewVU(context.Background(), vuID)
	require.NoError(t, err)
	t.Cleanup(vu.(*runner.VU).Close)
	for i := 0; i < n; i++ {
		require.NoError(t, vu.RunOnce(context.Background()))
	}
	return test, rec
}

func errorsByGroup(t *testing.T, rec *recorder) map[string]float64 {
	t.Helper()
	result := make(map[string]float64)
	for _, s := range rec.byMetric("errors") {
		group, ok := s.Tags.Get(metrics.TagGroup)
		require.True(t, ok)
		result[group] = s.Value
	}
	return result
}

func TestOdooIterationPasses(t *testing.T) {
	t.Parallel()
	srv := newOdooServer(t, http.StatusSeeOther)

	test, rec := runIteration(t, odooWithoutSleeps(t, srv.URL))

	assert.Equal(t, map[string]float64{
		"::Homepage": 0, "::Web Client": 0, "::Database List": 0, "::Health Check": 0,
	}, errorsByGroup(t, rec))
	assert.Len(t, rec.byMetric(metrics.HTTPReqsName), 4)
	assert.Len(t, rec.byMetric(metrics.GroupDurationName), 4)

	for _, s := range rec.byMetric(metrics.ChecksName) {
		check, _ := s.Tags.Get(metrics.TagCheck)
		assert.Equal(t, 1.0, s.Value, check)
	}
	passes, fails := test.RootGroup.Groups["Homepage"].Checks["page contains Odoo"].Counts()
	assert.Equal(t, int64(1), passes)
	assert.Zero(t, fails)
	require.NotNil(t, test.Registry.Get("errors"))
}

func TestOdooFailingGroupDoesNotStopIteration(t *testing.T) {
	t.Parallel()
	srv := newOdooServer(t, http.StatusInternalServerError)

	test, rec := runIteration(t, odooWithoutSleeps(t, srv.URL))

	assert.Equal(t, map[string]float64{
		"::Homepage": 0, "::Web Client": 0, "::Database List": 1, "::Health Check": 0,
	}, errorsByGroup(t, rec))

	passes, fails := test.RootGroup.Groups["Database List"].Checks["status is 200 or 303"].Counts()
	assert.Zero(t, passes)
	assert.Equal(t, int64(1), fails)
	passes, _ = test.RootGroup.Groups["Health Check"].Checks["status is 200"].Counts()
	assert.Equal(t, int64(1), passes)

	var failed []string
	for _, s := range rec.byMetric(metrics.HTTPReqFailedName) {
		if s.Value == 1 {
			group, _ := s.Tags.Get(metrics.TagGroup)
			failed = append(failed, group)
		}
	}
	assert.Equal(t, []string{"::Database List"}, failed)
}

func TestTransportErrorsFailChecks(t *testing.T) {
	t.Parallel()

	f, err := Parse([]byte(`
metrics: [{name: errors, type: rate}]
groups:
  - name: Down
    requests:
      - url: http://127.0.0.1:1/
        errorMetric: errors
        checks:
          - status: [0]
            name: got no status
          - bodyContains: anything
`), nil)
	require.NoError(t, err)

	test, rec := runIteration(t, f)
	assert.Equal(t, map[string]float64{"::Down": 1}, errorsByGroup(t, rec))
	passes, _ := test.RootGroup.Groups["Down"].Checks["got no status"].Counts()
	assert.Equal(t, int64(1), passes)
	_, fails := test.RootGroup.Groups["Down"].Checks["body contains anything"].Counts()
	assert.Equal(t, int64(1), fails)
}

func TestCheckFuncs(t *testing.T) {
	t.Parallel()

	ok := "pass"
	res := &httpext.Response{
		Status:  http.StatusOK,
		Body:    []byte(`{"status":"pass","items":[{"id":1}]}`),
		Headers: map[string]string{"Content-Type": "application/json; charset=utf-8"},
		Timings: httpext.ResponseTimings{Duration: 120},
	}
	failed := &httpext.Response{Error: "dial: i/o timeout", ErrorCode: 1050}

	testCases := []struct {
		check       Check
		passes      bool
		passesOnErr bool
	}{
		{Check{Status: []int{200, 303}}, true, false},
		{Check{Status: []int{404}}, false, false},
		{Check{BodyContains: `"id":1`}, true, false},
		{Check{BodyContains: "Odoo"}, false, false},
		{Check{MaxDuration: types.NullDurationFrom(500 * time.Millisecond)}, true, false},
		{Check{MaxDuration: types.NullDurationFrom(100 * time.Millisecond)}, false, false},
		{Check{JSONPath: "items.0.id"}, true, false},
		{Check{JSONPath: "items.1.id"}, false, false},
		{Check{JSONPath: "status", Equals: &ok}, true, false},
		{Check{JSONPath: "status", Contains: "fail"}, false, false},
		{Check{Header: "content-type", Contains: "json"}, true, false},
		{Check{Header: "Content-Type", Equals: &ok}, false, false},
		{Check{Header: "X-Missing"}, false, false},
	}
	for _, tc := range testCases {
		fn := tc.check.Func()
		assert.Equal(t, tc.passes, fn(res), tc.check.DisplayName())
		assert.Equal(t, tc.passesOnErr, fn(failed), tc.check.DisplayName())
	}
}

// locustWithoutSleeps returns the odoo-locust preset pointed at baseURL.
func locustWithoutSleeps(t *testing.T, baseURL string) *File {
	t.Helper()
	f, err := Preset("odoo-locust", map[string]string{"BASE_URL": baseURL})
	require.NoError(t, err)
	for i := range f.Users {
		u := &f.Users[i]
		if u.OnStart != nil {
			for j := range u.OnStart.Requests {
				u.OnStart.Requests[j].Sleep = Pause{}
			}
		}
		for j := range u.Groups {
			for k := range u.Groups[j].Requests {
				u.Groups[j].Requests[k].Sleep = Pause{}
			}
		}
	}
	return f
}

func groupsOf(rec *recorder) []string {
	var groups []string
	for _, s := range rec.byMetric(metrics.HTTPReqsName) {
		group, _ := s.Tags.Get(metrics.TagGroup)
		groups = append(groups, group)
	}
	return groups
}

func TestWeightedIterations(t *testing.T) {
	t.Parallel()
	srv := newOdooServer(t, http.StatusSeeOther)
	f := locustWithoutSleeps(t, srv.URL)

	// the group weights are 3, 5, 2, 1 and 1: 3 falls on Web Client and 11
	// on Version Info
	picks := []int64{3, 11}
	var calls int
	sc, err := build(f, func(n int64) int64 {
		assert.Equal(t, int64(12), n)
		pick := picks[calls%len(picks)]
		calls++
		return pick
	})
	require.NoError(t, err)

	test, rec := runIterations(t, sc, f.Options, 1, 2)
	assert.Equal(t, []string{
		"::Odoo User::User Start",
		"::Odoo User::Web Client",
		"::Odoo User::Version Info",
	}, groupsOf(rec))
	assert.Equal(t, map[string]float64{
		"::Odoo User::User Start": 0, "::Odoo User::Web Client": 0, "::Odoo User::Version Info": 0,
	}, errorsByGroup(t, rec))

	user := test.RootGroup.Groups["Odoo User"]
	require.NotNil(t, user)
	passes, fails := user.Groups["Version Info"].Checks["server version is reported"].Counts()
	assert.Equal(t, int64(1), passes)
	assert.Zero(t, fails)
}

func TestUserClassesByVU(t *testing.T) {
	t.Parallel()
	srv := newOdooServer(t, http.StatusSeeOther)
	f := locustWithoutSleeps(t, srv.URL)

	sc, err := build(f, func(int64) int64 { return 0 })
	require.NoError(t, err)

	// the weights are 3 and 1, so VU 4 is the first admin
	for vuID, want := range map[uint64]string{1: "Odoo User", 3: "Odoo User", 4: "Odoo Admin", 5: "Odoo User", 8: "Odoo Admin"} {
		_, rec := runIterations(t, sc, f.Options, vuID, 1)
		groups := groupsOf(rec)
		require.NotEmpty(t, groups, "VU %d", vuID)
		assert.Equal(t, "::"+want+"::", groups[len(groups)-1][:len(want)+4], "VU %d", vuID)
	}
}

func TestUserForVU(t *testing.T) {
	t.Parallel()

	a, b := &compiledUser{name: "a", weight: 2}, &compiledUser{name: "b", weight: 1}
	users := []*compiledUser{a, b}
	got := make([]string, 0, 6)
	for id := uint64(1); id <= 6; id++ {
		got = append(got, userForVU(users, 3, id).name)
	}
	assert.Equal(t, []string{"a", "a", "b", "a", "a", "b"}, got)
	assert.Same(t, a, userForVU([]*compiledUser{a}, 2, 7))
}

func TestWeightedPick(t *testing.T) {
	t.Parallel()

	u := &compiledUser{groups: []compiledGroup{{name: "x", weight: 2}, {name: "y", weight: 1}, {name: "z", weight: 3}}}
	names := make([]string, 0, 6)
	for n := int64(0); n < 6; n++ {
		names = append(names, u.pick(n).name)
	}
	assert.Equal(t, []string{"x", "x", "y", "z", "z", "z"}, names)
}

func TestPauseDuration(t *testing.T) {
	t.Parallel()

	assert.Zero(t, Pause{}.duration(nil))
	assert.Equal(t, time.Second, FixedPause(time.Second).duration(nil))

	p := Pause{Min: types.Duration(time.Second), Max: types.Duration(3 * time.Second), Valid: true}
	assert.Equal(t, time.Second, p.duration(func(int64) int64 { return 0 }))
	assert.Equal(t, 3*time.Second, p.duration(func(n int64) int64 { return n - 1 }))

	for i := 0; i < 100; i++ {
		d := p.duration(rand.Int64N)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 3*time.Second)
	}
}
