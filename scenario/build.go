package scenario

import (
	"bytes"
	"context"
	"math/rand/v2"

	"github.com/liuxd6825/loadrun/errext"
	"github.com/liuxd6825/loadrun/errext/exitcodes"
	"github.com/liuxd6825/loadrun/lib/netext/httpext"
	"github.com/liuxd6825/loadrun/metrics"
	"github.com/liuxd6825/loadrun/runner"
)

type compiledRequest struct {
	method      string
	url         string
	params      httpext.Params
	checks      map[string]runner.CheckFunc
	errorMetric string
	sleep       Pause
}

type compiledGroup struct {
	name     string
	weight   int64
	requests []compiledRequest
	intn     func(int64) int64
}

type compiledUser struct {
	// empty for the groups declared at the top of the file
	name     string
	weight   int64
	weighted bool
	onStart  *compiledGroup
	groups   []compiledGroup
	// sum of the group weights
	total int64
	intn  func(int64) int64
}

// Build returns a runner.Scenario. Each VU belongs to a user class and its
// iterations run the groups of that class, all in order or a single weighted
// pick. A failing check never ends the iteration.
func Build(f *File) (runner.Scenario, error) {
	return build(f, rand.Int64N)
}

// build is Build with the source of randomness of the think times and the
// weighted picks. intn returns a number in [0, n).
func build(f *File, intn func(int64) int64) (runner.Scenario, error) {
	if err := f.Validate(); err != nil {
		return runner.Scenario{}, errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}

	declared := f.Users
	if len(declared) == 0 {
		declared = []User{{Mode: f.Mode, OnStart: f.OnStart, Groups: f.Groups}}
	}
	users := make([]*compiledUser, len(declared))
	var totalWeight int64
	for i, u := range declared {
		cu, err := compileUser(u, intn)
		if err != nil {
			return runner.Scenario{}, errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
		}
		users[i] = cu
		totalWeight += cu.weight
	}

	defs := make([]runner.MetricDefinition, len(f.Metrics))
	for i, m := range f.Metrics {
		defs[i] = runner.MetricDefinition{Name: m.Name, Type: m.Type, Contains: m.Contains}
	}

	return runner.Scenario{
		Setup: func(context.Context) (interface{}, error) {
			return map[string]interface{}{}, nil
		},
		Default: func(it *runner.Iteration) error {
			u := userForVU(users, totalWeight, it.VUID())
			if u.name == "" {
				return u.run(it)
			}
			return it.Group(u.name, u.run)
		},
		Metrics: defs,
	}, nil
}

func compileUser(u User, intn func(int64) int64) (*compiledUser, error) {
	cu := &compiledUser{
		name:     u.Name,
		weight:   weightOrDefault(u.Weight),
		weighted: u.Mode == ModeWeighted,
		groups:   make([]compiledGroup, len(u.Groups)),
		intn:     intn,
	}
	if u.OnStart != nil {
		g, err := compileGroup(*u.OnStart, intn)
		if err != nil {
			return nil, err
		}
		cu.onStart = &g
	}
	for i, g := range u.Groups {
		cg, err := compileGroup(g, intn)
		if err != nil {
			return nil, err
		}
		cu.groups[i] = cg
		cu.total += cg.weight
	}
	return cu, nil
}

func compileGroup(g Group, intn func(int64) int64) (compiledGroup, error) {
	cg := compiledGroup{
		name:     g.Name,
		weight:   weightOrDefault(g.Weight),
		requests: make([]compiledRequest, len(g.Requests)),
		intn:     intn,
	}
	for j, r := range g.Requests {
		params, err := r.params()
		if err != nil {
			return compiledGroup{}, err
		}
		checks := make(map[string]runner.CheckFunc, len(r.Checks))
		for _, c := range r.Checks {
			checks[c.DisplayName()] = c.Func()
		}
		cg.requests[j] = compiledRequest{
			method:      r.method(),
			url:         r.URL,
			params:      *params,
			checks:      checks,
			errorMetric: r.ErrorMetric,
			sleep:       r.Sleep,
		}
	}
	return cg, nil
}

func weightOrDefault(w int64) int64 {
	if w == 0 {
		return 1
	}
	return w
}

// userForVU spreads the VUs over the user classes by weight, in a fixed
// round: with weights 3 and 1, VUs 1-3 are of the first class and VU 4 of
// the second one.
func userForVU(users []*compiledUser, totalWeight int64, vuID uint64) *compiledUser {
	if len(users) == 1 || totalWeight == 0 {
		return users[0]
	}
	slot := int64((vuID - 1) % uint64(totalWeight))
	for _, u := range users {
		if slot < u.weight {
			return u
		}
		slot -= u.weight
	}
	return users[len(users)-1]
}

func (u *compiledUser) run(it *runner.Iteration) error {
	if u.onStart != nil && it.Number() == 0 {
		if err := it.Group(u.onStart.name, u.onStart.run); err != nil {
			return err
		}
	}
	if u.weighted {
		g := u.pick(u.intn(u.total))
		return it.Group(g.name, g.run)
	}
	for _, g := range u.groups {
		if err := it.Group(g.name, g.run); err != nil {
			return err
		}
	}
	return nil
}

// pick returns the group that n, in [0, total), falls on when the groups
// are laid out one after the other with their weights as lengths.
func (u *compiledUser) pick(n int64) *compiledGroup {
	for i := range u.groups {
		if n < u.groups[i].weight {
			return &u.groups[i]
		}
		n -= u.groups[i].weight
	}
	return &u.groups[len(u.groups)-1]
}

func (g compiledGroup) run(it *runner.Iteration) error {
	for _, r := range g.requests {
		params := r.params
		params.Body = bytes.Clone(r.params.Body)
		res := it.Request(r.method, r.url, &params)

		passed := true
		if len(r.checks) > 0 {
			passed = it.Check(res, r.checks)
		}
		if r.errorMetric != "" {
			m, err := it.Metric(r.errorMetric, metrics.Rate)
			if err != nil {
				return err
			}
			value := 0.0
			if !passed {
				value = 1
			}
			it.AddSample(m, value)
		}
		it.Sleep(r.sleep.duration(g.intn))
	}
	return nil
}
