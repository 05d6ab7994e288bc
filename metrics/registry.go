package metrics

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/mstoykov/atlas"
)

// ErrMetricNameParsing indicates a malformed metric or submetric name.
var ErrMetricNameParsing = errors.New("parsing metric name failed")

// Registry is what can create metrics
type Registry struct {
	metrics map[string]*Metric
	l       sync.RWMutex

	// every TagSet of a run branches out of this node, so equal tag sets
	// are the same pointer
	rootTagSet *atlas.Node
}

// NewRegistry returns a new registry
func NewRegistry() *Registry {
	return &Registry{
		metrics:    make(map[string]*Metric),
		rootTagSet: atlas.New(),
	}
}

const nameRegexString = "^[\\p{L}\\p{N}\\._ !\\?/&#\\(\\)<>%-]{1,128}$"

var compileNameRegex = regexp.MustCompile(nameRegexString)

func checkName(name string) bool {
	return compileNameRegex.MatchString(name)
}

// NewMetric returns new metric registered to this registry. Registering an
// existing name returns the existing metric if the types agree.
func (r *Registry) NewMetric(name string, typ MetricType, t ...ValueType) (*Metric, error) {
	r.l.Lock()
	defer r.l.Unlock()

	if !checkName(name) {
		return nil, fmt.Errorf("invalid metric name: '%s'", name)
	}
	oldMetric, ok := r.metrics[name]

	if !ok {
		m := newMetric(name, typ, t...)
		r.metrics[name] = m
		return m, nil
	}
	if oldMetric.Type != typ {
		return nil, fmt.Errorf("metric '%s' already exists but with type %s, instead of %s", name, oldMetric.Type, typ)
	}
	if len(t) > 0 && t[0] != oldMetric.Contains {
		return nil, fmt.Errorf("metric '%s' already exists but with a value type %s, instead of %s",
			name, oldMetric.Contains, t[0])
	}
	return oldMetric, nil
}

// MustNewMetric is like NewMetric, but will panic if there is an error
func (r *Registry) MustNewMetric(name string, typ MetricType, t ...ValueType) *Metric {
	m, err := r.NewMetric(name, typ, t...)
	if err != nil {
		panic(err)
	}
	return m
}

// Get returns the Metric with the given name, or nil.
func (r *Registry) Get(name string) *Metric {
	r.l.RLock()
	defer r.l.RUnlock()
	return r.metrics[name]
}

// All returns all the registered metrics sorted by name.
func (r *Registry) All() []*Metric {
	r.l.RLock()
	defer r.l.RUnlock()

	res := make([]*Metric, 0, len(r.metrics))
	for _, m := range r.metrics {
		res = append(res, m)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res
}

// RootTagSet returns the empty TagSet all the run's tag sets derive from.
func (r *Registry) RootTagSet() *TagSet {
	return (*TagSet)(r.rootTagSet)
}
