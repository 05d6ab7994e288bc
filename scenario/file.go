// Package scenario loads declarative load tests: YAML or JSON files holding
// the run options, custom metrics and groups of requests with checks, either
// directly or split over weighted user classes. A File is turned into a
// runner.Scenario by Build.
package scenario

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/guregu/null.v3"
	"gopkg.in/yaml.v3"

	"github.com/liuxd6825/loadrun/errext"
	"github.com/liuxd6825/loadrun/errext/exitcodes"
	"github.com/liuxd6825/loadrun/lib"
	"github.com/liuxd6825/loadrun/lib/netext/httpext"
	"github.com/liuxd6825/loadrun/lib/types"
	"github.com/liuxd6825/loadrun/metrics"
)

// File is a declarative scenario.
type File struct {
	// Default values of the variables referenced as ${NAME}. The values
	// passed to Parse take precedence.
	Env map[string]string `json:"env"`

	Options lib.Options `json:"options"`
	Metrics []Metric    `json:"metrics"`

	// The groups of the only user class when Users is empty.
	Mode    Mode    `json:"mode"`
	OnStart *Group  `json:"onStart"`
	Groups  []Group `json:"groups"`

	// User classes. VUs are spread over them in proportion to their weight.
	Users []User `json:"users"`
}

// Mode is how an iteration runs the groups of a user class.
type Mode string

// The iteration modes.
const (
	// Every group, in order.
	ModeSequence Mode = "sequence"
	// A single group, picked at random in proportion to the group weights.
	ModeWeighted Mode = "weighted"
)

func (m Mode) validate() error {
	switch m {
	case "", ModeSequence, ModeWeighted:
		return nil
	default:
		return fmt.Errorf("unknown mode %q, expected %s or %s", string(m), ModeSequence, ModeWeighted)
	}
}

// User is a class of VUs with its own groups. Its groups run inside a group
// named after the class.
type User struct {
	Name   string `json:"name"`
	Weight int64  `json:"weight"`
	Mode   Mode   `json:"mode"`

	// Runs once per VU, before its first iteration.
	OnStart *Group  `json:"onStart"`
	Groups  []Group `json:"groups"`
}

// Metric declares a custom metric, e.g. the errors rate.
type Metric struct {
	Name     string             `json:"name"`
	Type     metrics.MetricType `json:"type"`
	Contains metrics.ValueType  `json:"contains"`
}

// Group is a named phase of the iteration.
type Group struct {
	Name string `json:"name"`
	// The relative chance of the group in the weighted mode, 1 if unset.
	Weight   int64     `json:"weight"`
	Requests []Request `json:"requests"`
}

// Request is a single HTTP request of a group, the checks run against its
// response and the pause that follows it.
type Request struct {
	Method  string             `json:"method"`
	URL     string             `json:"url"`
	Headers map[string]string  `json:"headers"`
	Body    string             `json:"body"`
	Timeout types.NullDuration `json:"timeout"`
	Tags    map[string]string  `json:"tags"`

	// The name tag of the request, used to group URLs with varying parts.
	Name string `json:"name"`

	ExpectedStatuses []string             `json:"expectedStatuses"`
	Auth             string               `json:"auth"`
	Username         string               `json:"username"`
	Password         string               `json:"password"`
	Compression      string               `json:"compression"`
	ResponseType     httpext.ResponseType `json:"responseType"`
	Redirects        null.Int             `json:"redirects"`

	Checks []Check `json:"checks"`

	// A Rate metric that gets 1 when any check fails and 0 otherwise.
	ErrorMetric string `json:"errorMetric"`

	Sleep Pause `json:"sleep"`
}

// ErrInvalidScenario is wrapped by every parsing and validation error.
var ErrInvalidScenario = errors.New("invalid scenario")

// ErrUndefinedVariable is returned for ${NAME} references to unknown variables.
var ErrUndefinedVariable = errors.New("undefined variable")

// ${NAME} or ${NAME:-default}
var variablePattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// Load reads and parses the scenario file at path.
func Load(fs afero.Fs, path string, env map[string]string) (*File, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errext.WithExitCodeIfNone(
			fmt.Errorf("reading the scenario %q: %w", path, err), exitcodes.InvalidConfig)
	}
	f, err := Parse(data, env)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse parses a YAML or JSON scenario. The ${NAME} references in its values
// are replaced with env, falling back to the file's own env section.
func Parse(data []byte, env map[string]string) (*File, error) {
	f, err := parse(data, env)
	if err != nil {
		return nil, errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}
	return f, nil
}

func parse(data []byte, env map[string]string) (*File, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidScenario, strings.TrimPrefix(err.Error(), "yaml: "))
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, fmt.Errorf("%w: the document is empty", ErrInvalidScenario)
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: the document must be a mapping", ErrInvalidScenario)
	}

	vars := make(map[string]string)
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != "env" {
			continue
		}
		if err := root.Content[i+1].Decode(&vars); err != nil {
			return nil, fmt.Errorf("%w: env: %s", ErrInvalidScenario, err)
		}
	}
	for k, v := range env {
		vars[k] = v
	}

	var undefined []string
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == "env" {
			continue
		}
		undefined = append(undefined, expandNode(root.Content[i+1], vars)...)
	}
	if len(undefined) > 0 {
		sort.Strings(undefined)
		return nil, fmt.Errorf("%w: %s", ErrUndefinedVariable, strings.Join(dedup(undefined), ", "))
	}

	// the options and the metric types unmarshal from JSON
	var generic interface{}
	if err := root.Decode(&generic); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidScenario, err)
	}
	raw, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidScenario, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	f := &File{}
	if err := dec.Decode(f); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidScenario, err)
	}
	f.Env = vars

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// expandNode replaces the variable references in every scalar under n and
// returns the names it could not resolve.
func expandNode(n *yaml.Node, vars map[string]string) []string {
	var undefined []string
	switch n.Kind {
	case yaml.ScalarNode:
		if !strings.Contains(n.Value, "${") {
			return nil
		}
		n.Value = variablePattern.ReplaceAllStringFunc(n.Value, func(ref string) string {
			m := variablePattern.FindStringSubmatch(ref)
			if v, ok := vars[m[1]]; ok {
				return v
			}
			if strings.Contains(ref, ":-") {
				return m[2]
			}
			undefined = append(undefined, m[1])
			return ref
		})
		if n.Style == 0 {
			// let plain scalars resolve again, so that "${RPS}" can be a number
			n.Tag = ""
		}
	case yaml.DocumentNode, yaml.SequenceNode, yaml.MappingNode:
		for _, c := range n.Content {
			undefined = append(undefined, expandNode(c, vars)...)
		}
	default:
	}
	return undefined
}

func dedup(sorted []string) []string {
	result := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			result = append(result, s)
		}
	}
	return result
}

// Validate checks the user classes, the groups, the requests and their
// checks. The options are validated with the rest of the configuration.
func (f *File) Validate() error {
	var errs []error
	declared := make(map[string]metrics.MetricType, len(f.Metrics))
	for i, m := range f.Metrics {
		if m.Name == "" {
			errs = append(errs, fmt.Errorf("metrics[%d]: the name is required", i))
			continue
		}
		declared[m.Name] = m.Type
	}

	if len(f.Users) == 0 {
		errs = append(errs, validateClass("", f.Mode, f.OnStart, f.Groups, declared)...)
	} else {
		if len(f.Groups) > 0 || f.OnStart != nil || f.Mode != "" {
			errs = append(errs, errors.New("groups, onStart and mode go in the user classes when users are declared"))
		}
		names := make(map[string]struct{}, len(f.Users))
		for i, u := range f.Users {
			prefix := fmt.Sprintf("users[%d]", i)
			if err := validateName(u.Name); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
			}
			if _, dup := names[u.Name]; dup {
				errs = append(errs, fmt.Errorf("%s: duplicate user class %q", prefix, u.Name))
			}
			names[u.Name] = struct{}{}
			if u.Weight < 0 {
				errs = append(errs, fmt.Errorf("%s: the weight can't be negative", prefix))
			}
			errs = append(errs, validateClass(prefix+".", u.Mode, u.OnStart, u.Groups, declared)...)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return fmt.Errorf("%w: %s", ErrInvalidScenario, strings.Join(msgs, "; "))
}

func validateName(name string) error {
	if name == "" {
		return errors.New("the name is required")
	}
	if strings.Contains(name, lib.GroupSeparator) {
		return fmt.Errorf("the name can't contain %q", lib.GroupSeparator)
	}
	return nil
}

func validateClass(prefix string, mode Mode, onStart *Group, groups []Group, declared map[string]metrics.MetricType) []error {
	var errs []error
	if err := mode.validate(); err != nil {
		errs = append(errs, fmt.Errorf("%smode: %w", prefix, err))
	}
	if len(groups) == 0 {
		errs = append(errs, fmt.Errorf("%sgroups: there are no groups", prefix))
	}
	if onStart != nil {
		errs = append(errs, onStart.validate(prefix+"onStart", declared)...)
	}
	for i, g := range groups {
		errs = append(errs, g.validate(fmt.Sprintf("%sgroups[%d]", prefix, i), declared)...)
	}
	return errs
}

func (g Group) validate(prefix string, declared map[string]metrics.MetricType) []error {
	var errs []error
	if err := validateName(g.Name); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
	}
	if g.Weight < 0 {
		errs = append(errs, fmt.Errorf("%s: the weight can't be negative", prefix))
	}
	for j, r := range g.Requests {
		if err := r.validate(declared); err != nil {
			errs = append(errs, fmt.Errorf("%s.requests[%d]: %w", prefix, j, err))
		}
	}
	return errs
}

func (r Request) validate(declared map[string]metrics.MetricType) error {
	if r.URL == "" {
		return errors.New("the url is required")
	}
	if _, err := r.params(); err != nil {
		return err
	}
	if err := r.Sleep.validate(); err != nil {
		return err
	}
	if r.ErrorMetric != "" {
		typ, ok := declared[r.ErrorMetric]
		if !ok {
			return fmt.Errorf("the error metric %q is not declared in metrics", r.ErrorMetric)
		}
		if typ != metrics.Rate {
			return fmt.Errorf("the error metric %q must be a rate, not a %s", r.ErrorMetric, typ)
		}
	}
	names := make(map[string]struct{}, len(r.Checks))
	for k, c := range r.Checks {
		if err := c.validate(); err != nil {
			return fmt.Errorf("checks[%d]: %w", k, err)
		}
		name := c.DisplayName()
		if _, dup := names[name]; dup {
			return fmt.Errorf("checks[%d]: duplicate check %q", k, name)
		}
		names[name] = struct{}{}
	}
	return nil
}

func (r Request) method() string {
	if r.Method == "" {
		return "GET"
	}
	return strings.ToUpper(r.Method)
}

// params converts the request settings into the ones of httpext.
func (r Request) params() (*httpext.Params, error) {
	p := &httpext.Params{
		Headers:      r.Headers,
		Timeout:      r.Timeout.TimeDuration(),
		Tags:         r.Tags,
		Name:         r.Name,
		Auth:         r.Auth,
		Username:     r.Username,
		Password:     r.Password,
		ResponseType: r.ResponseType,
		Redirects:    r.Redirects,
	}
	if r.Body != "" {
		p.Body = []byte(r.Body)
	}
	switch strings.ToLower(r.Auth) {
	case "", httpext.AuthBasic, httpext.AuthDigest, httpext.AuthNTLM:
	default:
		return nil, fmt.Errorf("unknown auth mode %q", r.Auth)
	}

	var err error
	if p.Compression, err = httpext.ParseCompressionTypes(r.Compression); err != nil {
		return nil, err
	}
	if len(r.ExpectedStatuses) > 0 {
		if p.ExpectedStatuses, err = httpext.ParseExpectedStatuses(r.ExpectedStatuses...); err != nil {
			return nil, err
		}
	}
	return p, nil
}
