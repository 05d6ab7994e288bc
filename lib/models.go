package lib

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
)

// GroupSeparator for group IDs.
const GroupSeparator = "::"

// ErrNameContainsGroupSeparator is emitted if you attempt to instantiate a Group or Check that contains the separator.
var ErrNameContainsGroupSeparator = errors.New("group and check names may not contain '" + GroupSeparator + "'")

// A Group is an organisational block, that samples and checks may be tagged with.
//
// For more information, refer to the groups documentation in the README.
type Group struct {
	// Arbitrary name of the group.
	Name string `json:"name"`

	// A group may belong to another group, which may belong to another group, etc. The Path
	// describes the hierarchy leading down to this group, with the root group being the empty
	// string and each level prefixed with the separator, e.g. "::Outer::Inner".
	Parent *Group `json:"-"`
	Path   string `json:"path"`

	// Groups and checks that are children of this group, keyed by name and in
	// creation order.
	Groups        map[string]*Group `json:"-"`
	OrderedGroups []*Group          `json:"groups"`

	Checks        map[string]*Check `json:"-"`
	OrderedChecks []*Check          `json:"checks"`

	groupMutex sync.Mutex
	checkMutex sync.Mutex
}

// NewGroup creates a new group with the given name and parent group.
//
// The root group must be created with the name "" and parent set to nil; this is the only case
// where a nil parent or empty name is allowed.
func NewGroup(name string, parent *Group) (*Group, error) {
	old := ""
	if parent != nil {
		old = parent.Path
	}
	if strings.Contains(name, GroupSeparator) {
		return nil, ErrNameContainsGroupSeparator
	}
	path := name
	if parent != nil {
		path = old + GroupSeparator + name
	}

	return &Group{
		Name:   name,
		Parent: parent,
		Path:   path,
		Groups: make(map[string]*Group),
		Checks: make(map[string]*Check),
	}, nil
}

// Group creates a child group belonging to this group.
// This is safe to call from multiple goroutines simultaneously.
func (g *Group) Group(name string) (*Group, error) {
	g.groupMutex.Lock()
	defer g.groupMutex.Unlock()
	group, ok := g.Groups[name]
	if !ok {
		var err error
		group, err = NewGroup(name, g)
		if err != nil {
			return nil, err
		}
		g.Groups[name] = group
		g.OrderedGroups = append(g.OrderedGroups, group)
	}
	return group, nil
}

// Check creates a child check belonging to this group.
// This is safe to call from multiple goroutines simultaneously.
func (g *Group) Check(name string) (*Check, error) {
	g.checkMutex.Lock()
	defer g.checkMutex.Unlock()
	check, ok := g.Checks[name]
	if !ok {
		var err error
		check, err = NewCheck(name, g)
		if err != nil {
			return nil, err
		}
		g.Checks[name] = check
		g.OrderedChecks = append(g.OrderedChecks, check)
	}
	return check, nil
}

// SnapshotGroups returns a copy of the child groups in creation order.
func (g *Group) SnapshotGroups() []*Group {
	g.groupMutex.Lock()
	defer g.groupMutex.Unlock()
	return append([]*Group(nil), g.OrderedGroups...)
}

// SnapshotChecks returns a copy of the child checks in creation order.
func (g *Group) SnapshotChecks() []*Check {
	g.checkMutex.Lock()
	defer g.checkMutex.Unlock()
	return append([]*Check(nil), g.OrderedChecks...)
}

// A Check stores a series of successful or failing tests against a value.
type Check struct {
	Group *Group `json:"-"`
	Name  string `json:"name"`
	Path  string `json:"path"`

	// Number of successful or failed checks.
	Passes int64 `json:"passes"`
	Fails  int64 `json:"fails"`
}

// NewCheck creates a new check with the given name and parent group. The group may not be nil.
func NewCheck(name string, group *Group) (*Check, error) {
	if strings.Contains(name, GroupSeparator) {
		return nil, ErrNameContainsGroupSeparator
	}

	return &Check{
		Group: group,
		Name:  name,
		Path:  group.Path + GroupSeparator + name,
	}, nil
}

// Record counts one evaluation of the check.
func (c *Check) Record(passed bool) {
	if passed {
		atomic.AddInt64(&c.Passes, 1)
	} else {
		atomic.AddInt64(&c.Fails, 1)
	}
}

// Counts returns the pass and fail counts.
func (c *Check) Counts() (passes, fails int64) {
	return atomic.LoadInt64(&c.Passes), atomic.LoadInt64(&c.Fails)
}
