package scenario

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/liuxd6825/loadrun/lib/netext/httpext"
	"github.com/liuxd6825/loadrun/lib/types"
	"github.com/liuxd6825/loadrun/runner"
)

// Check is a named assertion on a response. Exactly one of Status,
// BodyContains, MaxDuration, JSONPath or Header selects its kind; Equals and
// Contains refine the JSONPath and Header kinds.
type Check struct {
	Name string `json:"name"`

	// The status is one of these.
	Status []int `json:"status"`
	// The body contains this text.
	BodyContains string `json:"bodyContains"`
	// The request took less than this, as in timings.duration.
	MaxDuration types.NullDuration `json:"maxDuration"`
	// The gjson path exists in the body.
	JSONPath string `json:"jsonPath"`
	// The header is present.
	Header string `json:"header"`

	Equals   *string `json:"equals"`
	Contains string  `json:"contains"`
}

var (
	errNoCheckKind       = errors.New("one of status, bodyContains, maxDuration, jsonPath or header is required")
	errManyCheckKinds    = errors.New("only one of status, bodyContains, maxDuration, jsonPath or header can be set")
	errMisplacedModifier = errors.New("equals and contains only apply to jsonPath and header")
)

func (c Check) kinds() int {
	n := 0
	for _, set := range []bool{
		len(c.Status) > 0, c.BodyContains != "", c.MaxDuration.Valid, c.JSONPath != "", c.Header != "",
	} {
		if set {
			n++
		}
	}
	return n
}

func (c Check) validate() error {
	switch c.kinds() {
	case 0:
		return errNoCheckKind
	case 1:
	default:
		return errManyCheckKinds
	}
	if (c.Equals != nil || c.Contains != "") && c.JSONPath == "" && c.Header == "" {
		return errMisplacedModifier
	}
	if c.MaxDuration.Valid && c.MaxDuration.TimeDuration() <= 0 {
		return errors.New("maxDuration must be positive")
	}
	return nil
}

// DisplayName returns the name of the check, or one derived from what it
// checks, e.g. "status is 200 or 303".
func (c Check) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	switch {
	case len(c.Status) > 0:
		statuses := make([]string, len(c.Status))
		for i, s := range c.Status {
			statuses[i] = strconv.Itoa(s)
		}
		if len(statuses) == 1 {
			return "status is " + statuses[0]
		}
		return "status is " + strings.Join(statuses[:len(statuses)-1], ", ") + " or " + statuses[len(statuses)-1]
	case c.BodyContains != "":
		return "body contains " + c.BodyContains
	case c.MaxDuration.Valid:
		return "response time < " + c.MaxDuration.Duration.String()
	case c.JSONPath != "":
		return "json " + c.JSONPath + c.modifierName("exists")
	default:
		return "header " + c.Header + c.modifierName("is present")
	}
}

func (c Check) modifierName(fallback string) string {
	switch {
	case c.Equals != nil:
		return " is " + *c.Equals
	case c.Contains != "":
		return " contains " + c.Contains
	default:
		return " " + fallback
	}
}

// Func returns the predicate of the check. Responses of transport errors have
// a 0 status and no body.
func (c Check) Func() runner.CheckFunc {
	switch {
	case len(c.Status) > 0:
		statuses := append([]int(nil), c.Status...)
		return func(res *httpext.Response) bool {
			for _, s := range statuses {
				if res.Status == s {
					return true
				}
			}
			return false
		}
	case c.BodyContains != "":
		text := []byte(c.BodyContains)
		return func(res *httpext.Response) bool {
			return bytes.Contains(res.Body, text)
		}
	case c.MaxDuration.Valid:
		limit := float64(c.MaxDuration.TimeDuration()) / float64(time.Millisecond)
		return func(res *httpext.Response) bool {
			return res.Status != 0 && res.Timings.Duration < limit
		}
	case c.JSONPath != "":
		path := c.JSONPath
		return func(res *httpext.Response) bool {
			v := res.JSON(path)
			return v.Exists() && c.matches(v.String())
		}
	default:
		name := c.Header
		return func(res *httpext.Response) bool {
			v := res.Header(name)
			return v != "" && c.matches(v)
		}
	}
}

func (c Check) matches(v string) bool {
	switch {
	case c.Equals != nil:
		return v == *c.Equals
	case c.Contains != "":
		return strings.Contains(v, c.Contains)
	default:
		return true
	}
}
