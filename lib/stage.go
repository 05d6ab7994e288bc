package lib

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/loadrun/lib/types"
)

// Stage is one linear segment of a VU ramp: over Duration, the number of
// active VUs moves from the previous stage's target to Target.
type Stage struct {
	Duration types.NullDuration `json:"duration"`
	Target   null.Int           `json:"target"`
}

// UnmarshalText parses the "duration:target" shorthand used by --stage and
// LOADRUN_STAGES, e.g. "2m:10". A missing target means 0.
func (s *Stage) UnmarshalText(b []byte) error {
	var stage Stage
	durStr, targetStr, hasTarget := strings.Cut(string(b), ":")
	if err := stage.Duration.UnmarshalText([]byte(strings.TrimSpace(durStr))); err != nil {
		return fmt.Errorf("invalid stage duration %q: %w", durStr, err)
	}
	if !stage.Duration.Valid {
		return fmt.Errorf("stage %q is missing a duration", string(b))
	}
	if hasTarget {
		t, err := strconv.ParseInt(strings.TrimSpace(targetStr), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid stage target %q: %w", targetStr, err)
		}
		stage.Target = null.IntFrom(t)
	} else {
		stage.Target = null.IntFrom(0)
	}
	*s = stage
	return nil
}

// String renders the stage in the "duration:target" shorthand.
func (s Stage) String() string {
	return fmt.Sprintf("%s:%d", s.Duration.Duration, s.Target.Int64)
}

// used to avoid recursing into UnmarshalText from UnmarshalJSON
type rawStage Stage

// UnmarshalJSON accepts both the object and the shorthand string forms.
func (s *Stage) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		return s.UnmarshalText([]byte(str))
	}
	return json.Unmarshal(data, (*rawStage)(s))
}
