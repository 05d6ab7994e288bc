package scenario

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/liuxd6825/loadrun/lib/types"
)

// Pause is the think time after a request: either a fixed duration, "1s",
// or one drawn uniformly from a range, {min: 1s, max: 3s}.
type Pause struct {
	Min, Max types.Duration
	Valid    bool
}

// FixedPause returns a Pause of exactly d.
func FixedPause(d time.Duration) Pause {
	return Pause{Min: types.Duration(d), Max: types.Duration(d), Valid: true}
}

// UnmarshalJSON accepts a duration or an object with min and max.
func (p *Pause) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*p = Pause{}
		return nil
	}
	if len(data) == 0 || data[0] != '{' {
		var d types.Duration
		if err := d.UnmarshalJSON(data); err != nil {
			return fmt.Errorf("invalid sleep: %w", err)
		}
		*p = Pause{Min: d, Max: d, Valid: true}
		return nil
	}

	var r struct {
		Min types.NullDuration `json:"min"`
		Max types.NullDuration `json:"max"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&r); err != nil {
		return fmt.Errorf("invalid sleep: %w", err)
	}
	if !r.Min.Valid || !r.Max.Valid {
		return errors.New("invalid sleep: both min and max are required")
	}
	*p = Pause{Min: r.Min.Duration, Max: r.Max.Duration, Valid: true}
	return nil
}

// MarshalJSON is the reverse of UnmarshalJSON.
func (p Pause) MarshalJSON() ([]byte, error) {
	switch {
	case !p.Valid:
		return []byte("null"), nil
	case p.Min == p.Max:
		return json.Marshal(p.Min)
	default:
		return json.Marshal(map[string]types.Duration{"min": p.Min, "max": p.Max})
	}
}

func (p Pause) validate() error {
	if !p.Valid {
		return nil
	}
	if p.Min < 0 {
		return fmt.Errorf("the sleep can't be negative, got %s", p.Min)
	}
	if p.Max < p.Min {
		return fmt.Errorf("the sleep max %s is lower than its min %s", p.Max, p.Min)
	}
	return nil
}

// duration returns the pause to take. intn returns a number in [0, n).
func (p Pause) duration(intn func(n int64) int64) time.Duration {
	if !p.Valid {
		return 0
	}
	if p.Max == p.Min {
		return time.Duration(p.Min)
	}
	return time.Duration(p.Min) + time.Duration(intn(int64(p.Max-p.Min)+1))
}
