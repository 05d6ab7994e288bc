package log

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// parseLevels returns the named level and every level more severe than it,
// which is what a logrus hook has to subscribe to.
func parseLevels(level string) ([]logrus.Level, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("unknown log level %s", level)
	}
	levels := make([]logrus.Level, 0, len(logrus.AllLevels))
	for _, l := range logrus.AllLevels {
		if l <= lvl {
			levels = append(levels, l)
		}
	}
	return levels, nil
}
