package testutils

import (
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// SimpleLogrusHook keeps the entries of the levels it is hooked to, so tests
// can assert on what was logged.
type SimpleLogrusHook struct {
	HookedLevels []logrus.Level

	mu      sync.Mutex
	entries []logrus.Entry
}

var _ logrus.Hook = &SimpleLogrusHook{}

// NewLogHook returns a hook for the given levels, or for all of them when
// none is given.
func NewLogHook(levels ...logrus.Level) *SimpleLogrusHook {
	if len(levels) == 0 {
		levels = logrus.AllLevels
	}
	return &SimpleLogrusHook{HookedLevels: levels}
}

// Levels implements logrus.Hook.
func (h *SimpleLogrusHook) Levels() []logrus.Level {
	return h.HookedLevels
}

// Fire implements logrus.Hook.
func (h *SimpleLogrusHook) Fire(e *logrus.Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, *e)
	return nil
}

// Drain returns the kept entries and forgets them.
func (h *SimpleLogrusHook) Drain() []logrus.Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	res := h.entries
	h.entries = nil
	return res
}

// Reset forgets the kept entries.
func (h *SimpleLogrusHook) Reset() {
	_ = h.Drain()
}

// LogContains reports whether one of the entries has the level and a message
// containing contents.
func LogContains(entries []logrus.Entry, level logrus.Level, contents string) bool {
	for _, e := range entries {
		if e.Level == level && strings.Contains(e.Message, contents) {
			return true
		}
	}
	return false
}
