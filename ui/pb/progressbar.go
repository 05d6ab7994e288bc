// Package pb renders the one-line progress bar of a running test.
package pb

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fatih/color"
)

//nolint:gochecknoglobals
var (
	colorFaint   = color.New(color.Faint)
	statusColors = map[Status]*color.Color{
		Interrupted: color.New(color.FgRed),
		Done:        color.New(color.FgGreen),
		Stopping:    color.New(color.FgYellow),
	}
)

const (
	// DefaultWidth of the progress bar
	DefaultWidth = 40
	// below this width the progress is rendered as a percentage
	minWidth = 8
)

// Status of the progress bar
type Status rune

// Progress bar status symbols
const (
	Running     Status = ' '
	Stopping    Status = '↓'
	Interrupted Status = '✗'
	Done        Status = '✓'
)

// ProgressBar is a thread-safe progress bar whose parts are computed by
// callbacks at render time.
type ProgressBar struct {
	mutex  sync.RWMutex
	width  int
	status Status

	left     func() string
	progress func() (progress float64, right []string)
}

// ProgressBarOption modifies the progress bar, either in New or in Modify.
type ProgressBarOption func(*ProgressBar)

// WithLeft sets the function that returns the left text.
func WithLeft(left func() string) ProgressBarOption {
	return func(pb *ProgressBar) { pb.left = left }
}

// WithConstLeft sets the left text to a constant.
func WithConstLeft(left string) ProgressBarOption {
	return func(pb *ProgressBar) {
		pb.left = func() string { return left }
	}
}

// WithProgress sets the function that returns the progress, between 0 and 1,
// and the texts shown right of the bar.
func WithProgress(progress func() (float64, []string)) ProgressBarOption {
	return func(pb *ProgressBar) { pb.progress = progress }
}

// WithStatus sets the status symbol.
func WithStatus(status Status) ProgressBarOption {
	return func(pb *ProgressBar) { pb.status = status }
}

// WithWidth sets the width of the bar, brackets included.
func WithWidth(width int) ProgressBarOption {
	return func(pb *ProgressBar) { pb.width = width }
}

// New creates a ProgressBar with the options applied.
func New(options ...ProgressBarOption) *ProgressBar {
	pb := &ProgressBar{width: DefaultWidth, status: Running}
	pb.Modify(options...)
	return pb
}

// Modify changes the options of the progress bar.
func (pb *ProgressBar) Modify(options ...ProgressBarOption) {
	pb.mutex.Lock()
	defer pb.mutex.Unlock()
	for _, option := range options {
		option(pb)
	}
}

// Render returns the progress bar as a single line. Left texts longer than
// maxLeft are cut with an ellipsis; maxLeft <= 0 disables that.
func (pb *ProgressBar) Render(maxLeft int, colorize bool) string {
	pb.mutex.RLock()
	defer pb.mutex.RUnlock()

	var (
		progress float64
		right    []string
	)
	if pb.progress != nil {
		progress, right = pb.progress()
		progress = clamp(progress, 0, 1)
	}

	var left string
	if pb.left != nil {
		left = pb.left()
		if maxLeft > 0 && len(left) > maxLeft {
			left = left[:maxLeft-3] + "..."
		}
	}

	status := string(pb.status)
	if c, ok := statusColors[pb.status]; ok && colorize {
		status = c.Sprint(status)
	}

	var b strings.Builder
	b.WriteString(left)
	b.WriteString(" ")
	b.WriteString(status)
	b.WriteString(" [")
	b.WriteString(pb.renderBar(progress, colorize))
	b.WriteString("]")
	if len(right) > 0 {
		b.WriteString(" ")
		b.WriteString(strings.Join(right, "  "))
	}
	return b.String()
}

func (pb *ProgressBar) renderBar(progress float64, colorize bool) string {
	if pb.width <= minWidth {
		return fmt.Sprintf(" %3.f%% ", progress*100)
	}

	space := pb.width - 2
	filled := int(float64(space) * progress)

	var fill string
	switch {
	case filled == 0:
	case filled < space:
		fill = strings.Repeat("=", filled-1) + ">"
	default:
		fill = strings.Repeat("=", filled)
	}

	padding := strings.Repeat("-", space-filled)
	if colorize {
		padding = colorFaint.Sprint(padding)
	}
	return fill + padding
}

func clamp(val, lower, upper float64) float64 {
	if val < lower {
		return lower
	}
	if val > upper {
		return upper
	}
	return val
}
