package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/liuxd6825/loadrun/cmd/state"
	"github.com/liuxd6825/loadrun/core"
	"github.com/liuxd6825/loadrun/output"
	"github.com/liuxd6825/loadrun/ui/console"
	"github.com/liuxd6825/loadrun/ui/pb"
)

const (
	// How often the progress bar is redrawn on a TTY.
	progressTTYInterval = 100 * time.Millisecond
	// How often a progress line is printed when stderr isn't a TTY.
	progressLineInterval = 10 * time.Second
	maxLeftLength        = 30
	// The span of the failed requests share shown by the progress bar.
	recentFailuresWindow = 10 * time.Second
)

func noColor(gs *state.GlobalState, w *console.Writer) bool {
	return gs.Flags.NoColor || !w.IsTTY
}

func printBanner(gs *state.GlobalState) {
	if gs.Flags.Quiet {
		return
	}
	printToStdout(gs, "\n"+console.Banner(noColor(gs, gs.Stdout))+"\n\n")
}

func printExecutionDescription(
	gs *state.GlobalState, testDesc string, e *core.Engine, outputs []output.Output,
) {
	if gs.Flags.Quiet {
		return
	}
	valueColor := color.New(color.FgCyan)
	if noColor(gs, gs.Stdout) {
		valueColor.DisableColor()
	} else {
		valueColor.EnableColor()
	}

	outputDescriptions := make([]string, 0, len(outputs))
	for _, out := range outputs {
		outputDescriptions = append(outputDescriptions, out.Description())
	}
	if len(outputDescriptions) == 0 {
		outputDescriptions = append(outputDescriptions, "-")
	}

	buf := &strings.Builder{}
	fmt.Fprintf(buf, "  execution: %s\n", valueColor.Sprint("local"))
	fmt.Fprintf(buf, "   scenario: %s\n", valueColor.Sprint(testDesc))
	fmt.Fprintf(buf, "     output: %s\n", valueColor.Sprint(strings.Join(outputDescriptions, ", ")))
	fmt.Fprintf(buf, "\n   schedule: %s\n\n", valueColor.Sprint(e.Config().Description()))
	printToStdout(gs, buf.String())
}

// newProgressBar returns the progress bar of the ramp of e.
func newProgressBar(e *core.Engine) *pb.ProgressBar {
	config := e.Config()
	total := config.Stages.Duration()
	maxVUs := config.MaxVUs()
	return pb.New(
		pb.WithConstLeft("default"),
		pb.WithProgress(func() (float64, []string) {
			elapsed := e.TestRun().CurrentDuration()
			if elapsed > total {
				elapsed = total
			}
			var progress float64
			if total > 0 {
				progress = float64(elapsed) / float64(total)
			}
			return progress, []string{
				fmt.Sprintf("%02d/%02d VUs", e.Executor().ActiveVUs(), maxVUs),
				fmt.Sprintf("%s/%s", elapsed.Truncate(time.Second), total),
				recentFailures(e, time.Now()),
			}
		}),
	)
}

// recentFailures describes the share of the requests of the last seconds
// that failed. The current second is left out, its samples are still coming.
func recentFailures(e *core.Engine, now time.Time) string {
	rate, requests := e.HTTPFailureRate(now.Add(-recentFailuresWindow), now)
	if requests == 0 {
		return "failed: -"
	}
	return fmt.Sprintf("failed: %.1f%%", rate*100)
}

// showProgress draws the progress bar on stderr until ctx is done, then once
// more with its final state. On a TTY the bar stays on the last line and log
// lines are written above it.
func showProgress(ctx context.Context, gs *state.GlobalState, bar *pb.ProgressBar) {
	if gs.Flags.Quiet {
		return
	}
	stderr := gs.Stderr
	colorize := !noColor(gs, stderr)

	if !stderr.IsTTY {
		ticker := time.NewTicker(progressLineInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_, _ = fmt.Fprintln(stderr, bar.Render(maxLeftLength, false))
			case <-ctx.Done():
				_, _ = fmt.Fprintln(stderr, bar.Render(maxLeftLength, false))
				return
			}
		}
	}

	redraw := func() {
		_, _ = io.WriteString(stderr.Writer, bar.Render(maxLeftLength, colorize))
	}
	gs.OutMutex.Lock()
	stderr.PersistentText = redraw
	redraw()
	gs.OutMutex.Unlock()

	ticker := time.NewTicker(progressTTYInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			gs.OutMutex.Lock()
			_, _ = io.WriteString(stderr.Writer, "\r\x1b[K")
			redraw()
			gs.OutMutex.Unlock()
		case <-ctx.Done():
			gs.OutMutex.Lock()
			stderr.PersistentText = nil
			_, _ = io.WriteString(stderr.Writer, "\r\x1b[K")
			redraw()
			_, _ = io.WriteString(stderr.Writer, "\n")
			gs.OutMutex.Unlock()
			return
		}
	}
}
