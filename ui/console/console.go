// Package console holds the synchronized terminal writers of the CLI.
package console

import (
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/liuxd6825/loadrun/lib/consts"
)

// Writer serializes the writes to a terminal stream. Stdout and stderr share
// the mutex, so log lines and the progress bar never interleave.
type Writer struct {
	Mutex  *sync.Mutex
	Writer io.Writer
	IsTTY  bool

	// PersistentText is called with the mutex held after every write to a
	// TTY, to redraw the progress bar below the written text.
	PersistentText func()
}

// Write writes p to the underlying writer while holding the mutex.
func (w *Writer) Write(p []byte) (n int, err error) {
	w.Mutex.Lock()
	defer w.Mutex.Unlock()

	if w.PersistentText != nil && w.IsTTY {
		// Clear the line that holds the persistent text.
		if _, err = io.WriteString(w.Writer, "\r\x1b[K"); err != nil {
			return 0, err
		}
	}
	n, err = w.Writer.Write(p)
	if w.PersistentText != nil && w.IsTTY && err == nil {
		w.PersistentText()
	}
	return n, err
}

// Banner returns the ASCII art logo, cyan unless noColor is set.
func Banner(noColor bool) string {
	banner := strings.TrimPrefix(consts.Banner, "\n")
	if noColor {
		return banner
	}
	c := color.New(color.FgCyan)
	c.EnableColor()
	return c.Sprint(banner)
}
