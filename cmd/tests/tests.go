package tests

import (
	"fmt"
	"os"
	"testing"

	"go.uber.org/goleak"
)

// Main is a TestMain function that can be imported by other test packages
// that run the whole CLI. It fails the package when goroutines outlive the
// tests.
func Main(m *testing.M) {
	exitCode := 1 // error out by default
	defer func() {
		os.Exit(exitCode)
	}()

	defer func() {
		opts := []goleak.Option{
			// The pipe reader of logrus' Entry.WriterLevel outlives the loggers.
			goleak.IgnoreTopFunction("io.(*pipe).read"),
			// Keep-alive connections of the httptest servers.
			goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
			goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
			goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		}
		if err := goleak.Find(opts...); err != nil {
			fmt.Println(err) //nolint:forbidigo
			exitCode = 3
		}
	}()

	exitCode = m.Run()
}
