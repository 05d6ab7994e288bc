package console

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterPersistentText(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	w := &Writer{Mutex: &sync.Mutex{}, Writer: buf, IsTTY: true}
	w.PersistentText = func() { buf.WriteString("[bar]") }

	_, err := w.Write([]byte("log line\n"))
	require.NoError(t, err)
	assert.Equal(t, "\r\x1b[Klog line\n[bar]", buf.String())

	buf.Reset()
	w.IsTTY = false
	_, err = w.Write([]byte("log line\n"))
	require.NoError(t, err)
	assert.Equal(t, "log line\n", buf.String())
}

func TestBanner(t *testing.T) {
	t.Parallel()

	plain := Banner(true)
	assert.NotContains(t, plain, "\x1b[")
	assert.Contains(t, plain, `/_/\____/`)
	assert.Contains(t, Banner(false), "\x1b[36m")
}
