// Package netext holds the network plumbing of a VU: a dialer counting the
// bytes on the wire, and the VU's HTTP transport.
package netext

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/liuxd6825/loadrun/metrics"
)

// Dialer wraps net.Dialer and counts the bytes read from and written to all
// of the connections it opened. A VU owns one Dialer.
type Dialer struct {
	net.Dialer

	BytesRead    int64
	BytesWritten int64
}

// NewDialer returns a new Dialer with the usual timeouts.
func NewDialer() *Dialer {
	return &Dialer{
		Dialer: net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		},
	}
}

// DialContext wraps the net.Conn so that its traffic is counted.
func (d *Dialer) DialContext(ctx context.Context, proto, addr string) (net.Conn, error) {
	conn, err := d.Dialer.DialContext(ctx, proto, addr)
	if err != nil {
		return nil, err
	}
	return &Conn{Conn: conn, BytesRead: &d.BytesRead, BytesWritten: &d.BytesWritten}, nil
}

// GetTrail resets the byte counters and returns the data_sent and
// data_received samples for the traffic since the previous call.
func (d *Dialer) GetTrail(
	now time.Time, builtin *metrics.BuiltinMetrics, tags *metrics.TagSet,
) metrics.ConnectedSamples {
	written := atomic.SwapInt64(&d.BytesWritten, 0)
	read := atomic.SwapInt64(&d.BytesRead, 0)
	return metrics.ConnectedSamples{
		Samples: []metrics.Sample{
			builtin.DataSent.Sample(now, tags, float64(written)),
			builtin.DataReceived.Sample(now, tags, float64(read)),
		},
		Tags: tags,
		Time: now,
	}
}

// Conn counts the bytes going through the wrapped connection.
type Conn struct {
	net.Conn

	BytesRead, BytesWritten *int64
}

func (c *Conn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if n > 0 {
		atomic.AddInt64(c.BytesRead, int64(n))
	}
	return n, err
}

func (c *Conn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	if n > 0 {
		atomic.AddInt64(c.BytesWritten, int64(n))
	}
	return n, err
}
