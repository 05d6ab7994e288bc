package httpext

import (
	"crypto/tls"
	"net"
	"net/http/httptrace"
	"sync/atomic"
	"time"

	"github.com/liuxd6825/loadrun/metrics"
)

// A Trail holds the timings of one HTTP round trip, and the samples they
// turn into.
type Trail struct {
	EndTime time.Time

	// Connecting + TLSHandshaking
	ConnDuration time.Duration

	// Sending + Waiting + Receiving; connection setup is not included.
	Duration time.Duration

	Blocked        time.Duration // waiting for a free connection
	Connecting     time.Duration // TCP connect
	TLSHandshaking time.Duration
	Sending        time.Duration // writing the request
	Waiting        time.Duration // time to first byte
	Receiving      time.Duration // reading the response

	ConnReused     bool
	ConnRemoteAddr net.Addr

	// Whether the response was outside of the expected statuses.
	Failed bool

	// set by SaveSamples
	Tags    *metrics.TagSet
	Samples []metrics.Sample
}

// SaveSamples turns the timings into the http_req_* samples, plus the
// http_req_failed sample.
func (tr *Trail) SaveSamples(builtin *metrics.BuiltinMetrics, tags *metrics.TagSet) {
	failed := 0.0
	if tr.Failed {
		failed = 1
	}
	tr.Tags = tags
	tr.Samples = []metrics.Sample{
		builtin.HTTPReqs.Sample(tr.EndTime, tags, 1),
		builtin.HTTPReqDuration.Sample(tr.EndTime, tags, metrics.D(tr.Duration)),
		builtin.HTTPReqBlocked.Sample(tr.EndTime, tags, metrics.D(tr.Blocked)),
		builtin.HTTPReqConnecting.Sample(tr.EndTime, tags, metrics.D(tr.Connecting)),
		builtin.HTTPReqTLSHandshaking.Sample(tr.EndTime, tags, metrics.D(tr.TLSHandshaking)),
		builtin.HTTPReqSending.Sample(tr.EndTime, tags, metrics.D(tr.Sending)),
		builtin.HTTPReqWaiting.Sample(tr.EndTime, tags, metrics.D(tr.Waiting)),
		builtin.HTTPReqReceiving.Sample(tr.EndTime, tags, metrics.D(tr.Receiving)),
		builtin.HTTPReqFailed.Sample(tr.EndTime, tags, failed),
	}
}

// GetSamples implements metrics.SampleContainer.
func (tr *Trail) GetSamples() []metrics.Sample {
	return tr.Samples
}

// GetTags implements metrics.ConnectedSampleContainer.
func (tr *Trail) GetTags() *metrics.TagSet {
	return tr.Tags
}

// GetTime implements metrics.ConnectedSampleContainer.
func (tr *Trail) GetTime() time.Time {
	return tr.EndTime
}

var _ metrics.ConnectedSampleContainer = &Trail{}

// A Tracer collects the timings of a single round trip through the hooks of
// net/http/httptrace. There is no hook for the end of the response body, so
// Done must be called once it has been read. Tracers are not reusable.
//
// Some hooks may fire after the round trip has returned, for example on
// cancelled requests, which is why every timestamp is accessed atomically.
type Tracer struct {
	getConn              int64
	connectStart         int64
	connectDone          int64
	tlsHandshakeStart    int64
	tlsHandshakeDone     int64
	gotConn              int64
	wroteRequest         int64
	gotFirstResponseByte int64

	connReused     bool
	connRemoteAddr net.Addr
}

// Trace returns the httptrace hooks of the tracer.
func (t *Tracer) Trace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		GetConn:              t.GetConn,
		ConnectStart:         t.ConnectStart,
		ConnectDone:          t.ConnectDone,
		TLSHandshakeStart:    t.TLSHandshakeStart,
		TLSHandshakeDone:     t.TLSHandshakeDone,
		GotConn:              t.GotConn,
		WroteRequest:         t.WroteRequest,
		GotFirstResponseByte: t.GotFirstResponseByte,
	}
}

func now() int64 {
	return time.Now().UnixNano()
}

// GetConn is called before a connection is created or taken from the idle
// pool.
func (t *Tracer) GetConn(_ string) {
	atomic.CompareAndSwapInt64(&t.getConn, 0, now())
}

// ConnectStart is called when a new connection's dial begins. With dual
// stack dialing it can be called more than once; the first call wins.
func (t *Tracer) ConnectStart(_, _ string) {
	atomic.CompareAndSwapInt64(&t.connectStart, 0, now())
}

// ConnectDone is called when a dial completes. Failed dials are reported by
// the round trip error.
func (t *Tracer) ConnectDone(_, _ string, err error) {
	if err == nil {
		atomic.CompareAndSwapInt64(&t.connectDone, 0, now())
	}
}

// TLSHandshakeStart is called when the TLS handshake starts.
func (t *Tracer) TLSHandshakeStart() {
	atomic.CompareAndSwapInt64(&t.tlsHandshakeStart, 0, now())
}

// TLSHandshakeDone is called after the TLS handshake.
func (t *Tracer) TLSHandshakeDone(_ tls.ConnectionState, err error) {
	if err == nil {
		atomic.CompareAndSwapInt64(&t.tlsHandshakeDone, 0, now())
	}
}

// GotConn is called once a connection is obtained. It is the first hook of
// a reused connection.
func (t *Tracer) GotConn(info httptrace.GotConnInfo) {
	ts := now()
	atomic.StoreInt64(&t.gotConn, ts)
	t.connReused = info.Reused
	t.connRemoteAddr = info.Conn.RemoteAddr()

	// The transport may dial a connection and then use a freshly freed idle
	// one instead, so the connect hooks of the abandoned dial are
	// overwritten for reused connections.
	_, isTLS := info.Conn.(*tls.Conn)
	set := func(addr *int64) { atomic.CompareAndSwapInt64(addr, 0, ts) }
	if info.Reused {
		set = func(addr *int64) { atomic.StoreInt64(addr, ts) }
	}
	set(&t.connectStart)
	set(&t.connectDone)
	if isTLS {
		set(&t.tlsHandshakeStart)
		set(&t.tlsHandshakeDone)
	}
}

// WroteRequest is called once the request and its body are written. Retried
// requests call it again.
func (t *Tracer) WroteRequest(info httptrace.WroteRequestInfo) {
	if info.Err == nil {
		atomic.StoreInt64(&t.wroteRequest, now())
	}
}

// GotFirstResponseByte is called when the first byte of the response
// headers arrives.
func (t *Tracer) GotFirstResponseByte() {
	atomic.CompareAndSwapInt64(&t.gotFirstResponseByte, 0, now())
}

func span(from, to int64) time.Duration {
	if from == 0 || to == 0 || to < from {
		return 0
	}
	return time.Duration(to - from)
}

// Done computes the trail of the round trip. Call it after the response
// body has been read.
func (t *Tracer) Done() *Trail {
	done := now()

	getConn := atomic.LoadInt64(&t.getConn)
	connectStart := atomic.LoadInt64(&t.connectStart)
	connectDone := atomic.LoadInt64(&t.connectDone)
	tlsHandshakeStart := atomic.LoadInt64(&t.tlsHandshakeStart)
	tlsHandshakeDone := atomic.LoadInt64(&t.tlsHandshakeDone)
	gotConn := atomic.LoadInt64(&t.gotConn)
	wroteRequest := atomic.LoadInt64(&t.wroteRequest)
	gotFirstResponseByte := atomic.LoadInt64(&t.gotFirstResponseByte)

	trail := &Trail{
		ConnReused:     t.connReused,
		ConnRemoteAddr: t.connRemoteAddr,
		Blocked:        span(getConn, gotConn),
		Connecting:     span(connectStart, connectDone),
		TLSHandshaking: span(tlsHandshakeStart, tlsHandshakeDone),
	}

	if wroteRequest != 0 {
		// sending starts when the connection is ready
		ready := gotConn
		switch {
		case tlsHandshakeDone != 0:
			ready = tlsHandshakeDone
		case connectDone != 0:
			ready = connectDone
		}
		trail.Sending = span(ready, wroteRequest)

		switch {
		case gotFirstResponseByte == 0:
			// no response at all
			trail.Waiting = span(wroteRequest, done)
		case gotFirstResponseByte > wroteRequest:
			// HTTP/2 servers may answer before the request body is fully sent
			trail.Waiting = time.Duration(gotFirstResponseByte - wroteRequest)
		}
	}
	trail.Receiving = span(gotFirstResponseByte, done)

	trail.EndTime = time.Unix(0, done)
	trail.ConnDuration = trail.Connecting + trail.TLSHandshaking
	trail.Duration = trail.Sending + trail.Waiting + trail.Receiving
	return trail
}
