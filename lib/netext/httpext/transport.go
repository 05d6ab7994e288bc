package httpext

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptrace"
	"strconv"
	"sync"

	"github.com/liuxd6825/loadrun/lib"
	"github.com/liuxd6825/loadrun/lib/netext"
	"github.com/liuxd6825/loadrun/metrics"
)

// transport wraps the VU's transport and emits the metrics of every round
// trip going through it, redirects and auth challenges included. It is
// created for a single MakeRequest call.
type transport struct {
	state            *lib.State
	tags             *metrics.TagSet
	responseCallback func(int) bool

	lastRequest     *unfinishedRequest
	lastRequestLock sync.Mutex
}

// unfinishedRequest is a round trip whose response body has not been read
// yet.
type unfinishedRequest struct {
	tracer   *Tracer
	request  *http.Request
	response *http.Response
	err      error
}

// finishedRequest is an unfinishedRequest with its metrics emitted. The
// previous round trip is finished by the next RoundTrip call, the last one
// by MakeRequest after reading the body.
type finishedRequest struct {
	*unfinishedRequest
	trail     *Trail
	tlsInfo   netext.TLSInfo
	errorCode ErrCode
	errorMsg  string
}

var _ http.RoundTripper = &transport{}

func newTransport(state *lib.State, tags *metrics.TagSet, responseCallback func(int) bool) *transport {
	return &transport{
		state:            state,
		tags:             tags,
		responseCallback: responseCallback,
	}
}

// measureAndEmitMetrics finishes the trail of the round trip, tags it and
// pushes its samples.
func (t *transport) measureAndEmitMetrics(unfReq *unfinishedRequest) *finishedRequest {
	trail := unfReq.tracer.Done()
	result := &finishedRequest{unfinishedRequest: unfReq, trail: trail}

	tags := t.tags
	if _, ok := tags.Get("name"); !ok {
		tags = tags.With("name", cleanURL(unfReq.request.URL))
	}
	tags = tags.With("url", cleanURL(unfReq.request.URL)).With("method", unfReq.request.Method)

	statusCode := 0
	if unfReq.err != nil {
		result.errorCode, result.errorMsg = errorCodeForError(unfReq.err)
		if result.errorMsg == "" {
			result.errorMsg = unfReq.err.Error()
		}
		tags = tags.With("error", result.errorMsg)
	} else {
		statusCode = unfReq.response.StatusCode
		if statusCode >= 400 {
			result.errorCode = httpStatusErrorCodeOffset + ErrCode(statusCode)
		}
		tags = tags.With("proto", unfReq.response.Proto)
		if unfReq.response.TLS != nil {
			result.tlsInfo = netext.ParseTLSConnState(unfReq.response.TLS)
			tags = tags.With("tls_version", result.tlsInfo.Version)
		}
	}
	tags = tags.With("status", strconv.Itoa(statusCode))
	if result.errorCode != 0 {
		tags = tags.With("error_code", strconv.Itoa(int(result.errorCode)))
	}

	expected := true
	if t.responseCallback != nil {
		expected = t.responseCallback(statusCode)
	}
	trail.Failed = !expected
	tags = tags.With("expected_response", strconv.FormatBool(expected))

	trail.SaveSamples(t.state.BuiltinMetrics, tags)
	t.state.Samples.PushSamples(trail)
	return result
}

func (t *transport) saveCurrentRequest(currentRequest *unfinishedRequest) {
	t.lastRequestLock.Lock()
	unprocessedRequest := t.lastRequest
	t.lastRequest = currentRequest
	t.lastRequestLock.Unlock()

	if unprocessedRequest != nil {
		// one transport per request makes this unlikely
		t.state.Logger.Warnf("unexpected unprocessed request for %s", unprocessedRequest.request.URL)
		t.measureAndEmitMetrics(unprocessedRequest)
	}
}

// processLastSavedRequest emits the metrics of the last round trip. lastErr
// is only recorded when the round trip itself had no error, e.g. for
// failures while reading the body.
func (t *transport) processLastSavedRequest(lastErr error) *finishedRequest {
	t.lastRequestLock.Lock()
	unprocessedRequest := t.lastRequest
	t.lastRequest = nil
	t.lastRequestLock.Unlock()

	if unprocessedRequest == nil {
		return nil
	}
	if unprocessedRequest.err == nil && lastErr != nil {
		unprocessedRequest.err = lastErr
	}
	return t.measureAndEmitMetrics(unprocessedRequest)
}

// RoundTrip implements http.RoundTripper.
func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.processLastSavedRequest(nil)

	tracer := &Tracer{}
	reqWithTracer := req.WithContext(httptrace.WithClientTrace(req.Context(), tracer.Trace()))
	resp, err := t.state.Transport.RoundTrip(reqWithTracer)

	var netError net.Error
	if errors.As(err, &netError) && netError.Timeout() {
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			err = NewError(tcpDialTimeoutErrorCode, tcpDialTimeoutErrorCodeMsg, err)
		} else {
			err = NewError(requestTimeoutErrorCode, requestTimeoutErrorCodeMsg, err)
		}
	}

	t.saveCurrentRequest(&unfinishedRequest{
		tracer:   tracer,
		request:  req,
		response: resp,
		err:      err,
	})
	return resp, err
}
