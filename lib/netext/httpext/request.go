// Package httpext makes the HTTP requests of a VU and turns them into
// http_req_* samples.
package httpext

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	ntlmssp "github.com/Azure/go-ntlmssp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/loadrun/lib"
	"github.com/liuxd6825/loadrun/metrics"
)

// Auth modes.
const (
	AuthBasic  = "basic"
	AuthDigest = "digest"
	AuthNTLM   = "ntlm"
)

// Params are the optional settings of a request.
type Params struct {
	Headers map[string]string
	Body    []byte

	// 0 means the requestTimeout option.
	Timeout time.Duration

	// Extra tags of the request's samples.
	Tags map[string]string
	// Value of the name tag; defaults to the URL. Use it to group URLs with
	// ids in them.
	Name string

	// One of basic, digest or ntlm. The credentials come from Username and
	// Password, or from the URL.
	Auth     string
	Username string
	Password string

	// Compressions of the request body, applied in order.
	Compression []CompressionType

	ResponseType ResponseType

	// Maximum number of redirects to follow; unset means the maxRedirects
	// option.
	Redirects null.Int

	// Statuses that are not counted in http_req_failed, 200-399 when nil.
	ExpectedStatuses ExpectedStatuses
}

// ParsedHTTPRequest is a request ready to be sent by MakeRequest.
type ParsedHTTPRequest struct {
	URL          *url.URL
	Name         string
	Body         *bytes.Buffer
	Req          *http.Request
	Timeout      time.Duration
	Auth         string
	Username     string
	Password     string
	ResponseType ResponseType
	Compressions []CompressionType
	Redirects    null.Int
	Tags         map[string]string
	Expected     ExpectedStatuses
}

// NewParsedHTTPRequest validates the request and applies the defaults from
// the options. An invalid URL gives an *Error with the invalid URL code.
func NewParsedHTTPRequest(
	ctx context.Context, state *lib.State, method, rawURL string, params *Params,
) (*ParsedHTTPRequest, error) {
	if params == nil {
		params = &Params{}
	}

	u, err := url.Parse(rawURL)
	if err == nil && (u.Scheme == "" || u.Host == "") {
		err = fmt.Errorf("%q is not an absolute URL", rawURL)
	}
	if err != nil {
		return nil, NewError(invalidURLErrorCode, fmt.Sprintf("%s: %s", invalidURLErrorCodeMsg, rawURL), err)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, NewError(invalidURLErrorCode, err.Error(), err)
	}
	for k, v := range params.Headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("User-Agent") == "" && state.Options.UserAgent.String != "" {
		req.Header.Set("User-Agent", state.Options.UserAgent.String)
	}

	preq := &ParsedHTTPRequest{
		URL:          u,
		Name:         params.Name,
		Req:          req,
		Timeout:      params.Timeout,
		Auth:         strings.ToLower(params.Auth),
		Username:     params.Username,
		Password:     params.Password,
		ResponseType: params.ResponseType,
		Compressions: params.Compression,
		Redirects:    params.Redirects,
		Tags:         params.Tags,
		Expected:     params.ExpectedStatuses,
	}
	if params.Body != nil {
		preq.Body = bytes.NewBuffer(params.Body)
	}

	if preq.Timeout <= 0 {
		preq.Timeout = state.Options.RequestTimeout.TimeDuration()
		if preq.Timeout <= 0 {
			preq.Timeout = lib.DefaultRequestTimeout
		}
	}
	if !preq.Redirects.Valid {
		preq.Redirects = state.Options.MaxRedirects
	}
	if preq.ResponseType == ResponseTypeDefault {
		preq.ResponseType = ResponseTypeText
		if state.Options.DiscardResponseBodies.Bool {
			preq.ResponseType = ResponseTypeNone
		}
	}
	if preq.Expected == nil {
		preq.Expected = DefaultExpectedStatuses()
	}

	if u.User != nil {
		if preq.Username == "" {
			preq.Username = u.User.Username()
			preq.Password, _ = u.User.Password()
		}
		// the credentials are sent according to Auth, never in the URL
		u.User = nil
		req.URL.User = nil
	}
	switch preq.Auth {
	case "":
		if preq.Username != "" {
			preq.Auth = AuthBasic
		}
	case AuthBasic, AuthDigest, AuthNTLM:
	default:
		return nil, fmt.Errorf("unknown auth mode %q", params.Auth)
	}
	return preq, nil
}

// cleanURL returns the URL with the password masked, for tags and logs.
func cleanURL(u *url.URL) string {
	if u.User == nil {
		return u.String()
	}
	clean := *u
	if _, hasPassword := u.User.Password(); hasPassword {
		clean.User = url.UserPassword(u.User.Username(), "****")
	}
	return clean.String()
}

func readResponseBody(respType ResponseType, resp *http.Response, respErr error) ([]byte, error) {
	if resp == nil || respErr != nil {
		return nil, respErr
	}
	defer func() {
		// drain so that the connection can be reused
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if respType == ResponseTypeNone {
		_, err := io.Copy(io.Discard, resp.Body)
		return nil, err
	}

	body, err := newDecompressingReader(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, err
	}
	buf := new(bytes.Buffer)
	_, err = io.Copy(buf, body)
	if cerr := body.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, wrapDecompressionError(err)
	}
	return buf.Bytes(), nil
}

func updateResponse(resp *Response, finishedReq *finishedRequest) {
	resp.ErrorCode = int(finishedReq.errorCode)
	resp.Error = finishedReq.errorMsg
	trail := finishedReq.trail

	if trail.ConnRemoteAddr != nil {
		remoteHost, remotePortStr, _ := net.SplitHostPort(trail.ConnRemoteAddr.String())
		resp.RemoteIP = remoteHost
		resp.RemotePort, _ = strconv.Atoi(remotePortStr)
	}
	resp.Timings = ResponseTimings{
		Duration:       metrics.D(trail.Duration),
		Blocked:        metrics.D(trail.Blocked),
		Connecting:     metrics.D(trail.Connecting),
		TLSHandshaking: metrics.D(trail.TLSHandshaking),
		Sending:        metrics.D(trail.Sending),
		Waiting:        metrics.D(trail.Waiting),
		Receiving:      metrics.D(trail.Receiving),
	}
	resp.TLSVersion = finishedReq.tlsInfo.Version
	resp.TLSCipherSuite = finishedReq.tlsInfo.CipherSuite
	resp.OCSPStatus = finishedReq.tlsInfo.OCSPStatus
}

func (preq *ParsedHTTPRequest) prepareBody(logger logrus.FieldLogger) error {
	if preq.Body == nil {
		return nil
	}
	if len(preq.Compressions) > 0 {
		compressed, contentEncoding, err := compressBody(preq.Compressions, preq.Body.Bytes())
		if err != nil {
			return err
		}
		preq.Body = compressed
		if current := preq.Req.Header.Get("Content-Encoding"); current == "" {
			preq.Req.Header.Set("Content-Encoding", contentEncoding)
		} else if current != contentEncoding {
			logger.Warnf("The Content-Encoding header %q of the %s request for %s doesn't match the "+
				"compression %q; the header is kept", current, preq.Req.Method, preq.Req.URL, contentEncoding)
		}
	}

	body := preq.Body.Bytes()
	preq.Req.ContentLength = int64(len(body))
	preq.Req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	preq.Req.Body, _ = preq.Req.GetBody()
	// Go sets it from ContentLength
	preq.Req.Header.Del("Content-Length")
	return nil
}

func (preq *ParsedHTTPRequest) sampleTags(state *lib.State) *metrics.TagSet {
	tags := state.Tags
	if state.Group != nil {
		tags = tags.With("group", state.Group.Path)
	}
	if preq.Name != "" {
		tags = tags.With("name", preq.Name)
	}
	if len(preq.Tags) > 0 {
		keys := make([]string, 0, len(preq.Tags))
		for k := range preq.Tags {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			tags = tags.With(k, preq.Tags[k])
		}
	}
	return tags
}

// MakeRequest sends the request through the VU's transport and emits its
// samples. Transport failures are reported in the Response, the returned
// error is only for requests that could not be sent at all.
//
//nolint:funlen
func MakeRequest(ctx context.Context, state *lib.State, preq *ParsedHTTPRequest) (*Response, error) {
	if err := preq.prepareBody(state.Logger); err != nil {
		return nil, err
	}

	respReq := Request{
		Method:  preq.Req.Method,
		URL:     cleanURL(preq.Req.URL),
		Headers: preq.Req.Header,
	}
	if preq.Body != nil && len(preq.Compressions) == 0 {
		respReq.Body = preq.Body.String()
	}

	// the rate limit applies to prepared requests
	if state.RPSLimit != nil {
		if err := state.RPSLimit.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var span trace.Span
	if state.Tracer != nil {
		ctx, span = state.Tracer.Start(ctx, "HTTP "+preq.Req.Method,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("http.method", preq.Req.Method),
				attribute.String("http.url", respReq.URL),
			))
		defer span.End()
		propagation.TraceContext{}.Inject(ctx, propagation.HeaderCarrier(preq.Req.Header))
	}

	tracerTransport := newTransport(state, preq.sampleTags(state), preq.Expected.Matches)
	var rt http.RoundTripper = tracerTransport
	switch preq.Auth {
	case AuthBasic:
		preq.Req.SetBasicAuth(preq.Username, preq.Password)
	case AuthDigest:
		rt = digestTransport{originalTransport: rt, username: preq.Username, password: preq.Password}
	case AuthNTLM:
		// the negotiator takes the credentials from the basic auth header
		preq.Req.SetBasicAuth(preq.Username, preq.Password)
		rt = ntlmssp.Negotiator{RoundTripper: rt}
	}

	resp := &Response{URL: respReq.URL, Request: respReq}
	client := http.Client{
		Transport: rt,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			resp.URL = cleanURL(req.URL)
			if int64(len(via)) > preq.Redirects.Int64 {
				if !preq.Redirects.Valid {
					state.Logger.WithField("url", cleanURL(via[0].URL)).Warnf(
						"Stopped after %d redirects and returned the redirection", len(via))
				}
				return http.ErrUseLastResponse
			}
			return nil
		},
	}

	reqCtx, cancel := context.WithTimeout(ctx, preq.Timeout)
	defer cancel()

	res, resErr := client.Do(preq.Req.WithContext(reqCtx))
	resp.Body, resErr = readResponseBody(preq.ResponseType, res, resErr)
	if finishedReq := tracerTransport.processLastSavedRequest(wrapDecompressionError(resErr)); finishedReq != nil {
		updateResponse(resp, finishedReq)
	} else if resErr != nil {
		code, msg := ClassifyError(resErr)
		resp.ErrorCode, resp.Error = int(code), msg
	}

	if res != nil && resErr == nil {
		resp.URL = cleanURL(res.Request.URL)
		resp.Status = res.StatusCode
		resp.Proto = res.Proto
		resp.Headers = make(map[string]string, len(res.Header))
		for k, vs := range res.Header {
			resp.Headers[k] = strings.Join(vs, ", ")
		}
	}

	if span != nil {
		span.SetAttributes(attribute.Int("http.status_code", resp.Status))
		if resp.Error != "" {
			span.SetStatus(codes.Error, resp.Error)
		}
	}

	if resErr != nil {
		state.Logger.WithFields(logrus.Fields{
			"url": respReq.URL, "error_code": resp.ErrorCode,
		}).WithError(resErr).Warn("Request Failed")
	}
	return resp, nil
}
