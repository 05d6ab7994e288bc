package httpext

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ResponseType tells MakeRequest what to do with the response body.
type ResponseType uint

const (
	// ResponseTypeDefault is text, or none when the discardResponseBodies
	// option is enabled.
	ResponseTypeDefault ResponseType = iota
	// ResponseTypeText keeps the body in Response.Body.
	ResponseTypeText
	// ResponseTypeNone reads the whole body and discards it; Response.Body
	// is nil. Timings are the same as with text.
	ResponseTypeNone
)

func (rt ResponseType) String() string {
	switch rt {
	case ResponseTypeDefault:
		return ""
	case ResponseTypeText:
		return "text"
	case ResponseTypeNone:
		return "none"
	default:
		return fmt.Sprintf("ResponseType(%d)", uint(rt))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (rt ResponseType) MarshalText() ([]byte, error) {
	return []byte(rt.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (rt *ResponseType) UnmarshalText(data []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(data))) {
	case "":
		*rt = ResponseTypeDefault
	case "text":
		*rt = ResponseTypeText
	case "none":
		*rt = ResponseTypeNone
	default:
		return fmt.Errorf("unknown response type %q", string(data))
	}
	return nil
}

// ResponseTimings are the timings of a response in milliseconds.
type ResponseTimings struct {
	Duration       float64 `json:"duration"`
	Blocked        float64 `json:"blocked"`
	Connecting     float64 `json:"connecting"`
	TLSHandshaking float64 `json:"tls_handshaking"`
	Sending        float64 `json:"sending"`
	Waiting        float64 `json:"waiting"`
	Receiving      float64 `json:"receiving"`
}

// Request is the request a Response answers.
type Request struct {
	Method  string              `json:"method"`
	URL     string              `json:"url"`
	Headers map[string][]string `json:"headers"`
	Body    string              `json:"body"`
}

// Response is the outcome of an HTTP request. Transport failures are not Go
// errors: they leave Status at 0 and fill Error and ErrorCode.
type Response struct {
	RemoteIP       string            `json:"remote_ip"`
	RemotePort     int               `json:"remote_port"`
	URL            string            `json:"url"`
	Status         int               `json:"status"`
	Proto          string            `json:"proto"`
	Headers        map[string]string `json:"headers"`
	Body           []byte            `json:"body"`
	Timings        ResponseTimings   `json:"timings"`
	TLSVersion     string            `json:"tls_version"`
	TLSCipherSuite string            `json:"tls_cipher_suite"`
	OCSPStatus     string            `json:"ocsp_status"`
	Error          string            `json:"error"`
	ErrorCode      int               `json:"error_code"`
	Request        Request           `json:"request"`
}

// JSON evaluates a gjson path, e.g. "result.0.name", against the body. An
// empty path returns the whole document.
func (res *Response) JSON(path string) gjson.Result {
	if path == "" {
		return gjson.ParseBytes(res.Body)
	}
	return gjson.GetBytes(res.Body, path)
}

// IsJSON reports whether the body is a valid JSON document.
func (res *Response) IsJSON() bool {
	return len(res.Body) > 0 && gjson.ValidBytes(res.Body)
}

// Header returns the value of the named header, case-insensitively.
func (res *Response) Header(name string) string {
	for k, v := range res.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
