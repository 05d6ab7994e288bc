package httpext

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"syscall"

	"golang.org/x/net/http2"
)

// ErrCode is the numeric code of a failed request, in the 1000-1999 range,
// as found in the error_code tag and Response.ErrorCode.
type ErrCode uint32

const (
	// non specific
	defaultErrorCode          ErrCode = 1000
	defaultNetNonTCPErrorCode ErrCode = 1010
	invalidURLErrorCode       ErrCode = 1020
	requestTimeoutErrorCode   ErrCode = 1050
	// DNS errors
	defaultDNSErrorCode    ErrCode = 1100
	dnsNoSuchHostErrorCode ErrCode = 1101
	// tcp errors
	defaultTCPErrorCode      ErrCode = 1200
	tcpBrokenPipeErrorCode   ErrCode = 1201
	netUnknownErrnoErrorCode ErrCode = 1202
	tcpDialErrorCode         ErrCode = 1210
	tcpDialTimeoutErrorCode  ErrCode = 1211
	tcpDialRefusedErrorCode  ErrCode = 1212
	tcpResetByPeerErrorCode  ErrCode = 1220
	// TLS errors
	defaultTLSErrorCode           ErrCode = 1300
	x509UnknownAuthorityErrorCode ErrCode = 1310
	x509HostnameErrorCode         ErrCode = 1311

	// HTTP responses with a status >= 400 get 1000 + status, 1400-1599.
	httpStatusErrorCodeOffset ErrCode = 1000

	// HTTP/2 GoAway errors, 1611-1624 carry the http2 ErrCode
	unknownHTTP2GoAwayErrorCode ErrCode = 1610
	// HTTP/2 stream errors, 1631-1644 carry the http2 ErrCode
	unknownHTTP2StreamErrorCode ErrCode = 1630
	// HTTP/2 connection errors, 1651-1664 carry the http2 ErrCode
	unknownHTTP2ConnectionErrorCode ErrCode = 1650

	responseDecompressionErrorCode ErrCode = 1701
)

const (
	tcpResetByPeerErrorCodeMsg  = "write: connection reset by peer"
	tcpDialTimeoutErrorCodeMsg  = "dial: i/o timeout"
	tcpDialRefusedErrorCodeMsg  = "dial: connection refused"
	tcpBrokenPipeErrorCodeMsg   = "write: broken pipe"
	netUnknownErrnoErrorCodeMsg = "%s: unknown errno %d with message %q"
	dnsNoSuchHostErrorCodeMsg   = "lookup: no such host"
	requestTimeoutErrorCodeMsg  = "request timeout"
	invalidURLErrorCodeMsg      = "invalid URL"
	http2GoAwayErrorCodeMsg     = "http2: received GoAway with http2 ErrCode %s"
	http2StreamErrorCodeMsg     = "http2: stream error with http2 ErrCode %s"
	http2ConnectionErrorCodeMsg = "http2: connection error with http2 ErrCode %s"
	x509HostnameErrorCodeMsg    = "x509: certificate doesn't match hostname"
	x509UnknownAuthorityMsg     = "x509: unknown authority"
)

// Error is a request error with a code.
type Error struct {
	Code    ErrCode
	Message string
	Err     error
}

// NewError returns a new Error.
func NewError(code ErrCode, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the original error.
func (e *Error) Unwrap() error {
	return e.Err
}

func http2ErrCodeOffset(code http2.ErrCode) ErrCode {
	if code > http2.ErrCodeHTTP11Required {
		return 0
	}
	return 1 + ErrCode(code)
}

// ClassifyError returns the code and message a Response carries for err.
func ClassifyError(err error) (ErrCode, string) {
	code, msg := errorCodeForError(err)
	if msg == "" {
		msg = err.Error()
	}
	return code, msg
}

// errorCodeForError returns the code of a round trip error, and a message
// to use instead of the error's own text when it is not empty.
//
//nolint:cyclop
func errorCodeForError(err error) (ErrCode, string) {
	var (
		codeErr   *Error
		dnsErr    *net.DNSError
		goAwayErr http2.GoAwayError
		streamErr http2.StreamError
		connErr   http2.ConnectionError
		opErr     *net.OpError
		unknownCA x509.UnknownAuthorityError
		hostErr   x509.HostnameError
		recordErr tls.RecordHeaderError
		certErr   *tls.CertificateVerificationError
		urlErr    *url.Error
	)

	switch {
	case errors.As(err, &codeErr):
		return codeErr.Code, codeErr.Message
	case errors.As(err, &dnsErr):
		if dnsErr.IsNotFound {
			return dnsNoSuchHostErrorCode, dnsNoSuchHostErrorCodeMsg
		}
		return defaultDNSErrorCode, ""
	case errors.As(err, &goAwayErr):
		return unknownHTTP2GoAwayErrorCode + http2ErrCodeOffset(goAwayErr.ErrCode),
			fmt.Sprintf(http2GoAwayErrorCodeMsg, goAwayErr.ErrCode)
	case errors.As(err, &streamErr):
		return unknownHTTP2StreamErrorCode + http2ErrCodeOffset(streamErr.Code),
			fmt.Sprintf(http2StreamErrorCodeMsg, streamErr.Code)
	case errors.As(err, &connErr):
		return unknownHTTP2ConnectionErrorCode + http2ErrCodeOffset(http2.ErrCode(connErr)),
			fmt.Sprintf(http2ConnectionErrorCodeMsg, http2.ErrCode(connErr))
	case errors.As(err, &unknownCA):
		return x509UnknownAuthorityErrorCode, x509UnknownAuthorityMsg
	case errors.As(err, &hostErr):
		return x509HostnameErrorCode, x509HostnameErrorCodeMsg
	case errors.As(err, &certErr), errors.As(err, &recordErr):
		return defaultTLSErrorCode, ""
	case errors.As(err, &opErr):
		return errorCodeForNetOpError(opErr)
	case errors.Is(err, context.DeadlineExceeded):
		return requestTimeoutErrorCode, requestTimeoutErrorCodeMsg
	case errors.As(err, &urlErr) && urlErr.Timeout():
		return requestTimeoutErrorCode, requestTimeoutErrorCodeMsg
	default:
		return defaultErrorCode, ""
	}
}

func errorCodeForNetOpError(opErr *net.OpError) (ErrCode, string) {
	if opErr.Net != "tcp" && opErr.Net != "tcp4" && opErr.Net != "tcp6" {
		return defaultNetNonTCPErrorCode, ""
	}
	switch opErr.Op {
	case "write":
		switch {
		case errors.Is(opErr.Err, syscall.ECONNRESET):
			return tcpResetByPeerErrorCode, tcpResetByPeerErrorCodeMsg
		case errors.Is(opErr.Err, syscall.EPIPE):
			return tcpBrokenPipeErrorCode, tcpBrokenPipeErrorCodeMsg
		}
	case "read":
		if errors.Is(opErr.Err, syscall.ECONNRESET) {
			return tcpResetByPeerErrorCode, tcpResetByPeerErrorCodeMsg
		}
	case "dial":
		switch {
		case opErr.Timeout():
			return tcpDialTimeoutErrorCode, tcpDialTimeoutErrorCodeMsg
		case errors.Is(opErr.Err, syscall.ECONNREFUSED):
			return tcpDialRefusedErrorCode, tcpDialRefusedErrorCodeMsg
		}
		return tcpDialErrorCode, ""
	}

	var (
		syscallErr *os.SyscallError
		errno      syscall.Errno
	)
	if errors.As(opErr.Err, &syscallErr) && errors.As(syscallErr.Err, &errno) {
		return netUnknownErrnoErrorCode,
			fmt.Sprintf(netUnknownErrnoErrorCodeMsg, opErr.Op, int(errno), errno.Error())
	}
	return defaultTCPErrorCode, ""
}
