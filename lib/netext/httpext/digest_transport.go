package httpext

import (
	"io"
	"net/http"

	digest "github.com/Soontao/goHttpDigestClient"
)

// digestTransport answers a digest auth challenge. The nonce is not cached,
// so every request is sent twice.
type digestTransport struct {
	originalTransport http.RoundTripper
	username          string
	password          string
}

// RoundTrip sends the request without credentials and, if the server
// challenges it, again with the computed Authorization header.
func (t digestTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	noAuthResponse, err := t.originalTransport.RoundTrip(req)
	if err != nil || noAuthResponse.StatusCode != http.StatusUnauthorized {
		return noAuthResponse, err
	}

	respBody, err := io.ReadAll(noAuthResponse.Body)
	_ = noAuthResponse.Body.Close()
	if err != nil {
		return nil, err
	}

	challenge := digest.GetChallengeFromHeader(&noAuthResponse.Header)
	challenge.ComputeResponse(req.Method, req.URL.RequestURI(), string(respBody), t.username, t.password)

	authReq := req.Clone(req.Context())
	authReq.Header.Set(digest.KEY_AUTHORIZATION, challenge.ToAuthorizationStr())
	if req.GetBody != nil {
		if authReq.Body, err = req.GetBody(); err != nil {
			return nil, err
		}
	}
	return t.originalTransport.RoundTrip(authReq)
}
