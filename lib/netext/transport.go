package netext

import (
	"crypto/tls"
	"net/http"

	"golang.org/x/net/http2"

	"github.com/liuxd6825/loadrun/lib"
)

// NewHTTPTransport returns the HTTP transport of a single VU. Its idle
// connections are only ever reused by that VU.
func NewHTTPTransport(opts lib.Options, dialer *Dialer) (*http.Transport, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: opts.InsecureSkipTLSVerify.Bool, //nolint:gosec
			MinVersion:         tls.VersionTLS10,
		},
		DialContext:         dialer.DialContext,
		DisableCompression:  true,
		DisableKeepAlives:   opts.NoConnectionReuse.Bool,
		MaxIdleConnsPerHost: 16,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, err
	}
	return transport, nil
}
