package speedtest

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// TransportConfig shapes the dedicated HTTP client used for bulk downloads.
type TransportConfig struct {
	// OperationTimeout drives the dial timeout heuristic; it does not wrap requests.
	OperationTimeout  time.Duration
	MaxConnsPerHost   int
	DisableHTTP2      bool
	DisableKeepAlives bool
}

// newHTTPClient returns a client with its own transport so a run's
// connections can be torn down as soon as the run ends.
func newHTTPClient(cfg TransportConfig) (*http.Client, *http.Transport) {
	dialTimeout := 10 * time.Second
	if cfg.OperationTimeout > 0 {
		if half := cfg.OperationTimeout / 2; half < dialTimeout {
			dialTimeout = half
		}
		if dialTimeout < 2*time.Second {
			dialTimeout = 2 * time.Second
		}
	}

	perHost := cfg.MaxConnsPerHost
	if perHost < 2 {
		perHost = 2
	}

	keepAlive := 30 * time.Second
	if cfg.DisableKeepAlives {
		// Negative KeepAlive disables TCP keep-alives on the dialer.
		keepAlive = -1
	}
	d := &net.Dialer{Timeout: dialTimeout, KeepAlive: keepAlive}

	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           d.DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   perHost,
		IdleConnTimeout:       10 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		DisableKeepAlives:     cfg.DisableKeepAlives,
		ForceAttemptHTTP2:     !cfg.DisableHTTP2,
		// Bulk bodies are counted, not decoded; compression would skew byte counts.
		DisableCompression: true,
	}
	if cfg.DisableHTTP2 {
		tr.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
	}
	return &http.Client{Transport: tr}, tr
}
