package httpclient

import (
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// sharedTransport is reused across all pooled clients to maximize
// connection reuse against the search index and model backends.
var sharedTransport = newSharedTransport()

func newSharedTransport() *http.Transport {
	t := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     120 * time.Second,
		DisableKeepAlives:   false,
	}
	// h2 multiplexing keeps concurrent per-query searches on one connection.
	_ = http2.ConfigureTransport(t)
	return t
}

// NewPooledClient creates an http.Client that shares a connection pool
// with other pooled clients.
func NewPooledClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: sharedTransport,
	}
}
