// Package client owns the shared upstream HTTP clients.
package client

import (
	"net"
	"net/http"
	"time"
)

// New builds the upstream client used by dispatchers. connectTimeout bounds
// dialing; timeout bounds the whole exchange and must be zero for streaming
// clients (the SSE reader enforces its own deadline via context).
func New(connectTimeout, timeout time.Duration) *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   connectTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}
