package httpclient

import (
	"net/http"
	"time"
)

const (
	DefaultTimeout         = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
	MaxIdleConnsPerHost    = 16
)

var defaultClient *http.Client

func init() {
	defaultClient = &http.Client{
		Timeout: DefaultTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: MaxIdleConnsPerHost,
			IdleConnTimeout:     DefaultIdleConnTimeout,
		},
	}
}

// Default returns the shared tuned HTTP client used by the direct downloader
// and the health checks.
func Default() *http.Client {
	return defaultClient
}

// WithoutTimeout returns a client sharing Default's transport but with no
// overall timeout. Direct media downloads run longer than any sane
// round-trip timeout; their lifetime is bounded by the caller's context.
func WithoutTimeout() *http.Client {
	t, ok := defaultClient.Transport.(*http.Transport)
	if !ok {
		return &http.Client{}
	}
	return &http.Client{Transport: t.Clone()}
}
