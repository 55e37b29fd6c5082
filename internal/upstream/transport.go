package upstream

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/http2"
)

// BuildTransport mirrors the provider client policy: HTTP/1.1 with no
// idle connection pool by default (every request pays its own connect
// cost but nothing lingers), or an HTTP/2 adaptive-window transport
// when multiplexing is enabled. proxyURL is applied to either.
func BuildTransport(proxyURL string, enableMultiplexing bool) (http.RoundTripper, error) {
	var proxy func(*http.Request) (*url.URL, error)
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("upstream: invalid proxy url: %w", err)
		}
		proxy = http.ProxyURL(u)
	}

	if enableMultiplexing {
		base := &http.Transport{
			Proxy:               proxy,
			TLSHandshakeTimeout: 10 * time.Second,
		}
		if _, err := http2.ConfigureTransports(base); err != nil {
			return nil, fmt.Errorf("upstream: configure http2: %w", err)
		}
		return base, nil
	}

	return &http.Transport{
		Proxy:               proxy,
		DisableKeepAlives:   true,
		MaxIdleConnsPerHost: 0,
		TLSHandshakeTimeout: 10 * time.Second,
	}, nil
}
