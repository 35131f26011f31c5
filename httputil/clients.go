package httputil

import (
	"net/http"
	"net/url"
	"time"
)

type Clients struct {
	Connector *http.Client // optionally proxied, for external listing sources
	Internal  *http.Client // direct, for archive storage and internal calls
}

// NewClients builds the shared HTTP clients. Timeouts apply per external
// call; queue waits are never bounded by these.
func NewClients(proxyURL string) *Clients {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != "" {
		if parsed, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(parsed)
		}
	}

	connector := &http.Client{
		Timeout:   15 * time.Second,
		Transport: transport,
	}

	return &Clients{
		Connector: connector,
		Internal:  &http.Client{Timeout: 30 * time.Second},
	}
}
