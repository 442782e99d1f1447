package collectors

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ProxyConfig holds the raw proxy settings.
type ProxyConfig struct {
	HTTPSProxy string
	HTTPProxy  string
	// RewriteLocalhost maps localhost proxies to host.docker.internal for
	// containerized deployments.
	RewriteLocalhost bool
}

// Resolve returns the proxy URL to use, HTTPS_PROXY first, or nil.
func (c ProxyConfig) Resolve() (*url.URL, error) {
	raw := strings.TrimSpace(c.HTTPSProxy)
	if raw == "" {
		raw = strings.TrimSpace(c.HTTPProxy)
	}
	if raw == "" {
		return nil, nil
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid proxy %q", raw)
	}
	if c.RewriteLocalhost {
		if h := u.Hostname(); h == "localhost" || h == "127.0.0.1" {
			if p := u.Port(); p != "" {
				u.Host = "host.docker.internal:" + p
			} else {
				u.Host = "host.docker.internal"
			}
		}
	}
	return u, nil
}

// NewHTTPClient returns a client with the given timeout routed through proxy
// when non-nil.
func NewHTTPClient(proxy *url.URL, timeout time.Duration) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if proxy != nil {
		tr.Proxy = http.ProxyURL(proxy)
	} else {
		tr.Proxy = nil
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}
