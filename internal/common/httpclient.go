package common

import (
	"net/http"
	"time"

	"github.com/forgepack/bundler/internal/config"
)

// userAgentTransport wraps an http.RoundTripper to set a custom User-Agent
// header on every outgoing request that doesn't already carry one.
type userAgentTransport struct {
	Base      http.RoundTripper
	UserAgent string
}

// RoundTrip implements http.RoundTripper.
func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.UserAgent)
	}
	return t.Base.RoundTrip(req)
}

// NewHTTPClient builds the shared client used for manifest and package
// tarball fetches, tuned from cfg's connection-pool and timeout settings.
func NewHTTPClient(cfg config.HTTPConfig) *http.Client {
	var transport http.RoundTripper = &http.Transport{}

	if cfg.MaxIdleConns > 0 || cfg.MaxConnsPerHost > 0 {
		base := &http.Transport{}
		if cfg.MaxIdleConns > 0 {
			base.MaxIdleConns = cfg.MaxIdleConns
			base.MaxIdleConnsPerHost = cfg.MaxIdleConns / 10
		}
		if cfg.MaxConnsPerHost > 0 {
			base.MaxConnsPerHost = cfg.MaxConnsPerHost
		}
		transport = base
	}

	if cfg.UserAgent != "" {
		transport = &userAgentTransport{Base: transport, UserAgent: cfg.UserAgent}
	}

	client := &http.Client{Transport: transport}
	if cfg.Timeout > 0 {
		client.Timeout = time.Duration(cfg.Timeout) * time.Second
	}
	return client
}
