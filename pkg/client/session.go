package client

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	// DefaultRetries is the retry budget for the managed session.
	DefaultRetries = 6

	// RetryBackoffFactor scales the exponential backoff between retries.
	RetryBackoffFactor = 500 * time.Millisecond

	// DefaultTimeout bounds a single cloud API request.
	DefaultTimeout = 60 * time.Second
)

// SessionConfig controls the managed-retry HTTP session.
type SessionConfig struct {
	// Retries is the number of retry attempts for retryable failures.
	// Zero uses DefaultRetries.
	Retries int

	// Timeout bounds each request including retries of the body read.
	// Zero uses DefaultTimeout.
	Timeout time.Duration

	// Proxies maps URL scheme ("http", "https") to a proxy URL.
	Proxies map[string]string

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool
}

// NewSession builds an *http.Client that transparently retries
// 500/502/503/504 responses and transport-level failures with
// exponential backoff.
//
// Retry policy decisions beyond status classification (connection reset,
// temporary DNS failures) are delegated to the retryablehttp defaults.
func NewSession(cfg SessionConfig) *http.Client {
	rc := retryablehttp.NewClient()
	rc.Logger = nil

	rc.RetryMax = cfg.Retries
	if rc.RetryMax <= 0 {
		rc.RetryMax = DefaultRetries
	}
	rc.RetryWaitMin = RetryBackoffFactor
	rc.RetryWaitMax = 30 * time.Second

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if len(cfg.Proxies) > 0 {
		proxies := cfg.Proxies
		transport.Proxy = func(req *http.Request) (*url.URL, error) {
			raw, ok := proxies[req.URL.Scheme]
			if !ok || raw == "" {
				return nil, nil
			}
			return url.Parse(raw)
		}
	}
	if cfg.InsecureSkipVerify {
		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{}
		}
		transport.TLSClientConfig.InsecureSkipVerify = true
	}
	rc.HTTPClient.Transport = transport

	std := rc.StandardClient()
	std.Timeout = cfg.Timeout
	if std.Timeout <= 0 {
		std.Timeout = DefaultTimeout
	}
	return std
}
