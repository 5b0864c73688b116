// Package httpclient configures the transport used to call search backends.
package httpclient

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

type Options struct {
	InsecureSkipVerify  bool
	MaxIdleConnsPerHost int
	DialTimeout         time.Duration
}

// NewTransport creates the pooled transport shared by backend clients.
func NewTransport(o Options) *http.Transport {
	if o.MaxIdleConnsPerHost <= 0 {
		o.MaxIdleConnsPerHost = 128
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	t := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: o.DialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   o.MaxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if o.InsecureSkipVerify {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in per backend
	}
	return t
}
