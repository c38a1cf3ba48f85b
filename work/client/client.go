package client

import (
	"net/http"
	"time"

	"streamvault/work/config"
)

// HeaderSettingClient wraps http.Client to present a consistent browser
// identity to every upstream. All outbound traffic, extraction calls and
// stream proxying alike, goes through this client.
type HeaderSettingClient struct {
	Client *http.Client
	config *config.Config
}

// NewHeaderSettingClient builds the shared outbound HTTP client. The
// overall client timeout stays at zero so long segment transfers are not
// cut off; per-call deadlines come from request contexts.
func NewHeaderSettingClient(cfg *config.Config) *HeaderSettingClient {
	client := &http.Client{
		Timeout: 0,
		Transport: &http.Transport{
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			DisableKeepAlives:     false,
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}

	return &HeaderSettingClient{
		Client: client,
		config: cfg,
	}
}

// Do executes the request with the browser User-Agent and no referer.
func (hsc *HeaderSettingClient) Do(req *http.Request) (*http.Response, error) {
	hsc.setBaseHeaders(req)
	return hsc.Client.Do(req)
}

// DoWithReferer executes the request with the browser User-Agent plus the
// given Referer/Origin pair. Empty values leave the header unset.
func (hsc *HeaderSettingClient) DoWithReferer(req *http.Request, referer, origin string) (*http.Response, error) {
	hsc.setBaseHeaders(req)
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	return hsc.Client.Do(req)
}

func (hsc *HeaderSettingClient) setBaseHeaders(req *http.Request) {
	req.Header.Set("User-Agent", hsc.config.UserAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Connection", "keep-alive")
}

// UserAgent exposes the configured browser identity for callers that
// build requests outside this wrapper.
func (hsc *HeaderSettingClient) UserAgent() string {
	return hsc.config.UserAgent
}
