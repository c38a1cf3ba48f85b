package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/ratelimit"

	"streamvault/work/client"
	"streamvault/work/config"
	"streamvault/work/logger"
	"streamvault/work/types"
	"streamvault/work/utils"
)

// maxUpstreamBody caps how much of an upstream extraction response we
// read. Embed pages and API payloads are small; anything larger is not
// what we asked for.
const maxUpstreamBody = 4 << 20

// fetcher is the shared upstream access layer for all strategies. It
// owns the per-provider rate limiters and the retry loop so individual
// strategies only describe the request.
type fetcher struct {
	client   *client.HeaderSettingClient
	config   *config.Config
	limiters *xsync.MapOf[string, ratelimit.Limiter]
}

func newFetcher(hc *client.HeaderSettingClient, cfg *config.Config) *fetcher {
	return &fetcher{
		client:   hc,
		config:   cfg,
		limiters: xsync.NewMapOf[string, ratelimit.Limiter](),
	}
}

// take blocks until the provider's rate limiter admits one request.
func (f *fetcher) take(provider *config.ProviderConfig) {
	limiter, _ := f.limiters.LoadOrCompute(provider.ID, func() ratelimit.Limiter {
		return ratelimit.New(provider.RateLimit)
	})
	limiter.Take()
}

// fetch performs one rate-limited GET with retries. Network errors and
// 5xx responses are retried with exponential backoff; 4xx responses are
// returned immediately since the upstream has made up its mind. The
// returned status is the final response status even on non-2xx.
func (f *fetcher) fetch(ctx context.Context, provider *config.ProviderConfig, url, referer, origin string) ([]byte, int, error) {
	var lastErr error

	for attempt := 0; attempt < f.config.FetchRetries; attempt++ {
		if attempt > 0 {
			delay := f.config.FetchRetryDelay * time.Duration(1<<(attempt-1))
			logger.Debug("{extract/fetch.go - fetch} retry %d for %s in %v", attempt, utils.LogURL(f.config, url), delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			}
		}

		f.take(provider)

		body, status, err := f.fetchOnce(ctx, url, referer, origin)
		if err != nil {
			lastErr = err
			continue
		}
		if status >= 500 {
			lastErr = fmt.Errorf("upstream returned %d", status)
			continue
		}
		return body, status, nil
	}

	return nil, 0, fmt.Errorf("%d attempts failed: %w", f.config.FetchRetries, lastErr)
}

func (f *fetcher) fetchOnce(ctx context.Context, url, referer, origin string) ([]byte, int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.config.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := f.client.DoWithReferer(req, referer, origin)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// classify maps a raw fetch error or status to the failure taxonomy.
func classify(providerID string, status int, err error) error {
	if err != nil {
		return types.NewProviderError(providerID, types.ErrUpstreamUnavailable, err)
	}
	switch {
	case status == http.StatusNotFound:
		return types.NewProviderError(providerID, types.ErrNotFound, fmt.Errorf("upstream returned 404"))
	case status != http.StatusOK:
		return types.NewProviderError(providerID, types.ErrUpstreamUnavailable, fmt.Errorf("upstream returned %d", status))
	}
	return nil
}
