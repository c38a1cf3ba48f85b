// Package extract turns a content reference into a playable upstream
// stream URL. Each provider speaks one of four extraction protocols; the
// orchestrator walks providers in priority order until one of them
// produces a stream.
package extract

import (
	"context"
	"fmt"

	"streamvault/work/client"
	"streamvault/work/config"
	"streamvault/work/titles"
	"streamvault/work/types"
)

// Strategy resolves one content reference through one provider. Every
// failure is a *types.ProviderError carrying the taxonomy kind; a nil
// error always comes with a result whose StreamURL is non-empty and
// absolute.
type Strategy interface {
	Extract(ctx context.Context, ref types.ContentRef) (*types.ExtractionResult, error)
}

// newStrategy builds the strategy implementation for one provider based
// on its configured kind.
func newStrategy(p *config.ProviderConfig, f *fetcher, hc *client.HeaderSettingClient, resolver titles.Resolver, scraper Scraper) (Strategy, error) {
	switch p.Strategy {
	case types.StrategyApiDecrypt:
		return &apiDecryptStrategy{provider: p, fetcher: f}, nil
	case types.StrategyScraperLib:
		s := scraper
		if s == nil {
			s = newHTTPScraper(p, hc)
		}
		return &scraperLibStrategy{provider: p, scraper: s}, nil
	case types.StrategyPageScrape:
		return &pageScrapeStrategy{provider: p, fetcher: f}, nil
	case types.StrategyApiOnlySearch:
		return &apiSearchStrategy{provider: p, fetcher: f, titles: resolver}, nil
	default:
		return nil, fmt.Errorf("unknown strategy kind %q for provider %s", p.Strategy, p.ID)
	}
}
