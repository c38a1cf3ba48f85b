package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"

	"streamvault/work/client"
	"streamvault/work/config"
	"streamvault/work/logger"
	"streamvault/work/metrics"
	"streamvault/work/titles"
	"streamvault/work/types"
)

// Orchestrator owns the provider roster and runs the extraction
// waterfall. It is safe for concurrent use; each Resolve call walks its
// own copy of nothing but the shared, immutable strategy table.
type Orchestrator struct {
	config     *config.Config
	providers  []*config.ProviderConfig // waterfall order
	strategies map[string]Strategy
	pool       *ants.Pool
}

// NewOrchestrator wires one strategy per enabled provider. Providers
// whose strategy needs an endpoint but has none configured are skipped.
// A non-nil scraper overrides the default HTTP scraper for every
// ScraperLib provider; pass nil outside tests.
func NewOrchestrator(cfg *config.Config, hc *client.HeaderSettingClient, resolver titles.Resolver, pool *ants.Pool, scraper Scraper) (*Orchestrator, error) {
	f := newFetcher(hc, cfg)

	o := &Orchestrator{
		config:     cfg,
		strategies: make(map[string]Strategy),
		pool:       pool,
	}

	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.APIURL == "" {
			logger.Info("{extract/orchestrator.go - NewOrchestrator} provider %s has no endpoint, skipping", p.ID)
			continue
		}
		s, err := newStrategy(p, f, hc, resolver, scraper)
		if err != nil {
			return nil, err
		}
		o.strategies[p.ID] = s
		o.providers = append(o.providers, p)
	}

	// waterfall order by priority, stable for equal priorities
	for i := 1; i < len(o.providers); i++ {
		for j := i; j > 0 && o.providers[j-1].Priority > o.providers[j].Priority; j-- {
			o.providers[j-1], o.providers[j] = o.providers[j], o.providers[j-1]
		}
	}

	return o, nil
}

// Providers returns the enabled providers in waterfall order.
func (o *Orchestrator) Providers() []*config.ProviderConfig {
	return o.providers
}

// Resolve extracts a stream for ref. With forcedProviderID set, exactly
// that provider runs and its error comes back untouched. Otherwise the
// waterfall walks providers by priority, collects each failure, and
// returns the first success or an ExhaustedError carrying the full
// attempt log.
func (o *Orchestrator) Resolve(ctx context.Context, ref types.ContentRef, forcedProviderID string) (*types.ExtractionResult, error) {
	if forcedProviderID != "" {
		s, ok := o.strategies[forcedProviderID]
		if !ok {
			return nil, fmt.Errorf("unknown provider %q", forcedProviderID)
		}
		return o.runOne(ctx, forcedProviderID, s, ref)
	}

	attempts := make([]*types.ProviderError, 0, len(o.providers))
	for _, p := range o.providers {
		res, err := o.runOne(ctx, p.ID, o.strategies[p.ID], ref)
		if err == nil {
			logger.Info("{extract/orchestrator.go - Resolve} %s succeeded for %s", p.ID, ref.Key())
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var pe *types.ProviderError
		if !errors.As(err, &pe) {
			pe = types.NewProviderError(p.ID, types.ErrUpstreamUnavailable, err)
		}
		logger.Warn("{extract/orchestrator.go - Resolve} %s failed for %s: %v", p.ID, ref.Key(), err)
		attempts = append(attempts, pe)
	}

	return nil, &types.ExhaustedError{Attempts: attempts}
}

func (o *Orchestrator) runOne(ctx context.Context, providerID string, s Strategy, ref types.ContentRef) (*types.ExtractionResult, error) {
	start := time.Now()
	res, err := s.Extract(ctx, ref)
	metrics.ExtractionDuration.WithLabelValues(providerID).Observe(time.Since(start).Seconds())
	metrics.ExtractionAttempts.WithLabelValues(providerID, outcomeLabel(err)).Inc()
	return res, err
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, types.ErrNotFound):
		return "not_found"
	case errors.Is(err, types.ErrShapeChanged):
		return "shape_changed"
	default:
		return "unavailable"
	}
}

// PreloadAll kicks a background extraction for every enabled provider
// and returns immediately. Each settled attempt lands in cache tagged
// with generation; results from a superseded generation are discarded by
// the cache itself. The context should outlive the session, not the
// request that triggered the preload.
func (o *Orchestrator) PreloadAll(ctx context.Context, ref types.ContentRef, generation uint64, cache *PreloadCache) {
	for _, p := range o.providers {
		providerID := p.ID
		s := o.strategies[providerID]

		err := o.pool.Submit(func() {
			res, err := o.runOne(ctx, providerID, s, ref)
			outcome := "success"
			if err != nil {
				outcome = "failure"
			}
			metrics.PreloadResults.WithLabelValues(providerID, outcome).Inc()

			cache.Put(providerID, &PreloadEntry{
				Generation: generation,
				Result:     res,
				Err:        err,
			})
			logger.Debug("{extract/orchestrator.go - PreloadAll} %s settled for %s gen %d (%s)",
				providerID, ref.Key(), generation, outcome)
		})
		if err != nil {
			logger.Warn("{extract/orchestrator.go - PreloadAll} pool rejected preload for %s: %v", providerID, err)
		}
	}
}
