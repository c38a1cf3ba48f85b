package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/grafana/regexp"

	"streamvault/work/client"
	"streamvault/work/config"
	"streamvault/work/logger"
	"streamvault/work/types"
)

// ScrapeResult is the raw output of a scraper run before normalization.
type ScrapeResult struct {
	Success   bool
	HLSURL    string
	Subtitles []types.Subtitle
}

// Scraper is the delegated extraction collaborator for providers whose
// players hide the stream behind a chain of nested embeds. Tests inject
// fakes; production uses the HTTP implementation below.
type Scraper interface {
	Scrape(ctx context.Context, numericID int, kind types.MediaKind, season, episode uint) (*ScrapeResult, error)
}

// scraperLibStrategy adapts a Scraper to the Strategy contract. A run
// that reports success=false or comes back without a URL counts as the
// upstream being unavailable, not as a shape change: these players break
// and recover all the time.
type scraperLibStrategy struct {
	provider *config.ProviderConfig
	scraper  Scraper
}

func (s *scraperLibStrategy) Extract(ctx context.Context, ref types.ContentRef) (*types.ExtractionResult, error) {
	res, err := s.scraper.Scrape(ctx, ref.NumericID(), ref.Kind, ref.Season, ref.Episode)
	if err != nil {
		return nil, types.NewProviderError(s.provider.ID, types.ErrUpstreamUnavailable, err)
	}
	if !res.Success || res.HLSURL == "" {
		return nil, types.NewProviderError(s.provider.ID, types.ErrUpstreamUnavailable,
			fmt.Errorf("scraper returned no stream"))
	}

	subs := res.Subtitles
	if subs == nil {
		subs = []types.Subtitle{}
	}

	return &types.ExtractionResult{
		StreamURL:  res.HLSURL,
		StreamKind: types.StreamHLS,
		Subtitles:  subs,
		SourceID:   s.provider.ID,
	}, nil
}

// httpScraper chases the provider's embed chain over plain HTTP: the
// embed page links an inner player frame, that frame links a second one,
// and the second frame's script carries the manifest URL. Each hop wants
// the previous page as Referer or it serves a decoy.
type httpScraper struct {
	provider *config.ProviderConfig
	client   *client.HeaderSettingClient
}

func newHTTPScraper(p *config.ProviderConfig, hc *client.HeaderSettingClient) *httpScraper {
	return &httpScraper{provider: p, client: hc}
}

var (
	innerFramePattern  = regexp.MustCompile(`src:\s*'(/prorcp/[^']+)'`)
	scraperFilePattern = regexp.MustCompile(`file:\s*"(https?://[^"]+)"`)
)

func (h *httpScraper) Scrape(ctx context.Context, numericID int, kind types.MediaKind, season, episode uint) (*ScrapeResult, error) {
	embedURL := fmt.Sprintf("%s/embed/movie/%d", h.provider.APIURL, numericID)
	if kind == types.KindSeries {
		embedURL = fmt.Sprintf("%s/embed/tv/%d/%d/%d", h.provider.APIURL, numericID, season, episode)
	}

	page, err := h.get(ctx, embedURL, "")
	if err != nil {
		return nil, err
	}

	frameURL, err := h.findPlayerFrame(page)
	if err != nil {
		return nil, err
	}

	framePage, err := h.get(ctx, frameURL, embedURL)
	if err != nil {
		return nil, err
	}

	m := innerFramePattern.FindStringSubmatch(framePage)
	if m == nil {
		return nil, fmt.Errorf("no inner player frame in %s", frameURL)
	}
	frame, err := url.Parse(frameURL)
	if err != nil {
		return nil, fmt.Errorf("bad player frame URL: %w", err)
	}
	innerURL := frame.Scheme + "://" + frame.Host + m[1]

	innerPage, err := h.get(ctx, innerURL, frame.Scheme+"://"+frame.Host+"/")
	if err != nil {
		return nil, err
	}

	m = scraperFilePattern.FindStringSubmatch(innerPage)
	if m == nil {
		return nil, fmt.Errorf("no manifest URL in inner player")
	}

	logger.Debug("{extract/scraperlib.go - Scrape} %s chain resolved via %s", h.provider.ID, frame.Host)
	return &ScrapeResult{Success: true, HLSURL: m[1]}, nil
}

// findPlayerFrame locates the player iframe in the embed page. The src
// is usually protocol-relative.
func (h *httpScraper) findPlayerFrame(page string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("embed page is not parseable HTML: %w", err)
	}

	src, ok := doc.Find("iframe[src]").First().Attr("src")
	if !ok || src == "" {
		return "", fmt.Errorf("no player iframe in embed page")
	}
	if strings.HasPrefix(src, "//") {
		src = "https:" + src
	}
	return src, nil
}

func (h *httpScraper) get(ctx context.Context, u, referer string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := h.client.DoWithReferer(req, referer, "")
	if err != nil {
		return "", fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upstream returned %d for %s", resp.StatusCode, u)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return "", fmt.Errorf("failed to read page: %w", err)
	}
	return string(body), nil
}
