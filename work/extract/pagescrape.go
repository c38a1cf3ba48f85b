package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/grafana/regexp"

	"streamvault/work/config"
	"streamvault/work/logger"
	"streamvault/work/types"
)

// pageScrapeStrategy fetches the provider's embed page with browser
// headers and sniffs the manifest URL straight out of the HTML. When the
// outer page carries only a player iframe, that one level is followed
// with the outer page as Referer and searched the same way. Deeper
// nesting is not chased.
type pageScrapeStrategy struct {
	provider *config.ProviderConfig
	fetcher  *fetcher
}

// Two patterns, tried in order: a player-config assignment first, then
// any bare manifest URL in the page text.
var (
	assignedManifestPattern = regexp.MustCompile(`(?i)(?:file|source|src)\s*[:=]\s*['"]([^'"]*\.m3u8[^'"]*)['"]`)
	bareManifestPattern     = regexp.MustCompile(`(?i)(https?://[^\s'"]+\.m3u8[^\s'"]*)`)
)

func (s *pageScrapeStrategy) Extract(ctx context.Context, ref types.ContentRef) (*types.ExtractionResult, error) {
	embedURL := fmt.Sprintf("%s/embed/movie/%s", s.provider.APIURL, ref.ID)
	if ref.Kind == types.KindSeries {
		embedURL = fmt.Sprintf("%s/embed/tv/%s/%d/%d", s.provider.APIURL, ref.ID, ref.Season, ref.Episode)
	}

	page, status, err := s.fetcher.fetch(ctx, s.provider, embedURL, s.provider.APIURL+"/", "")
	if e := classify(s.provider.ID, status, err); e != nil {
		return nil, e
	}

	if u := findManifestURL(string(page)); u != "" {
		return s.result(u), nil
	}

	// No manifest on the outer page; follow the player iframe once.
	inner := findIframeSrc(string(page))
	if inner != "" {
		innerPage, status, err := s.fetcher.fetch(ctx, s.provider, inner, embedURL, "")
		if err == nil && status == 200 {
			if u := findManifestURL(string(innerPage)); u != "" {
				logger.Debug("{extract/pagescrape.go - Extract} %s found manifest one iframe deep", s.provider.ID)
				return s.result(u), nil
			}
		}
	}

	return nil, types.NewProviderError(s.provider.ID, types.ErrNotFound,
		fmt.Errorf("no manifest URL in embed page"))
}

func (s *pageScrapeStrategy) result(streamURL string) *types.ExtractionResult {
	return &types.ExtractionResult{
		StreamURL:  streamURL,
		StreamKind: types.StreamHLS,
		Subtitles:  []types.Subtitle{},
		SourceID:   s.provider.ID,
	}
}

// findManifestURL searches page text for an HLS manifest URL using both
// patterns in order.
func findManifestURL(page string) string {
	if m := assignedManifestPattern.FindStringSubmatch(page); m != nil {
		return m[1]
	}
	if m := bareManifestPattern.FindStringSubmatch(page); m != nil {
		return m[1]
	}
	return ""
}

// findIframeSrc returns the first iframe src in the page, upgraded to
// https when protocol-relative, or "".
func findIframeSrc(page string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return ""
	}
	src, ok := doc.Find("iframe[src]").First().Attr("src")
	if !ok || src == "" {
		return ""
	}
	if strings.HasPrefix(src, "//") {
		src = "https:" + src
	}
	return src
}
