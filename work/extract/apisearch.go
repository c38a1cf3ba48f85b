package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/grafana/regexp"

	"streamvault/work/config"
	"streamvault/work/titles"
	"streamvault/work/types"
)

// apiSearchStrategy drives providers that expose a plain search API
// keyed by title and year rather than by catalog ID. The catalog
// metadata resolver supplies the title first; the search response is a
// loosely-shaped list of candidate links sorted by advertised quality.
type apiSearchStrategy struct {
	provider *config.ProviderConfig
	fetcher  *fetcher
	titles   titles.Resolver
}

func (s *apiSearchStrategy) Extract(ctx context.Context, ref types.ContentRef) (*types.ExtractionResult, error) {
	t, err := s.titles.Lookup(ctx, ref.Kind, ref.ID)
	if err != nil {
		return nil, types.NewProviderError(s.provider.ID, types.ErrUpstreamUnavailable,
			fmt.Errorf("title lookup failed: %w", err))
	}

	q := url.Values{}
	q.Set("title", t.Title)
	q.Set("year", strconv.Itoa(t.Year))
	if ref.Kind == types.KindSeries {
		q.Set("season", strconv.Itoa(int(ref.Season)))
		q.Set("episode", strconv.Itoa(int(ref.Episode)))
	}

	body, status, err := s.fetcher.fetch(ctx, s.provider, s.provider.APIURL+"?"+q.Encode(), "", "")
	if e := classify(s.provider.ID, status, err); e != nil {
		return nil, e
	}

	link, err := bestSearchLink(body)
	if err != nil {
		return nil, types.NewProviderError(s.provider.ID, types.ErrShapeChanged, err)
	}
	if link == "" {
		return nil, types.NewProviderError(s.provider.ID, types.ErrNotFound,
			fmt.Errorf("search returned no playable links"))
	}

	kind := types.StreamProgressive
	if strings.Contains(link, ".m3u8") {
		kind = types.StreamHLS
	}

	return &types.ExtractionResult{
		StreamURL:  link,
		StreamKind: kind,
		Subtitles:  []types.Subtitle{},
		SourceID:   s.provider.ID,
	}, nil
}

// searchItem tolerates the field-name drift across search upstreams:
// the link sits under url, file or link, the quality hint is free text.
type searchItem struct {
	URL     string `json:"url"`
	File    string `json:"file"`
	Link    string `json:"link"`
	Quality string `json:"quality"`
	Label   string `json:"label"`
}

func (it *searchItem) link() string {
	switch {
	case it.URL != "":
		return it.URL
	case it.File != "":
		return it.File
	}
	return it.Link
}

type searchResponse struct {
	Links   []searchItem `json:"links"`
	Data    []searchItem `json:"data"`
	Results []searchItem `json:"results"`
}

func (r *searchResponse) items() []searchItem {
	switch {
	case len(r.Links) > 0:
		return r.Links
	case len(r.Data) > 0:
		return r.Data
	}
	return r.Results
}

// bestSearchLink parses a search response and returns the link of the
// highest-quality item, or "" when the list is empty or linkless.
func bestSearchLink(body []byte) (string, error) {
	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", fmt.Errorf("search response is not JSON: %w", err)
	}

	items := sr.items()
	sortByQuality(items)
	for i := range items {
		if l := items[i].link(); l != "" {
			return l, nil
		}
	}
	return "", nil
}

var qualityDigits = regexp.MustCompile(`\d+`)

// qualityRank extracts the numeric resolution from a free-text quality
// hint ("1080P HD", "720p", "360"). Hints without digits rank zero.
func qualityRank(it *searchItem) int {
	hint := it.Quality
	if hint == "" {
		hint = it.Label
	}
	m := qualityDigits.FindString(hint)
	if m == "" {
		return 0
	}
	n, _ := strconv.Atoi(m)
	return n
}

// sortByQuality orders items best-first, stable so upstream order breaks
// ties.
func sortByQuality(items []searchItem) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && qualityRank(&items[j-1]) < qualityRank(&items[j]); j-- {
			items[j-1], items[j] = items[j], items[j-1]
		}
	}
}
