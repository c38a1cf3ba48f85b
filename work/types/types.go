package types

import (
	"fmt"
	"strconv"
	"strings"
)

// MediaKind classifies the two catalog content categories the resolver
// understands. Series requests additionally carry a season and episode
// number; movie requests never do.
type MediaKind int

const (
	KindMovie MediaKind = iota
	KindSeries
)

// ParseMediaKind converts the wire representation ("movie"/"tv"/"series")
// to a MediaKind. Unknown values default to KindMovie, matching the
// permissive behavior upstream players expect.
func ParseMediaKind(s string) MediaKind {
	switch strings.ToLower(s) {
	case "tv", "series", "show":
		return KindSeries
	default:
		return KindMovie
	}
}

// String returns the wire representation used in upstream endpoint paths.
func (k MediaKind) String() string {
	if k == KindSeries {
		return "tv"
	}
	return "movie"
}

// ContentRef identifies what to resolve: a catalog identifier, the media
// kind, and for series the season/episode pair. A ContentRef is immutable
// once a playback session starts; changing any field means a new session
// generation.
type ContentRef struct {
	ID      string    // opaque catalog identifier (numeric for most upstreams)
	Kind    MediaKind // movie or series
	Season  uint      // season number, series only (0 otherwise)
	Episode uint      // episode number, series only (0 otherwise)
}

// Key returns a stable map/database key for this reference.
func (c ContentRef) Key() string {
	if c.Kind == KindSeries {
		return fmt.Sprintf("tv-%s-s%d-e%d", c.ID, c.Season, c.Episode)
	}
	return "movie-" + c.ID
}

// NumericID parses the catalog identifier as an integer for upstreams that
// key by number rather than string. Returns 0 when the ID is non-numeric.
func (c ContentRef) NumericID() int {
	n, _ := strconv.Atoi(c.ID)
	return n
}

// StrategyKind selects which extraction protocol a provider speaks. Each
// kind maps to exactly one strategy implementation; the descriptor carries
// only the kind so new providers of an existing shape need no new code.
type StrategyKind string

const (
	StrategyApiDecrypt    StrategyKind = "api-decrypt"     // metadata API + encrypted payload
	StrategyScraperLib    StrategyKind = "scraper-lib"     // delegated headless scraper
	StrategyPageScrape    StrategyKind = "page-scrape"     // embed page regex sniffing
	StrategyApiOnlySearch StrategyKind = "api-only-search" // title/year search returning file links
)

// ProviderDescriptor describes one upstream provider: identity, display
// metadata for the client UI, and the priority that defines the default
// waterfall order (lower number tries first). The list is static for the
// process lifetime.
type ProviderDescriptor struct {
	ID            string       `json:"id"`
	DisplayName   string       `json:"name"`
	QualityLabel  string       `json:"quality"`
	MaxResolution uint         `json:"maxRes"`
	Priority      uint         `json:"priority"`
	StrategyKind  StrategyKind `json:"-"`
}

// StreamKind classifies the resolved stream's delivery protocol.
type StreamKind int

const (
	StreamHLS StreamKind = iota
	StreamProgressive
)

// String returns the wire representation ("hls" or "progressive").
func (s StreamKind) String() string {
	if s == StreamProgressive {
		return "progressive"
	}
	return "hls"
}

// Subtitle is one subtitle track attached to an extraction result. URL
// points at the upstream file; callers proxy it before handing it to a
// browser.
type Subtitle struct {
	Lang  string `json:"lang"`
	Label string `json:"label"`
	URL   string `json:"url"`
}

// ExtractionResult is the normalized output of a successful strategy run.
// It is produced fresh per attempt and never cached beyond one playback
// session: upstream URLs are typically signed and short-lived.
type ExtractionResult struct {
	StreamURL       string     // absolute upstream manifest or file URL
	StreamKind      StreamKind // hls or progressive
	Subtitles       []Subtitle // may be empty, never nil after normalization
	UpstreamReferer string     // referer some CDNs require on every sub-fetch, "" if none
	SourceID        string     // provider id that produced this result
}
