// Package titles resolves catalog identifiers to display metadata.
// Providers that search by name instead of ID need the title and year of
// the content before they can do anything useful.
package titles

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/maypok86/otter/v2"

	"streamvault/work/client"
	"streamvault/work/config"
	"streamvault/work/logger"
	"streamvault/work/types"
)

// Title is the catalog metadata for one piece of content.
type Title struct {
	Title  string
	Year   int
	ImdbID string
}

// Resolver looks up catalog metadata for a content ID. Implementations
// must be safe for concurrent use.
type Resolver interface {
	Lookup(ctx context.Context, kind types.MediaKind, id string) (*Title, error)
}

// HTTPResolver queries the configured metadata API and caches results
// with a TTL. Lookups for the same ID are frequent (every name-search
// provider asks for the same title during a preload fan-out) so the
// cache sits directly in front of the network call.
type HTTPResolver struct {
	client *client.HeaderSettingClient
	config *config.Config
	cache  *otter.Cache[string, *Title]
}

// NewHTTPResolver creates a Resolver backed by the metadata API in the
// config.
func NewHTTPResolver(hc *client.HeaderSettingClient, cfg *config.Config) *HTTPResolver {
	cache := otter.Must(&otter.Options[string, *Title]{
		MaximumSize:      cfg.TitleCacheSize,
		ExpiryCalculator: otter.ExpiryWriting[string, *Title](cfg.TitleCacheDuration),
	})
	return &HTTPResolver{
		client: hc,
		config: cfg,
		cache:  cache,
	}
}

// metadata API response shapes. Movies carry title/release_date, series
// carry name/first_air_date.
type lookupResponse struct {
	Title        string `json:"title"`
	Name         string `json:"name"`
	ReleaseDate  string `json:"release_date"`
	FirstAirDate string `json:"first_air_date"`
	ImdbID       string `json:"imdb_id"`
	ExternalIDs  *struct {
		ImdbID string `json:"imdb_id"`
	} `json:"external_ids"`
}

// Lookup returns the title, year and IMDB ID for the given content.
func (r *HTTPResolver) Lookup(ctx context.Context, kind types.MediaKind, id string) (*Title, error) {

	cacheKey := kind.String() + "-" + id
	if t, ok := r.cache.GetIfPresent(cacheKey); ok {
		return t, nil
	}

	path := "movie"
	if kind == types.KindSeries {
		path = "tv"
	}
	u := fmt.Sprintf("%s/%s/%s?api_key=%s&append_to_response=external_ids",
		r.config.MetadataBaseURL, path, url.PathEscape(id),
		url.QueryEscape(r.config.MetadataAPIKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build metadata request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("metadata lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("metadata lookup for %s %s: %w", kind, id, types.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata lookup for %s %s returned %d: %w",
			kind, id, resp.StatusCode, types.ErrUpstreamUnavailable)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata response: %w", err)
	}

	var lr lookupResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return nil, fmt.Errorf("failed to parse metadata response: %w", err)
	}

	t := &Title{
		Title:  lr.Title,
		Year:   parseYear(lr.ReleaseDate),
		ImdbID: lr.ImdbID,
	}
	if t.Title == "" {
		t.Title = lr.Name
	}
	if t.Year == 0 {
		t.Year = parseYear(lr.FirstAirDate)
	}
	if t.ImdbID == "" && lr.ExternalIDs != nil {
		t.ImdbID = lr.ExternalIDs.ImdbID
	}
	if t.Title == "" {
		return nil, fmt.Errorf("metadata for %s %s has no title: %w", kind, id, types.ErrShapeChanged)
	}

	logger.Debug("{titles/titles.go - Lookup} resolved %s %s to %q (%d)", kind, id, t.Title, t.Year)
	r.cache.Set(cacheKey, t)
	return t, nil
}

func parseYear(date string) int {
	if len(date) < 4 {
		return 0
	}
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		// some records carry just the year
		y, err2 := time.Parse("2006", date[:4])
		if err2 != nil {
			return 0
		}
		return y.Year()
	}
	return t.Year()
}
