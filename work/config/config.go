package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"streamvault/work/types"
)

// Config holds all application configuration for the stream resolver.
// Durations arrive in the JSON file as strings ("30m", "15s") and are
// parsed into time.Duration at load.
type Config struct {
	BaseURL             string              // external base URL of this server
	ListenAddr          string              // address the HTTP server binds to
	Debug               bool                // enable debug logging
	LogLevel            string              // logger level when Debug is false
	ObfuscateUrls       bool                // mask upstream URLs in log output
	DatabasePath        string              // sqlite database location
	WorkerThreads       int                 // preload worker pool size
	TitleCacheSize      int                 // max entries in the catalog title cache
	TitleCacheDuration  time.Duration       // TTL for catalog title lookups
	FetchTimeout        time.Duration       // per-request timeout for upstream fetches
	FetchRetries        int                 // attempts per upstream fetch before a strategy fails
	FetchRetryDelay     time.Duration       // base delay for exponential backoff between attempts
	SessionIdleTimeout  time.Duration       // idle period after which a playback session is reaped
	PositionSaveEvery   time.Duration       // interval for persisting playback positions
	MetadataBaseURL     string              // catalog metadata API base URL
	MetadataAPIKey      string              // catalog metadata API key
	UserAgent           string              // browser User-Agent sent to all upstreams
	PinnedRefererHosts  []string            // host substrings that require PinnedReferer
	PinnedReferer       string              // referer forced for PinnedRefererHosts and IP-literal hosts
	PlaylistCacheMaxAge int                 // Cache-Control max-age (seconds) for rewritten playlists
	SegmentCacheMaxAge  int                 // Cache-Control max-age (seconds) for binary segments
	Providers           []ProviderConfig    // upstream provider definitions, waterfall-ordered by Priority
}

// ProviderConfig describes one upstream provider. Strategy selects the
// extraction protocol; the endpoint fields are interpreted per strategy
// (metadata API vs. embed page vs. search API). Providers with an empty
// required endpoint are skipped at load.
type ProviderConfig struct {
	ID        string             // stable provider identifier
	Name      string             // display name exposed to clients
	Quality   string             // advertised quality label
	MaxRes    uint               // advertised maximum vertical resolution
	Priority  uint               // waterfall order, lower tries first
	Strategy  types.StrategyKind // extraction protocol
	APIURL    string             // primary endpoint (metadata API, embed base, or search API)
	PayloadURL string            // secondary endpoint (encrypted payload host, ApiDecrypt only)
	SecretKey string             // provider payload key (ApiDecrypt only, not a secret we own)
	SecretIV  string             // provider payload IV (ApiDecrypt only)
	RateLimit int                // upstream requests per second
}

// configFile mirrors Config with string durations for JSON parsing.
type configFile struct {
	BaseURL             string               `json:"baseURL"`
	ListenAddr          string               `json:"listenAddr"`
	Debug               bool                 `json:"debug"`
	LogLevel            string               `json:"logLevel"`
	ObfuscateUrls       bool                 `json:"obfuscateUrls"`
	DatabasePath        string               `json:"databasePath"`
	WorkerThreads       int                  `json:"workerThreads"`
	TitleCacheSize      int                  `json:"titleCacheSize"`
	TitleCacheDuration  string               `json:"titleCacheDuration"`
	FetchTimeout        string               `json:"fetchTimeout"`
	FetchRetries        int                  `json:"fetchRetries"`
	FetchRetryDelay     string               `json:"fetchRetryDelay"`
	SessionIdleTimeout  string               `json:"sessionIdleTimeout"`
	PositionSaveEvery   string               `json:"positionSaveEvery"`
	MetadataBaseURL     string               `json:"metadataBaseURL"`
	MetadataAPIKey      string               `json:"metadataAPIKey"`
	UserAgent           string               `json:"userAgent"`
	PinnedRefererHosts  []string             `json:"pinnedRefererHosts"`
	PinnedReferer       string               `json:"pinnedReferer"`
	PlaylistCacheMaxAge int                  `json:"playlistCacheMaxAge"`
	SegmentCacheMaxAge  int                  `json:"segmentCacheMaxAge"`
	Providers           []providerConfigFile `json:"providers"`
}

type providerConfigFile struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Quality    string `json:"quality"`
	MaxRes     uint   `json:"maxRes"`
	Priority   uint   `json:"priority"`
	Strategy   string `json:"strategy"`
	APIURL     string `json:"apiURL"`
	PayloadURL string `json:"payloadURL"`
	SecretKey  string `json:"secretKey"`
	SecretIV   string `json:"secretIV"`
	RateLimit  int    `json:"rateLimit"`
}

var (
	configCache *Config
	configMutex sync.RWMutex
)

// defaultUserAgent matches a current desktop Chrome build; several
// upstream CDNs reject obviously non-browser agents.
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"

// LoadConfig loads the configuration from file or returns the cached
// instance. Missing or invalid files fall back to the default
// configuration; all values pass through validation either way.
func LoadConfig() *Config {
	configMutex.RLock()
	if configCache != nil {
		defer configMutex.RUnlock()
		return configCache
	}
	configMutex.RUnlock()

	configMutex.Lock()
	defer configMutex.Unlock()

	if configCache != nil {
		return configCache
	}

	configPath := os.Getenv("STREAMVAULT_CONFIG")
	if configPath == "" {
		configPath = "/settings/config.json"
	}

	config, err := loadFromFile(configPath)
	if err != nil {
		log.Printf("Failed to load config from %s: %v", configPath, err)
		log.Printf("Falling back to default configuration...")
		config = getDefaultConfig()
	}

	validateAndSetDefaults(config)
	configCache = config

	return config
}

// ClearConfigCache resets the cached configuration, forcing a reload on
// the next LoadConfig call. Used by graceful restart.
func ClearConfigCache() {
	configMutex.Lock()
	defer configMutex.Unlock()
	configCache = nil
}

func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cf configFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return convertFromFile(&cf)
}

func convertFromFile(cf *configFile) (*Config, error) {
	config := &Config{
		BaseURL:             cf.BaseURL,
		ListenAddr:          cf.ListenAddr,
		Debug:               cf.Debug,
		LogLevel:            cf.LogLevel,
		ObfuscateUrls:       cf.ObfuscateUrls,
		DatabasePath:        cf.DatabasePath,
		WorkerThreads:       cf.WorkerThreads,
		TitleCacheSize:      cf.TitleCacheSize,
		FetchRetries:        cf.FetchRetries,
		MetadataBaseURL:     cf.MetadataBaseURL,
		MetadataAPIKey:      cf.MetadataAPIKey,
		UserAgent:           cf.UserAgent,
		PinnedRefererHosts:  cf.PinnedRefererHosts,
		PinnedReferer:       cf.PinnedReferer,
		PlaylistCacheMaxAge: cf.PlaylistCacheMaxAge,
		SegmentCacheMaxAge:  cf.SegmentCacheMaxAge,
	}

	var err error
	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"titleCacheDuration", cf.TitleCacheDuration, &config.TitleCacheDuration},
		{"fetchTimeout", cf.FetchTimeout, &config.FetchTimeout},
		{"fetchRetryDelay", cf.FetchRetryDelay, &config.FetchRetryDelay},
		{"sessionIdleTimeout", cf.SessionIdleTimeout, &config.SessionIdleTimeout},
		{"positionSaveEvery", cf.PositionSaveEvery, &config.PositionSaveEvery},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		if *d.dst, err = time.ParseDuration(d.raw); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.name, err)
		}
	}

	config.Providers = make([]ProviderConfig, 0, len(cf.Providers))
	for _, pf := range cf.Providers {
		config.Providers = append(config.Providers, ProviderConfig{
			ID:         pf.ID,
			Name:       pf.Name,
			Quality:    pf.Quality,
			MaxRes:     pf.MaxRes,
			Priority:   pf.Priority,
			Strategy:   types.StrategyKind(pf.Strategy),
			APIURL:     pf.APIURL,
			PayloadURL: pf.PayloadURL,
			SecretKey:  pf.SecretKey,
			SecretIV:   pf.SecretIV,
			RateLimit:  pf.RateLimit,
		})
	}

	return config, nil
}

// getDefaultConfig returns the baseline configuration, including the
// built-in provider roster in default waterfall order.
func getDefaultConfig() *Config {
	return &Config{
		BaseURL:       "http://localhost:8080",
		ListenAddr:    ":8080",
		Debug:         false,
		LogLevel:      "info",
		ObfuscateUrls: false,
		DatabasePath:  "/settings/streamvault.db",
		Providers:     DefaultProviders(),
	}
}

// DefaultProviders returns the built-in provider roster. The encrypted
// payload key/IV belong to the provider's own public web player; they are
// a compatibility shim, not a secret this system owns.
func DefaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{
			ID: "cineapi", Name: "Premium HD", Quality: "4K", MaxRes: 2160, Priority: 1,
			Strategy:   types.StrategyApiDecrypt,
			APIURL:     "https://ww2.moviesapi.to",
			PayloadURL: "https://flixcdn.cyou",
			SecretKey:  "kiemtienmua911ca",
			SecretIV:   "1234567890oiuytr",
			RateLimit:  5,
		},
		{
			ID: "vidnest", Name: "VidNest Pro", Quality: "1080P", MaxRes: 1080, Priority: 2,
			Strategy:  types.StrategyScraperLib,
			APIURL:    "https://vidsrc.xyz",
			RateLimit: 5,
		},
		{
			ID: "embedview", Name: "EmbedView", Quality: "1080P", MaxRes: 1080, Priority: 3,
			Strategy:  types.StrategyPageScrape,
			APIURL:    "https://vidsrc.icu",
			RateLimit: 5,
		},
		{
			ID: "morphsearch", Name: "MorphTV", Quality: "720P", MaxRes: 720, Priority: 4,
			Strategy:  types.StrategyApiOnlySearch,
			APIURL:    "", // disabled until an endpoint is configured
			RateLimit: 5,
		},
		{
			ID: "teaflix", Name: "TeaTV", Quality: "720P", MaxRes: 720, Priority: 5,
			Strategy:  types.StrategyApiOnlySearch,
			APIURL:    "",
			RateLimit: 5,
		},
	}
}

func validateAndSetDefaults(config *Config) {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8080"
	}
	if config.ListenAddr == "" {
		config.ListenAddr = ":8080"
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.DatabasePath == "" {
		config.DatabasePath = "/settings/streamvault.db"
	}
	if config.WorkerThreads <= 0 {
		config.WorkerThreads = 8
	}
	if config.TitleCacheSize <= 0 {
		config.TitleCacheSize = 1000
	}
	if config.TitleCacheDuration <= 0 {
		config.TitleCacheDuration = 6 * time.Hour
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = 15 * time.Second
	}
	if config.FetchRetries <= 0 {
		config.FetchRetries = 3
	}
	if config.FetchRetryDelay <= 0 {
		config.FetchRetryDelay = 750 * time.Millisecond
	}
	if config.SessionIdleTimeout <= 0 {
		config.SessionIdleTimeout = 2 * time.Hour
	}
	if config.PositionSaveEvery <= 0 {
		config.PositionSaveEvery = 5 * time.Second
	}
	if config.MetadataBaseURL == "" {
		config.MetadataBaseURL = "https://api.themoviedb.org/3"
	}
	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}
	if config.PinnedReferer == "" {
		config.PinnedReferer = "https://flixcdn.cyou/"
	}
	if len(config.PinnedRefererHosts) == 0 {
		config.PinnedRefererHosts = []string{"flixcdn", "tiktokcdn"}
	}
	if config.PlaylistCacheMaxAge <= 0 {
		config.PlaylistCacheMaxAge = 300
	}
	if config.SegmentCacheMaxAge <= 0 {
		config.SegmentCacheMaxAge = 86400
	}
	if len(config.Providers) == 0 {
		config.Providers = DefaultProviders()
	}

	for i := range config.Providers {
		p := &config.Providers[i]
		if p.Name == "" {
			p.Name = fmt.Sprintf("Provider_%d", i+1)
		}
		if p.Priority == 0 {
			p.Priority = uint(i + 1)
		}
		if p.RateLimit <= 0 {
			p.RateLimit = 5
		}
	}
}

// GetProviderByID returns the provider config matching id, or nil.
func (c *Config) GetProviderByID(id string) *ProviderConfig {
	for i := range c.Providers {
		if c.Providers[i].ID == id {
			return &c.Providers[i]
		}
	}
	return nil
}

// Descriptors converts the configured providers to the descriptor list
// served at /api/sources, sorted by priority. Providers whose strategy
// needs an endpoint but has none configured are excluded.
func (c *Config) Descriptors() []types.ProviderDescriptor {
	out := make([]types.ProviderDescriptor, 0, len(c.Providers))
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.APIURL == "" {
			continue
		}
		out = append(out, types.ProviderDescriptor{
			ID:            p.ID,
			DisplayName:   p.Name,
			QualityLabel:  p.Quality,
			MaxResolution: p.MaxRes,
			Priority:      p.Priority,
			StrategyKind:  p.Strategy,
		})
	}

	// insertion sort by priority, stable and fine for a handful of entries
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Priority > out[j].Priority; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// CreateExampleConfig writes a fully-populated example configuration
// file to path.
func CreateExampleConfig(path string) error {
	example := configFile{
		BaseURL:             "http://localhost:8080",
		ListenAddr:          ":8080",
		Debug:               false,
		LogLevel:            "info",
		ObfuscateUrls:       true,
		DatabasePath:        "/settings/streamvault.db",
		WorkerThreads:       8,
		TitleCacheSize:      1000,
		TitleCacheDuration:  "6h",
		FetchTimeout:        "15s",
		FetchRetries:        3,
		FetchRetryDelay:     "750ms",
		SessionIdleTimeout:  "2h",
		PositionSaveEvery:   "5s",
		MetadataBaseURL:     "https://api.themoviedb.org/3",
		MetadataAPIKey:      "YOUR_API_KEY",
		PlaylistCacheMaxAge: 300,
		SegmentCacheMaxAge:  86400,
	}
	for _, p := range DefaultProviders() {
		example.Providers = append(example.Providers, providerConfigFile{
			ID: p.ID, Name: p.Name, Quality: p.Quality, MaxRes: p.MaxRes,
			Priority: p.Priority, Strategy: string(p.Strategy),
			APIURL: p.APIURL, PayloadURL: p.PayloadURL,
			SecretKey: p.SecretKey, SecretIV: p.SecretIV, RateLimit: p.RateLimit,
		})
	}

	data, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
