package extract

import (
	"github.com/puzpuzpuz/xsync/v3"

	"streamvault/work/types"
)

// PreloadEntry is one settled preload attempt: either a result or the
// error that sank it, tagged with the session generation it belongs to.
type PreloadEntry struct {
	Generation uint64
	Result     *types.ExtractionResult
	Err        error
}

// PreloadCache holds settled background extraction attempts keyed by
// provider. Entries are generation-tagged: a write from a stale
// generation is discarded, and reads ignore entries older than the
// caller's generation. That keeps late preloads from a previous piece of
// content from ever reaching the player.
type PreloadCache struct {
	entries *xsync.MapOf[string, *PreloadEntry]
}

// NewPreloadCache creates an empty cache.
func NewPreloadCache() *PreloadCache {
	return &PreloadCache{entries: xsync.NewMapOf[string, *PreloadEntry]()}
}

// Put stores a settled attempt unless a newer generation already wrote
// this provider's slot.
func (c *PreloadCache) Put(providerID string, e *PreloadEntry) {
	c.entries.Compute(providerID, func(old *PreloadEntry, loaded bool) (*PreloadEntry, bool) {
		if loaded && old.Generation > e.Generation {
			return old, false
		}
		return e, false
	})
}

// Get returns the entry for providerID when it exists at exactly the
// given generation.
func (c *PreloadCache) Get(providerID string, generation uint64) (*PreloadEntry, bool) {
	e, ok := c.entries.Load(providerID)
	if !ok || e.Generation != generation {
		return nil, false
	}
	return e, true
}

// InvalidateBelow drops every entry older than generation. Called when a
// session moves to new content.
func (c *PreloadCache) InvalidateBelow(generation uint64) {
	c.entries.Range(func(key string, e *PreloadEntry) bool {
		if e.Generation < generation {
			c.entries.Delete(key)
		}
		return true
	})
}

// Snapshot returns all entries at the given generation.
func (c *PreloadCache) Snapshot(generation uint64) map[string]*PreloadEntry {
	out := make(map[string]*PreloadEntry)
	c.entries.Range(func(key string, e *PreloadEntry) bool {
		if e.Generation == generation {
			out[key] = e
		}
		return true
	})
	return out
}
