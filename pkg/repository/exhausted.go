package repository

import (
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const exhaustedTTL = 10 * time.Minute

// ExhaustedSources remembers which source yielded nothing for which ID so the
// next lookups within the TTL can skip it. Partial failures are not recorded,
// only confirmed empty results.
type ExhaustedSources struct {
	cache *gocache.Cache
}

func NewExhaustedSources() *ExhaustedSources {
	return &ExhaustedSources{
		cache: gocache.New(exhaustedTTL, 2*exhaustedTTL),
	}
}

func exhaustedKey(source, baseID string, season, episode int) string {
	return fmt.Sprintf("%s|%s|%d|%d", source, baseID, season, episode)
}

// Mark records that the source yielded nothing for the ID.
func (e *ExhaustedSources) Mark(source, baseID string, season, episode int) {
	e.cache.SetDefault(exhaustedKey(source, baseID, season, episode), struct{}{})
}

// Is reports whether the source is currently marked exhausted for the ID.
func (e *ExhaustedSources) Is(source, baseID string, season, episode int) bool {
	_, found := e.cache.Get(exhaustedKey(source, baseID, season, episode))
	return found
}

// Clear drops every exhaustion mark. Wired to the cache-clean endpoint so an
// operator can force a full re-query.
func (e *ExhaustedSources) Clear() int {
	count := e.cache.ItemCount()
	e.cache.Flush()
	return count
}
