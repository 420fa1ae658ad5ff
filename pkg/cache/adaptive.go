package cache

import (
	"fmt"
	"time"

	"github.com/torrentera/torrentera-stremio/pkg/ids"
)

// TTLPolicy picks the TTL for a cached stream result based on what was
// resolved: empty results expire fast so a retry can pick up fresh sources,
// rich results stick around, anime IDs churn slower than IMDb ones.
type TTLPolicy struct {
	// BaseByType maps a content type (movie, series, anime) to its base TTL.
	BaseByType map[string]time.Duration
	Default    time.Duration
}

var DefaultTTLPolicy = TTLPolicy{
	BaseByType: map[string]time.Duration{
		"movie":  time.Hour,
		"series": 30 * time.Minute,
		"anime":  45 * time.Minute,
	},
	Default: 30 * time.Minute,
}

const emptyResultTTLcap = 5 * time.Minute

// TTLFor computes the adaptive TTL for a result set.
func (p TTLPolicy) TTLFor(contentType string, streamCount int, idType ids.Type) time.Duration {
	base, ok := p.BaseByType[contentType]
	if !ok {
		base = p.Default
	}

	switch {
	case idType.IsAnime():
		base = base * 3 / 2
	case !idType.IsIMDB():
		// Numeric, unknown and other non-IMDb ids resolve less reliably.
		base = base / 2
	}

	// The count rules come last so an empty result is always short-lived,
	// whatever the id family.
	switch {
	case streamCount == 0:
		if base > emptyResultTTLcap {
			base = emptyResultTTLcap
		}
	case streamCount > 10:
		if base < 30*time.Minute {
			base = 30 * time.Minute
		}
	}

	return base
}

// StreamKey builds the cache key for a stream result:
// "stream:{type}:{contentId}:{idType}" with an ":s{S}e{E}" suffix when both
// season and episode are positive.
func StreamKey(contentType, contentID string, idType ids.Type, season, episode int) string {
	key := fmt.Sprintf("stream:%s:%s:%s", contentType, contentID, idType)
	if season > 0 && episode > 0 {
		key += fmt.Sprintf(":s%de%d", season, episode)
	}
	return key
}
