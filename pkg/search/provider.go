// Package search implements title-based magnet search across scraping
// providers: the provider contract, the site-specific scrapers and the
// orchestrator that fans a query out and merges the results.
package search

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/torrentera/torrentera-stremio/pkg/magnet"
	"github.com/torrentera/torrentera-stremio/pkg/telemetry"
)

// Query is one search request.
type Query struct {
	Title       string
	Year        int
	Season      int
	Episode     int
	ContentType string
}

// CanonicalKey normalizes the query into a cache/dedup key: lowercased title
// with collapsed whitespace plus the structured fields.
func (q Query) CanonicalKey() string {
	title := strings.Join(strings.Fields(strings.ToLower(q.Title)), " ")
	return fmt.Sprintf("%s|%d|%d|%d|%s", title, q.Year, q.Season, q.Episode, q.ContentType)
}

// Provider is one scraping backend.
type Provider interface {
	ID() string
	Search(ctx context.Context, q Query) ([]magnet.Descriptor, error)
	Enabled() bool
	Priority() int
}

// ProviderConfig is the per-provider runtime configuration.
type ProviderConfig struct {
	ID                string
	BaseURL           string
	Enabled           bool
	Priority          int
	RequestsPerMinute int
	Timeout           time.Duration
}

// ProviderStats is the diagnostic snapshot one provider exposes.
type ProviderStats struct {
	ID        string  `json:"id"`
	Enabled   bool    `json:"enabled"`
	Priority  int     `json:"priority"`
	Requests  uint64  `json:"requests"`
	Errors    uint64  `json:"errors"`
	RateLimit float64 `json:"requestsPerMinute"`
}

// baseProvider carries the plumbing every scraper shares: config, a
// cooperative rate limiter and request counters. Scrapers embed it. The
// counters are atomic, searches and stats reads run concurrently.
type baseProvider struct {
	config  ProviderConfig
	limiter *rate.Limiter
	logger  *zap.Logger

	requests atomic.Uint64
	errors   atomic.Uint64
}

func newBaseProvider(config ProviderConfig, logger *zap.Logger) baseProvider {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 30
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return baseProvider{
		config:  config,
		limiter: rate.NewLimiter(rate.Limit(float64(config.RequestsPerMinute)/60), 1),
		logger:  logger,
	}
}

func (b *baseProvider) ID() string {
	return b.config.ID
}

func (b *baseProvider) Enabled() bool {
	return b.config.Enabled
}

func (b *baseProvider) Priority() int {
	return b.config.Priority
}

// wait blocks until the provider's rate limit admits another request or the
// context runs out.
func (b *baseProvider) wait(ctx context.Context) error {
	if err := b.limiter.Wait(ctx); err != nil {
		telemetry.ProviderRequests.WithLabelValues(b.config.ID, "ratelimited").Inc()
		return fmt.Errorf("rate limit wait aborted for %v: %w", b.config.ID, err)
	}
	return nil
}

func (b *baseProvider) recordOutcome(err error) {
	b.requests.Add(1)
	if err != nil {
		b.errors.Add(1)
		telemetry.ProviderRequests.WithLabelValues(b.config.ID, "error").Inc()
		return
	}
	telemetry.ProviderRequests.WithLabelValues(b.config.ID, "success").Inc()
}

func (b *baseProvider) stats() ProviderStats {
	return ProviderStats{
		ID:        b.config.ID,
		Enabled:   b.config.Enabled,
		Priority:  b.config.Priority,
		Requests:  b.requests.Load(),
		Errors:    b.errors.Load(),
		RateLimit: float64(b.config.RequestsPerMinute),
	}
}

// titleMatches checks that a scraped release name plausibly belongs to the
// queried title: at least the given share of the query's words must appear in
// the release name. Guards against sites returning fuzzy matches.
func titleMatches(query, candidate string, minOverlap float64) bool {
	queryWords := strings.Fields(strings.ToLower(query))
	if len(queryWords) == 0 {
		return false
	}
	candidateLower := strings.ToLower(candidate)
	matched := 0
	for _, word := range queryWords {
		if strings.Contains(candidateLower, word) {
			matched++
		}
	}
	return float64(matched)/float64(len(queryWords)) >= minOverlap
}

// episodeTag renders the "S01E02" tag sites use in release names.
func episodeTag(season, episode int) string {
	if season <= 0 || episode <= 0 {
		return ""
	}
	return fmt.Sprintf("S%02dE%02d", season, episode)
}
