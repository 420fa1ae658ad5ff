package search

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/torrentera/torrentera-stremio/pkg/cache"
	"github.com/torrentera/torrentera-stremio/pkg/magnet"
)

// hardResultCap bounds a result set whatever MaxResults says.
const hardResultCap = 100

// OrchestratorOptions configures the search orchestrator.
type OrchestratorOptions struct {
	// MaxConcurrent caps how many providers one query fans out to. Enabled
	// providers beyond the cap (in priority order) are dropped, not queued.
	MaxConcurrent   int
	MaxResults      int
	ProviderTimeout time.Duration
	CacheTTL        time.Duration
}

var DefaultOrchestratorOpts = OrchestratorOptions{
	MaxConcurrent:   3,
	MaxResults:      50,
	ProviderTimeout: 15 * time.Second,
	CacheTTL:        30 * time.Minute,
}

// ProviderOutcome reports how one provider fared for a query.
type ProviderOutcome struct {
	Provider string        `json:"provider"`
	Count    int           `json:"count"`
	Duration time.Duration `json:"durationMs"`
	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
}

// Result is a merged search result set with its per-provider breakdown.
type Result struct {
	Descriptors []magnet.Descriptor
	Outcomes    []ProviderOutcome
	FromCache   bool
}

// Orchestrator fans a query out to the enabled providers, merges and ranks
// what comes back and caches the merged set. Individual provider failures
// degrade the result instead of failing the query; the combined error is only
// returned when every provider failed.
type Orchestrator struct {
	opts      OrchestratorOptions
	providers []Provider
	cache     *cache.Cache
	logger    *zap.Logger
}

func NewOrchestrator(opts OrchestratorOptions, providers []Provider, resultCache *cache.Cache, logger *zap.Logger) *Orchestrator {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultOrchestratorOpts.MaxConcurrent
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultOrchestratorOpts.MaxResults
	}
	if opts.MaxResults > hardResultCap {
		opts.MaxResults = hardResultCap
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = DefaultOrchestratorOpts.ProviderTimeout
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultOrchestratorOpts.CacheTTL
	}
	return &Orchestrator{
		opts:      opts,
		providers: providers,
		cache:     resultCache,
		logger:    logger,
	}
}

// SearchOptions narrows one search call.
type SearchOptions struct {
	// Providers restricts the selection to the given provider IDs. Nil selects
	// all enabled providers.
	Providers []string
	SkipCache bool
}

// Search runs the query across all enabled providers.
func (o *Orchestrator) Search(ctx context.Context, q Query) (Result, error) {
	return o.SearchWith(ctx, q, SearchOptions{})
}

// SearchWith runs the query across the selected providers.
func (o *Orchestrator) SearchWith(ctx context.Context, q Query, searchOpts SearchOptions) (Result, error) {
	selected := o.selectProviders(searchOpts.Providers)
	cacheKey := o.cacheKey(q, selected)

	if !searchOpts.SkipCache {
		if cached, found := o.cache.Get(cacheKey); found {
			if descriptors, ok := cached.([]magnet.Descriptor); ok {
				o.logger.Debug("Hit cache for search", zap.String("key", cacheKey))
				return Result{Descriptors: descriptors, FromCache: true}, nil
			}
		}
	}

	if len(selected) == 0 {
		return Result{}, nil
	}

	outcomes := make([]ProviderOutcome, len(selected))
	results := make([][]magnet.Descriptor, len(selected))
	workers := pool.New().WithMaxGoroutines(o.opts.MaxConcurrent)
	for i, provider := range selected {
		i, provider := i, provider
		workers.Go(func() {
			providerCtx, cancel := context.WithTimeout(ctx, o.opts.ProviderTimeout)
			defer cancel()
			start := time.Now()
			descriptors, err := provider.Search(providerCtx, q)
			outcome := ProviderOutcome{
				Provider: provider.ID(),
				Count:    len(descriptors),
				Duration: time.Since(start),
				Err:      err,
			}
			if err != nil {
				outcome.Error = err.Error()
				o.logger.Warn("Provider search failed",
					zap.String("provider", provider.ID()), zap.Error(err))
			}
			outcomes[i] = outcome
			results[i] = descriptors
		})
	}
	workers.Wait()

	var merged []magnet.Descriptor
	var combinedErr error
	failures := 0
	for i := range selected {
		if outcomes[i].Err != nil {
			failures++
			combinedErr = multierr.Append(combinedErr, outcomes[i].Err)
			continue
		}
		merged = append(merged, results[i]...)
	}
	if failures == len(selected) {
		return Result{Outcomes: outcomes}, combinedErr
	}

	merged = dedupDescriptors(merged)
	rankDescriptors(merged)
	if len(merged) > o.opts.MaxResults {
		merged = merged[:o.opts.MaxResults]
	}

	o.cache.Set(cacheKey, merged, o.opts.CacheTTL, q.ContentType, nil)
	return Result{Descriptors: merged, Outcomes: outcomes}, nil
}

// ProviderStats returns the diagnostic snapshot of every configured provider,
// enabled or not.
func (o *Orchestrator) ProviderStats() []ProviderStats {
	type statser interface {
		Stats() ProviderStats
	}
	var all []ProviderStats
	for _, provider := range o.providers {
		if s, ok := provider.(statser); ok {
			all = append(all, s.Stats())
			continue
		}
		all = append(all, ProviderStats{
			ID:       provider.ID(),
			Enabled:  provider.Enabled(),
			Priority: provider.Priority(),
		})
	}
	return all
}

// selectProviders picks the enabled providers in priority order, up to the
// concurrency cap. A non-nil ID list restricts the selection further. Higher
// priority wins; ties break on the ID for determinism.
func (o *Orchestrator) selectProviders(only []string) []Provider {
	requested := make(map[string]struct{}, len(only))
	for _, id := range only {
		requested[id] = struct{}{}
	}
	var enabled []Provider
	for _, provider := range o.providers {
		if !provider.Enabled() {
			continue
		}
		if len(requested) > 0 {
			if _, ok := requested[provider.ID()]; !ok {
				continue
			}
		}
		enabled = append(enabled, provider)
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		if enabled[i].Priority() != enabled[j].Priority() {
			return enabled[i].Priority() > enabled[j].Priority()
		}
		return enabled[i].ID() < enabled[j].ID()
	})
	if len(enabled) > o.opts.MaxConcurrent {
		for _, dropped := range enabled[o.opts.MaxConcurrent:] {
			o.logger.Debug("Dropping provider beyond the concurrency cap",
				zap.String("provider", dropped.ID()))
		}
		enabled = enabled[:o.opts.MaxConcurrent]
	}
	return enabled
}

func (o *Orchestrator) cacheKey(q Query, selected []Provider) string {
	providerIDs := make([]string, len(selected))
	for i, provider := range selected {
		providerIDs[i] = provider.ID()
	}
	sort.Strings(providerIDs)
	return "search:" + q.CanonicalKey() + "|" + strings.Join(providerIDs, ",")
}

// dedupDescriptors removes duplicates by info hash; descriptors without one
// fall back to the {name, size} pair as identity. First occurrence wins,
// which after the priority ordering means the preferred provider's entry.
func dedupDescriptors(descriptors []magnet.Descriptor) []magnet.Descriptor {
	seen := make(map[string]struct{}, len(descriptors))
	result := make([]magnet.Descriptor, 0, len(descriptors))
	for _, d := range descriptors {
		key := d.InfoHash
		if key == "" {
			key = strings.ToLower(d.DisplayName) + "|" + magnet.FormatSize(d.SizeBytes)
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, d)
	}
	return result
}

// rankDescriptors orders by quality, then seeders, then size, then upload
// recency.
func rankDescriptors(descriptors []magnet.Descriptor) {
	sort.SliceStable(descriptors, func(i, j int) bool {
		a, b := descriptors[i], descriptors[j]
		if a.Quality.Rank() != b.Quality.Rank() {
			return a.Quality.Rank() > b.Quality.Rank()
		}
		if a.Seeders != b.Seeders {
			return a.Seeders > b.Seeders
		}
		if a.SizeBytes != b.SizeBytes {
			return a.SizeBytes > b.SizeBytes
		}
		return a.UploadedAt.After(b.UploadedAt)
	})
}
