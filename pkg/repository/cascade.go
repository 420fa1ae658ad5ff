package repository

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/torrentera/torrentera-stremio/pkg/cache"
	"github.com/torrentera/torrentera-stremio/pkg/fault"
	"github.com/torrentera/torrentera-stremio/pkg/ids"
	"github.com/torrentera/torrentera-stremio/pkg/magnet"
	"github.com/torrentera/torrentera-stremio/pkg/telemetry"
)

const lookupTimeout = 30 * time.Second

// CascadeOptions configures the cascading repository.
type CascadeOptions struct {
	Timeout   time.Duration
	TTLPolicy cache.TTLPolicy
}

var DefaultCascadeOpts = CascadeOptions{
	Timeout:   lookupTimeout,
	TTLPolicy: cache.DefaultTTLPolicy,
}

// Cascade resolves a content ID into magnet descriptors by walking the lookup
// tiers in order: the local snapshot stores in parallel, then the remote
// aggregator when the local tier comes up empty. Results are deduplicated by
// info hash, episode-filtered, sorted and cached; stale cached descriptors
// are the degradation fallback when the aggregator is unreachable.
type Cascade struct {
	opts       CascadeOptions
	stores     []Store
	exhausted  *ExhaustedSources
	aggregator *AggregatorClient
	router     *fault.Router
	cache      *cache.Cache
	logger     *zap.Logger
}

func NewCascade(opts CascadeOptions, stores []Store, aggregator *AggregatorClient, router *fault.Router, resultCache *cache.Cache, logger *zap.Logger) *Cascade {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultCascadeOpts.Timeout
	}
	if opts.TTLPolicy.Default == 0 {
		opts.TTLPolicy = DefaultCascadeOpts.TTLPolicy
	}
	return &Cascade{
		opts:       opts,
		stores:     stores,
		exhausted:  NewExhaustedSources(),
		aggregator: aggregator,
		router:     router,
		cache:      resultCache,
		logger:     logger,
	}
}

type storeResult struct {
	store       string
	descriptors []magnet.Descriptor
	err         error
}

// Find resolves the content ID. Local snapshot stores are queried in parallel;
// a store that errors contributes nothing but doesn't fail the lookup as long
// as another tier delivers. The aggregator is only consulted when every local
// tier came up empty. An empty end result is a repository error
// (fault.IsNotFound), so the caller can cache the miss briefly.
func (c *Cascade) Find(ctx context.Context, contentType, contentID string, idType ids.Type) ([]magnet.Descriptor, *fault.Error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	baseID, season, episode := magnet.SplitEpisodeID(contentID)
	opt := QueryOptions{Season: season, Episode: episode}
	cacheKey := "magnets:" + cache.StreamKey(contentType, baseID, idType, season, episode)

	if cached, found := c.cache.Get(cacheKey); found {
		if descriptors, ok := cached.([]magnet.Descriptor); ok {
			c.logger.Debug("Hit cache for magnet lookup", zap.String("contentID", contentID))
			if len(descriptors) == 0 {
				// A cached miss stays a miss until its short TTL runs out.
				return nil, fault.NotFound(contentID)
			}
			return descriptors, nil
		}
	}

	descriptors, storeErr := c.findLocal(ctx, contentID, contentType, baseID, opt)
	if storeErr != nil {
		c.logger.Warn("Some snapshot stores failed", zap.String("contentID", contentID), zap.Error(storeErr))
	}

	if len(descriptors) == 0 && c.aggregator != nil {
		remote, ferr := fault.Do(ctx, c.router, "aggregator:"+contentType,
			func(ctx context.Context) ([]magnet.Descriptor, error) {
				return c.aggregator.Find(ctx, contentType, contentID)
			},
			func(ferr *fault.Error) []magnet.Descriptor {
				// Degrade to whatever expired result is still around.
				if stale, found := c.cache.GetStale(cacheKey); found {
					if staleDescriptors, ok := stale.([]magnet.Descriptor); ok {
						c.logger.Info("Serving stale magnet results",
							zap.String("contentID", contentID), zap.String("kind", string(ferr.Kind)))
						return staleDescriptors
					}
				}
				return nil
			})
		if ferr != nil && len(remote) == 0 {
			return nil, ferr.WithContext("contentID", contentID)
		}
		descriptors = remote
	}

	descriptors = magnet.Dedup(descriptors)
	if opt.Season > 0 || opt.Episode > 0 {
		filtered := descriptors[:0:0]
		for _, d := range descriptors {
			if d.MatchesEpisode(opt.Season, opt.Episode) {
				filtered = append(filtered, d)
			}
		}
		descriptors = filtered
	}
	magnet.SortBySize(descriptors)

	ttl := c.opts.TTLPolicy.TTLFor(contentType, len(descriptors), idType)
	c.cache.Set(cacheKey, descriptors, ttl, contentType, map[string]string{"id": contentID})

	if len(descriptors) == 0 {
		return nil, fault.NotFound(contentID)
	}
	return descriptors, nil
}

// findLocal fans the lookup out over all snapshot stores and merges their
// results. Stores marked exhausted for the ID are skipped outright; a store
// that returns empty without error gets marked.
func (c *Cascade) findLocal(ctx context.Context, contentID, contentType, baseID string, opt QueryOptions) ([]magnet.Descriptor, error) {
	resultCh := make(chan storeResult, len(c.stores))
	queried := 0
	for _, store := range c.stores {
		if c.exhausted.Is(store.Name(), baseID, opt.Season, opt.Episode) {
			telemetry.ExhaustedSkips.WithLabelValues(store.Name()).Inc()
			c.logger.Debug("Skipping exhausted store",
				zap.String("store", store.Name()), zap.String("contentID", contentID))
			continue
		}
		queried++
		go func(store Store) {
			descriptors, err := store.ByContentID(ctx, contentID, contentType, opt)
			recordLookupOutcome(store.Name(), descriptors, err)
			resultCh <- storeResult{store: store.Name(), descriptors: descriptors, err: err}
		}(store)
	}

	var merged []magnet.Descriptor
	var combinedErr error
	for i := 0; i < queried; i++ {
		result := <-resultCh
		if result.err != nil {
			combinedErr = multierr.Append(combinedErr, result.err)
			continue
		}
		if len(result.descriptors) == 0 {
			c.exhausted.Mark(result.store, baseID, opt.Season, opt.Episode)
			continue
		}
		merged = append(merged, result.descriptors...)
	}
	return merged, combinedErr
}

// ClearExhausted drops all exhaustion marks and returns how many there were.
func (c *Cascade) ClearExhausted() int {
	return c.exhausted.Clear()
}
