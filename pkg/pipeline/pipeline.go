// Package pipeline wires the full stream request flow: identifier detection
// and validation, cache probe, metadata enrichment, the cascading magnet
// lookup and the final stream assembly.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/torrentera/torrentera-stremio/pkg/cache"
	"github.com/torrentera/torrentera-stremio/pkg/fault"
	"github.com/torrentera/torrentera-stremio/pkg/ids"
	"github.com/torrentera/torrentera-stremio/pkg/magnet"
	"github.com/torrentera/torrentera-stremio/pkg/metadata"
	"github.com/torrentera/torrentera-stremio/pkg/stream"
	"github.com/torrentera/torrentera-stremio/pkg/stremio"
	"github.com/torrentera/torrentera-stremio/pkg/telemetry"
)

// Cache max ages (in seconds) for the error envelopes, per error kind.
const (
	maxAgeValidation = 60
	maxAgeTransient  = 30
	maxAgeNotFound   = 300
	maxAgeRateLimit  = 900
)

// Repository resolves a content ID into magnet descriptors.
type Repository interface {
	Find(ctx context.Context, contentType, contentID string, idType ids.Type) ([]magnet.Descriptor, *fault.Error)
}

// MetadataSource enriches responses with title metadata.
type MetadataSource interface {
	Get(ctx context.Context, contentType, id string) (metadata.Meta, error)
}

// Converter resolves IDs across namespaces.
type Converter interface {
	Convert(ctx context.Context, rawID string, target ids.Type) ids.ConversionResult
}

// Request is one stream request.
type Request struct {
	Type string // movie, series, anime
	ID   string
}

// Options configures the pipeline.
type Options struct {
	TTLPolicy cache.TTLPolicy
}

var DefaultOptions = Options{
	TTLPolicy: cache.DefaultTTLPolicy,
}

// Pipeline handles stream requests end to end. Every stage degrades rather
// than fails where the response can still be useful: metadata enrichment and
// ID conversion are best-effort, only validation failures and transient
// lookup errors surface as error envelopes.
type Pipeline struct {
	opts      Options
	validator *ids.Validator
	converter Converter
	metadata  MetadataSource
	repo      Repository
	assembler *stream.Assembler
	cache     *cache.Cache
	logger    *zap.Logger
}

func New(opts Options, validator *ids.Validator, converter Converter, metadataSource MetadataSource, repo Repository, assembler *stream.Assembler, responseCache *cache.Cache, logger *zap.Logger) *Pipeline {
	if opts.TTLPolicy.Default == 0 {
		opts.TTLPolicy = DefaultOptions.TTLPolicy
	}
	return &Pipeline{
		opts:      opts,
		validator: validator,
		converter: converter,
		metadata:  metadataSource,
		repo:      repo,
		assembler: assembler,
		cache:     responseCache,
		logger:    logger,
	}
}

// Handle resolves one stream request into a response. It never panics and
// never returns an empty struct: even total failure produces a well-formed
// envelope with an error type and a cache age.
func (p *Pipeline) Handle(ctx context.Context, req Request) stremio.StreamResponse {
	logger := p.logger.With(
		zap.String("requestID", uuid.NewString()),
		zap.String("type", req.Type),
		zap.String("id", req.ID))

	validation := p.validator.Validate(req.ID, ids.ContextStreamRequest.Name)
	if validation.Err != nil {
		logger.Info("Rejecting stream request", zap.Error(validation.Err))
		telemetry.StreamRequests.WithLabelValues(req.Type, "invalid").Inc()
		return stremio.StreamResponse{
			Streams:     []stremio.Stream{},
			CacheMaxAge: maxAgeValidation,
			Error:       validation.Err.Message,
			ErrorType:   string(validation.Err.Kind),
		}
	}
	detection := validation.Detection
	baseID, season, episode := magnet.SplitEpisodeID(detection.NormalizedID)

	cacheKey := cache.StreamKey(req.Type, baseID, detection.Type, season, episode)
	if cached, found := p.cache.Get(cacheKey); found {
		if response, ok := cached.(stremio.StreamResponse); ok {
			logger.Debug("Hit cache for stream response")
			telemetry.StreamRequests.WithLabelValues(req.Type, "cached").Inc()
			return response
		}
	}

	meta := p.enrich(ctx, logger, req, detection)

	descriptors, ferr := p.repo.Find(ctx, req.Type, detection.NormalizedID, detection.Type)
	if len(descriptors) == 0 && ferr != nil && !fault.IsNotFound(ferr) {
		// Anime IDs often only resolve under their IMDb alias.
		if converted, ok := p.convertToIMDB(ctx, logger, detection); ok {
			descriptors, ferr = p.repo.Find(ctx, req.Type, converted, ids.TypeIMDB)
		}
	}
	if len(descriptors) == 0 && ferr != nil {
		return p.errorResponse(logger, req, cacheKey, detection, ferr)
	}

	streams := p.assembler.Assemble(descriptors, stream.Input{
		IDType:  detection.Type,
		Meta:    meta,
		Season:  season,
		Episode: episode,
	})

	ttl := p.opts.TTLPolicy.TTLFor(req.Type, len(streams), detection.Type)
	response := stremio.StreamResponse{
		Streams:     streams,
		CacheMaxAge: int(ttl / time.Second),
	}
	p.cache.Set(cacheKey, response, ttl, req.Type, map[string]string{"id": req.ID})

	outcome := "success"
	if len(streams) == 0 {
		outcome = "empty"
	}
	telemetry.StreamRequests.WithLabelValues(req.Type, outcome).Inc()
	logger.Info("Handled stream request", zap.Int("streams", len(streams)))
	return response
}

// enrich fetches title metadata, best-effort. Numeric IDs are skipped, the
// metadata service can't resolve them.
func (p *Pipeline) enrich(ctx context.Context, logger *zap.Logger, req Request, detection ids.Detection) *metadata.Meta {
	if p.metadata == nil || detection.Type == ids.TypeNumeric {
		return nil
	}
	metaID := detection.NormalizedID
	if detection.Type.IsAnime() {
		converted, ok := p.convertToIMDB(ctx, logger, detection)
		if !ok {
			return nil
		}
		metaID = converted
	}
	if detection.Type == ids.TypeIMDBSeries {
		metaID, _, _ = magnet.SplitEpisodeID(metaID)
	}
	meta, err := p.metadata.Get(ctx, req.Type, metaID)
	if err != nil {
		logger.Debug("Metadata enrichment failed, continuing without", zap.Error(err))
		return nil
	}
	return &meta
}

// convertToIMDB resolves an anime ID to its IMDb alias, best-effort.
func (p *Pipeline) convertToIMDB(ctx context.Context, logger *zap.Logger, detection ids.Detection) (string, bool) {
	if p.converter == nil || !detection.Type.IsAnime() {
		return "", false
	}
	result := p.converter.Convert(ctx, detection.NormalizedID, ids.TypeIMDB)
	if !result.Success {
		if result.Err != nil {
			logger.Debug("ID conversion failed", zap.Error(result.Err))
		}
		return "", false
	}
	return result.ConvertedID, true
}

// errorResponse maps a classified lookup error to its envelope. Repository
// misses are a normal outcome (empty list, medium cache age); transient
// failures get a short cache age so clients retry soon.
func (p *Pipeline) errorResponse(logger *zap.Logger, req Request, cacheKey string, detection ids.Detection, ferr *fault.Error) stremio.StreamResponse {
	response := stremio.StreamResponse{Streams: []stremio.Stream{}}

	switch ferr.Kind {
	case fault.KindRepository:
		response.CacheMaxAge = maxAgeNotFound
		telemetry.StreamRequests.WithLabelValues(req.Type, "empty").Inc()
		// Cache the miss briefly so repeat requests don't re-trigger the
		// whole cascade.
		ttl := p.opts.TTLPolicy.TTLFor(req.Type, 0, detection.Type)
		p.cache.Set(cacheKey, response, ttl, req.Type, nil)
		logger.Info("No magnets found")
		return response

	case fault.KindValidation:
		response.CacheMaxAge = maxAgeValidation
		response.Error = ferr.Message
		response.ErrorType = string(ferr.Kind)

	case fault.KindRateLimit:
		response.CacheMaxAge = maxAgeRateLimit
		response.Error = ferr.Message
		response.ErrorType = string(ferr.Kind)

	default:
		// NETWORK, TIMEOUT, CACHE, UNKNOWN and friends are transient from the
		// client's point of view.
		response.CacheMaxAge = maxAgeTransient
		response.Error = ferr.Message
		response.ErrorType = string(ferr.Kind)
	}

	telemetry.StreamRequests.WithLabelValues(req.Type, "error").Inc()
	logger.Warn("Stream request failed", zap.Error(ferr))
	return response
}
