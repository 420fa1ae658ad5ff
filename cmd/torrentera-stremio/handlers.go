package main

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/torrentera/torrentera-stremio/pkg/cache"
	"github.com/torrentera/torrentera-stremio/pkg/fault"
	"github.com/torrentera/torrentera-stremio/pkg/ids"
	"github.com/torrentera/torrentera-stremio/pkg/magnet"
	"github.com/torrentera/torrentera-stremio/pkg/metadata"
	"github.com/torrentera/torrentera-stremio/pkg/pipeline"
	"github.com/torrentera/torrentera-stremio/pkg/repository"
	"github.com/torrentera/torrentera-stremio/pkg/search"
	"github.com/torrentera/torrentera-stremio/pkg/stremio"
)

func createManifestHandler(manifest stremio.Manifest) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(manifest)
	}
}

func createStreamHandler(p *pipeline.Pipeline) fiber.Handler {
	return func(c *fiber.Ctx) error {
		contentType := c.Params("type")
		id, err := decodeParam(c.Params("id"))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad id"})
		}
		id = strings.TrimSuffix(id, ".json")

		response := p.Handle(c.Context(), pipeline.Request{Type: contentType, ID: id})
		c.Set(fiber.HeaderCacheControl, "max-age="+strconv.Itoa(response.CacheMaxAge)+", public")
		return c.JSON(response)
	}
}

// createCatalogHandler serves an empty catalog. The addon is a stream
// resolver, it doesn't curate listings.
func createCatalogHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(stremio.CatalogResponse{Metas: []stremio.MetaItem{}})
	}
}

// createMetaHandler serves the meta record for an ID. Lookup failures still
// produce a well-formed record carrying just the ID, Stremio chokes on error
// bodies here.
func createMetaHandler(metadataClient *metadata.Client, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		contentType := c.Params("type")
		id, err := decodeParam(c.Params("id"))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad id"})
		}
		id = strings.TrimSuffix(id, ".json")

		item := stremio.MetaItem{ID: id, Type: contentType}
		meta, err := metadataClient.Get(c.Context(), contentType, id)
		if err != nil {
			logger.Debug("Couldn't fetch meta record", zap.String("id", id), zap.Error(err))
			return c.JSON(stremio.MetaResponse{Meta: item})
		}
		item.Name = meta.Title
		if meta.Year > 0 {
			item.ReleaseInfo = strconv.Itoa(meta.Year)
		}
		return c.JSON(stremio.MetaResponse{Meta: item})
	}
}

type searchRequest struct {
	Term       string `json:"term"`
	Title      string `json:"title"` // accepted as an alias for term
	IMDbID     string `json:"imdbId"`
	Year       int    `json:"year"`
	Season     int    `json:"season"`
	Episode    int    `json:"episode"`
	Type       string `json:"type"`
	Quality    string `json:"quality"`
	Language   string `json:"language"`
	Provider   string `json:"provider"` // comma-separated provider IDs
	MaxResults int    `json:"maxResults"`
	SortBy     string `json:"sortBy"`
	SkipCache  bool   `json:"skipCache"`
}

type searchResultItem struct {
	Name     string   `json:"name"`
	InfoHash string   `json:"infoHash"`
	Magnet   string   `json:"magnet"`
	Quality  string   `json:"quality"`
	Size     string   `json:"size"`
	Seeders  int      `json:"seeders"`
	Provider string   `json:"provider"`
	Language string   `json:"language,omitempty"`
	Features []string `json:"features,omitempty"`
}

type searchResponse struct {
	Results   []searchResultItem       `json:"results"`
	Providers []search.ProviderOutcome `json:"providers,omitempty"`
	FromCache bool                     `json:"fromCache"`
}

func createSearchHandler(orchestrator *search.Orchestrator, validator *ids.Validator, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req searchRequest
		if c.Method() == fiber.MethodPost {
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed request body"})
			}
		} else {
			req.Term = c.Query("term")
			req.Title = c.Query("title")
			req.IMDbID = c.Query("imdbId", c.Query("id"))
			req.Year = c.QueryInt("year")
			req.Season = c.QueryInt("season")
			req.Episode = c.QueryInt("episode")
			req.Type = c.Query("type", "movie")
			req.Quality = c.Query("quality")
			req.Language = c.Query("language")
			req.Provider = c.Query("provider")
			req.MaxResults = c.QueryInt("maxResults")
			req.SortBy = c.Query("sortBy")
			req.SkipCache = c.QueryBool("skipCache")
		}
		term := strings.TrimSpace(req.Term)
		if term == "" {
			term = strings.TrimSpace(req.Title)
		}
		if term == "" {
			// An ID instead of a term is a common client mistake, answer it
			// with a pointer to the stream endpoint.
			if req.IMDbID != "" {
				result := validator.Validate(req.IMDbID, ids.ContextAPIEndpoint.Name)
				if result.Err != nil {
					return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": result.Err.Message})
				}
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "this endpoint searches by term, use /stream/{type}/{id}.json for id lookups"})
			}
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "term is required"})
		}

		var providerIDs []string
		if req.Provider != "" {
			providerIDs = strings.Split(req.Provider, ",")
		}
		result, err := orchestrator.SearchWith(c.Context(), search.Query{
			Title:       term,
			Year:        req.Year,
			Season:      req.Season,
			Episode:     req.Episode,
			ContentType: req.Type,
		}, search.SearchOptions{Providers: providerIDs, SkipCache: req.SkipCache})
		if err != nil && len(result.Descriptors) == 0 {
			logger.Warn("Search failed on all providers", zap.String("term", term), zap.Error(err))
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "all providers failed"})
		}

		descriptors := filterSearchResults(result.Descriptors, req)
		sortSearchResults(descriptors, req.SortBy)
		if req.MaxResults > 0 && len(descriptors) > req.MaxResults {
			descriptors = descriptors[:req.MaxResults]
		}

		response := searchResponse{
			Results:   make([]searchResultItem, 0, len(descriptors)),
			Providers: result.Outcomes,
			FromCache: result.FromCache,
		}
		for _, d := range descriptors {
			response.Results = append(response.Results, searchResultItem{
				Name:     d.DisplayName,
				InfoHash: d.InfoHash,
				Magnet:   d.MagnetURI,
				Quality:  string(d.Quality),
				Size:     magnet.FormatSize(d.SizeBytes),
				Seeders:  d.Seeders,
				Provider: d.Provider,
				Language: d.Language,
				Features: d.Features,
			})
		}
		return c.JSON(response)
	}
}

func createProviderStatsHandler(orchestrator *search.Orchestrator, router *fault.Router) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"providers":    orchestrator.ProviderStats(),
			"openCircuits": router.Breaker().OpenOperations(),
		})
	}
}

func createCacheCleanHandler(responseCache *cache.Cache, cascade *repository.Cascade, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		removed := responseCache.Sweep()
		cleared := cascade.ClearExhausted()
		logger.Info("Cleaned caches", zap.Int("removedEntries", removed), zap.Int("clearedExhaustedMarks", cleared))
		return c.JSON(fiber.Map{
			"removedEntries":        removed,
			"clearedExhaustedMarks": cleared,
		})
	}
}

func createCacheStatsHandler(responseCache *cache.Cache) fiber.Handler {
	return func(c *fiber.Ctx) error {
		stats := responseCache.Stats()
		return c.JSON(fiber.Map{
			"entries":   stats.Entries,
			"bytesUsed": stats.BytesUsed,
			"hits":      stats.Hits,
			"misses":    stats.Misses,
			"evictions": stats.Evictions,
		})
	}
}

func createHealthHandler(startedAt time.Time) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"version": version,
			"uptime":  time.Since(startedAt).Round(time.Second).String(),
		})
	}
}

// createNotFoundHandler answers unknown paths with the endpoint inventory so
// a misconfigured client can find its way.
func createNotFoundHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "unknown endpoint",
			"endpoints": []string{
				"GET /manifest.json",
				"GET /stream/{type}/{id}.json",
				"GET /catalog/{type}/{id}.json",
				"GET /meta/{type}/{id}.json",
				"GET /api/search",
				"POST /api/search",
				"GET /api/providers/stats",
				"GET /api/cache/stats",
				"POST /api/cache/clean",
				"GET /api/health",
				"GET /metrics",
			},
		})
	}
}

// filterSearchResults applies the optional quality/language filters. It
// always copies, the input may be a cached slice.
func filterSearchResults(descriptors []magnet.Descriptor, req searchRequest) []magnet.Descriptor {
	quality := magnet.ParseQuality(req.Quality)
	filtered := make([]magnet.Descriptor, 0, len(descriptors))
	for _, d := range descriptors {
		if req.Quality != "" && d.Quality != quality {
			continue
		}
		if req.Language != "" && !strings.EqualFold(d.Language, req.Language) {
			continue
		}
		filtered = append(filtered, d)
	}
	return filtered
}

// sortSearchResults re-sorts by the requested criterion. The orchestrator's
// quality-first ranking is the default order, so "" and "quality" are no-ops.
func sortSearchResults(descriptors []magnet.Descriptor, sortBy string) {
	switch sortBy {
	case "seeders":
		sort.SliceStable(descriptors, func(i, j int) bool {
			return descriptors[i].Seeders > descriptors[j].Seeders
		})
	case "size":
		sort.SliceStable(descriptors, func(i, j int) bool {
			return descriptors[i].SizeBytes > descriptors[j].SizeBytes
		})
	case "date":
		sort.SliceStable(descriptors, func(i, j int) bool {
			return descriptors[i].UploadedAt.After(descriptors[j].UploadedAt)
		})
	}
}

// decodeParam unescapes a path parameter; fiber keeps them URL-encoded
// ("kitsu%3A11665").
func decodeParam(raw string) (string, error) {
	return url.PathUnescape(raw)
}
