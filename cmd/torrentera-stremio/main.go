package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/torrentera/torrentera-stremio/pkg/cache"
	"github.com/torrentera/torrentera-stremio/pkg/fault"
	"github.com/torrentera/torrentera-stremio/pkg/ids"
	"github.com/torrentera/torrentera-stremio/pkg/metadata"
	"github.com/torrentera/torrentera-stremio/pkg/pipeline"
	"github.com/torrentera/torrentera-stremio/pkg/repository"
	"github.com/torrentera/torrentera-stremio/pkg/search"
	"github.com/torrentera/torrentera-stremio/pkg/stream"
	"github.com/torrentera/torrentera-stremio/pkg/stremio"
	"github.com/torrentera/torrentera-stremio/pkg/telemetry"
)

const version = "0.3.0"

var manifest = stremio.Manifest{
	ID:          "org.torrentera.stremio",
	Name:        "Torrentera",
	Description: "Resolves movies, series and anime into magnet streams. Looks up local snapshots, Spanish and Latino release sites and a remote aggregator, with Kitsu, MyAnimeList, AniList and AniDB IDs mapped to IMDb where needed.",
	Version:     version,

	ResourceItems: []stremio.ResourceItem{
		{
			Name:  "stream",
			Types: []string{"movie", "series", "anime"},
		},
		{
			Name:  "meta",
			Types: []string{"movie", "series", "anime"},
		},
	},
	Types: []string{"movie", "series", "anime"},
	// An empty slice is required for serializing to a JSON that Stremio expects
	Catalogs: []stremio.CatalogItem{},

	IDprefixes: []string{"tt", "kitsu", "mal", "anilist", "anidb"},
	BehaviorHints: &stremio.BehaviorHints{
		P2P: true,
	},
}

func main() {
	// Bootstrap logger for the config phase; replaced once the log config is
	// known.
	logger, err := createLogger("info", "console")
	if err != nil {
		panic(err)
	}

	logger.Info("Parsing config...")
	config := parseConfig(logger)
	config.validate(logger)
	configJSON, err := json.Marshal(config)
	if err != nil {
		logger.Fatal("Couldn't marshal config to JSON", zap.Error(err))
	}
	if logger, err = createLogger(config.LogLevel, config.LogEncoding); err != nil {
		logger.Fatal("Couldn't create logger", zap.Error(err))
	}
	defer logger.Sync()
	logger.Info("Parsed config", zap.ByteString("config", configJSON))

	// Shared infrastructure

	responseCache := cache.New(cache.Options{
		MaxBytes:   int64(config.CacheMaxMemoryMB) * 1024 * 1024,
		MaxEntries: config.CacheMaxEntries,
		DefaultTTL: config.CacheDefaultTTL,
	}, logger)
	defer responseCache.Stop()
	if !config.CacheEnabled {
		// A zero-entry cache behaves like no cache without special-casing the
		// call sites.
		responseCache.Stop()
		responseCache = cache.New(cache.Options{MaxBytes: 1, MaxEntries: 1, DefaultTTL: time.Nanosecond}, logger)
		defer responseCache.Stop()
		logger.Info("Result cache is disabled")
	}

	router := fault.NewRouter(fault.DefaultRouterOpts, logger)
	detector := ids.NewDetector()
	validator := ids.NewValidator(detector, logger)
	unifier := ids.NewUnifiedIDservice(
		ids.NewUnifyOpts(config.BaseURLmapping, 5*time.Second, 24*time.Hour),
		detector, router, logger)
	metadataClient := metadata.NewClient(
		metadata.NewClientOpts(config.BaseURLmetadata, 5*time.Second, 30*24*time.Hour), logger)

	// Lookup tiers

	fs := afero.NewOsFs()
	var stores []repository.Store
	for _, sc := range []struct {
		name string
		path string
		url  string
	}{
		{"movies", config.SnapshotPathMovies, ""},
		{"series", config.SnapshotPathSeries, ""},
		{"anime", config.SnapshotPathAnime, ""},
		{"shared", "", config.SnapshotURLshared},
	} {
		if sc.path == "" && sc.url == "" {
			continue
		}
		stores = append(stores, repository.NewSnapshotStore(repository.SnapshotOptions{
			Name: sc.name,
			Path: sc.path,
			URL:  sc.url,
		}, fs, logger))
	}
	logger.Info("Configured snapshot stores", zap.Int("count", len(stores)))

	aggregator := repository.NewAggregatorClient(repository.NewAggregatorOpts(
		config.BaseURLaggregator, nil, config.AggregatorLanguage, 8*time.Second), logger)
	cascade := repository.NewCascade(repository.DefaultCascadeOpts, stores, aggregator, router, responseCache, logger)

	// Title search

	// Per-provider timeouts default to the shared search timeout.
	providerTimeout := func(t time.Duration) time.Duration {
		if t > 0 {
			return t
		}
		return config.SearchTimeout
	}
	providers := []search.Provider{
		search.NewDonTorrent(search.ProviderConfig{
			ID: "dontorrent", BaseURL: config.BaseURLdonTorrent, Enabled: config.EnableDonTorrent,
			Priority: config.PriorityDonTorrent, RequestsPerMinute: config.RateLimitDonTorrent,
			Timeout: providerTimeout(config.TimeoutDonTorrent),
		}, logger),
		search.NewCineCalidad(search.ProviderConfig{
			ID: "cinecalidad", BaseURL: config.BaseURLcineCalidad, Enabled: config.EnableCineCalidad,
			Priority: config.PriorityCineCalidad, RequestsPerMinute: config.RateLimitCineCalidad,
			Timeout: providerTimeout(config.TimeoutCineCalidad),
		}, logger),
		search.NewTorrentGalaxy(search.ProviderConfig{
			ID: "torrentgalaxy", BaseURL: config.BaseURLtorrentGalaxy, Enabled: config.EnableTorrentGalaxy,
			Priority: config.PriorityTorrentGalaxy, RequestsPerMinute: config.RateLimitTorrentGalaxy,
			Timeout: providerTimeout(config.TimeoutTorrentGalaxy),
		}, logger),
	}
	orchestrator := search.NewOrchestrator(search.OrchestratorOptions{
		MaxConcurrent:   config.MaxConcurrentSearches,
		MaxResults:      config.SearchMaxResults,
		ProviderTimeout: config.SearchTimeout,
	}, providers, responseCache, logger)

	// Pipeline

	assembler := stream.NewAssembler(logger)
	p := pipeline.New(pipeline.DefaultOptions, validator, unifier, metadataClient, cascade, assembler, responseCache, logger)

	// HTTP surface

	logger.Info("Setting up server")
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           5 * time.Second,
	})
	app.Use(createRecoverMiddleware(), createCorsMiddleware(), createLoggingMiddleware(logger))

	app.Get("/manifest.json", createManifestHandler(manifest))
	app.Get("/stream/:type/:id", createStreamHandler(p))
	app.Get("/catalog/:type/:id", createCatalogHandler())
	app.Get("/meta/:type/:id", createMetaHandler(metadataClient, logger))
	app.Get("/api/search", createSearchHandler(orchestrator, validator, logger))
	app.Post("/api/search", createSearchHandler(orchestrator, validator, logger))
	app.Get("/api/providers/stats", createProviderStatsHandler(orchestrator, router))
	app.Get("/api/cache/stats", createCacheStatsHandler(responseCache))
	app.Post("/api/cache/clean", createCacheCleanHandler(responseCache, cascade, logger))
	app.Get("/api/health", createHealthHandler(time.Now()))
	app.Get("/metrics", adaptor.HTTPHandler(telemetry.Handler()))
	app.Use(createNotFoundHandler())

	// Periodic cache stats logging, useful for tuning the byte budget.
	statsStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(15 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				stats := responseCache.Stats()
				logger.Info("Cache stats",
					zap.Int("entries", stats.Entries),
					zap.Int64("bytesUsed", stats.BytesUsed),
					zap.Uint64("hits", stats.Hits),
					zap.Uint64("misses", stats.Misses),
					zap.Uint64("evictions", stats.Evictions))
			case <-statsStop:
				return
			}
		}
	}()

	addr := config.BindAddr + ":" + strconv.Itoa(config.Port)
	go func() {
		logger.Info("Starting server", zap.String("addr", addr))
		if err := app.Listen(addr); err != nil {
			logger.Fatal("Couldn't start server", zap.Error(err))
		}
	}()

	// Graceful shutdown

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	logger.Info("Shutting down", zap.String("signal", sig.String()))
	close(statsStop)
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error("Couldn't shut down server gracefully", zap.Error(err))
	}
	logger.Info("Finished shutting down")
}

func createLogger(level, encoding string) (*zap.Logger, error) {
	logConfig := zap.NewProductionConfig()
	logConfig.Encoding = encoding
	logConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if encoding == "console" {
		logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logConfig.Level = zap.NewAtomicLevelAt(zapLevel)
	return logConfig.Build()
}
