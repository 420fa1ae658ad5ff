package main

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

type config struct {
	BindAddr string `json:"bindAddr"`
	Port     int    `json:"port"`

	CacheEnabled     bool          `json:"cacheEnabled"`
	CacheMaxMemoryMB int           `json:"cacheMaxMemoryMB"`
	CacheMaxEntries  int           `json:"cacheMaxEntries"`
	CacheDefaultTTL  time.Duration `json:"cacheDefaultTTL"`

	SearchMaxResults      int           `json:"searchMaxResults"`
	SearchTimeout         time.Duration `json:"searchTimeout"`
	MaxConcurrentSearches int           `json:"maxConcurrentSearches"`

	BaseURLdonTorrent    string `json:"baseURLdonTorrent"`
	BaseURLcineCalidad   string `json:"baseURLcineCalidad"`
	BaseURLtorrentGalaxy string `json:"baseURLtorrentGalaxy"`
	EnableDonTorrent     bool   `json:"enableDonTorrent"`
	EnableCineCalidad    bool   `json:"enableCineCalidad"`
	EnableTorrentGalaxy  bool   `json:"enableTorrentGalaxy"`

	PriorityDonTorrent     int           `json:"priorityDonTorrent"`
	PriorityCineCalidad    int           `json:"priorityCineCalidad"`
	PriorityTorrentGalaxy  int           `json:"priorityTorrentGalaxy"`
	RateLimitDonTorrent    int           `json:"rateLimitDonTorrent"`
	RateLimitCineCalidad   int           `json:"rateLimitCineCalidad"`
	RateLimitTorrentGalaxy int           `json:"rateLimitTorrentGalaxy"`
	TimeoutDonTorrent      time.Duration `json:"timeoutDonTorrent"`
	TimeoutCineCalidad     time.Duration `json:"timeoutCineCalidad"`
	TimeoutTorrentGalaxy   time.Duration `json:"timeoutTorrentGalaxy"`

	SnapshotPathMovies string `json:"snapshotPathMovies"`
	SnapshotPathSeries string `json:"snapshotPathSeries"`
	SnapshotPathAnime  string `json:"snapshotPathAnime"`
	SnapshotURLshared  string `json:"snapshotURLshared"`

	BaseURLaggregator  string `json:"baseURLaggregator"`
	AggregatorLanguage string `json:"aggregatorLanguage"`
	BaseURLmapping     string `json:"baseURLmapping"`
	BaseURLmetadata    string `json:"baseURLmetadata"`

	LogLevel    string `json:"logLevel"`
	LogEncoding string `json:"logEncoding"`
	EnvPrefix   string `json:"envPrefix"`
}

func parseConfig(logger *zap.Logger) config {
	result := config{}

	// Flags
	var (
		bindAddr = flag.String("bindAddr", "localhost", `Local interface address to bind to. "localhost" only allows access from the local host. "0.0.0.0" binds to all network interfaces.`)
		port     = flag.Int("port", 8080, "Port to listen on")

		cacheEnabled     = flag.Bool("cacheEnabled", true, "Set to false to disable the in-memory result cache")
		cacheMaxMemoryMB = flag.Int("cacheMaxMemoryMB", 64, "Byte budget of the result cache in MB")
		cacheMaxEntries  = flag.Int("cacheMaxEntries", 1000, "Maximum number of entries in the result cache")
		cacheDefaultTTL  = flag.Duration("cacheDefaultTTL", 30*time.Minute, "Default TTL for cached results. The format must be acceptable by Go's 'time.ParseDuration()', for example \"30m\".")

		searchMaxResults      = flag.Int("searchMaxResults", 50, "Maximum number of results one search returns after merging")
		searchTimeout         = flag.Duration("searchTimeout", 15*time.Second, "Per-provider timeout for one search")
		maxConcurrentSearches = flag.Int("maxConcurrentSearches", 3, "How many providers one search fans out to at most")

		baseURLdonTorrent    = flag.String("baseURLdonTorrent", "https://dontorrent.org", "Base URL for DonTorrent")
		baseURLcineCalidad   = flag.String("baseURLcineCalidad", "https://www.cinecalidad.ec", "Base URL for CineCalidad")
		baseURLtorrentGalaxy = flag.String("baseURLtorrentGalaxy", "https://torrentgalaxy.to", "Base URL for the TorrentGalaxy API")
		enableDonTorrent     = flag.Bool("enableDonTorrent", true, "Set to false to disable the DonTorrent provider")
		enableCineCalidad    = flag.Bool("enableCineCalidad", true, "Set to false to disable the CineCalidad provider")
		enableTorrentGalaxy  = flag.Bool("enableTorrentGalaxy", true, "Set to false to disable the TorrentGalaxy provider")

		priorityDonTorrent     = flag.Int("priorityDonTorrent", 3, "Selection priority of the DonTorrent provider. Higher is preferred.")
		priorityCineCalidad    = flag.Int("priorityCineCalidad", 2, "Selection priority of the CineCalidad provider. Higher is preferred.")
		priorityTorrentGalaxy  = flag.Int("priorityTorrentGalaxy", 1, "Selection priority of the TorrentGalaxy provider. Higher is preferred.")
		rateLimitDonTorrent    = flag.Int("rateLimitDonTorrent", 20, "Requests per minute against DonTorrent")
		rateLimitCineCalidad   = flag.Int("rateLimitCineCalidad", 20, "Requests per minute against CineCalidad")
		rateLimitTorrentGalaxy = flag.Int("rateLimitTorrentGalaxy", 30, "Requests per minute against TorrentGalaxy")
		timeoutDonTorrent      = flag.Duration("timeoutDonTorrent", 0, "Per-request timeout for DonTorrent. 0 uses searchTimeout.")
		timeoutCineCalidad     = flag.Duration("timeoutCineCalidad", 0, "Per-request timeout for CineCalidad. 0 uses searchTimeout.")
		timeoutTorrentGalaxy   = flag.Duration("timeoutTorrentGalaxy", 0, "Per-request timeout for TorrentGalaxy. 0 uses searchTimeout.")

		snapshotPathMovies = flag.String("snapshotPathMovies", "", "Path to the movie snapshot file. Empty disables the store.")
		snapshotPathSeries = flag.String("snapshotPathSeries", "", "Path to the series snapshot file. Empty disables the store.")
		snapshotPathAnime  = flag.String("snapshotPathAnime", "", "Path to the anime snapshot file. Empty disables the store.")
		snapshotURLshared  = flag.String("snapshotURLshared", "", "URL of a shared community snapshot to load over HTTP. Empty disables the store.")

		baseURLaggregator  = flag.String("baseURLaggregator", "https://torrentio.strem.io", "Base URL for the remote stream aggregator")
		aggregatorLanguage = flag.String("aggregatorLanguage", "spanish", "Priority language for aggregator lookups. The plain and english-biased configurations are the fallbacks.")
		baseURLmapping     = flag.String("baseURLmapping", "https://armapi.elfhosted.com", "Base URL for the anime ID mapping service")
		baseURLmetadata    = flag.String("baseURLmetadata", "https://v3-cinemeta.strem.io", "Base URL for the metadata service")

		logLevel    = flag.String("logLevel", "debug", `Log level to show only logs with the given and more severe levels. Can be "debug", "info", "warn", "error".`)
		logEncoding = flag.String("logEncoding", "console", `Log encoding. Can be "console" or "json", where "json" makes more sense when using centralized logging solutions like ELK, Graylog or Loki.`)
		envPrefix   = flag.String("envPrefix", "", "Prefix for environment variables")
	)

	flag.Parse()

	if *envPrefix != "" && !strings.HasSuffix(*envPrefix, "_") {
		*envPrefix += "_"
	}
	result.EnvPrefix = *envPrefix

	// Only overwrite the values by their env var counterparts that have not
	// been set (and that *are* set via env var).
	var err error
	if !isArgSet("bindAddr") {
		if val, ok := os.LookupEnv(*envPrefix + "BIND_ADDR"); ok {
			*bindAddr = val
		} else if val, ok := os.LookupEnv(*envPrefix + "HOST"); ok {
			*bindAddr = val
		}
	}
	result.BindAddr = *bindAddr

	if !isArgSet("port") {
		if val, ok := os.LookupEnv(*envPrefix + "PORT"); ok {
			if *port, err = strconv.Atoi(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to int", zap.Error(err), zap.String("envVar", "PORT"))
			}
		}
	}
	result.Port = *port

	if !isArgSet("cacheEnabled") {
		if val, ok := os.LookupEnv(*envPrefix + "CACHE_ENABLED"); ok {
			if *cacheEnabled, err = strconv.ParseBool(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to bool", zap.Error(err), zap.String("envVar", "CACHE_ENABLED"))
			}
		}
	}
	result.CacheEnabled = *cacheEnabled

	if !isArgSet("cacheMaxMemoryMB") {
		if val, ok := os.LookupEnv(*envPrefix + "CACHE_MAX_MEMORY_MB"); ok {
			if *cacheMaxMemoryMB, err = strconv.Atoi(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to int", zap.Error(err), zap.String("envVar", "CACHE_MAX_MEMORY_MB"))
			}
		}
	}
	result.CacheMaxMemoryMB = *cacheMaxMemoryMB

	if !isArgSet("cacheMaxEntries") {
		if val, ok := os.LookupEnv(*envPrefix + "CACHE_MAX_ENTRIES"); ok {
			if *cacheMaxEntries, err = strconv.Atoi(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to int", zap.Error(err), zap.String("envVar", "CACHE_MAX_ENTRIES"))
			}
		}
	}
	result.CacheMaxEntries = *cacheMaxEntries

	if !isArgSet("cacheDefaultTTL") {
		if val, ok := os.LookupEnv(*envPrefix + "CACHE_DEFAULT_TTL"); ok {
			if *cacheDefaultTTL, err = time.ParseDuration(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to time.Duration", zap.Error(err), zap.String("envVar", "CACHE_DEFAULT_TTL"))
			}
		}
	}
	result.CacheDefaultTTL = *cacheDefaultTTL

	if !isArgSet("searchMaxResults") {
		if val, ok := os.LookupEnv(*envPrefix + "SEARCH_MAX_RESULTS"); ok {
			if *searchMaxResults, err = strconv.Atoi(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to int", zap.Error(err), zap.String("envVar", "SEARCH_MAX_RESULTS"))
			}
		}
	}
	result.SearchMaxResults = *searchMaxResults

	if !isArgSet("searchTimeout") {
		if val, ok := os.LookupEnv(*envPrefix + "SEARCH_TIMEOUT"); ok {
			if *searchTimeout, err = time.ParseDuration(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to time.Duration", zap.Error(err), zap.String("envVar", "SEARCH_TIMEOUT"))
			}
		}
	}
	result.SearchTimeout = *searchTimeout

	if !isArgSet("maxConcurrentSearches") {
		if val, ok := os.LookupEnv(*envPrefix + "MAX_CONCURRENT_SEARCHES"); ok {
			if *maxConcurrentSearches, err = strconv.Atoi(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to int", zap.Error(err), zap.String("envVar", "MAX_CONCURRENT_SEARCHES"))
			}
		}
	}
	result.MaxConcurrentSearches = *maxConcurrentSearches

	if !isArgSet("baseURLdonTorrent") {
		if val, ok := os.LookupEnv(*envPrefix + "BASE_URL_DONTORRENT"); ok {
			*baseURLdonTorrent = val
		}
	}
	result.BaseURLdonTorrent = *baseURLdonTorrent

	if !isArgSet("baseURLcineCalidad") {
		if val, ok := os.LookupEnv(*envPrefix + "BASE_URL_CINECALIDAD"); ok {
			*baseURLcineCalidad = val
		}
	}
	result.BaseURLcineCalidad = *baseURLcineCalidad

	if !isArgSet("baseURLtorrentGalaxy") {
		if val, ok := os.LookupEnv(*envPrefix + "BASE_URL_TORRENTGALAXY"); ok {
			*baseURLtorrentGalaxy = val
		}
	}
	result.BaseURLtorrentGalaxy = *baseURLtorrentGalaxy

	if !isArgSet("enableDonTorrent") {
		if val, ok := os.LookupEnv(*envPrefix + "ENABLE_DONTORRENT"); ok {
			if *enableDonTorrent, err = strconv.ParseBool(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to bool", zap.Error(err), zap.String("envVar", "ENABLE_DONTORRENT"))
			}
		}
	}
	result.EnableDonTorrent = *enableDonTorrent

	if !isArgSet("enableCineCalidad") {
		if val, ok := os.LookupEnv(*envPrefix + "ENABLE_CINECALIDAD"); ok {
			if *enableCineCalidad, err = strconv.ParseBool(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to bool", zap.Error(err), zap.String("envVar", "ENABLE_CINECALIDAD"))
			}
		}
	}
	result.EnableCineCalidad = *enableCineCalidad

	if !isArgSet("enableTorrentGalaxy") {
		if val, ok := os.LookupEnv(*envPrefix + "ENABLE_TORRENTGALAXY"); ok {
			if *enableTorrentGalaxy, err = strconv.ParseBool(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to bool", zap.Error(err), zap.String("envVar", "ENABLE_TORRENTGALAXY"))
			}
		}
	}
	result.EnableTorrentGalaxy = *enableTorrentGalaxy

	if !isArgSet("priorityDonTorrent") {
		if val, ok := os.LookupEnv(*envPrefix + "DONTORRENT_PRIORITY"); ok {
			if *priorityDonTorrent, err = strconv.Atoi(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to int", zap.Error(err), zap.String("envVar", "DONTORRENT_PRIORITY"))
			}
		}
	}
	result.PriorityDonTorrent = *priorityDonTorrent

	if !isArgSet("priorityCineCalidad") {
		if val, ok := os.LookupEnv(*envPrefix + "CINECALIDAD_PRIORITY"); ok {
			if *priorityCineCalidad, err = strconv.Atoi(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to int", zap.Error(err), zap.String("envVar", "CINECALIDAD_PRIORITY"))
			}
		}
	}
	result.PriorityCineCalidad = *priorityCineCalidad

	if !isArgSet("priorityTorrentGalaxy") {
		if val, ok := os.LookupEnv(*envPrefix + "TORRENTGALAXY_PRIORITY"); ok {
			if *priorityTorrentGalaxy, err = strconv.Atoi(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to int", zap.Error(err), zap.String("envVar", "TORRENTGALAXY_PRIORITY"))
			}
		}
	}
	result.PriorityTorrentGalaxy = *priorityTorrentGalaxy

	if !isArgSet("rateLimitDonTorrent") {
		if val, ok := os.LookupEnv(*envPrefix + "DONTORRENT_RATE_LIMIT"); ok {
			if *rateLimitDonTorrent, err = strconv.Atoi(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to int", zap.Error(err), zap.String("envVar", "DONTORRENT_RATE_LIMIT"))
			}
		}
	}
	result.RateLimitDonTorrent = *rateLimitDonTorrent

	if !isArgSet("rateLimitCineCalidad") {
		if val, ok := os.LookupEnv(*envPrefix + "CINECALIDAD_RATE_LIMIT"); ok {
			if *rateLimitCineCalidad, err = strconv.Atoi(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to int", zap.Error(err), zap.String("envVar", "CINECALIDAD_RATE_LIMIT"))
			}
		}
	}
	result.RateLimitCineCalidad = *rateLimitCineCalidad

	if !isArgSet("rateLimitTorrentGalaxy") {
		if val, ok := os.LookupEnv(*envPrefix + "TORRENTGALAXY_RATE_LIMIT"); ok {
			if *rateLimitTorrentGalaxy, err = strconv.Atoi(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to int", zap.Error(err), zap.String("envVar", "TORRENTGALAXY_RATE_LIMIT"))
			}
		}
	}
	result.RateLimitTorrentGalaxy = *rateLimitTorrentGalaxy

	if !isArgSet("timeoutDonTorrent") {
		if val, ok := os.LookupEnv(*envPrefix + "DONTORRENT_TIMEOUT"); ok {
			if *timeoutDonTorrent, err = time.ParseDuration(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to time.Duration", zap.Error(err), zap.String("envVar", "DONTORRENT_TIMEOUT"))
			}
		}
	}
	result.TimeoutDonTorrent = *timeoutDonTorrent

	if !isArgSet("timeoutCineCalidad") {
		if val, ok := os.LookupEnv(*envPrefix + "CINECALIDAD_TIMEOUT"); ok {
			if *timeoutCineCalidad, err = time.ParseDuration(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to time.Duration", zap.Error(err), zap.String("envVar", "CINECALIDAD_TIMEOUT"))
			}
		}
	}
	result.TimeoutCineCalidad = *timeoutCineCalidad

	if !isArgSet("timeoutTorrentGalaxy") {
		if val, ok := os.LookupEnv(*envPrefix + "TORRENTGALAXY_TIMEOUT"); ok {
			if *timeoutTorrentGalaxy, err = time.ParseDuration(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to time.Duration", zap.Error(err), zap.String("envVar", "TORRENTGALAXY_TIMEOUT"))
			}
		}
	}
	result.TimeoutTorrentGalaxy = *timeoutTorrentGalaxy

	if !isArgSet("snapshotPathMovies") {
		if val, ok := os.LookupEnv(*envPrefix + "SNAPSHOT_PATH_MOVIES"); ok {
			*snapshotPathMovies = val
		}
	}
	result.SnapshotPathMovies = *snapshotPathMovies

	if !isArgSet("snapshotPathSeries") {
		if val, ok := os.LookupEnv(*envPrefix + "SNAPSHOT_PATH_SERIES"); ok {
			*snapshotPathSeries = val
		}
	}
	result.SnapshotPathSeries = *snapshotPathSeries

	if !isArgSet("snapshotPathAnime") {
		if val, ok := os.LookupEnv(*envPrefix + "SNAPSHOT_PATH_ANIME"); ok {
			*snapshotPathAnime = val
		}
	}
	result.SnapshotPathAnime = *snapshotPathAnime

	if !isArgSet("snapshotURLshared") {
		if val, ok := os.LookupEnv(*envPrefix + "SNAPSHOT_URL_SHARED"); ok {
			*snapshotURLshared = val
		}
	}
	result.SnapshotURLshared = *snapshotURLshared

	if !isArgSet("baseURLaggregator") {
		if val, ok := os.LookupEnv(*envPrefix + "BASE_URL_AGGREGATOR"); ok {
			*baseURLaggregator = val
		}
	}
	result.BaseURLaggregator = *baseURLaggregator

	if !isArgSet("aggregatorLanguage") {
		if val, ok := os.LookupEnv(*envPrefix + "AGGREGATOR_LANGUAGE"); ok {
			*aggregatorLanguage = val
		}
	}
	result.AggregatorLanguage = *aggregatorLanguage

	if !isArgSet("baseURLmapping") {
		if val, ok := os.LookupEnv(*envPrefix + "BASE_URL_MAPPING"); ok {
			*baseURLmapping = val
		}
	}
	result.BaseURLmapping = *baseURLmapping

	if !isArgSet("baseURLmetadata") {
		if val, ok := os.LookupEnv(*envPrefix + "BASE_URL_METADATA"); ok {
			*baseURLmetadata = val
		}
	}
	result.BaseURLmetadata = *baseURLmetadata

	if !isArgSet("logLevel") {
		if val, ok := os.LookupEnv(*envPrefix + "LOG_LEVEL"); ok {
			*logLevel = val
		}
	}
	result.LogLevel = *logLevel

	if !isArgSet("logEncoding") {
		if val, ok := os.LookupEnv(*envPrefix + "LOG_ENCODING"); ok {
			*logEncoding = val
		}
	}
	result.LogEncoding = *logEncoding

	return result
}

func (c *config) validate(logger *zap.Logger) {
	if c.Port < 1 || c.Port > 65535 {
		logger.Fatal("port must be in [1, 65535]", zap.Int("port", c.Port))
	}
	if c.CacheMaxMemoryMB < 1 {
		logger.Fatal("cacheMaxMemoryMB must be positive", zap.Int("cacheMaxMemoryMB", c.CacheMaxMemoryMB))
	}
	if c.MaxConcurrentSearches < 1 {
		logger.Fatal("maxConcurrentSearches must be positive", zap.Int("maxConcurrentSearches", c.MaxConcurrentSearches))
	}
	if c.RateLimitDonTorrent < 1 || c.RateLimitCineCalidad < 1 || c.RateLimitTorrentGalaxy < 1 {
		logger.Fatal("provider rate limits must be positive")
	}
	if c.LogEncoding != "console" && c.LogEncoding != "json" {
		logger.Fatal(`logEncoding must be one of "console" or "json"`, zap.String("logEncoding", c.LogEncoding))
	}
}

// isArgSet returns true if the argument you're looking for is actually set as command line argument.
// Pass without "-" prefix.
func isArgSet(arg string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == arg {
			found = true
		}
	})
	return found
}
