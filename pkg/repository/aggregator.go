package repository

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/torrentera/torrentera-stremio/pkg/magnet"
	"github.com/torrentera/torrentera-stremio/pkg/telemetry"
)

// AggregatorOptions configures the remote aggregator client.
type AggregatorOptions struct {
	BaseURL string
	// Providers is the provider list baked into the request path.
	Providers []string
	// PriorityLanguage is tried first; the plain configuration and the
	// english-biased one are the fallbacks.
	PriorityLanguage string
	Timeout          time.Duration
}

func NewAggregatorOpts(baseURL string, providers []string, priorityLanguage string, timeout time.Duration) AggregatorOptions {
	return AggregatorOptions{
		BaseURL:          baseURL,
		Providers:        providers,
		PriorityLanguage: priorityLanguage,
		Timeout:          timeout,
	}
}

var DefaultAggregatorOpts = AggregatorOptions{
	BaseURL:          "https://torrentio.strem.io",
	Providers:        []string{"yts", "eztv", "rarbg", "1337x", "thepiratebay", "kickasstorrents", "torrentgalaxy", "nyaasi"},
	PriorityLanguage: "spanish",
	Timeout:          8 * time.Second,
}

// AggregatorClient queries a torrentio-compatible aggregator. One logical
// lookup walks a language configuration chain (priority language, no
// language filter, english) and returns the first non-empty result.
type AggregatorClient struct {
	opts       AggregatorOptions
	httpClient *http.Client
	logger     *zap.Logger
}

func NewAggregatorClient(opts AggregatorOptions, logger *zap.Logger) *AggregatorClient {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultAggregatorOpts.BaseURL
	}
	if len(opts.Providers) == 0 {
		opts.Providers = DefaultAggregatorOpts.Providers
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultAggregatorOpts.Timeout
	}
	return &AggregatorClient{
		opts: opts,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		logger: logger,
	}
}

// languageChain is the ordered set of language configurations to try. The
// empty string means no language filter.
func (c *AggregatorClient) languageChain() []string {
	chain := []string{}
	if c.opts.PriorityLanguage != "" {
		chain = append(chain, c.opts.PriorityLanguage)
	}
	chain = append(chain, "")
	if c.opts.PriorityLanguage != "english" {
		chain = append(chain, "english")
	}
	return chain
}

// Find resolves a content ID through the aggregator. It walks the language
// chain and returns the first configuration's non-empty descriptor list. An
// error is only returned when every configuration failed; empty everywhere
// yields an empty slice and no error.
func (c *AggregatorClient) Find(ctx context.Context, contentType, contentID string) ([]magnet.Descriptor, error) {
	var lastErr error
	for _, language := range c.languageChain() {
		label := language
		if label == "" {
			label = "default"
		}
		descriptors, err := c.fetch(ctx, contentType, contentID, language)
		if err != nil {
			telemetry.AggregatorRequests.WithLabelValues(label, "error").Inc()
			c.logger.Warn("Aggregator request failed",
				zap.String("language", label), zap.String("contentID", contentID), zap.Error(err))
			lastErr = err
			continue
		}
		if len(descriptors) == 0 {
			telemetry.AggregatorRequests.WithLabelValues(label, "empty").Inc()
			continue
		}
		telemetry.AggregatorRequests.WithLabelValues(label, "success").Inc()
		return descriptors, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, nil
}

func (c *AggregatorClient) buildURL(contentType, contentID, language string) string {
	config := "providers=" + strings.Join(c.opts.Providers, ",")
	if language != "" {
		config += "|language=" + language
	}
	return fmt.Sprintf("%s/%s/stream/%s/%s.json", c.opts.BaseURL, config, contentType, contentID)
}

func (c *AggregatorClient) fetch(ctx context.Context, contentType, contentID, language string) ([]magnet.Descriptor, error) {
	reqURL := c.buildURL(contentType, contentID, language)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("Couldn't create request object: %v", err)
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Couldn't GET %v: %w", reqURL, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Bad GET response: %v", res.StatusCode)
	}
	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("Couldn't read response body: %v", err)
	}

	_, season, episode := magnet.SplitEpisodeID(contentID)
	var descriptors []magnet.Descriptor
	gjson.GetBytes(resBody, "streams").ForEach(func(_, stream gjson.Result) bool {
		descriptor, ok := c.parseStream(stream, contentID, season, episode, language)
		if ok {
			descriptors = append(descriptors, descriptor)
		}
		return true
	})
	return descriptors, nil
}

var (
	aggregatorSizeRegex    = regexp.MustCompile(`💾\s*([\d.]+\s*[KMGT]B)`)
	aggregatorSeedersRegex = regexp.MustCompile(`👤\s*(\d+)`)
)

// parseStream converts one aggregator stream object into a descriptor.
// Streams without an info hash are dropped.
func (c *AggregatorClient) parseStream(stream gjson.Result, contentID string, season, episode int, language string) (magnet.Descriptor, bool) {
	infoHash := strings.ToLower(stream.Get("infoHash").String())
	if infoHash == "" {
		infoHash = magnet.InfoHashFromMagnet(stream.Get("url").String())
	}
	if len(infoHash) != 40 {
		return magnet.Descriptor{}, false
	}

	title := stream.Get("title").String()
	// The first title line is the release name, the rest is decoration
	// (size, seeders, provider flags).
	displayName := title
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		displayName = title[:i]
	}

	var sizeBytes int64
	if match := aggregatorSizeRegex.FindStringSubmatch(title); match != nil {
		sizeBytes = magnet.ParseSize(match[1])
	}
	seeders := 0
	if match := aggregatorSeedersRegex.FindStringSubmatch(title); match != nil {
		seeders = atoiField(match[1])
	}

	var trackers []string
	stream.Get("sources").ForEach(func(_, source gjson.Result) bool {
		if t, ok := strings.CutPrefix(source.String(), "tracker:"); ok {
			trackers = append(trackers, t)
		}
		return true
	})
	trackers = magnet.FilterTrackers(trackers)

	fileIndex := -1
	if idx := stream.Get("fileIdx"); idx.Exists() {
		fileIndex = int(idx.Int())
	}

	descriptor := magnet.Descriptor{
		ContentID:   contentID,
		InfoHash:    infoHash,
		MagnetURI:   magnet.BuildMagnetURI(infoHash, displayName, trackers),
		DisplayName: displayName,
		Quality:     magnet.ParseQuality(displayName),
		SizeBytes:   sizeBytes,
		Seeders:     seeders,
		Provider:    "aggregator",
		Language:    language,
		Season:      season,
		Episode:     episode,
		Filename:    stream.Get("behaviorHints.filename").String(),
		FileIndex:   fileIndex,
		Trackers:    trackers,
		Features:    magnet.DetectFeatures(displayName),
	}
	return descriptor, true
}
