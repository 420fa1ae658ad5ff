// Package metadata enriches stream responses with title and year from a
// Cinemeta-compatible metadata service.
package metadata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Meta is the enrichment record for one content ID.
type Meta struct {
	Title string
	Year  int
	Type  string
}

type ClientOptions struct {
	BaseURL  string
	Timeout  time.Duration
	CacheAge time.Duration
}

func NewClientOpts(baseURL string, timeout, cacheAge time.Duration) ClientOptions {
	return ClientOptions{
		BaseURL:  baseURL,
		Timeout:  timeout,
		CacheAge: cacheAge,
	}
}

var DefaultClientOpts = ClientOptions{
	BaseURL: "https://v3-cinemeta.strem.io",
	Timeout: 5 * time.Second,
	// Metadata is essentially static.
	CacheAge: 30 * 24 * time.Hour,
}

// Client fetches metadata records, caching them aggressively.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      *gocache.Cache
	cacheAge   time.Duration
	logger     *zap.Logger
}

func NewClient(opts ClientOptions, logger *zap.Logger) *Client {
	return &Client{
		baseURL: opts.BaseURL,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		cache:    gocache.New(opts.CacheAge, 12*time.Hour),
		cacheAge: opts.CacheAge,
		logger:   logger,
	}
}

// Get fetches the metadata record for a content ID. The content type must be
// the service's notion ("movie" or "series"; anime resolves via "series").
func (c *Client) Get(ctx context.Context, contentType, id string) (Meta, error) {
	if contentType == "anime" || contentType == "tv" {
		contentType = "series"
	}
	cacheKey := contentType + ":" + id
	if cached, found := c.cache.Get(cacheKey); found {
		if meta, ok := cached.(Meta); ok {
			c.logger.Debug("Hit cache for metadata", zap.String("id", id))
			return meta, nil
		}
	}

	reqURL := c.baseURL + "/meta/" + contentType + "/" + id + ".json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Meta{}, fmt.Errorf("Couldn't create request object: %v", err)
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return Meta{}, fmt.Errorf("Couldn't GET %v: %w", reqURL, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return Meta{}, fmt.Errorf("Bad GET response: %v", res.StatusCode)
	}
	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return Meta{}, fmt.Errorf("Couldn't read response body: %v", err)
	}

	name := gjson.GetBytes(resBody, "meta.name").String()
	if name == "" {
		return Meta{}, fmt.Errorf("Couldn't find a name in the metadata response for %v", id)
	}
	meta := Meta{
		Title: name,
		Type:  gjson.GetBytes(resBody, "meta.type").String(),
	}
	if yearString := gjson.GetBytes(resBody, "meta.year").String(); yearString != "" {
		if len(yearString) > 4 {
			yearString = yearString[:4]
		}
		if year, err := strconv.Atoi(yearString); err == nil {
			meta.Year = year
		} else {
			c.logger.Warn("Couldn't convert metadata year to int", zap.String("year", yearString))
		}
	}

	c.cache.Set(cacheKey, meta, c.cacheAge)
	return meta, nil
}
