package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/torrentera/torrentera-stremio/pkg/magnet"
)

var _ Provider = (*CineCalidad)(nil)

// CineCalidad scrapes a Latino-dubbed release site. Search results carry the
// magnet links inline, so one request covers a whole query.
type CineCalidad struct {
	baseProvider
	httpClient *http.Client
}

func NewCineCalidad(config ProviderConfig, logger *zap.Logger) *CineCalidad {
	base := newBaseProvider(config, logger)
	return &CineCalidad{
		baseProvider: base,
		httpClient: &http.Client{
			Timeout: base.config.Timeout,
		},
	}
}

func (p *CineCalidad) Search(ctx context.Context, q Query) ([]magnet.Descriptor, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	descriptors, err := p.search(ctx, q)
	p.recordOutcome(err)
	return descriptors, err
}

func (p *CineCalidad) search(ctx context.Context, q Query) ([]magnet.Descriptor, error) {
	term := q.Title
	if q.Year > 0 {
		term = fmt.Sprintf("%s %d", q.Title, q.Year)
	}
	reqURL := p.config.BaseURL + "/?s=" + url.QueryEscape(term)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("Couldn't create request object: %v", err)
	}
	res, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Couldn't GET %v: %w", reqURL, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Bad GET response: %v", res.StatusCode)
	}
	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return nil, fmt.Errorf("Couldn't parse response body: %v", err)
	}

	var descriptors []magnet.Descriptor
	doc.Find("article").Each(func(_ int, article *goquery.Selection) {
		title := strings.TrimSpace(article.Find("h2, h3, .title").First().Text())
		if title == "" || !titleMatches(q.Title, title, 0.6) {
			return
		}
		article.Find("a[href^='magnet:']").Each(func(_ int, link *goquery.Selection) {
			magnetURI, ok := link.Attr("href")
			if !ok {
				return
			}
			infoHash := magnet.InfoHashFromMagnet(magnetURI)
			if infoHash == "" {
				p.logger.Debug("Skipping magnet link without a usable info hash",
					zap.String("provider", p.config.ID), zap.String("title", title))
				return
			}
			descriptors = append(descriptors, magnet.Descriptor{
				InfoHash:    infoHash,
				MagnetURI:   magnetURI,
				DisplayName: title,
				Quality:     magnet.ParseQuality(link.Text() + " " + title),
				SizeBytes:   magnet.ParseSize(article.Text()),
				Provider:    p.config.ID,
				Language:    "latino",
				Season:      q.Season,
				Episode:     q.Episode,
				FileIndex:   -1,
				Features:    magnet.DetectFeatures(title),
			})
		})
	})
	// Declared ranking bias: seeders first, quality as the tiebreak.
	magnet.SortBySeedersThenQuality(descriptors)
	return descriptors, nil
}

// Stats snapshots the provider's counters.
func (p *CineCalidad) Stats() ProviderStats {
	return p.stats()
}
