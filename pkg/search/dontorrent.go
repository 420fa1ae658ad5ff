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

// maxDetailPages bounds how many result detail pages one search fetches.
const maxDetailPages = 5

var _ Provider = (*DonTorrent)(nil)

// DonTorrent scrapes a Spanish release site. The search page only lists
// links to detail pages, so each hit costs a second request; the magnet URI
// lives on the detail page.
type DonTorrent struct {
	baseProvider
	httpClient *http.Client
}

func NewDonTorrent(config ProviderConfig, logger *zap.Logger) *DonTorrent {
	base := newBaseProvider(config, logger)
	return &DonTorrent{
		baseProvider: base,
		httpClient: &http.Client{
			Timeout: base.config.Timeout,
		},
	}
}

func (p *DonTorrent) Search(ctx context.Context, q Query) ([]magnet.Descriptor, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	descriptors, err := p.search(ctx, q)
	p.recordOutcome(err)
	return descriptors, err
}

func (p *DonTorrent) search(ctx context.Context, q Query) ([]magnet.Descriptor, error) {
	term := q.Title
	if tag := episodeTag(q.Season, q.Episode); tag != "" {
		term += " " + tag
	}
	reqURL := p.config.BaseURL + "/buscar/" + url.PathEscape(term)
	doc, err := p.fetchDocument(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	type hit struct {
		title string
		href  string
	}
	var hits []hit
	doc.Find("a[href*='/descargar/']").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		title := strings.TrimSpace(sel.Text())
		if title == "" || !titleMatches(q.Title, title, 0.5) {
			return
		}
		hits = append(hits, hit{title: title, href: href})
	})

	var descriptors []magnet.Descriptor
	for _, h := range hits {
		if len(descriptors) >= maxDetailPages {
			break
		}
		descriptor, err := p.fetchDetail(ctx, h.href, h.title, q)
		if err != nil {
			p.logger.Debug("Couldn't scrape detail page",
				zap.String("provider", p.config.ID), zap.String("href", h.href), zap.Error(err))
			continue
		}
		descriptors = append(descriptors, descriptor)
	}
	// Declared ranking bias: seeders where the site reports them, quality
	// otherwise. Listing order on the search page means nothing.
	magnet.SortBySeedersThenQuality(descriptors)
	return descriptors, nil
}

func (p *DonTorrent) fetchDetail(ctx context.Context, href, title string, q Query) (magnet.Descriptor, error) {
	if strings.HasPrefix(href, "/") {
		href = p.config.BaseURL + href
	}
	doc, err := p.fetchDocument(ctx, href)
	if err != nil {
		return magnet.Descriptor{}, err
	}
	magnetURI, ok := doc.Find("a[href^='magnet:']").First().Attr("href")
	if !ok {
		return magnet.Descriptor{}, fmt.Errorf("No magnet link on %v", href)
	}
	infoHash := magnet.InfoHashFromMagnet(magnetURI)
	if infoHash == "" {
		return magnet.Descriptor{}, fmt.Errorf("Magnet link on %v has no usable info hash", href)
	}

	var sizeBytes int64
	doc.Find("b, strong, td").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if size := magnet.ParseSize(sel.Text()); size > 0 {
			sizeBytes = size
			return false
		}
		return true
	})

	return magnet.Descriptor{
		InfoHash:    infoHash,
		MagnetURI:   magnetURI,
		DisplayName: title,
		Quality:     magnet.ParseQuality(title),
		SizeBytes:   sizeBytes,
		Provider:    p.config.ID,
		Language:    "spanish",
		Season:      q.Season,
		Episode:     q.Episode,
		FileIndex:   -1,
		Features:    magnet.DetectFeatures(title),
	}, nil
}

func (p *DonTorrent) fetchDocument(ctx context.Context, reqURL string) (*goquery.Document, error) {
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
	return doc, nil
}

// Stats snapshots the provider's counters.
func (p *DonTorrent) Stats() ProviderStats {
	return p.stats()
}
