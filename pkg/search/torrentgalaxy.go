package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/torrentera/torrentera-stremio/pkg/magnet"
)

var _ Provider = (*TorrentGalaxy)(nil)

// TorrentGalaxy queries a JSON search API. It leans towards high-bitrate 4K
// releases, so its results mostly top the size ordering.
type TorrentGalaxy struct {
	baseProvider
	httpClient *http.Client
	trackers   []string
}

// defaultTrackers is appended to magnets built from bare info hashes.
var defaultTrackers = []string{
	"udp://tracker.opentrackr.org:1337/announce",
	"udp://open.stealth.si:80/announce",
	"udp://tracker.torrent.eu.org:451/announce",
}

func NewTorrentGalaxy(config ProviderConfig, logger *zap.Logger) *TorrentGalaxy {
	base := newBaseProvider(config, logger)
	return &TorrentGalaxy{
		baseProvider: base,
		httpClient: &http.Client{
			Timeout: base.config.Timeout,
		},
		trackers: defaultTrackers,
	}
}

func (p *TorrentGalaxy) Search(ctx context.Context, q Query) ([]magnet.Descriptor, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	descriptors, err := p.search(ctx, q)
	p.recordOutcome(err)
	return descriptors, err
}

func (p *TorrentGalaxy) search(ctx context.Context, q Query) ([]magnet.Descriptor, error) {
	term := q.Title
	if tag := episodeTag(q.Season, q.Episode); tag != "" {
		term += " " + tag
	} else if q.Year > 0 {
		term = fmt.Sprintf("%s %d", q.Title, q.Year)
	}
	reqURL := p.config.BaseURL + "/api/v1/search?q=" + url.QueryEscape(term)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("Couldn't create request object: %v", err)
	}
	res, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Couldn't GET %v: %w", reqURL, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("Rate limited by %v (429)", p.config.ID)
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Bad GET response: %v", res.StatusCode)
	}
	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("Couldn't read response body: %v", err)
	}

	var descriptors []magnet.Descriptor
	gjson.GetBytes(resBody, "results").ForEach(func(_, result gjson.Result) bool {
		name := result.Get("name").String()
		if !titleMatches(q.Title, name, 0.6) {
			return true
		}
		infoHash := magnet.InfoHashFromMagnet("btih:" + result.Get("info_hash").String())
		if infoHash == "" {
			p.logger.Debug("Skipping result without a usable info hash",
				zap.String("provider", p.config.ID), zap.String("name", name))
			return true
		}
		descriptor := magnet.Descriptor{
			InfoHash:    infoHash,
			MagnetURI:   magnet.BuildMagnetURI(infoHash, name, p.trackers),
			DisplayName: name,
			Quality:     magnet.ParseQuality(name),
			SizeBytes:   result.Get("size").Int(),
			Seeders:     int(result.Get("seeders").Int()),
			Leechers:    int(result.Get("leechers").Int()),
			Provider:    p.config.ID,
			Language:    result.Get("language").String(),
			Season:      q.Season,
			Episode:     q.Episode,
			FileIndex:   -1,
			Trackers:    p.trackers,
			Features:    magnet.DetectFeatures(name),
		}
		if uploaded := result.Get("uploaded").String(); uploaded != "" {
			if t, err := time.Parse(time.RFC3339, uploaded); err == nil {
				descriptor.UploadedAt = t
			}
		}
		descriptors = append(descriptors, descriptor)
		return true
	})
	// The site's specialty is 4K, its ranking bias puts 2160p on top.
	magnet.SortByQualityThenSeeders(descriptors)
	return descriptors, nil
}

// Stats snapshots the provider's counters.
func (p *TorrentGalaxy) Stats() ProviderStats {
	return p.stats()
}
