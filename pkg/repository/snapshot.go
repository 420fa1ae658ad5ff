// Package repository implements the magnet lookup tiers: indexed in-memory
// snapshot stores, the remote aggregator client, and the cascading repository
// that orders them.
package repository

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/torrentera/torrentera-stremio/pkg/magnet"
	"github.com/torrentera/torrentera-stremio/pkg/telemetry"
)

// QueryOptions narrows a lookup to a season/episode pair. Zero means "not
// requested" for either side.
type QueryOptions struct {
	Season  int
	Episode int
}

// Store is one local lookup tier.
type Store interface {
	Name() string
	ByContentID(ctx context.Context, contentID, contentType string, opt QueryOptions) ([]magnet.Descriptor, error)
}

// SnapshotOptions configures a snapshot store. Exactly one of Path and URL
// should be set; Path wins when both are.
type SnapshotOptions struct {
	Name    string
	Path    string
	URL     string
	Timeout time.Duration
}

var _ Store = (*SnapshotStore)(nil)

// SnapshotStore loads a tabular snapshot of magnet descriptors into memory
// and serves exact content-ID lookups from an index. The snapshot is loaded
// lazily on the first query; a failed load surfaces its error and is retried
// on the next query, only a successful load is final.
//
// Storage is a flat descriptor slice plus an index from content ID to
// positions, so rows with several index keys (content_id and a distinct
// legacy imdb_id) share one descriptor.
type SnapshotStore struct {
	opts       SnapshotOptions
	fs         afero.Fs
	httpClient *http.Client
	logger     *zap.Logger

	initMu sync.Mutex
	loaded bool

	mu          sync.RWMutex
	descriptors []magnet.Descriptor
	index       map[string][]int
}

// NewSnapshotStore creates a snapshot store reading local files through fs.
func NewSnapshotStore(opts SnapshotOptions, fs afero.Fs, logger *zap.Logger) *SnapshotStore {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &SnapshotStore{
		opts: opts,
		fs:   fs,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		logger: logger,
	}
}

func (s *SnapshotStore) Name() string {
	return s.opts.Name
}

// ByContentID returns every descriptor indexed under the ID, filtered by the
// query options. A missing ID yields an empty slice and no error.
func (s *SnapshotStore) ByContentID(ctx context.Context, contentID, contentType string, opt QueryOptions) ([]magnet.Descriptor, error) {
	if err := s.init(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	positions := s.index[contentID]
	// The caller may pass a base ID with the episode in the options while the
	// snapshot indexes the full "id:S:E" form.
	if len(positions) == 0 && opt.Season > 0 && opt.Episode > 0 {
		episodeKey := fmt.Sprintf("%s:%d:%d", contentID, opt.Season, opt.Episode)
		positions = s.index[episodeKey]
	}
	var results []magnet.Descriptor
	for _, pos := range positions {
		results = append(results, s.descriptors[pos])
	}
	s.mu.RUnlock()

	if needsEpisodeFilter(contentType, opt) {
		filtered := results[:0:0]
		for _, d := range results {
			if d.MatchesEpisode(opt.Season, opt.Episode) {
				filtered = append(filtered, d)
			}
		}
		results = filtered
	}
	return results, nil
}

func needsEpisodeFilter(contentType string, opt QueryOptions) bool {
	if contentType != "series" && contentType != "anime" {
		return false
	}
	return opt.Season > 0 || opt.Episode > 0
}

// Len reports the number of loaded descriptors (0 before the first query).
func (s *SnapshotStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.descriptors)
}

// Close releases nothing today (the snapshot file is closed after loading)
// but keeps the teardown contract uniform across stores.
func (s *SnapshotStore) Close() error {
	return nil
}

func (s *SnapshotStore) init() error {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if s.loaded {
		return nil
	}

	// Load under the store's own timeout, detached from the triggering
	// query. A canceled first caller must not fail the load for everyone
	// queued behind it.
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout)
	defer cancel()

	start := time.Now()
	reader, closer, err := s.open(ctx)
	if err != nil {
		return err
	}
	defer closer.Close()

	count, err := s.load(reader)
	if err != nil {
		return err
	}
	s.loaded = true
	s.logger.Info("Loaded snapshot",
		zap.String("store", s.opts.Name),
		zap.Int("descriptors", count),
		zap.Duration("duration", time.Since(start)))
	return nil
}

func (s *SnapshotStore) open(ctx context.Context) (io.Reader, io.Closer, error) {
	if s.opts.Path != "" {
		file, err := s.fs.Open(s.opts.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("Couldn't open snapshot file %v: %w", s.opts.Path, err)
		}
		return file, file, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.opts.URL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("Couldn't create request object: %v", err)
	}
	res, err := s.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("Couldn't GET %v: %w", s.opts.URL, err)
	}
	if res.StatusCode != http.StatusOK {
		res.Body.Close()
		return nil, nil, fmt.Errorf("Bad GET response: %v", res.StatusCode)
	}
	return res.Body, res.Body, nil
}

// load streams the snapshot row by row; malformed rows are logged and
// skipped, never fatal.
func (s *SnapshotStore) load(r io.Reader) (int, error) {
	csvReader := csv.NewReader(r)
	csvReader.FieldsPerRecord = -1

	header, err := csvReader.Read()
	if err != nil {
		return 0, fmt.Errorf("Couldn't read snapshot header: %w", err)
	}
	columns := map[string]int{}
	for i, name := range header {
		columns[strings.TrimSpace(strings.ToLower(name))] = i
	}
	for _, required := range []string{"content_id", "name", "magnet", "quality", "size"} {
		if _, ok := columns[required]; !ok {
			return 0, fmt.Errorf("Snapshot is missing the required column %q", required)
		}
	}

	var descriptors []magnet.Descriptor
	index := map[string][]int{}
	row := 1
	for {
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			s.logger.Warn("Skipping malformed snapshot row",
				zap.String("store", s.opts.Name), zap.Int("row", row), zap.Error(err))
			continue
		}
		descriptor, legacyID, ok := s.parseRow(record, columns, row)
		if !ok {
			continue
		}
		pos := len(descriptors)
		descriptors = append(descriptors, descriptor)
		index[descriptor.ContentID] = append(index[descriptor.ContentID], pos)
		if legacyID != "" && legacyID != descriptor.ContentID {
			index[legacyID] = append(index[legacyID], pos)
		}
	}

	s.mu.Lock()
	s.descriptors = descriptors
	s.index = index
	s.mu.Unlock()
	return len(descriptors), nil
}

func (s *SnapshotStore) parseRow(record []string, columns map[string]int, row int) (magnet.Descriptor, string, bool) {
	field := func(name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	contentID := field("content_id")
	magnetURI := field("magnet")
	if contentID == "" || magnetURI == "" {
		s.logger.Warn("Skipping snapshot row without content_id or magnet",
			zap.String("store", s.opts.Name), zap.Int("row", row))
		return magnet.Descriptor{}, "", false
	}
	infoHash := magnet.InfoHashFromMagnet(magnetURI)
	if infoHash == "" {
		s.logger.Warn("Skipping snapshot row without a usable info hash",
			zap.String("store", s.opts.Name), zap.Int("row", row), zap.String("contentID", contentID))
		return magnet.Descriptor{}, "", false
	}

	name := field("name")
	descriptor := magnet.Descriptor{
		ContentID:   contentID,
		InfoHash:    infoHash,
		MagnetURI:   magnetURI,
		DisplayName: name,
		Quality:     magnet.ParseQuality(field("quality")),
		SizeBytes:   magnet.ParseSize(field("size")),
		Provider:    field("provider"),
		Language:    field("language"),
		Fansub:      field("fansub"),
		Filename:    field("filename"),
		FileIndex:   -1,
		Features:    magnet.DetectFeatures(name),
	}
	if descriptor.Quality == magnet.QualityUnknown {
		descriptor.Quality = magnet.ParseQuality(name)
	}
	descriptor.Seeders = atoiField(field("seeders"))
	descriptor.Leechers = atoiField(field("peers"))
	descriptor.Season = atoiField(field("season"))
	descriptor.Episode = atoiField(field("episode"))
	if descriptor.Season == 0 && descriptor.Episode == 0 {
		_, season, episode := magnet.SplitEpisodeID(contentID)
		descriptor.Season = season
		descriptor.Episode = episode
	}

	return descriptor, field("imdb_id"), true
}

func atoiField(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// recordLookupOutcome feeds the per-store telemetry.
func recordLookupOutcome(store string, results []magnet.Descriptor, err error) {
	switch {
	case err != nil:
		telemetry.StoreLookups.WithLabelValues(store, "error").Inc()
	case len(results) == 0:
		telemetry.StoreLookups.WithLabelValues(store, "empty").Inc()
	default:
		telemetry.StoreLookups.WithLabelValues(store, "hit").Inc()
	}
}
