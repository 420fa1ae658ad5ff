package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/torrentera/torrentera-stremio/pkg/cache"
	"github.com/torrentera/torrentera-stremio/pkg/fault"
	"github.com/torrentera/torrentera-stremio/pkg/ids"
	"github.com/torrentera/torrentera-stremio/pkg/magnet"
	"github.com/torrentera/torrentera-stremio/pkg/metadata"
	"github.com/torrentera/torrentera-stremio/pkg/stream"
)

type fakeRepo struct {
	results map[string][]magnet.Descriptor
	ferr    *fault.Error
	calls   int
}

func (f *fakeRepo) Find(ctx context.Context, contentType, contentID string, idType ids.Type) ([]magnet.Descriptor, *fault.Error) {
	f.calls++
	if f.ferr != nil {
		return nil, f.ferr
	}
	if descriptors, ok := f.results[contentID]; ok {
		return descriptors, nil
	}
	return nil, fault.NotFound(contentID)
}

type fakeMetadata struct {
	meta metadata.Meta
	err  error
}

func (f *fakeMetadata) Get(ctx context.Context, contentType, id string) (metadata.Meta, error) {
	return f.meta, f.err
}

type fakeConverter struct {
	mapping map[string]string
}

func (f *fakeConverter) Convert(ctx context.Context, rawID string, target ids.Type) ids.ConversionResult {
	if converted, ok := f.mapping[rawID]; ok {
		return ids.ConversionResult{Success: true, ConvertedID: converted, Method: "mapping"}
	}
	return ids.ConversionResult{Success: false}
}

func newTestPipeline(t *testing.T, repo Repository, meta MetadataSource, converter Converter) *Pipeline {
	t.Helper()
	logger := zap.NewNop()
	responseCache := cache.New(cache.Options{Name: "test"}, logger)
	t.Cleanup(responseCache.Stop)
	return New(DefaultOptions,
		ids.NewValidator(ids.NewDetector(), logger),
		converter, meta, repo,
		stream.NewAssembler(logger),
		responseCache, logger)
}

func movieDescriptor() magnet.Descriptor {
	return magnet.Descriptor{
		ContentID:   "tt0111161",
		InfoHash:    "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		MagnetURI:   "magnet:?xt=urn:btih:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		DisplayName: "Movie.1994.1080p.BluRay",
		Quality:     magnet.Quality1080p,
		SizeBytes:   2684354560,
		Seeders:     500,
		FileIndex:   -1,
	}
}

func TestHandleMovieRequest(t *testing.T) {
	repo := &fakeRepo{results: map[string][]magnet.Descriptor{
		"tt0111161": {movieDescriptor()},
	}}
	p := newTestPipeline(t, repo, &fakeMetadata{meta: metadata.Meta{Title: "Some Movie", Year: 1994}}, &fakeConverter{})

	response := p.Handle(context.Background(), Request{Type: "movie", ID: "tt0111161"})
	require.Empty(t, response.Error)
	require.Len(t, response.Streams, 1)
	require.Equal(t, "🎬 1080p | Unknown (500S)", response.Streams[0].Name)
	require.Equal(t, int64(2684354560), response.Streams[0].BehaviorHints.VideoSize)
	require.Contains(t, response.Streams[0].Description, "Some Movie (1994)")
	require.Greater(t, response.CacheMaxAge, 0)
}

func TestHandleCachesResponses(t *testing.T) {
	repo := &fakeRepo{results: map[string][]magnet.Descriptor{
		"tt0111161": {movieDescriptor()},
	}}
	p := newTestPipeline(t, repo, nil, nil)

	first := p.Handle(context.Background(), Request{Type: "movie", ID: "tt0111161"})
	second := p.Handle(context.Background(), Request{Type: "movie", ID: "tt0111161"})
	require.Equal(t, first, second)
	require.Equal(t, 1, repo.calls)
}

func TestHandleInvalidID(t *testing.T) {
	repo := &fakeRepo{}
	p := newTestPipeline(t, repo, nil, nil)

	response := p.Handle(context.Background(), Request{Type: "movie", ID: "garbage"})
	require.Empty(t, response.Streams)
	require.Equal(t, "VALIDATION", response.ErrorType)
	require.NotEmpty(t, response.Error)
	require.Equal(t, 60, response.CacheMaxAge)
	// The repository is never consulted for an invalid id.
	require.Zero(t, repo.calls)
}

func TestHandleNotFound(t *testing.T) {
	p := newTestPipeline(t, &fakeRepo{}, nil, nil)

	response := p.Handle(context.Background(), Request{Type: "movie", ID: "tt9999999"})
	require.NotNil(t, response.Streams)
	require.Empty(t, response.Streams)
	// A miss is a normal outcome, not an error envelope.
	require.Empty(t, response.Error)
	require.Equal(t, 300, response.CacheMaxAge)
}

func TestHandleTransientFailure(t *testing.T) {
	repo := &fakeRepo{ferr: fault.New(fault.KindTimeout, "upstream too slow")}
	p := newTestPipeline(t, repo, nil, nil)

	response := p.Handle(context.Background(), Request{Type: "movie", ID: "tt0111161"})
	require.Empty(t, response.Streams)
	require.Equal(t, "TIMEOUT", response.ErrorType)
	require.Equal(t, 30, response.CacheMaxAge)
}

func TestHandleRateLimitEnvelope(t *testing.T) {
	repo := &fakeRepo{ferr: fault.New(fault.KindRateLimit, "slow down")}
	p := newTestPipeline(t, repo, nil, nil)

	response := p.Handle(context.Background(), Request{Type: "movie", ID: "tt0111161"})
	require.Equal(t, "RATE_LIMIT", response.ErrorType)
	require.Equal(t, 900, response.CacheMaxAge)
}

func TestHandleAnimeWithConversionRetry(t *testing.T) {
	// The anime ID itself resolves nowhere, but its IMDb alias does.
	repo := &fakeRepo{
		ferr: fault.New(fault.KindNetwork, "anime tier down"),
	}
	converter := &fakeConverter{mapping: map[string]string{"kitsu:11665": "tt2560140"}}
	p := newTestPipeline(t, repo, nil, converter)

	// First Find fails with a transient error, the retry with the converted
	// ID happens against the same repo (still failing here) - the envelope
	// keeps the transient kind either way.
	response := p.Handle(context.Background(), Request{Type: "anime", ID: "kitsu:11665"})
	require.Equal(t, "NETWORK", response.ErrorType)
	require.Equal(t, 2, repo.calls)
}

func TestHandleAnimeConvertedLookupSucceeds(t *testing.T) {
	descriptor := movieDescriptor()
	descriptor.ContentID = "tt2560140"
	repo := &convertAwareRepo{converted: "tt2560140", results: []magnet.Descriptor{descriptor}}
	converter := &fakeConverter{mapping: map[string]string{"kitsu:11665": "tt2560140"}}
	p := newTestPipeline(t, repo, nil, converter)

	response := p.Handle(context.Background(), Request{Type: "anime", ID: "kitsu:11665"})
	require.Empty(t, response.Error)
	require.Len(t, response.Streams, 1)
	// Anime IDs get the anime marker.
	require.Contains(t, response.Streams[0].Name, "🎌")
}

// convertAwareRepo fails for anything but the converted ID.
type convertAwareRepo struct {
	converted string
	results   []magnet.Descriptor
}

func (r *convertAwareRepo) Find(ctx context.Context, contentType, contentID string, idType ids.Type) ([]magnet.Descriptor, *fault.Error) {
	if contentID == r.converted {
		return r.results, nil
	}
	return nil, fault.New(fault.KindNetwork, "tier down")
}

func TestHandleEpisodeRequest(t *testing.T) {
	episode := movieDescriptor()
	episode.ContentID = "tt0903747:5:14"
	episode.Season, episode.Episode = 5, 14
	repo := &fakeRepo{results: map[string][]magnet.Descriptor{
		"tt0903747:5:14": {episode},
	}}
	p := newTestPipeline(t, repo, nil, nil)

	response := p.Handle(context.Background(), Request{Type: "series", ID: "tt0903747:5:14"})
	require.Len(t, response.Streams, 1)
	require.Contains(t, response.Streams[0].Name, "T5E14")
}

func TestHandleMetadataFailureDegrades(t *testing.T) {
	repo := &fakeRepo{results: map[string][]magnet.Descriptor{
		"tt0111161": {movieDescriptor()},
	}}
	p := newTestPipeline(t, repo, &fakeMetadata{err: context.DeadlineExceeded}, nil)

	response := p.Handle(context.Background(), Request{Type: "movie", ID: "tt0111161"})
	require.Empty(t, response.Error)
	require.Len(t, response.Streams, 1)
}
