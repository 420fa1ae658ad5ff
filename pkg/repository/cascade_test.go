package repository

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/torrentera/torrentera-stremio/pkg/cache"
	"github.com/torrentera/torrentera-stremio/pkg/fault"
	"github.com/torrentera/torrentera-stremio/pkg/ids"
	"github.com/torrentera/torrentera-stremio/pkg/magnet"
)

type fakeStore struct {
	name    string
	results []magnet.Descriptor
	err     error
	calls   atomic.Int64
}

func (f *fakeStore) Name() string { return f.name }

func (f *fakeStore) ByContentID(ctx context.Context, contentID, contentType string, opt QueryOptions) ([]magnet.Descriptor, error) {
	f.calls.Add(1)
	return f.results, f.err
}

func descriptorFixture(infoHash string, size int64) magnet.Descriptor {
	return magnet.Descriptor{
		ContentID:   "tt0111161",
		InfoHash:    infoHash,
		MagnetURI:   "magnet:?xt=urn:btih:" + infoHash,
		DisplayName: "Fixture." + infoHash[:4],
		Quality:     magnet.Quality1080p,
		SizeBytes:   size,
		FileIndex:   -1,
	}
}

func newTestCascade(t *testing.T, stores []Store, aggregator *AggregatorClient) *Cascade {
	t.Helper()
	router := fault.NewRouter(fault.RouterOptions{
		Retry:           fault.RetryPolicy{Attempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		BreakerCooldown: time.Minute,
	}, zap.NewNop())
	resultCache := cache.New(cache.Options{Name: "test"}, zap.NewNop())
	t.Cleanup(resultCache.Stop)
	return NewCascade(DefaultCascadeOpts, stores, aggregator, router, resultCache, zap.NewNop())
}

func TestCascadeMergesAndSortsLocalStores(t *testing.T) {
	small := descriptorFixture("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", 100)
	big := descriptorFixture("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", 900)
	stores := []Store{
		&fakeStore{name: "one", results: []magnet.Descriptor{small}},
		&fakeStore{name: "two", results: []magnet.Descriptor{big, small}}, // small is a duplicate
	}
	c := newTestCascade(t, stores, nil)

	descriptors, ferr := c.Find(context.Background(), "movie", "tt0111161", ids.TypeIMDB)
	require.Nil(t, ferr)
	require.Len(t, descriptors, 2)
	// Sorted by size descending.
	require.Equal(t, big.InfoHash, descriptors[0].InfoHash)
}

func TestCascadePartialStoreFailure(t *testing.T) {
	good := descriptorFixture("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", 100)
	stores := []Store{
		&fakeStore{name: "broken", err: errors.New("disk error")},
		&fakeStore{name: "working", results: []magnet.Descriptor{good}},
	}
	c := newTestCascade(t, stores, nil)

	descriptors, ferr := c.Find(context.Background(), "movie", "tt0111161", ids.TypeIMDB)
	require.Nil(t, ferr)
	require.Len(t, descriptors, 1)
}

func TestCascadeExhaustionSkipsEmptyStores(t *testing.T) {
	empty := &fakeStore{name: "empty"}
	full := &fakeStore{name: "full", results: []magnet.Descriptor{descriptorFixture("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", 100)}}
	c := newTestCascade(t, []Store{empty, full}, nil)

	_, ferr := c.Find(context.Background(), "movie", "tt0111161", ids.TypeIMDB)
	require.Nil(t, ferr)
	require.Equal(t, int64(1), empty.calls.Load())

	// The result was cached, clear it to force a second lookup.
	c.cache.Clear()

	_, ferr = c.Find(context.Background(), "movie", "tt0111161", ids.TypeIMDB)
	require.Nil(t, ferr)
	// The empty store was skipped, the full one queried again.
	require.Equal(t, int64(1), empty.calls.Load())
	require.Equal(t, int64(2), full.calls.Load())
}

func TestCascadeFallsBackToAggregator(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"streams": [{"title": "Agg.Result.1080p\n👤 10 💾 1.0 GB", "infoHash": "cccccccccccccccccccccccccccccccccccccccc"}]}`))
	}))
	t.Cleanup(server.Close)
	aggregator := NewAggregatorClient(NewAggregatorOpts(server.URL, nil, "", time.Second), zap.NewNop())

	c := newTestCascade(t, []Store{&fakeStore{name: "empty"}}, aggregator)

	descriptors, ferr := c.Find(context.Background(), "movie", "tt0111161", ids.TypeIMDB)
	require.Nil(t, ferr)
	require.Len(t, descriptors, 1)
	require.Equal(t, "cccccccccccccccccccccccccccccccccccccccc", descriptors[0].InfoHash)
}

func TestCascadeNotFoundEverywhere(t *testing.T) {
	c := newTestCascade(t, []Store{&fakeStore{name: "empty"}}, nil)

	descriptors, ferr := c.Find(context.Background(), "movie", "tt9999999", ids.TypeIMDB)
	require.Empty(t, descriptors)
	require.NotNil(t, ferr)
	require.True(t, fault.IsNotFound(ferr))
}

func TestCascadeCachesResults(t *testing.T) {
	store := &fakeStore{name: "one", results: []magnet.Descriptor{descriptorFixture("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", 100)}}
	c := newTestCascade(t, []Store{store}, nil)

	_, ferr := c.Find(context.Background(), "movie", "tt0111161", ids.TypeIMDB)
	require.Nil(t, ferr)
	_, ferr = c.Find(context.Background(), "movie", "tt0111161", ids.TypeIMDB)
	require.Nil(t, ferr)
	require.Equal(t, int64(1), store.calls.Load())
}

func TestCascadeEpisodeFilter(t *testing.T) {
	matching := descriptorFixture("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", 100)
	matching.Season, matching.Episode = 5, 14
	other := descriptorFixture("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", 200)
	other.Season, other.Episode = 5, 15
	store := &fakeStore{name: "one", results: []magnet.Descriptor{matching, other}}
	c := newTestCascade(t, []Store{store}, nil)

	descriptors, ferr := c.Find(context.Background(), "series", "tt0903747:5:14", ids.TypeIMDBSeries)
	require.Nil(t, ferr)
	require.Len(t, descriptors, 1)
	require.Equal(t, matching.InfoHash, descriptors[0].InfoHash)
}

func TestCascadeClearExhausted(t *testing.T) {
	empty := &fakeStore{name: "empty"}
	c := newTestCascade(t, []Store{empty}, nil)

	_, _ = c.Find(context.Background(), "movie", "tt0111161", ids.TypeIMDB)
	require.Equal(t, 1, c.ClearExhausted())

	c.cache.Clear()
	_, _ = c.Find(context.Background(), "movie", "tt0111161", ids.TypeIMDB)
	// The mark was cleared, so the store was queried again.
	require.Equal(t, int64(2), empty.calls.Load())
}
