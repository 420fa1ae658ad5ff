package repository

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/torrentera/torrentera-stremio/pkg/magnet"
)

const snapshotCSV = `content_id,imdb_id,name,magnet,quality,size,provider,seeders,language,season,episode
tt0111161,,Shawshank.1994.1080p.BluRay,magnet:?xt=urn:btih:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa,1080p,2.5 GB,local,120,english,,
tt0111161,,Shawshank.1994.2160p.REMUX,magnet:?xt=urn:btih:bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb,2160p,50 GB,local,80,english,,
kitsu:11665,tt2560140,One.Punch.Man.S01E01.1080p,magnet:?xt=urn:btih:cccccccccccccccccccccccccccccccccccccccc,1080p,1.4 GB,fansub,60,japanese,1,1
tt0903747:5:14,,Breaking.Bad.S05E14.720p,magnet:?xt=urn:btih:dddddddddddddddddddddddddddddddddddddddd,720p,800 MB,local,45,english,5,14
broken-row-no-magnet,,Some.Name,,1080p,1 GB,local,,,,
,also-broken,No.Content.ID,magnet:?xt=urn:btih:eeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee,1080p,1 GB,local,,,,
tt0137523,,Fight.Club.BadHash,magnet:?xt=urn:btih:nothex,1080p,1 GB,local,,,,
`

func newTestSnapshotStore(t *testing.T, csv string) *SnapshotStore {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/snapshot.csv", []byte(csv), 0644))
	return NewSnapshotStore(SnapshotOptions{Name: "test", Path: "/snapshot.csv"}, fs, zap.NewNop())
}

func TestSnapshotLoadSkipsMalformedRows(t *testing.T) {
	s := newTestSnapshotStore(t, snapshotCSV)

	results, err := s.ByContentID(context.Background(), "tt0111161", "movie", QueryOptions{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// 4 good rows loaded, 3 malformed ones skipped.
	require.Equal(t, 4, s.Len())
}

func TestSnapshotLegacyIMDBIndex(t *testing.T) {
	s := newTestSnapshotStore(t, snapshotCSV)

	// The anime row is reachable under its own ID and the legacy imdb_id.
	byKitsu, err := s.ByContentID(context.Background(), "kitsu:11665", "anime", QueryOptions{})
	require.NoError(t, err)
	require.Len(t, byKitsu, 1)

	byIMDB, err := s.ByContentID(context.Background(), "tt2560140", "anime", QueryOptions{})
	require.NoError(t, err)
	require.Len(t, byIMDB, 1)
	require.Equal(t, byKitsu[0].InfoHash, byIMDB[0].InfoHash)
}

func TestSnapshotEpisodeLookup(t *testing.T) {
	s := newTestSnapshotStore(t, snapshotCSV)

	// Base ID with the episode in the query options resolves the "id:S:E" row.
	results, err := s.ByContentID(context.Background(), "tt0903747", "series", QueryOptions{Season: 5, Episode: 14})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, 5, results[0].Season)
	require.Equal(t, 14, results[0].Episode)

	// A different episode yields nothing.
	results, err = s.ByContentID(context.Background(), "tt0903747", "series", QueryOptions{Season: 5, Episode: 15})
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestSnapshotDescriptorFields(t *testing.T) {
	s := newTestSnapshotStore(t, snapshotCSV)

	results, err := s.ByContentID(context.Background(), "tt0111161", "movie", QueryOptions{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	var remux magnet.Descriptor
	for _, d := range results {
		if d.Quality == magnet.Quality2160p {
			remux = d
		}
	}
	expected := magnet.Descriptor{
		ContentID:   "tt0111161",
		InfoHash:    "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		MagnetURI:   "magnet:?xt=urn:btih:bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		DisplayName: "Shawshank.1994.2160p.REMUX",
		Quality:     magnet.Quality2160p,
		SizeBytes:   50 * 1024 * 1024 * 1024,
		Seeders:     80,
		Provider:    "local",
		Language:    "english",
		FileIndex:   -1,
		Features:    []string{"REMUX"},
	}
	require.Empty(t, cmp.Diff(expected, remux))
}

func TestSnapshotMissingRequiredColumn(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/bad.csv", []byte("content_id,name\nx,y\n"), 0644))
	s := NewSnapshotStore(SnapshotOptions{Name: "bad", Path: "/bad.csv"}, fs, zap.NewNop())

	_, err := s.ByContentID(context.Background(), "x", "movie", QueryOptions{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "magnet")
}

func TestSnapshotRetriesAfterFailedLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/snapshot.csv", []byte("content_id,name\nx,y\n"), 0644))
	s := NewSnapshotStore(SnapshotOptions{Name: "retry", Path: "/snapshot.csv"}, fs, zap.NewNop())

	_, err := s.ByContentID(context.Background(), "tt0111161", "movie", QueryOptions{})
	require.Error(t, err)

	// A failed load isn't final: once the snapshot is fixed, the next query
	// loads it instead of replaying the first error.
	require.NoError(t, afero.WriteFile(fs, "/snapshot.csv", []byte(snapshotCSV), 0644))
	results, err := s.ByContentID(context.Background(), "tt0111161", "movie", QueryOptions{})
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestSnapshotLoadSurvivesCanceledCaller(t *testing.T) {
	s := newTestSnapshotStore(t, snapshotCSV)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// The load runs under the store's own timeout, not the caller's context.
	_, _ = s.ByContentID(ctx, "tt0111161", "movie", QueryOptions{})

	results, err := s.ByContentID(context.Background(), "tt0111161", "movie", QueryOptions{})
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestSnapshotMissingFile(t *testing.T) {
	s := NewSnapshotStore(SnapshotOptions{Name: "missing", Path: "/nope.csv"}, afero.NewMemMapFs(), zap.NewNop())
	_, err := s.ByContentID(context.Background(), "tt0111161", "movie", QueryOptions{})
	require.Error(t, err)
}

func TestSnapshotUnknownIDIsEmptyNotError(t *testing.T) {
	s := newTestSnapshotStore(t, snapshotCSV)
	results, err := s.ByContentID(context.Background(), "tt9999999", "movie", QueryOptions{})
	require.NoError(t, err)
	require.Empty(t, results)
}
