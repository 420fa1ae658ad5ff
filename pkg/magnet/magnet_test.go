package magnet

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const testMagnet = "magnet:?xt=urn:btih:A1B2C3D4E5F6A7B8C9D0E1F2A3B4C5D6E7F8A9B0&dn=Some+Movie+2024+1080p"

func TestInfoHashFromMagnet(t *testing.T) {
	hash := InfoHashFromMagnet(testMagnet)
	require.Equal(t, "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6e7f8a9b0", hash)

	require.Empty(t, InfoHashFromMagnet("magnet:?xt=urn:btih:tooshort"))
	require.Empty(t, InfoHashFromMagnet("https://example.com/not-a-magnet"))
}

func TestBuildMagnetURI(t *testing.T) {
	uri := BuildMagnetURI("A1B2C3D4E5F6A7B8C9D0E1F2A3B4C5D6E7F8A9B0", "Some Movie", []string{"udp://tracker.example.org:1337/announce"})
	require.True(t, strings.HasPrefix(uri, "magnet:?xt=urn:btih:a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6e7f8a9b0"))
	require.Contains(t, uri, "&dn=Some+Movie")
	require.Contains(t, uri, "&tr=udp%3A%2F%2Ftracker.example.org%3A1337%2Fannounce")
	// Round trip
	require.Equal(t, "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6e7f8a9b0", InfoHashFromMagnet(uri))
}

func TestParseSize(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want int64
	}{
		{"1 KB", 1024},
		{"1.5 MB", 1572864},
		{"2.5 GB", 2684354560},
		{"1 TB", 1099511627776},
		{"2.5GB", 2684354560},
		{"no size here", 0},
		{"", 0},
	} {
		require.Equal(t, tt.want, ParseSize(tt.in), "input %q", tt.in)
	}
}

func TestParseQuality(t *testing.T) {
	require.Equal(t, Quality2160p, ParseQuality("Some.Movie.2160p.UHD"))
	require.Equal(t, Quality2160p, ParseQuality("4K REMUX"))
	require.Equal(t, Quality1080p, ParseQuality("Some.Movie.1080p.WEB"))
	require.Equal(t, Quality720p, ParseQuality("720p"))
	require.Equal(t, QualityBluRay, ParseQuality("BDRip Special"))
	require.Equal(t, QualityUnknown, ParseQuality("Some Movie"))
}

func TestQualityRank(t *testing.T) {
	require.Greater(t, Quality2160p.Rank(), Quality1080p.Rank())
	require.Greater(t, Quality1080p.Rank(), Quality720p.Rank())
	require.Greater(t, Quality720p.Rank(), Quality480p.Rank())
	require.Equal(t, 0, QualityUnknown.Rank())
}

func TestFilterTrackers(t *testing.T) {
	filtered := FilterTrackers([]string{
		"udp://tracker.example.org:1337",
		"http://tracker.example.org/announce",
		"https://tracker.example.org/announce",
		"wss://tracker.example.org",
		"dht://something",
		"",
	})
	require.Equal(t, []string{
		"udp://tracker.example.org:1337",
		"http://tracker.example.org/announce",
		"https://tracker.example.org/announce",
	}, filtered)
}

func TestSplitEpisodeID(t *testing.T) {
	base, season, episode := SplitEpisodeID("tt0903747:5:14")
	require.Equal(t, "tt0903747", base)
	require.Equal(t, 5, season)
	require.Equal(t, 14, episode)

	base, season, episode = SplitEpisodeID("tt0111161")
	require.Equal(t, "tt0111161", base)
	require.Zero(t, season)
	require.Zero(t, episode)
}

func TestMatchesEpisode(t *testing.T) {
	withFields := Descriptor{ContentID: "tt0903747", Season: 5, Episode: 14}
	require.True(t, withFields.MatchesEpisode(5, 14))
	require.False(t, withFields.MatchesEpisode(5, 15))
	require.True(t, withFields.MatchesEpisode(0, 0))

	embedded := Descriptor{ContentID: "tt0903747:5:14"}
	require.True(t, embedded.MatchesEpisode(5, 14))
	require.False(t, embedded.MatchesEpisode(2, 3))

	// No episode signal at all: excluded from an episode-filtered result.
	plain := Descriptor{ContentID: "tt0903747"}
	require.False(t, plain.MatchesEpisode(5, 14))

	// Single-side filters
	require.True(t, withFields.MatchesEpisode(5, 0))
	require.True(t, withFields.MatchesEpisode(0, 14))
	require.False(t, withFields.MatchesEpisode(4, 0))
}

func TestDedup(t *testing.T) {
	a := Descriptor{InfoHash: "aaa", DisplayName: "first"}
	aDupe := Descriptor{InfoHash: "aaa", DisplayName: "second"}
	b := Descriptor{InfoHash: "bbb"}

	result := Dedup([]Descriptor{a, aDupe, b})
	require.Len(t, result, 2)
	// First occurrence wins
	require.Equal(t, "first", result[0].DisplayName)
	require.Equal(t, "bbb", result[1].InfoHash)
}

func TestSortBySize(t *testing.T) {
	descriptors := []Descriptor{
		{InfoHash: "a", SizeBytes: 100, DisplayName: "b-name"},
		{InfoHash: "b", SizeBytes: 300},
		{InfoHash: "c", SizeBytes: 100, DisplayName: "a-name"},
	}
	SortBySize(descriptors)
	require.Equal(t, "b", descriptors[0].InfoHash)
	// Tie broken by display name
	require.Equal(t, "c", descriptors[1].InfoHash)
	require.Equal(t, "a", descriptors[2].InfoHash)
}

func TestSortBySeedersThenQuality(t *testing.T) {
	descriptors := []Descriptor{
		{InfoHash: "a", Seeders: 10, Quality: Quality720p},
		{InfoHash: "b", Seeders: 50, Quality: Quality480p},
		{InfoHash: "c", Seeders: 10, Quality: Quality2160p},
	}
	SortBySeedersThenQuality(descriptors)
	require.Equal(t, "b", descriptors[0].InfoHash)
	// Seeder tie broken by quality rank
	require.Equal(t, "c", descriptors[1].InfoHash)
	require.Equal(t, "a", descriptors[2].InfoHash)
}

func TestSortByQualityThenSeeders(t *testing.T) {
	descriptors := []Descriptor{
		{InfoHash: "a", Seeders: 999, Quality: Quality720p},
		{InfoHash: "b", Seeders: 5, Quality: Quality2160p},
		{InfoHash: "c", Seeders: 90, Quality: Quality2160p},
	}
	SortByQualityThenSeeders(descriptors)
	// Quality beats raw seeders
	require.Equal(t, "c", descriptors[0].InfoHash)
	require.Equal(t, "b", descriptors[1].InfoHash)
	require.Equal(t, "a", descriptors[2].InfoHash)
}

func TestDetectFeatures(t *testing.T) {
	features := DetectFeatures("Movie.2160p.HDR.Atmos.REMUX.x265.10bit")
	require.Contains(t, features, "HDR")
	require.Contains(t, features, "Atmos")
	require.Contains(t, features, "REMUX")
	require.Contains(t, features, "HEVC")
	require.Contains(t, features, "10bit")

	require.Empty(t, DetectFeatures("Plain.Movie.1080p"))
}

func TestFormatSize(t *testing.T) {
	require.Equal(t, "2.50 GB", FormatSize(2684354560))
	require.Equal(t, "1.00 KB", FormatSize(1024))
	require.Equal(t, "500 B", FormatSize(500))
}
