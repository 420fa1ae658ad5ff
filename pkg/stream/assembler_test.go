package stream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/torrentera/torrentera-stremio/pkg/ids"
	"github.com/torrentera/torrentera-stremio/pkg/magnet"
	"github.com/torrentera/torrentera-stremio/pkg/metadata"
)

func newTestAssembler() *Assembler {
	return NewAssembler(zap.NewNop())
}

func TestAssembleMovieStream(t *testing.T) {
	a := newTestAssembler()
	descriptors := []magnet.Descriptor{{
		ContentID:   "tt0111161",
		InfoHash:    "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		DisplayName: "Movie.1994.1080p.BluRay",
		Quality:     magnet.Quality1080p,
		SizeBytes:   2684354560, // 2.5 GB
		Seeders:     500,
		Trackers:    []string{"udp://tracker.example.org:1337"},
		FileIndex:   -1,
	}}

	streams := a.Assemble(descriptors, Input{IDType: ids.TypeIMDB})
	require.Len(t, streams, 1)

	s := streams[0]
	require.Equal(t, "🎬 1080p | Unknown (500S)", s.Name)
	require.Equal(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", s.InfoHash)
	require.Equal(t, []string{"tracker:udp://tracker.example.org:1337"}, s.Sources)
	require.Nil(t, s.FileIdx)
	require.NotNil(t, s.BehaviorHints)
	require.Equal(t, "magnet-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", s.BehaviorHints.BingeGroup)
	require.Equal(t, int64(2684354560), s.BehaviorHints.VideoSize)
	require.Contains(t, s.Description, "2.50 GB")
}

func TestAssembleEpisodeAndAnimeNaming(t *testing.T) {
	a := newTestAssembler()
	descriptors := []magnet.Descriptor{{
		InfoHash:    "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		DisplayName: "Anime.S01E05.1080p",
		Quality:     magnet.Quality1080p,
		Provider:    "fansub",
		Seeders:     42,
		FileIndex:   3,
	}}

	streams := a.Assemble(descriptors, Input{IDType: ids.TypeKitsu, Season: 1, Episode: 5})
	require.Len(t, streams, 1)
	require.Equal(t, "🎌 1080p | fansub | T1E5 (42S)", streams[0].Name)
	require.NotNil(t, streams[0].FileIdx)
	require.Equal(t, 3, *streams[0].FileIdx)
}

func TestAssembleNumericIDHasNoFlag(t *testing.T) {
	a := newTestAssembler()
	descriptors := []magnet.Descriptor{{
		InfoHash:  "eeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee",
		Quality:   magnet.Quality1080p,
		Provider:  "torrentgalaxy",
		FileIndex: -1,
	}}

	// Only the IMDb and anime families carry a flag.
	streams := a.Assemble(descriptors, Input{IDType: ids.TypeNumeric})
	require.Equal(t, "1080p | torrentgalaxy", streams[0].Name)

	streams = a.Assemble(descriptors, Input{IDType: ids.TypeUnknown})
	require.Equal(t, "1080p | torrentgalaxy", streams[0].Name)
}

func TestAssembleDescriptionTechLine(t *testing.T) {
	a := newTestAssembler()
	descriptors := []magnet.Descriptor{{
		InfoHash:    "ffffffffffffffffffffffffffffffffffffffff",
		DisplayName: "Serie.S02E03.1080p",
		Quality:     magnet.Quality1080p,
		SizeBytes:   1073741824,
		Provider:    "dontorrent",
		Language:    "spanish",
		Season:      2,
		Episode:     3,
		Seeders:     75,
		Leechers:    12,
		FileIndex:   -1,
	}}

	streams := a.Assemble(descriptors, Input{IDType: ids.TypeIMDBSeries, Season: 2, Episode: 3})
	lines := strings.Split(streams[0].Description, "\n")
	require.Equal(t, "1080p • 1.00 GB • dontorrent • T2E3 • spanish • 75S/12P", lines[1])
}

func TestAssembleMetadataDescription(t *testing.T) {
	a := newTestAssembler()
	descriptors := []magnet.Descriptor{{
		InfoHash:    "cccccccccccccccccccccccccccccccccccccccc",
		DisplayName: "Movie.2024.2160p.HDR.Atmos",
		Quality:     magnet.Quality2160p,
		SizeBytes:   10 * 1024 * 1024 * 1024,
		Language:    "spanish",
		Features:    []string{"HDR", "Atmos"},
		FileIndex:   -1,
	}}

	streams := a.Assemble(descriptors, Input{
		IDType: ids.TypeIMDB,
		Meta:   &metadata.Meta{Title: "Some Movie", Year: 2024},
	})
	require.Len(t, streams, 1)

	lines := strings.Split(streams[0].Description, "\n")
	require.Equal(t, "Some Movie (2024)", lines[0])
	require.Equal(t, "Movie.2024.2160p.HDR.Atmos", lines[1])
	require.Contains(t, lines[2], "2160p")
	require.Contains(t, lines[2], "10.00 GB")
	require.Contains(t, lines[2], "HDR")

	// Spanish streams get the country whitelist.
	require.Equal(t, spanishCountries, streams[0].BehaviorHints.CountryWhitelist)
}

func TestAssembleFilenameTruncation(t *testing.T) {
	a := newTestAssembler()
	longName := strings.Repeat("x", 80)
	descriptors := []magnet.Descriptor{{
		InfoHash:  "dddddddddddddddddddddddddddddddddddddddd",
		Filename:  longName,
		FileIndex: -1,
	}}

	streams := a.Assemble(descriptors, Input{IDType: ids.TypeIMDB})
	lines := strings.Split(streams[0].Description, "\n")
	require.Len(t, []rune(lines[0]), maxFilenameLength)
	require.True(t, strings.HasSuffix(lines[0], "…"))
}

func TestAssembleDropsMissingInfoHash(t *testing.T) {
	a := newTestAssembler()
	descriptors := []magnet.Descriptor{
		{DisplayName: "broken", FileIndex: -1},
		{InfoHash: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", DisplayName: "fine", FileIndex: -1},
	}
	streams := a.Assemble(descriptors, Input{IDType: ids.TypeIMDB})
	require.Len(t, streams, 1)
}

func TestAssembleOrdering(t *testing.T) {
	a := newTestAssembler()
	descriptors := []magnet.Descriptor{
		{InfoHash: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", SizeBytes: 100, FileIndex: -1},
		{InfoHash: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", SizeBytes: 900, FileIndex: -1},
		{InfoHash: "cccccccccccccccccccccccccccccccccccccccc", SizeBytes: 500, FileIndex: -1},
	}
	streams := a.Assemble(descriptors, Input{IDType: ids.TypeIMDB})
	require.Equal(t, int64(900), streams[0].BehaviorHints.VideoSize)
	require.Equal(t, int64(500), streams[1].BehaviorHints.VideoSize)
	require.Equal(t, int64(100), streams[2].BehaviorHints.VideoSize)
}

func TestAssembleSkipsNonPlayableTrackers(t *testing.T) {
	a := newTestAssembler()
	descriptors := []magnet.Descriptor{{
		InfoHash: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Trackers: []string{"udp://ok.example.org:1337", "wss://not-playable.example.org"},
		FileIndex: -1,
	}}
	streams := a.Assemble(descriptors, Input{IDType: ids.TypeIMDB})
	require.Equal(t, []string{"tracker:udp://ok.example.org:1337"}, streams[0].Sources)
}
