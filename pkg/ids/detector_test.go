package ids

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetect(t *testing.T) {
	detector := NewDetector()

	for _, tt := range []struct {
		in         string
		wantType   Type
		wantValid  bool
		normalized string
	}{
		{"tt0111161", TypeIMDB, true, "tt0111161"},
		{"tt0903747:5:14", TypeIMDBSeries, true, "tt0903747:5:14"},
		{"kitsu:11665", TypeKitsu, true, "kitsu:11665"},
		{"Kitsu:11665", TypeKitsu, true, "kitsu:11665"},
		{"mal:30276", TypeMAL, true, "mal:30276"},
		{"anilist:21087", TypeAniList, true, "anilist:21087"},
		{"anidb:11123", TypeAniDB, true, "anidb:11123"},
		{"12345", TypeNumeric, true, "12345"},
		{"tt123", TypeUnknown, false, ""},   // too few digits
		{"kitsu:abc", TypeUnknown, false, ""},
		{"garbage", TypeUnknown, false, ""},
		{"", TypeUnknown, false, ""},
	} {
		detection := detector.Detect(tt.in)
		require.Equal(t, tt.wantType, detection.Type, "input %q", tt.in)
		require.Equal(t, tt.wantValid, detection.Valid, "input %q", tt.in)
		if tt.normalized != "" {
			require.Equal(t, tt.normalized, detection.NormalizedID, "input %q", tt.in)
		}
	}
}

func TestDetectConfidence(t *testing.T) {
	detector := NewDetector()
	require.Equal(t, 1.0, detector.Detect("tt0111161").Confidence)
	// Numeric IDs are ambiguous.
	require.Equal(t, 0.5, detector.Detect("12345").Confidence)
}

func TestDetectTrimsWhitespace(t *testing.T) {
	detector := NewDetector()
	detection := detector.Detect("  tt0111161  ")
	require.True(t, detection.Valid)
	require.Equal(t, "tt0111161", detection.NormalizedID)
	require.Equal(t, "  tt0111161  ", detection.OriginalID)
}

func TestOrdinal(t *testing.T) {
	require.Equal(t, 11665, Ordinal("kitsu:11665"))
	require.Equal(t, 111161, Ordinal("tt0111161"))
	require.Equal(t, 903747, Ordinal("tt0903747:5:14"))
	require.Equal(t, 42, Ordinal("42"))
	require.Equal(t, -1, Ordinal("kitsu:"))
	require.Equal(t, -1, Ordinal("abc"))
}

func TestTypePredicates(t *testing.T) {
	require.True(t, TypeKitsu.IsAnime())
	require.True(t, TypeAniDB.IsAnime())
	require.False(t, TypeIMDB.IsAnime())
	require.True(t, TypeIMDB.IsIMDB())
	require.True(t, TypeIMDBSeries.IsIMDB())
	require.False(t, TypeNumeric.IsIMDB())
}
