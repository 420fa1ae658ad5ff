// Package ids classifies, validates and converts the content identifiers the
// addon accepts: IMDb titles and episodes plus the anime ID namespaces
// (Kitsu, MyAnimeList, AniList, AniDB).
package ids

import (
	"regexp"
	"strings"
)

// Type is the identifier family a raw ID belongs to.
type Type string

const (
	TypeIMDB       Type = "imdb"
	TypeIMDBSeries Type = "imdb-series"
	TypeKitsu      Type = "kitsu"
	TypeMAL        Type = "mal"
	TypeAniList    Type = "anilist"
	TypeAniDB      Type = "anidb"
	TypeNumeric    Type = "numeric"
	TypeUnknown    Type = "unknown"
)

// IsAnime reports whether the type belongs to the anime ID families.
func (t Type) IsAnime() bool {
	switch t {
	case TypeKitsu, TypeMAL, TypeAniList, TypeAniDB:
		return true
	default:
		return false
	}
}

// IsIMDB reports whether the type belongs to the IMDb family.
func (t Type) IsIMDB() bool {
	return t == TypeIMDB || t == TypeIMDBSeries
}

// Detection is the tagged result of classifying a raw identifier.
// Valid implies the type is not unknown.
type Detection struct {
	Type         Type
	OriginalID   string
	NormalizedID string
	Confidence   float64
	Valid        bool
	Err          string
}

type rule struct {
	pattern    *regexp.Regexp
	idType     Type
	confidence float64
}

// Detector classifies raw identifier strings. Rules are applied in order,
// first match wins.
type Detector struct {
	rules []rule
}

// NewDetector compiles the detection rules.
func NewDetector() *Detector {
	return &Detector{
		rules: []rule{
			{regexp.MustCompile(`^tt\d{7,}$`), TypeIMDB, 1.0},
			{regexp.MustCompile(`^tt\d{7,}:\d{1,3}:\d{1,3}$`), TypeIMDBSeries, 1.0},
			{regexp.MustCompile(`^kitsu:\d+$`), TypeKitsu, 1.0},
			{regexp.MustCompile(`^mal:\d+$`), TypeMAL, 1.0},
			{regexp.MustCompile(`^anilist:\d+$`), TypeAniList, 1.0},
			{regexp.MustCompile(`^anidb:\d+$`), TypeAniDB, 1.0},
			{regexp.MustCompile(`^\d+$`), TypeNumeric, 0.5},
		},
	}
}

// Detect classifies a raw identifier. It never fails; unclassifiable input
// yields an unknown, invalid detection.
func (d *Detector) Detect(raw string) Detection {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Detection{
			Type:       TypeUnknown,
			OriginalID: raw,
			Valid:      false,
			Err:        "empty id",
		}
	}

	// Kitsu & co. are case-insensitive in the wild ("Kitsu:123"), IMDb is not.
	normalized := trimmed
	if idx := strings.Index(trimmed, ":"); idx > 0 {
		normalized = strings.ToLower(trimmed[:idx+1]) + trimmed[idx+1:]
	}

	for _, r := range d.rules {
		if r.pattern.MatchString(normalized) {
			return Detection{
				Type:         r.idType,
				OriginalID:   raw,
				NormalizedID: normalized,
				Confidence:   r.confidence,
				Valid:        true,
			}
		}
	}

	return Detection{
		Type:         TypeUnknown,
		OriginalID:   raw,
		NormalizedID: normalized,
		Confidence:   0,
		Valid:        false,
	}
}

// Ordinal returns the numeric part of a namespaced ID like "kitsu:11665".
// For plain numeric IDs it returns the value itself; for IMDb IDs the digits
// after "tt". Returns -1 when no numeric part can be extracted.
func Ordinal(normalizedID string) int {
	s := normalizedID
	if idx := strings.Index(s, ":"); idx >= 0 {
		rest := s[idx+1:]
		// For imdb-series take the title ordinal, not season/episode.
		if strings.HasPrefix(s, "tt") {
			s = s[:idx]
		} else {
			s = rest
		}
	}
	s = strings.TrimPrefix(s, "tt")
	n := 0
	if s == "" {
		return -1
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return -1
		}
		n = n*10 + int(c-'0')
	}
	return n
}
