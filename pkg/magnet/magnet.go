// Package magnet holds the descriptor type that all lookup sources produce
// and the parsing helpers around magnet URIs.
package magnet

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Quality is the detected video quality of a release.
type Quality string

const (
	Quality2160p   Quality = "2160p"
	Quality1080p   Quality = "1080p"
	Quality720p    Quality = "720p"
	Quality480p    Quality = "480p"
	QualitySD      Quality = "SD"
	QualityBluRay  Quality = "BluRay"
	QualityWEBRip  Quality = "WEBRip"
	QualityDVDRip  Quality = "DVDRip"
	QualityUnknown Quality = "Unknown"
)

// Rank orders qualities for sorting. Higher is better.
func (q Quality) Rank() int {
	switch q {
	case Quality2160p:
		return 4
	case Quality1080p:
		return 3
	case Quality720p:
		return 2
	case Quality480p:
		return 1
	default:
		return 0
	}
}

// ParseQuality maps a free-form quality string (or a release name) to a Quality.
func ParseQuality(s string) Quality {
	lower := strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.Contains(lower, "2160p"), strings.Contains(lower, "4k"), strings.Contains(lower, "uhd"):
		return Quality2160p
	case strings.Contains(lower, "1080p"):
		return Quality1080p
	case strings.Contains(lower, "720p"):
		return Quality720p
	case strings.Contains(lower, "480p"):
		return Quality480p
	case strings.Contains(lower, "bluray"), strings.Contains(lower, "blu-ray"), strings.Contains(lower, "bdrip"):
		return QualityBluRay
	case strings.Contains(lower, "webrip"), strings.Contains(lower, "web-dl"), strings.Contains(lower, "webdl"):
		return QualityWEBRip
	case strings.Contains(lower, "dvdrip"):
		return QualityDVDRip
	case lower == "sd":
		return QualitySD
	default:
		return QualityUnknown
	}
}

// Descriptor is the core entity of the lookup pipeline: one magnet-backed
// release for a piece of content. The info hash is the identity; two
// descriptors with the same info hash are duplicates. Descriptors are treated
// as immutable after construction.
type Descriptor struct {
	ContentID   string
	InfoHash    string // 40 lowercase hex chars
	MagnetURI   string
	DisplayName string
	Quality     Quality
	SizeBytes   int64
	Seeders     int
	Leechers    int
	Provider    string
	Language    string
	Season      int // 0 when absent
	Episode     int // 0 when absent
	Fansub      string
	Filename    string
	FileIndex   int // -1 when absent
	Trackers    []string
	Features    []string
	UploadedAt  time.Time
}

var (
	magnetInfoHashRegex = regexp.MustCompile(`btih:([A-Fa-f0-9]{40})`)
	sizeRegex           = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(KB|MB|GB|TB)`)
	episodeSuffixRegex  = regexp.MustCompile(`^(.+):(\d{1,3}):(\d{1,3})$`)
)

// InfoHashFromMagnet extracts the 40-hex-digit info hash from a magnet URI
// and normalizes it to lowercase. Returns "" if the URI doesn't carry one.
func InfoHashFromMagnet(magnetURI string) string {
	match := magnetInfoHashRegex.FindStringSubmatch(magnetURI)
	if match == nil {
		return ""
	}
	return strings.ToLower(match[1])
}

// BuildMagnetURI creates a magnet URI from an info hash, a display name and
// a tracker list.
func BuildMagnetURI(infoHash, displayName string, trackers []string) string {
	b := strings.Builder{}
	b.WriteString("magnet:?xt=urn:btih:")
	b.WriteString(strings.ToLower(infoHash))
	if displayName != "" {
		b.WriteString("&dn=")
		b.WriteString(url.QueryEscape(displayName))
	}
	for _, tracker := range trackers {
		b.WriteString("&tr=")
		b.WriteString(url.QueryEscape(tracker))
	}
	return b.String()
}

// ParseSize converts a human readable size like "1.2 GB" into bytes.
// Unparseable input yields 0.
func ParseSize(s string) int64 {
	match := sizeRegex.FindStringSubmatch(s)
	if match == nil {
		return 0
	}
	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0
	}
	var mult float64
	switch strings.ToUpper(match[2]) {
	case "KB":
		mult = 1024
	case "MB":
		mult = 1024 * 1024
	case "GB":
		mult = 1024 * 1024 * 1024
	case "TB":
		mult = 1024 * 1024 * 1024 * 1024
	}
	return int64(value * mult)
}

// FilterTrackers keeps only tracker URLs with a scheme a player can use:
// http(s) and udp.
func FilterTrackers(trackers []string) []string {
	var filtered []string
	for _, t := range trackers {
		t = strings.TrimSpace(t)
		if strings.HasPrefix(t, "http://") || strings.HasPrefix(t, "https://") || strings.HasPrefix(t, "udp://") {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

// SplitEpisodeID splits a content ID of the form "base:S:E" into its parts.
// IDs without the suffix are returned unchanged with season and episode 0.
func SplitEpisodeID(contentID string) (base string, season, episode int) {
	match := episodeSuffixRegex.FindStringSubmatch(contentID)
	if match == nil {
		return contentID, 0, 0
	}
	season, _ = strconv.Atoi(match[2])
	episode, _ = strconv.Atoi(match[3])
	return match[1], season, episode
}

// MatchesEpisode reports whether the descriptor matches the requested season
// and episode. With both sides requested, the descriptor matches iff its own
// fields carry the exact pair or its content ID embeds ":S:E" with the same
// values; descriptors without any episode signal are excluded. A single-side
// filter matches the given side only.
func (d Descriptor) MatchesEpisode(season, episode int) bool {
	if season <= 0 && episode <= 0 {
		return true
	}
	_, embeddedS, embeddedE := SplitEpisodeID(d.ContentID)
	if season > 0 && episode > 0 {
		if d.Season == season && d.Episode == episode {
			return true
		}
		return embeddedS == season && embeddedE == episode
	}
	if season > 0 {
		return d.Season == season || embeddedS == season
	}
	return d.Episode == episode || embeddedE == episode
}

// Dedup removes duplicate descriptors by info hash, keeping the first
// occurrence.
func Dedup(descriptors []Descriptor) []Descriptor {
	if len(descriptors) < 2 {
		return descriptors
	}
	seen := make(map[string]struct{}, len(descriptors))
	result := make([]Descriptor, 0, len(descriptors))
	for _, d := range descriptors {
		if _, ok := seen[d.InfoHash]; ok {
			continue
		}
		seen[d.InfoHash] = struct{}{}
		result = append(result, d)
	}
	return result
}

// SortBySize orders descriptors by size descending (larger is the quality
// proxy), with the display name as a deterministic tie breaker.
func SortBySize(descriptors []Descriptor) {
	sort.SliceStable(descriptors, func(i, j int) bool {
		if descriptors[i].SizeBytes != descriptors[j].SizeBytes {
			return descriptors[i].SizeBytes > descriptors[j].SizeBytes
		}
		return descriptors[i].DisplayName < descriptors[j].DisplayName
	})
}

// SortBySeedersThenQuality orders by seeders descending, then by the quality
// rank. This is the ordering some providers declare instead of the size one.
func SortBySeedersThenQuality(descriptors []Descriptor) {
	sort.SliceStable(descriptors, func(i, j int) bool {
		if descriptors[i].Seeders != descriptors[j].Seeders {
			return descriptors[i].Seeders > descriptors[j].Seeders
		}
		return descriptors[i].Quality.Rank() > descriptors[j].Quality.Rank()
	})
}

// SortByQualityThenSeeders orders by quality rank descending, seeders break
// ties. Providers specializing in high-bitrate releases declare this one.
func SortByQualityThenSeeders(descriptors []Descriptor) {
	sort.SliceStable(descriptors, func(i, j int) bool {
		if descriptors[i].Quality.Rank() != descriptors[j].Quality.Rank() {
			return descriptors[i].Quality.Rank() > descriptors[j].Quality.Rank()
		}
		return descriptors[i].Seeders > descriptors[j].Seeders
	})
}

var featureMarkers = []struct {
	marker  string
	feature string
}{
	{"dolby vision", "DolbyVision"},
	{"dovi", "DolbyVision"},
	{"hdr10+", "HDR10+"},
	{"hdr", "HDR"},
	{"atmos", "Atmos"},
	{"remux", "REMUX"},
	{"hevc", "HEVC"},
	{"x265", "HEVC"},
	{"h265", "HEVC"},
	{"10bit", "10bit"},
}

// DetectFeatures scans a release name for well-known feature markers.
func DetectFeatures(displayName string) []string {
	lower := strings.ToLower(displayName)
	var features []string
	seen := map[string]struct{}{}
	for _, fm := range featureMarkers {
		if strings.Contains(lower, fm.marker) {
			if _, ok := seen[fm.feature]; ok {
				continue
			}
			seen[fm.feature] = struct{}{}
			features = append(features, fm.feature)
		}
	}
	return features
}

// FormatSize renders a byte count in the unit a release listing would use.
func FormatSize(bytes int64) string {
	switch {
	case bytes >= 1024*1024*1024*1024:
		return fmt.Sprintf("%.2f TB", float64(bytes)/(1024*1024*1024*1024))
	case bytes >= 1024*1024*1024:
		return fmt.Sprintf("%.2f GB", float64(bytes)/(1024*1024*1024))
	case bytes >= 1024*1024:
		return fmt.Sprintf("%.2f MB", float64(bytes)/(1024*1024))
	case bytes >= 1024:
		return fmt.Sprintf("%.2f KB", float64(bytes)/1024)
	default:
		return strconv.FormatInt(bytes, 10) + " B"
	}
}
