// Package stream turns magnet descriptors into the stream objects an addon
// client renders.
package stream

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/torrentera/torrentera-stremio/pkg/ids"
	"github.com/torrentera/torrentera-stremio/pkg/magnet"
	"github.com/torrentera/torrentera-stremio/pkg/metadata"
	"github.com/torrentera/torrentera-stremio/pkg/stremio"
)

const maxFilenameLength = 60

// spanishCountries is the country whitelist attached to Spanish-language
// streams.
var spanishCountries = []string{"ES", "MX", "AR", "CO", "CL", "PE"}

// Assembler renders descriptors into stream objects.
type Assembler struct {
	logger *zap.Logger
}

func NewAssembler(logger *zap.Logger) *Assembler {
	return &Assembler{logger: logger}
}

// Input is everything one assembly needs besides the descriptors.
type Input struct {
	IDType  ids.Type
	Meta    *metadata.Meta
	Season  int
	Episode int
}

// Assemble converts the descriptors into streams, ordered by video size
// descending with the name as tie breaker. Descriptors without an info hash
// can't be played and are dropped with a log line.
func (a *Assembler) Assemble(descriptors []magnet.Descriptor, in Input) []stremio.Stream {
	streams := make([]stremio.Stream, 0, len(descriptors))
	for _, d := range descriptors {
		if d.InfoHash == "" {
			a.logger.Warn("Dropping descriptor without info hash",
				zap.String("contentID", d.ContentID), zap.String("name", d.DisplayName))
			continue
		}
		streams = append(streams, a.assembleOne(d, in))
	}
	sort.SliceStable(streams, func(i, j int) bool {
		var si, sj int64
		if streams[i].BehaviorHints != nil {
			si = streams[i].BehaviorHints.VideoSize
		}
		if streams[j].BehaviorHints != nil {
			sj = streams[j].BehaviorHints.VideoSize
		}
		if si != sj {
			return si > sj
		}
		return streams[i].Name < streams[j].Name
	})
	return streams
}

func (a *Assembler) assembleOne(d magnet.Descriptor, in Input) stremio.Stream {
	stream := stremio.Stream{
		Name:        a.name(d, in),
		Description: a.description(d, in),
		InfoHash:    d.InfoHash,
	}
	for _, tracker := range magnet.FilterTrackers(d.Trackers) {
		stream.Sources = append(stream.Sources, "tracker:"+tracker)
	}
	if d.FileIndex >= 0 {
		fileIdx := d.FileIndex
		stream.FileIdx = &fileIdx
	}

	hints := &stremio.StreamBehaviorHints{
		// Same info hash means same torrent: binge-compatible.
		BingeGroup: "magnet-" + d.InfoHash,
		VideoSize:  d.SizeBytes,
		Filename:   d.Filename,
	}
	if isSpanish(d.Language) {
		hints.CountryWhitelist = spanishCountries
	}
	stream.BehaviorHints = hints
	return stream
}

// name builds the one-line stream name: a flag for the ID family, the
// quality, the providing source, the episode tag and the seeder count.
// Only the anime and IMDb families carry a flag, numeric and unknown IDs
// start bare.
func (a *Assembler) name(d magnet.Descriptor, in Input) string {
	var emoji string
	switch {
	case in.IDType.IsAnime():
		emoji = "🎌 "
	case in.IDType.IsIMDB():
		emoji = "🎬 "
	}
	provider := d.Provider
	if provider == "" {
		provider = "Unknown"
	}
	name := fmt.Sprintf("%s%s | %s", emoji, d.Quality, provider)
	if in.Season > 0 && in.Episode > 0 {
		name += fmt.Sprintf(" | T%dE%d", in.Season, in.Episode)
	}
	if d.Seeders > 0 {
		name += fmt.Sprintf(" (%dS)", d.Seeders)
	}
	return name
}

// description builds the multi-line detail text: the enriched title, the
// release filename and a technical summary.
func (a *Assembler) description(d magnet.Descriptor, in Input) string {
	var lines []string

	if in.Meta != nil && in.Meta.Title != "" {
		title := in.Meta.Title
		if in.Meta.Year > 0 {
			title = fmt.Sprintf("%s (%d)", title, in.Meta.Year)
		}
		lines = append(lines, title)
	}

	if name := displayFilename(d); name != "" {
		lines = append(lines, truncate(name, maxFilenameLength))
	}

	var tech []string
	if d.Quality != magnet.QualityUnknown {
		tech = append(tech, string(d.Quality))
	}
	if d.SizeBytes > 0 {
		tech = append(tech, magnet.FormatSize(d.SizeBytes))
	}
	if d.Provider != "" {
		tech = append(tech, d.Provider)
	}
	if d.Season > 0 && d.Episode > 0 {
		tech = append(tech, fmt.Sprintf("T%dE%d", d.Season, d.Episode))
	}
	if d.Language != "" {
		tech = append(tech, d.Language)
	}
	if d.Fansub != "" {
		tech = append(tech, "["+d.Fansub+"]")
	}
	tech = append(tech, d.Features...)
	if d.Seeders > 0 {
		seeders := fmt.Sprintf("%dS", d.Seeders)
		if d.Leechers > 0 {
			seeders += fmt.Sprintf("/%dP", d.Leechers)
		}
		tech = append(tech, seeders)
	}
	if len(tech) > 0 {
		lines = append(lines, strings.Join(tech, " • "))
	}

	return strings.Join(lines, "\n")
}

func displayFilename(d magnet.Descriptor) string {
	if d.Filename != "" {
		return d.Filename
	}
	return d.DisplayName
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

func isSpanish(language string) bool {
	switch strings.ToLower(language) {
	case "spanish", "español", "castellano", "latino", "es", "es-419":
		return true
	}
	return false
}
