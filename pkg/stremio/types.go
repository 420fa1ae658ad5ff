package stremio

// Manifest describes the capabilities of the addon.
// See https://github.com/Stremio/stremio-addon-sdk/blob/ddaa3b80def8a44e553349734dd02ec9c3fea52c/docs/api/responses/manifest.md
type Manifest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	ResourceItems []ResourceItem `json:"resources,omitempty"`

	Types    []string      `json:"types"`
	Catalogs []CatalogItem `json:"catalogs"`

	// Optional
	IDprefixes    []string       `json:"idPrefixes,omitempty"`
	Background    string         `json:"background,omitempty"` // URL
	Logo          string         `json:"logo,omitempty"`       // URL
	ContactEmail  string         `json:"contactEmail,omitempty"`
	BehaviorHints *BehaviorHints `json:"behaviorHints,omitempty"`
}

type ResourceItem struct {
	Name  string   `json:"name"`
	Types []string `json:"types"`

	// Optional
	IDprefixes []string `json:"idPrefixes,omitempty"`
}

type BehaviorHints struct {
	// Note: Must include `omitempty`, otherwise it will be included if this struct is used in another one, even if the field of the containing struct is marked as `omitempty`
	Adult        bool `json:"adult,omitempty"`
	P2P          bool `json:"p2p,omitempty"`
	Configurable bool `json:"configurable,omitempty"`
}

// CatalogItem represents an item in the catalog
type CatalogItem struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`

	// Optional
	Extra []ExtraItem `json:"extra,omitempty"`
}

type ExtraItem struct {
	Name string `json:"name"`

	// Optional
	IsRequired   bool     `json:"isRequired,omitempty"`
	Options      []string `json:"options,omitempty"`
	OptionsLimit int      `json:"optionsLimit,omitempty"`
}

// MetaItem represents a meta record, used in both catalog and meta responses.
type MetaItem struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name"`

	// Optional
	Poster      string  `json:"poster,omitempty"` // URL
	PosterShape string  `json:"posterShape,omitempty"`
	Background  string  `json:"background,omitempty"` // URL
	Logo        string  `json:"logo,omitempty"`       // URL
	Description string  `json:"description,omitempty"`
	ReleaseInfo string  `json:"releaseInfo,omitempty"`
	IMDBrating  string  `json:"imdbRating,omitempty"`
	Released    string  `json:"released,omitempty"` // Must be ISO 8601, e.g. "2010-12-06T05:00:00.000Z"
	Runtime     string  `json:"runtime,omitempty"`
	Language    string  `json:"language,omitempty"`
	Country     string  `json:"country,omitempty"`
	Videos      []Video `json:"videos,omitempty"`
}

// Video represents a video (episode for series)
type Video struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Released  string `json:"released,omitempty"`
	Season    int    `json:"season,omitempty"`
	Episode   int    `json:"episode,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"` // URL
	Overview  string `json:"overview,omitempty"`
}

// Stream represents one playable stream for an item.
// See https://github.com/Stremio/stremio-addon-sdk/blob/ddaa3b80def8a44e553349734dd02ec9c3fea52c/docs/api/responses/stream.md
type Stream struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	InfoHash    string   `json:"infoHash"`
	Sources     []string `json:"sources,omitempty"`
	FileIdx     *int     `json:"fileIdx,omitempty"`

	BehaviorHints *StreamBehaviorHints `json:"behaviorHints,omitempty"`
}

// StreamBehaviorHints provides player hints for a stream.
type StreamBehaviorHints struct {
	BingeGroup       string   `json:"bingeGroup,omitempty"`
	VideoSize        int64    `json:"videoSize,omitempty"`
	Filename         string   `json:"filename,omitempty"`
	CountryWhitelist []string `json:"countryWhitelist,omitempty"`
	NotWebReady      bool     `json:"notWebReady,omitempty"`
}

// StreamResponse is the response for stream requests.
// The error fields are only set for error envelopes (e.g. a failed validation).
type StreamResponse struct {
	Streams     []Stream `json:"streams"`
	CacheMaxAge int      `json:"cacheMaxAge"`
	Error       string   `json:"error,omitempty"`
	ErrorType   string   `json:"errorType,omitempty"`
}

// CatalogResponse is the response for catalog requests
type CatalogResponse struct {
	Metas []MetaItem `json:"metas"`
}

// MetaResponse is the response for meta requests
type MetaResponse struct {
	Meta MetaItem `json:"meta"`
}
