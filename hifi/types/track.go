package types

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const (
	// coverCDNFormat is the fixed CDN host serving cover art and artist
	// pictures. The opaque id maps to a path by replacing "-" with "/".
	coverCDNFormat = "https://resources.tidal.com/images/%s/%dx%d.%s"

	ReleaseDateLayout = "2006-01-02"
)

type TrackArtist struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

const (
	ArtistTypeMain     = "MAIN"
	ArtistTypeFeatured = "FEATURED"
)

func JoinArtists(artists []TrackArtist) string {
	mainArtists := lo.FilterMap(
		artists,
		func(a TrackArtist, _ int) (string, bool) { return a.Name, a.Type == ArtistTypeMain },
	)
	featArtists := lo.FilterMap(
		artists,
		func(a TrackArtist, _ int) (string, bool) { return a.Name, a.Type == ArtistTypeFeatured },
	)
	out := strings.Join(mainArtists, ", ")
	if len(featArtists) > 0 {
		out += " (feat. " + strings.Join(featArtists, ", ") + ")"
	}

	return out
}

type TrackAlbum struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	Cover           string `json:"cover"`
	VideoCover      string `json:"videoCover"`
	ReleaseDate     string `json:"releaseDate"`
	NumberOfTracks  int    `json:"numberOfTracks"`
	NumberOfVolumes int    `json:"numberOfVolumes"`
}

type TrackMeta struct {
	ID              int64         `json:"id"`
	Title           string        `json:"title"`
	Duration        int           `json:"duration"`
	TrackNumber     int           `json:"trackNumber"`
	VolumeNumber    int           `json:"volumeNumber"`
	ISRC            string        `json:"isrc"`
	Copyright       string        `json:"copyright"`
	Explicit        bool          `json:"explicit"`
	StreamStartDate string        `json:"streamStartDate"`
	Artist          TrackArtist   `json:"artist"`
	Artists         []TrackArtist `json:"artists"`
	Album           TrackAlbum    `json:"album"`
	Version         *string       `json:"version"`
}

func (t TrackMeta) ArtistName() string {
	if len(t.Artists) > 0 {
		if name := JoinArtists(t.Artists); name != "" {
			return name
		}
	}

	return t.Artist.Name
}

func (t TrackMeta) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Int64("id", t.ID).
		Str("title", t.Title).
		Str("artist", t.ArtistName()).
		Str("album", t.Album.Title).
		Int("duration", t.Duration)
}

// StreamInfo is the technical half of a track lookup: the manifest blob plus
// stream parameters.
type StreamInfo struct {
	TrackID          int64  `json:"trackId"`
	AudioQuality     string `json:"audioQuality"`
	ManifestMimeType string `json:"manifestMimeType"`
	Manifest         string `json:"manifest"`
	BitDepth         int    `json:"bitDepth"`
	SampleRate       int    `json:"sampleRate"`
}

// TrackLookup is a resolved track reference. Both Track and Info must be
// present or the lookup is malformed.
type TrackLookup struct {
	Track            TrackMeta
	Info             StreamInfo
	OriginalTrackURL string
}

// CoverURL builds the CDN URL for a square cover image of the given size.
func CoverURL(coverID string, size int) string {
	return fmt.Sprintf(coverCDNFormat, strings.ReplaceAll(coverID, "-", "/"), size, size, "jpg")
}

// VideoCoverURL builds the CDN URL for an animated album cover.
func VideoCoverURL(coverID string, size int) string {
	return fmt.Sprintf(coverCDNFormat, strings.ReplaceAll(coverID, "-", "/"), size, size, "mp4")
}
