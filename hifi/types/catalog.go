package types

type AlbumMeta struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	Cover           string `json:"cover"`
	VideoCover      string `json:"videoCover"`
	ReleaseDate     string `json:"releaseDate"`
	NumberOfTracks  int    `json:"numberOfTracks"`
	NumberOfVolumes int    `json:"numberOfVolumes"`
	Copyright       string `json:"copyright"`
}

type ArtistMeta struct {
	ID         int64    `json:"id"`
	Name       string   `json:"name"`
	Picture    string   `json:"picture"`
	Popularity int      `json:"popularity"`
	Types      []string `json:"artistTypes"`
}

type PlaylistMeta struct {
	UUID           string `json:"uuid"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	NumberOfTracks int    `json:"numberOfTracks"`
	Image          string `json:"image"`
	SquareImage    string `json:"squareImage"`
}

type Lyrics struct {
	TrackID   int64  `json:"trackId"`
	Provider  string `json:"lyricsProvider"`
	Text      string `json:"lyrics"`
	Subtitles string `json:"subtitles"`
}

type SearchResults struct {
	Tracks    []TrackMeta
	Albums    []AlbumMeta
	Artists   []ArtistMeta
	Playlists []PlaylistMeta
}

type AlbumResult struct {
	Album  AlbumMeta
	Tracks []TrackMeta
}

type ArtistResult struct {
	Artist ArtistMeta
	Albums []AlbumMeta
	Tracks []TrackMeta
}

type PlaylistResult struct {
	Playlist PlaylistMeta
	Tracks   []TrackMeta
}
