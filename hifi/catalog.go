package hifi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/xeptore/hifidl/hifi/types"
	"github.com/xeptore/hifidl/mirror"
)

// SearchKind selects the search query parameter. Mirrors multiplex the
// search endpoint on the parameter name, not the path.
type SearchKind string

const (
	SearchTracks    SearchKind = "s"
	SearchArtists   SearchKind = "a"
	SearchAlbums    SearchKind = "al"
	SearchPlaylists SearchKind = "p"
)

// Search runs a catalog search and buckets every recognizable object in the
// response. Mirrors wrap results in arbitrary envelopes, so the whole payload
// tree is scanned instead of decoding a fixed shape.
func (c *Client) Search(
	ctx context.Context,
	logger zerolog.Logger,
	kind SearchKind,
	query string,
) (*types.SearchResults, error) {
	logger = logger.With().Str("kind", string(kind)).Str("query", query).Logger()

	params := make(url.Values, 1)
	params.Set(string(kind), query)
	reqURL := c.routeURL("/search/", params)

	body, err := c.fetchCatalog(ctx, logger, reqURL, time.Duration(c.conf.Timeouts.Search)*time.Second)
	if nil != err {
		return nil, fmt.Errorf("search: %w", err)
	}

	out := bucketize(logger, body)

	return out, nil
}

// GetAlbum resolves album metadata together with its track listing.
func (c *Client) GetAlbum(ctx context.Context, logger zerolog.Logger, id string) (*types.AlbumResult, error) {
	logger = logger.With().Str("album_id", id).Logger()

	params := make(url.Values, 1)
	params.Set("id", id)
	reqURL := c.routeURL("/album/", params)

	body, err := c.fetchCatalog(ctx, logger, reqURL, time.Duration(c.conf.Timeouts.GetAlbum)*time.Second)
	if nil != err {
		return nil, fmt.Errorf("get album: %w", err)
	}

	buckets := bucketize(logger, body)
	if len(buckets.Albums) == 0 {
		logger.Error().Bytes("response_body", body).Msg("Album response carries no album object")
		return nil, fmt.Errorf("get album: %w", ErrMalformedLookup)
	}

	return &types.AlbumResult{
		Album:  buckets.Albums[0],
		Tracks: buckets.Tracks,
	}, nil
}

// GetArtist resolves artist metadata with their albums and top tracks. The
// full flag switches the mirror to the expanded discography endpoint.
func (c *Client) GetArtist(
	ctx context.Context,
	logger zerolog.Logger,
	id string,
	full bool,
) (*types.ArtistResult, error) {
	logger = logger.With().Str("artist_id", id).Logger()

	params := make(url.Values, 1)
	if full {
		params.Set("f", id)
	} else {
		params.Set("id", id)
	}
	reqURL := c.routeURL("/artist/", params)

	body, err := c.fetchCatalog(ctx, logger, reqURL, time.Duration(c.conf.Timeouts.GetArtist)*time.Second)
	if nil != err {
		return nil, fmt.Errorf("get artist: %w", err)
	}

	buckets := bucketize(logger, body)
	if len(buckets.Artists) == 0 {
		logger.Error().Bytes("response_body", body).Msg("Artist response carries no artist object")
		return nil, fmt.Errorf("get artist: %w", ErrMalformedLookup)
	}

	return &types.ArtistResult{
		Artist: buckets.Artists[0],
		Albums: buckets.Albums,
		Tracks: buckets.Tracks,
	}, nil
}

// GetPlaylist resolves a playlist by UUID together with its tracks.
func (c *Client) GetPlaylist(ctx context.Context, logger zerolog.Logger, uuid string) (*types.PlaylistResult, error) {
	logger = logger.With().Str("playlist_uuid", uuid).Logger()

	params := make(url.Values, 1)
	params.Set("id", uuid)
	reqURL := c.routeURL("/playlist/", params)

	body, err := c.fetchCatalog(ctx, logger, reqURL, time.Duration(c.conf.Timeouts.GetPlaylist)*time.Second)
	if nil != err {
		return nil, fmt.Errorf("get playlist: %w", err)
	}

	buckets := bucketize(logger, body)
	if len(buckets.Playlists) == 0 {
		logger.Error().Bytes("response_body", body).Msg("Playlist response carries no playlist object")
		return nil, fmt.Errorf("get playlist: %w", ErrMalformedLookup)
	}

	return &types.PlaylistResult{
		Playlist: buckets.Playlists[0],
		Tracks:   buckets.Tracks,
	}, nil
}

// GetLyrics fetches lyrics for a track. A missing-lyrics response is not an
// error; it yields a nil result.
func (c *Client) GetLyrics(ctx context.Context, logger zerolog.Logger, trackID string) (*types.Lyrics, error) {
	logger = logger.With().Str("track_id", trackID).Logger()

	params := make(url.Values, 1)
	params.Set("id", trackID)
	reqURL := c.routeURL("/lyrics/", params)

	res, err := c.exec.Do(ctx, logger, reqURL, mirror.Options{ //nolint:exhaustruct
		Timeout: time.Duration(c.conf.Timeouts.GetLyrics) * time.Second,
	})
	if nil != err {
		return nil, fmt.Errorf("get lyrics: %w", err)
	}

	if res.StatusCode == http.StatusNotFound {
		return nil, nil
	}

	if !res.OK() {
		if res.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("get lyrics: %w", ErrRateLimited)
		}

		logger.Error().Int("status_code", res.StatusCode).Bytes("response_body", res.Body).Msg("Unexpected lyrics response")

		return nil, fmt.Errorf("get lyrics: unexpected response code %d", res.StatusCode)
	}

	node, ok := types.FindFirstWithField(res.Body, "lyrics")
	if !ok {
		return nil, nil
	}

	var out types.Lyrics
	if err := json.Unmarshal([]byte(node.Raw), &out); nil != err {
		logger.Error().Err(err).Bytes("response_body", res.Body).Msg("Lyrics response is malformed")
		return nil, fmt.Errorf("get lyrics: decode lyrics object: %v", err)
	}

	return &out, nil
}

func (c *Client) fetchCatalog(
	ctx context.Context,
	logger zerolog.Logger,
	reqURL string,
	timeout time.Duration,
) ([]byte, error) {
	res, err := c.exec.Do(ctx, logger, reqURL, mirror.Options{Timeout: timeout}) //nolint:exhaustruct
	if nil != err {
		return nil, fmt.Errorf("execute catalog request: %w", err)
	}

	if !res.OK() {
		if res.StatusCode == http.StatusTooManyRequests {
			return nil, ErrRateLimited
		}

		logger.Error().Int("status_code", res.StatusCode).Bytes("response_body", res.Body).Msg("Unexpected catalog response")

		return nil, fmt.Errorf("unexpected response code %d with body: %s", res.StatusCode, string(res.Body))
	}

	return res.Body, nil
}

// bucketize scans the whole payload tree and buckets every classified node.
// A matched node's children are not descended into, so a track's embedded
// album object never lands in the album bucket.
func bucketize(logger zerolog.Logger, body []byte) *types.SearchResults {
	var out types.SearchResults

	types.Walk(body, func(node gjson.Result) bool {
		if isPlaylist(node) {
			var p types.PlaylistMeta
			if err := json.Unmarshal([]byte(node.Raw), &p); nil != err {
				logger.Warn().Err(err).Msg("Skipping undecodable playlist object")
				return true
			}

			out.Playlists = append(out.Playlists, p)

			return false
		}

		switch types.Classify(node) {
		case types.KindTrack:
			var t types.TrackMeta
			if err := json.Unmarshal([]byte(node.Raw), &t); nil != err {
				logger.Warn().Err(err).Msg("Skipping undecodable track object")
				return true
			}

			out.Tracks = append(out.Tracks, t)

			return false
		case types.KindAlbum:
			var a types.AlbumMeta
			if err := json.Unmarshal([]byte(node.Raw), &a); nil != err {
				logger.Warn().Err(err).Msg("Skipping undecodable album object")
				return true
			}

			out.Albums = append(out.Albums, a)

			return false
		case types.KindArtist:
			var a types.ArtistMeta
			if err := json.Unmarshal([]byte(node.Raw), &a); nil != err {
				logger.Warn().Err(err).Msg("Skipping undecodable artist object")
				return true
			}

			out.Artists = append(out.Artists, a)

			return false
		default:
			return true
		}
	})

	return &out
}

// isPlaylist detects playlist objects by their uuid+title pair, which no
// other catalog object carries.
func isPlaylist(node gjson.Result) bool {
	return node.Get("uuid").Exists() && node.Get("title").Exists()
}
