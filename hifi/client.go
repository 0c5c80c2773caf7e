// Package hifi resolves track references against the HiFi API mirror pool:
// track metadata, stream URLs, DASH manifests, and catalog lookups.
package hifi

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"github.com/tidwall/gjson"

	"github.com/xeptore/hifidl/cache"
	"github.com/xeptore/hifidl/config"
	"github.com/xeptore/hifidl/hifi/mpd"
	"github.com/xeptore/hifidl/hifi/types"
	"github.com/xeptore/hifidl/httputil"
	"github.com/xeptore/hifidl/mirror"
)

const (
	// maxResolveAttempts bounds every resolution retry loop.
	maxResolveAttempts = 3
	// retryBackoffStep grows linearly with the attempt number.
	retryBackoffStep = 200 * time.Millisecond
)

var (
	qualityNotFoundPattern = regexp.MustCompile(`(?i)quality not found`)
	streamURLPattern       = regexp.MustCompile(`https?://[^"'\s\\]+`)
)

type Client struct {
	reg   *mirror.Registry
	exec  *mirror.Executor
	conf  config.API
	cache *cache.StreamURLs
}

func NewClient(reg *mirror.Registry, exec *mirror.Executor, conf config.API, c *cache.StreamURLs) *Client {
	return &Client{
		reg:   reg,
		exec:  exec,
		conf:  conf,
		cache: c,
	}
}

// linearBackoff waits step, 2*step, 3*step, ... between attempts.
func linearBackoff(step time.Duration) retry.Backoff {
	var attempt int64

	return retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		return time.Duration(attempt) * step, false
	})
}

// routeURL builds the canonical request URL against the primary target's
// base; the failover executor replays it across the pool.
func (c *Client) routeURL(rel string, params url.Values) string {
	base := c.reg.PrimaryTarget().BaseURL

	u := *base
	u.Path = mirror.CombinePaths(base.Path, rel)
	u.RawQuery = params.Encode()

	return u.String()
}

// GetTrack resolves a track id and quality to a full lookup. Expired-token
// responses, "quality not found" complaints, and server errors are retried
// with linear backoff; everything else fails immediately.
func (c *Client) GetTrack(
	ctx context.Context,
	logger zerolog.Logger,
	id string,
	quality types.Quality,
) (*types.TrackLookup, error) {
	logger = logger.With().Str("track_id", id).Str("quality", string(quality)).Logger()

	params := make(url.Values, 2)
	params.Set("id", id)
	params.Set("quality", string(quality))
	reqURL := c.routeURL("/track/", params)

	var lookup *types.TrackLookup
	err := retry.Do(
		ctx,
		retry.WithMaxRetries(maxResolveAttempts-1, linearBackoff(retryBackoffStep)),
		func(ctx context.Context) error {
			res, err := c.exec.Do(ctx, logger, reqURL, mirror.Options{ //nolint:exhaustruct
				Timeout: time.Duration(c.conf.Timeouts.GetTrack) * time.Second,
			})
			if nil != err {
				return fmt.Errorf("execute track lookup request: %w", err)
			}

			if !res.OK() {
				return classifyTrackError(logger, res)
			}

			l, err := parseTrackLookup(res.Body)
			if nil != err {
				logger.Error().Err(err).Bytes("response_body", res.Body).Msg("Track lookup response is malformed")
				return err
			}

			lookup = l

			return nil
		},
	)
	if nil != err {
		return nil, fmt.Errorf("get track: %w", err)
	}

	return lookup, nil
}

func classifyTrackError(logger zerolog.Logger, res *mirror.Result) error {
	body := httputil.ParseErrorBody(res.Body)

	switch {
	case res.StatusCode == http.StatusUnauthorized && body.SubStatus == 11002:
		logger.Warn().Str("user_message", body.UserMessage).Msg("Access token expired, retrying track lookup")
		return retry.RetryableError(&TokenExpiredError{UserMessage: body.UserMessage})
	case qualityNotFoundPattern.MatchString(body.Detail):
		logger.Warn().Str("detail", body.Detail).Msg("Requested quality not found, retrying track lookup")
		return retry.RetryableError(fmt.Errorf("quality not found: %s", body.Detail))
	case res.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case res.StatusCode >= http.StatusInternalServerError:
		logger.Warn().Int("status_code", res.StatusCode).Msg("Server error, retrying track lookup")
		return retry.RetryableError(fmt.Errorf("server error status %d", res.StatusCode))
	default:
		logger.Error().Int("status_code", res.StatusCode).Bytes("response_body", res.Body).Msg("Unexpected track lookup response")
		return fmt.Errorf("unexpected response code %d with body: %s", res.StatusCode, string(res.Body))
	}
}

// parseTrackLookup scans the loosely-shaped response for a track-like object
// and a manifest-carrying info object. Mirrors return these in varying
// envelope shapes, so scanning replaces strict typing.
func parseTrackLookup(body []byte) (*types.TrackLookup, error) {
	trackNode, ok := types.FindFirst(body, types.KindTrack)
	if !ok {
		return nil, fmt.Errorf("%w: no track object found", ErrMalformedLookup)
	}

	infoNode, ok := types.FindFirstWithField(body, "manifest")
	if !ok {
		return nil, fmt.Errorf("%w: no stream info object found", ErrMalformedLookup)
	}

	var track types.TrackMeta
	if err := json.Unmarshal([]byte(trackNode.Raw), &track); nil != err {
		return nil, fmt.Errorf("%w: decode track object: %v", ErrMalformedLookup, err)
	}

	var info types.StreamInfo
	if err := json.Unmarshal([]byte(infoNode.Raw), &info); nil != err {
		return nil, fmt.Errorf("%w: decode stream info object: %v", ErrMalformedLookup, err)
	}

	var originalTrackURL string
	if node, ok := types.FindFirstWithField(body, "OriginalTrackUrl"); ok {
		if v, ok := types.Field(node, "OriginalTrackUrl"); ok && v.Type == gjson.String {
			originalTrackURL = v.Str
		}
	}

	return &types.TrackLookup{
		Track:            track,
		Info:             info,
		OriginalTrackURL: originalTrackURL,
	}, nil
}

type DashKind int

const (
	// DashKindManifest is an XML DASH manifest to hand to an adaptive player.
	DashKindManifest DashKind = iota + 1
	// DashKindFlac is a JSON short-circuit carrying direct FLAC URLs.
	DashKindFlac
)

type DashResult struct {
	Kind        DashKind
	ContentType string

	// Manifest and Info are set for DashKindManifest.
	Manifest []byte
	Info     *mpd.StreamInfo

	// URLs and ManifestText are set for DashKindFlac.
	URLs         []string
	ManifestText string
}

// GetDashManifest resolves the hi-res stream description for a track. A
// "not found" payload yields ErrDashUnavailable so callers can downgrade
// silently instead of surfacing a failure.
func (c *Client) GetDashManifest(
	ctx context.Context,
	logger zerolog.Logger,
	id string,
	quality types.Quality,
) (*DashResult, error) {
	logger = logger.With().Str("track_id", id).Str("quality", string(quality)).Logger()

	params := make(url.Values, 2)
	params.Set("id", id)
	params.Set("quality", string(quality))
	reqURL := c.routeURL("/dash/", params)

	var out *DashResult
	err := retry.Do(
		ctx,
		retry.WithMaxRetries(maxResolveAttempts-1, linearBackoff(retryBackoffStep)),
		func(ctx context.Context) error {
			res, err := c.exec.Do(ctx, logger, reqURL, mirror.Options{ //nolint:exhaustruct
				Timeout: time.Duration(c.conf.Timeouts.GetDashManifest) * time.Second,
			})
			if nil != err {
				return fmt.Errorf("execute DASH manifest request: %w", err)
			}

			if !res.OK() {
				if res.StatusCode == http.StatusTooManyRequests {
					return ErrRateLimited
				}

				if res.StatusCode >= http.StatusInternalServerError {
					logger.Warn().Int("status_code", res.StatusCode).Msg("Server error, retrying DASH manifest request")
					return retry.RetryableError(fmt.Errorf("server error status %d", res.StatusCode))
				}

				logger.Error().Int("status_code", res.StatusCode).Bytes("response_body", res.Body).Msg("Unexpected DASH manifest response")

				return fmt.Errorf("unexpected response code %d with body: %s", res.StatusCode, string(res.Body))
			}

			r, err := classifyDashBody(res)
			if nil != err {
				return err
			}

			out = r

			return nil
		},
	)
	if nil != err {
		return nil, fmt.Errorf("get DASH manifest: %w", err)
	}

	return out, nil
}

func classifyDashBody(res *mirror.Result) (*DashResult, error) {
	body := bytes.TrimSpace(res.Body)

	if bytes.HasPrefix(body, []byte("<")) {
		info, err := mpd.ParseStreamInfo(bytes.NewReader(body))
		if nil != err {
			return nil, fmt.Errorf("parse DASH manifest XML: %v", err)
		}

		return &DashResult{ //nolint:exhaustruct
			Kind:        DashKindManifest,
			ContentType: "application/dash+xml",
			Manifest:    body,
			Info:        info,
		}, nil
	}

	parsed := gjson.ParseBytes(body)

	if detail := parsed.Get("detail"); detail.Type == gjson.String && detail.Str == "not found" {
		return nil, ErrDashUnavailable
	}

	if urls := parsed.Get("urls"); urls.IsArray() {
		var out []string
		urls.ForEach(func(_, v gjson.Result) bool {
			if v.Type == gjson.String {
				out = append(out, v.Str)
			}

			return true
		})

		if len(out) > 0 {
			return &DashResult{ //nolint:exhaustruct
				Kind:         DashKindFlac,
				ContentType:  "application/json",
				URLs:         out,
				ManifestText: string(body),
			}, nil
		}
	}

	return nil, fmt.Errorf("unrecognized DASH manifest body: %s", string(body))
}

// GetStreamURL resolves a playable or downloadable audio URL for the track.
// Hi-res requests go through DASH resolution first and silently downgrade to
// lossless when that fails.
func (c *Client) GetStreamURL(
	ctx context.Context,
	logger zerolog.Logger,
	id string,
	quality types.Quality,
) (string, error) {
	key := cache.StreamKey{TrackID: id, Quality: quality}
	if u, ok := c.cache.Get(key); ok {
		return u, nil
	}

	var streamURL string
	err := retry.Do(
		ctx,
		retry.WithMaxRetries(maxResolveAttempts-1, linearBackoff(retryBackoffStep)),
		func(ctx context.Context) error {
			u, err := c.resolveStreamURL(ctx, logger, id, quality)
			if nil != err {
				if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrMalformedLookup) {
					return err
				}

				if err := ctx.Err(); nil != err {
					return err
				}

				return retry.RetryableError(err)
			}

			streamURL = u

			return nil
		},
	)
	if nil != err {
		return "", fmt.Errorf("get stream URL: %w", err)
	}

	c.cache.Set(key, streamURL)

	return streamURL, nil
}

// PruneStreamCache bounds the stream URL cache to the currently-playing
// track and the next queued one.
func (c *Client) PruneStreamCache(current, next cache.StreamKey) {
	c.cache.PruneExcept(current, next)
}

func (c *Client) resolveStreamURL(
	ctx context.Context,
	logger zerolog.Logger,
	id string,
	quality types.Quality,
) (string, error) {
	if quality.IsHiRes() {
		dash, err := c.GetDashManifest(ctx, logger, id, quality)
		if nil == err && dash.Kind == DashKindFlac && len(dash.URLs) > 0 {
			return dash.URLs[0], nil
		}

		if nil != err {
			if errors.Is(err, ErrRateLimited) {
				return "", err
			}

			logger.Debug().Err(err).Msg("DASH resolution failed, downgrading to lossless")
		}

		quality = quality.Downgrade()
	}

	lookup, err := c.GetTrack(ctx, logger, id, quality)
	if nil != err {
		return "", fmt.Errorf("resolve track lookup: %w", err)
	}

	if lookup.OriginalTrackURL != "" {
		return lookup.OriginalTrackURL, nil
	}

	u, err := decodeManifestStreamURL(lookup.Info.Manifest)
	if nil != err {
		logger.Error().Err(err).Msg("Failed to extract stream URL from manifest")
		return "", fmt.Errorf("extract stream URL from manifest: %w", err)
	}

	return u, nil
}

// decodeManifestStreamURL base64-decodes the manifest blob and extracts the
// first stream URL, preferring a JSON urls list over raw pattern matching.
func decodeManifestStreamURL(manifest string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(manifest)
	if nil != err {
		return "", fmt.Errorf("base64-decode manifest: %v", err)
	}

	var decoded struct {
		URLs []string `json:"urls"`
	}
	if err := json.Unmarshal(raw, &decoded); nil == err && len(decoded.URLs) > 0 {
		return decoded.URLs[0], nil
	}

	if m := streamURLPattern.Find(raw); nil != m {
		return string(m), nil
	}

	return "", errors.New("manifest carries no stream URL")
}
