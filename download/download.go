// Package download turns a track reference into raw audio bytes, reporting
// byte-level progress and honoring per-download cancellation.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/xeptore/hifidl/hifi"
	"github.com/xeptore/hifidl/hifi/types"
	"github.com/xeptore/hifidl/progress"
	"github.com/xeptore/hifidl/unit"
)

// ErrDownloadCancelled classifies a download stopped by its own context, as
// opposed to a genuine network or server failure.
var ErrDownloadCancelled = errors.New("download cancelled")

const readChunkSize = 32 * unit.Kibibyte

type Blob struct {
	Bytes    []byte
	MimeType string
	Filename string
}

type Options struct {
	// Feed receives typed progress events; nil disables reporting.
	Feed *progress.Feed
}

type Downloader struct {
	client *hifi.Client
}

func New(client *hifi.Client) *Downloader {
	return &Downloader{client: client}
}

// FetchTrack resolves the track's stream URL and downloads the audio bytes.
// Hi-res requests are downloaded at the lossless tier; upgrades only happen
// at the transcode stage.
func (d *Downloader) FetchTrack(
	ctx context.Context,
	logger zerolog.Logger,
	trackID string,
	quality types.Quality,
	filename string,
	opts Options,
) (*Blob, error) {
	quality = quality.Downgrade()

	logger = logger.With().Str("track_id", trackID).Str("quality", string(quality)).Logger()

	streamURL, err := d.client.GetStreamURL(ctx, logger, trackID, quality)
	if nil != err {
		if cancelled(ctx, err) {
			return nil, ErrDownloadCancelled
		}

		return nil, fmt.Errorf("resolve stream URL: %w", err)
	}

	blob, err := d.fetch(ctx, logger, trackID, streamURL, filename, opts)
	if nil != err {
		return nil, err
	}

	if nil != opts.Feed {
		opts.Feed.Publish(progress.Event{
			Stage:         progress.StageDone,
			TrackID:       trackID,
			ReceivedBytes: int64(len(blob.Bytes)),
			TotalBytes:    int64(len(blob.Bytes)),
		})
	}

	return blob, nil
}

func (d *Downloader) fetch(
	ctx context.Context,
	logger zerolog.Logger,
	trackID string,
	streamURL string,
	filename string,
	opts Options,
) (blob *Blob, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if nil != err {
		logger.Error().Err(err).Msg("Failed to create track download request")
		return nil, fmt.Errorf("create track download request: %v", err)
	}

	// No client timeout: track downloads are long-running and are bounded by
	// the caller's context instead.
	resp, err := http.DefaultClient.Do(req)
	if nil != err {
		if cancelled(ctx, err) {
			return nil, ErrDownloadCancelled
		}

		return nil, fmt.Errorf("send track download request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			logger.Error().Err(closeErr).Msg("Failed to close track download response body")
			err = errors.Join(err, fmt.Errorf("close track download response body: %v", closeErr))
		}
	}()

	switch code := resp.StatusCode; {
	case code == http.StatusTooManyRequests:
		return nil, hifi.ErrRateLimited
	case code < http.StatusOK || code >= http.StatusMultipleChoices:
		respBytes, readErr := io.ReadAll(resp.Body)
		if nil != readErr {
			return nil, fmt.Errorf("read track download error response body: %w", readErr)
		}

		logger.Error().Int("status_code", code).Bytes("response_body", respBytes).Msg("Unexpected track download response")

		return nil, fmt.Errorf("unexpected track download response code %d with body: %s", code, string(respBytes))
	}

	var totalBytes int64 = -1
	if v := resp.Header.Get("Content-Length"); v != "" {
		if n, parseErr := strconv.ParseInt(v, 10, 64); nil == parseErr {
			totalBytes = n
		}
	}

	audio, err := d.readBody(ctx, resp.Body, trackID, totalBytes, opts)
	if nil != err {
		if cancelled(ctx, err) {
			return nil, ErrDownloadCancelled
		}

		logger.Error().Err(err).Msg("Failed to read track download response body")

		return nil, fmt.Errorf("read track download response body: %w", err)
	}

	return &Blob{
		Bytes:    audio,
		MimeType: blobMimeType(resp.Header.Get("Content-Type"), audio),
		Filename: filename,
	}, nil
}

// readBody accumulates the response body chunk by chunk, publishing one
// progress event per chunk so consumers see byte-level advancement.
func (d *Downloader) readBody(
	ctx context.Context,
	body io.Reader,
	trackID string,
	totalBytes int64,
	opts Options,
) ([]byte, error) {
	var (
		out      []byte
		received int64
		buf      = make([]byte, readChunkSize)
	)
	for {
		if err := ctx.Err(); nil != err {
			return nil, err
		}

		n, err := body.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
			received += int64(n)

			if nil != opts.Feed {
				opts.Feed.Publish(progress.Event{
					Stage:         progress.StageDownloading,
					TrackID:       trackID,
					ReceivedBytes: received,
					TotalBytes:    totalBytes,
				})
			}
		}

		if nil != err {
			if errors.Is(err, io.EOF) {
				return out, nil
			}

			return nil, err
		}
	}
}

func blobMimeType(contentType string, audio []byte) string {
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}

	return mimetype.Detect(audio).String()
}

func cancelled(ctx context.Context, err error) bool {
	return nil != ctx.Err() || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
