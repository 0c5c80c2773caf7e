package embed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/xeptore/hifidl/hifi/types"
)

// coverSizes is tried largest first; CDN nodes occasionally miss the largest
// renditions.
var coverSizes = []int{1280, 640, 320}

var errNoUsableCover = errors.New("no usable cover rendition found")

// fetchCover downloads album art from the cover CDN, trying each size with
// two strategies: browser-like headers first, then a bare request. Responses
// must both claim an image content type and carry image magic bytes.
func fetchCover(ctx context.Context, logger zerolog.Logger, coverID string, timeout time.Duration) ([]byte, error) {
	for _, size := range coverSizes {
		coverURL := types.CoverURL(coverID, size)

		for _, browserLike := range []bool{true, false} {
			b, err := fetchCoverOnce(ctx, coverURL, browserLike, timeout)
			if nil != err {
				if err := ctx.Err(); nil != err {
					return nil, err
				}

				logger.Debug().
					Err(err).
					Int("size", size).
					Bool("browser_like", browserLike).
					Msg("Cover fetch attempt failed")

				continue
			}

			return b, nil
		}
	}

	return nil, errNoUsableCover
}

func fetchCoverOnce(ctx context.Context, coverURL string, browserLike bool, timeout time.Duration) (b []byte, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, coverURL, nil)
	if nil != err {
		return nil, fmt.Errorf("create cover request: %v", err)
	}

	if browserLike {
		req.Header.Set("Accept", "image/avif,image/webp,image/apng,image/*,*/*;q=0.8")
		req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
		req.Header.Set("Referer", "https://listen.tidal.com/")
	}

	client := http.Client{Timeout: timeout} //nolint:exhaustruct
	resp, err := client.Do(req)
	if nil != err {
		return nil, fmt.Errorf("send cover request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("close cover response body: %v", closeErr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected cover response code %d", resp.StatusCode)
	}

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("unexpected cover content type %q", ct)
	}

	respBytes, err := io.ReadAll(resp.Body)
	if nil != err {
		return nil, fmt.Errorf("read cover response body: %w", err)
	}

	if !isImage(respBytes) {
		return nil, errors.New("cover response bytes are not a recognized image")
	}

	return respBytes, nil
}

// isImage checks JPEG, PNG, and WebP magic bytes.
func isImage(b []byte) bool {
	switch {
	case len(b) >= 3 && bytes.Equal(b[:3], []byte{0xFF, 0xD8, 0xFF}):
		return true
	case len(b) >= 4 && bytes.Equal(b[:4], []byte{0x89, 0x50, 0x4E, 0x47}):
		return true
	case len(b) >= 12 && bytes.Equal(b[:4], []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WEBP")):
		return true
	default:
		return false
	}
}
