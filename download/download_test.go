package download_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/hifidl/cache"
	"github.com/xeptore/hifidl/config"
	"github.com/xeptore/hifidl/download"
	"github.com/xeptore/hifidl/hifi"
	"github.com/xeptore/hifidl/hifi/types"
	"github.com/xeptore/hifidl/mirror"
	"github.com/xeptore/hifidl/progress"
	"github.com/xeptore/hifidl/ratelimit"
)

// newDownloader wires a downloader against a single test server that acts as
// both the API mirror and the audio CDN.
func newDownloader(t *testing.T, mux *http.ServeMux) (*download.Downloader, string) {
	t.Helper()

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	reg, err := mirror.NewRegistry(
		zerolog.Nop(),
		[]config.Mirror{{Name: "only", BaseURL: srv.URL, Weight: 1, RequiresProxy: false}},
		nil,
	)
	require.NoError(t, err)

	exec := mirror.NewExecutor(reg, "", ratelimit.NewAPILimiter(0, 0))

	conf := config.API{
		Timeouts: config.APITimeouts{
			GetTrack:        5,
			GetDashManifest: 5,
			Search:          5,
			GetAlbum:        5,
			GetArtist:       5,
			GetPlaylist:     5,
			GetLyrics:       5,
		},
		RequestsPerSecond: 0,
		RequestsBurst:     0,
	}

	client := hifi.NewClient(reg, exec, conf, cache.NewStreamURLs())

	return download.New(client), srv.URL
}

// lookupHandler serves a minimal valid track lookup whose stream URL points
// back at the test server's /cdn/ route.
func lookupHandler(baseURL string, quality *atomic.Value) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if nil != quality {
			quality.Store(r.URL.Query().Get("quality"))
		}

		body := `[
			{"id":101,"title":"Song","duration":213,"artist":{"name":"A","type":"MAIN"},"album":{"id":5,"title":"Album","cover":"aa"}},
			{"trackId":101,"audioQuality":"LOSSLESS","manifestMimeType":"application/vnd.tidal.bts","manifest":"unused"},
			{"OriginalTrackUrl":"` + baseURL + `/cdn/song.flac"}
		]`
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func TestFetchTrackReportsChunkedProgress(t *testing.T) {
	t.Parallel()

	audio := make([]byte, 100*1024)
	for i := range audio {
		audio[i] = byte(i)
	}

	mux := http.NewServeMux()
	var baseURL string
	mux.HandleFunc("/track/", func(w http.ResponseWriter, r *http.Request) {
		lookupHandler(baseURL, nil)(w, r)
	})
	mux.HandleFunc("/cdn/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/flac")
		w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
		_, _ = w.Write(audio)
	})

	d, srvURL := newDownloader(t, mux)
	baseURL = srvURL

	feed := progress.NewFeed()
	events, cancelSub := feed.Subscribe(8192)
	defer cancelSub()

	blob, err := d.FetchTrack(
		t.Context(),
		zerolog.Nop(),
		"101",
		types.QualityLossless,
		"song.flac",
		download.Options{Feed: feed},
	)
	require.NoError(t, err)
	assert.Equal(t, audio, blob.Bytes)
	assert.Equal(t, "audio/flac", blob.MimeType)
	assert.Equal(t, "song.flac", blob.Filename)

	var (
		sawDownloading bool
		sawDone        bool
		lastReceived   int64
	)
drain:
	for {
		select {
		case e := <-events:
			switch e.Stage {
			case progress.StageDownloading:
				sawDownloading = true
				assert.GreaterOrEqual(t, e.ReceivedBytes, lastReceived, "received bytes must be monotonic")
				lastReceived = e.ReceivedBytes
				assert.EqualValues(t, len(audio), e.TotalBytes)
			case progress.StageDone:
				sawDone = true
				assert.Equal(t, 100, e.Percent())
				break drain
			}
		case <-time.After(time.Second):
			break drain
		}
	}

	assert.True(t, sawDownloading)
	assert.True(t, sawDone)
}

func TestFetchTrackClassifiesMidStreamAbortAsCancellation(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	var baseURL string
	mux.HandleFunc("/track/", func(w http.ResponseWriter, r *http.Request) {
		lookupHandler(baseURL, nil)(w, r)
	})
	mux.HandleFunc("/cdn/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/flac")
		w.Header().Set("Content-Length", "1000000")
		_, _ = w.Write(make([]byte, 64*1024))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})

	d, srvURL := newDownloader(t, mux)
	baseURL = srvURL

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	feed := progress.NewFeed()
	events, cancelSub := feed.Subscribe(1024)
	defer cancelSub()

	go func() {
		// Abort as soon as the first chunk lands.
		<-events
		cancel()
	}()

	_, err := d.FetchTrack(ctx, zerolog.Nop(), "101", types.QualityLossless, "song.flac", download.Options{Feed: feed})
	require.ErrorIs(t, err, download.ErrDownloadCancelled)

	// Progress must stop with the download: no completion event may follow.
	for {
		select {
		case e := <-events:
			assert.NotEqual(t, progress.StageDone, e.Stage)
		case <-time.After(200 * time.Millisecond):
			return
		}
	}
}

func TestFetchTrackSurfacesRateLimitedCDN(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	var baseURL string
	mux.HandleFunc("/track/", func(w http.ResponseWriter, r *http.Request) {
		lookupHandler(baseURL, nil)(w, r)
	})
	mux.HandleFunc("/cdn/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	d, srvURL := newDownloader(t, mux)
	baseURL = srvURL

	_, err := d.FetchTrack(t.Context(), zerolog.Nop(), "101", types.QualityLossless, "song.flac", download.Options{})
	require.ErrorIs(t, err, hifi.ErrRateLimited)
}

func TestFetchTrackDownloadsHiResAtLossless(t *testing.T) {
	t.Parallel()

	var quality atomic.Value
	mux := http.NewServeMux()
	var baseURL string
	mux.HandleFunc("/track/", func(w http.ResponseWriter, r *http.Request) {
		lookupHandler(baseURL, &quality)(w, r)
	})
	mux.HandleFunc("/cdn/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/flac")
		_, _ = w.Write([]byte("flacbytes"))
	})

	d, srvURL := newDownloader(t, mux)
	baseURL = srvURL

	blob, err := d.FetchTrack(t.Context(), zerolog.Nop(), "101", types.QualityHiRes, "song.flac", download.Options{})
	require.NoError(t, err)
	assert.Equal(t, []byte("flacbytes"), blob.Bytes)

	got, _ := quality.Load().(string)
	assert.Equal(t, string(types.QualityLossless), got)
}
