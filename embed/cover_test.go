package embed

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jpegBytes = append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, make([]byte, 64)...)

func TestIsImage(t *testing.T) {
	t.Parallel()

	assert.True(t, isImage([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00}))
	assert.True(t, isImage([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A}))
	assert.True(t, isImage(append([]byte("RIFF\x00\x00\x00\x00WEBP"), 0x00)))
	assert.False(t, isImage([]byte("RIFF\x00\x00\x00\x00WAVE")))
	assert.False(t, isImage([]byte("<html>not found</html>")))
	assert.False(t, isImage(nil))
}

func TestFetchCoverOnceAcceptsValidImage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(jpegBytes)
	}))
	t.Cleanup(srv.Close)

	b, err := fetchCoverOnce(t.Context(), srv.URL, true, time.Second)
	require.NoError(t, err)
	assert.Equal(t, jpegBytes, b)
}

func TestFetchCoverOnceSendsBrowserHeadersWhenAsked(t *testing.T) {
	t.Parallel()

	var userAgent, referer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent = r.Header.Get("User-Agent")
		referer = r.Header.Get("Referer")
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(jpegBytes)
	}))
	t.Cleanup(srv.Close)

	_, err := fetchCoverOnce(t.Context(), srv.URL, true, time.Second)
	require.NoError(t, err)
	assert.Contains(t, userAgent, "Mozilla/5.0")
	assert.NotEmpty(t, referer)

	_, err = fetchCoverOnce(t.Context(), srv.URL, false, time.Second)
	require.NoError(t, err)
	assert.NotContains(t, userAgent, "Mozilla/5.0")
}

func TestFetchCoverOnceRejectsNonImageContentType(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write(jpegBytes)
	}))
	t.Cleanup(srv.Close)

	_, err := fetchCoverOnce(t.Context(), srv.URL, false, time.Second)
	require.Error(t, err)
}

func TestFetchCoverOnceRejectsBogusImageBytes(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("<html>edge cache error</html>"))
	}))
	t.Cleanup(srv.Close)

	_, err := fetchCoverOnce(t.Context(), srv.URL, false, time.Second)
	require.Error(t, err)
}
