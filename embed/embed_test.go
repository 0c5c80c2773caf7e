package embed_test

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/xeptore/hifidl/config"
	"github.com/xeptore/hifidl/download"
	"github.com/xeptore/hifidl/embed"
	"github.com/xeptore/hifidl/engine"
	"github.com/xeptore/hifidl/hifi/types"
	"github.com/xeptore/hifidl/progress"
)

// mockEngine is an in-memory engine recording Exec concurrency and surviving
// files, so serialization and cleanup are observable.
type mockEngine struct {
	mux       sync.Mutex
	state     engine.State
	files     map[string][]byte
	active    int
	maxActive int
	execDelay time.Duration
	execErr   error
	feed      *progress.Feed
}

func newMockEngine() *mockEngine {
	return &mockEngine{
		mux:       sync.Mutex{},
		state:     engine.StateUninitialized,
		files:     make(map[string][]byte),
		active:    0,
		maxActive: 0,
		execDelay: 0,
		execErr:   nil,
		feed:      progress.NewFeed(),
	}
}

func (m *mockEngine) Load(ctx context.Context, coreURL, wasmURL string) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.state = engine.StateReady

	return nil
}

func (m *mockEngine) State() engine.State {
	m.mux.Lock()
	defer m.mux.Unlock()

	return m.state
}

func (m *mockEngine) Progress() *progress.Feed {
	return m.feed
}

func (m *mockEngine) WriteFile(name string, data []byte) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.files[name] = data

	return nil
}

func (m *mockEngine) ReadFile(name string) ([]byte, error) {
	m.mux.Lock()
	defer m.mux.Unlock()

	b, ok := m.files[name]
	if !ok {
		return nil, errors.New("no such file: " + name)
	}

	return b, nil
}

func (m *mockEngine) DeleteFile(name string) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	delete(m.files, name)

	return nil
}

func (m *mockEngine) Exec(ctx context.Context, args []string) error {
	m.mux.Lock()
	m.active++
	if m.active > m.maxActive {
		m.maxActive = m.active
	}
	delay, execErr := m.execDelay, m.execErr
	m.mux.Unlock()

	defer func() {
		m.mux.Lock()
		m.active--
		m.mux.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if nil != execErr {
		return execErr
	}

	// The output file is the final argument.
	m.mux.Lock()
	m.files[args[len(args)-1]] = []byte("transcoded")
	m.mux.Unlock()

	return nil
}

func (m *mockEngine) fileNames() []string {
	m.mux.Lock()
	defer m.mux.Unlock()

	return slices.Sorted(maps.Keys(m.files))
}

func newEmbedder(eng engine.Engine) *embed.Embedder {
	engineConf := config.Engine{
		CoreURL:     "",
		WasmURL:     "",
		BinaryPath:  "ffmpeg",
		WorkDir:     "",
		ExecTimeout: config.Duration{Duration: time.Minute},
	}
	downloaderConf := config.Downloader{OutputDir: ".", DownloadCover: 1, Concurrency: 1}

	return embed.New(engine.NewGate(eng), engineConf, downloaderConf)
}

func flacTrack() types.TrackMeta {
	return types.TrackMeta{ //nolint:exhaustruct
		ID:          101,
		Title:       "Song",
		Duration:    213,
		TrackNumber: 3,
		Artist:      types.TrackArtist{Name: "Artist", Type: types.ArtistTypeMain},
		Album:       types.TrackAlbum{ID: 5, Title: "Album", NumberOfTracks: 12, ReleaseDate: "2023-06-09"}, //nolint:exhaustruct
	}
}

func TestEmbedProducesTaggedOutput(t *testing.T) {
	t.Parallel()

	eng := newMockEngine()
	e := newEmbedder(eng)

	blob := &download.Blob{Bytes: []byte("flacbytes"), MimeType: "audio/flac", Filename: "song.flac"}

	out, err := e.Embed(t.Context(), zerolog.Nop(), flacTrack(), types.QualityLossless, blob)
	require.NoError(t, err)
	assert.Equal(t, []byte("transcoded"), out.Bytes)
	assert.Equal(t, "song.flac", out.Filename)
	assert.Empty(t, eng.fileNames(), "all virtual files must be cleaned up")
}

func TestEmbedRenamesAACOutputToMP3(t *testing.T) {
	t.Parallel()

	eng := newMockEngine()
	e := newEmbedder(eng)

	blob := &download.Blob{Bytes: []byte("aacbytes"), MimeType: "audio/mp4", Filename: "song.m4a"}

	out, err := e.Embed(t.Context(), zerolog.Nop(), flacTrack(), types.QualityHigh, blob)
	require.NoError(t, err)
	assert.Equal(t, "song.mp3", out.Filename)
	assert.Equal(t, "audio/mpeg", out.MimeType)
}

func TestEmbedKeepsOriginalForUnsupportedFormat(t *testing.T) {
	t.Parallel()

	eng := newMockEngine()
	e := newEmbedder(eng)

	blob := &download.Blob{Bytes: []byte("???"), MimeType: "application/pdf", Filename: "song.pdf"}

	out, err := e.Embed(t.Context(), zerolog.Nop(), flacTrack(), types.QualityLossless, blob)
	require.NoError(t, err)
	assert.Same(t, blob, out)
	assert.Empty(t, eng.fileNames(), "unsupported input must not touch the engine")
}

func TestEmbedKeepsOriginalAndCleansUpOnExecFailure(t *testing.T) {
	t.Parallel()

	eng := newMockEngine()
	eng.execErr = errors.New("Conversion failed!")
	e := newEmbedder(eng)

	blob := &download.Blob{Bytes: []byte("flacbytes"), MimeType: "audio/flac", Filename: "song.flac"}

	out, err := e.Embed(t.Context(), zerolog.Nop(), flacTrack(), types.QualityLossless, blob)
	require.NoError(t, err, "transcode failures must not fail the download")
	assert.Same(t, blob, out)
	assert.Empty(t, eng.fileNames(), "virtual files must be deleted after a failed job")
}

func TestEmbedJobsNeverOverlapOnTheEngine(t *testing.T) {
	t.Parallel()

	eng := newMockEngine()
	eng.execDelay = 30 * time.Millisecond
	e := newEmbedder(eng)

	var wg errgroup.Group
	for i := range 4 {
		blob := &download.Blob{Bytes: []byte{byte(i)}, MimeType: "audio/flac", Filename: "song.flac"}
		wg.Go(func() error {
			_, err := e.Embed(t.Context(), zerolog.Nop(), flacTrack(), types.QualityLossless, blob)
			return err
		})
	}
	require.NoError(t, wg.Wait())

	eng.mux.Lock()
	defer eng.mux.Unlock()
	assert.Equal(t, 1, eng.maxActive, "the engine gate must serialize jobs")
}
