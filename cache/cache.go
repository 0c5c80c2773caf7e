// Package cache memoizes resolved stream URLs so rapid play/queue changes do
// not re-resolve the same track.
package cache

import (
	"sync"
	"time"

	"github.com/karlseguin/ccache/v3"

	"github.com/xeptore/hifidl/hifi/types"
)

var DefaultStreamURLTTL = 30 * time.Minute

type StreamKey struct {
	TrackID string
	Quality types.Quality
}

// StreamURLs caches resolved stream URLs keyed by (track id, quality).
// Writes are last-writer-wins. Keys are tracked separately because pruning
// must enumerate live entries, which ccache does not expose.
type StreamURLs struct {
	c    *ccache.Cache[string]
	mux  sync.Mutex
	keys map[StreamKey]struct{}
}

func NewStreamURLs() *StreamURLs {
	return &StreamURLs{
		c: ccache.New(
			ccache.Configure[string]().
				MaxSize(100).
				GetsPerPromote(3).
				ItemsToPrune(1),
		),
		mux:  sync.Mutex{},
		keys: make(map[StreamKey]struct{}),
	}
}

func (c *StreamURLs) Get(k StreamKey) (string, bool) {
	c.mux.Lock()
	defer c.mux.Unlock()

	item := c.c.Get(cacheKey(k))
	if nil == item || item.Expired() {
		return "", false
	}

	return item.Value(), true
}

func (c *StreamURLs) Set(k StreamKey, url string) {
	c.mux.Lock()
	defer c.mux.Unlock()

	c.c.Set(cacheKey(k), url, DefaultStreamURLTTL)
	c.keys[k] = struct{}{}
}

// PruneExcept evicts every entry whose track id is not in the keep set,
// bounding memory to the currently-playing track and the next queued one.
func (c *StreamURLs) PruneExcept(keep ...StreamKey) {
	c.mux.Lock()
	defer c.mux.Unlock()

	keepIDs := make(map[string]struct{}, len(keep))
	for _, k := range keep {
		keepIDs[k.TrackID] = struct{}{}
	}

	for k := range c.keys {
		if _, ok := keepIDs[k.TrackID]; ok {
			continue
		}

		c.c.Delete(cacheKey(k))
		delete(c.keys, k)
	}
}

func cacheKey(k StreamKey) string {
	return k.TrackID + ":" + string(k.Quality)
}
