// Package progress is a typed event channel for long-running pipeline
// stages, letting multiple consumers (UI bindings, logging, tests) observe
// the same download independently.
package progress

import (
	"sync"

	"github.com/xeptore/hifidl/mathutil"
)

type Stage string

const (
	StageDownloading Stage = "downloading"
	StageProcessing  Stage = "processing"
	StageDone        Stage = "done"
)

type Event struct {
	Stage         Stage
	TrackID       string
	ReceivedBytes int64
	// TotalBytes is -1 when the response carries no length.
	TotalBytes int64
}

// Percent reports completion rounded up, or -1 when the total is unknown.
func (e Event) Percent() int {
	if e.TotalBytes <= 0 {
		return -1
	}

	p := mathutil.DivCeil(e.ReceivedBytes*100, e.TotalBytes)

	return int(min(p, 100))
}

type Feed struct {
	mux  sync.Mutex
	subs map[int]chan Event
	next int
}

func NewFeed() *Feed {
	return &Feed{
		mux:  sync.Mutex{},
		subs: make(map[int]chan Event),
		next: 0,
	}
}

// Subscribe registers a buffered consumer channel. The returned cancel
// function unregisters and closes it.
func (f *Feed) Subscribe(buffer int) (<-chan Event, func()) {
	f.mux.Lock()
	defer f.mux.Unlock()

	id := f.next
	f.next++

	ch := make(chan Event, max(buffer, 1))
	f.subs[id] = ch

	return ch, func() {
		f.mux.Lock()
		defer f.mux.Unlock()

		if sub, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(sub)
		}
	}
}

// Publish delivers the event to every subscriber without blocking: a slow
// consumer drops events rather than stalling the download loop.
func (f *Feed) Publish(e Event) {
	f.mux.Lock()
	defer f.mux.Unlock()

	for _, ch := range f.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
