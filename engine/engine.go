// Package engine abstracts the transcoding engine behind a narrow contract
// and serializes access to it: the engine is a process-wide singleton that
// can only run one job at a time.
package engine

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/xeptore/hifidl/progress"
)

// State is the engine lifecycle: uninitialized -> loading -> ready, with
// error as the terminal failure state.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

var ErrNotReady = errors.New("engine is not ready")

// Engine is the transcoding engine contract. Implementations own a private
// virtual filesystem addressed by bare file names.
type Engine interface {
	Load(ctx context.Context, coreURL, wasmURL string) error
	State() State
	WriteFile(name string, data []byte) error
	Exec(ctx context.Context, args []string) error
	ReadFile(name string) ([]byte, error)
	DeleteFile(name string) error
	Progress() *progress.Feed
}

// Gate serializes engine access. Every job goes through WithEngine; the
// weighted semaphore guarantees strict one-at-a-time execution regardless of
// job outcome.
type Gate struct {
	eng Engine
	sem *semaphore.Weighted
}

func NewGate(eng Engine) *Gate {
	return &Gate{
		eng: eng,
		sem: semaphore.NewWeighted(1),
	}
}

// WithEngine runs fn with exclusive engine access, lazily loading the engine
// on first use. Acquisition honors ctx so queued jobs can be cancelled while
// waiting.
func (g *Gate) WithEngine(ctx context.Context, coreURL, wasmURL string, fn func(Engine) error) error {
	if err := g.sem.Acquire(ctx, 1); nil != err {
		return fmt.Errorf("acquire engine gate: %w", err)
	}
	defer g.sem.Release(1)

	switch g.eng.State() {
	case StateReady:
	case StateUninitialized, StateError:
		if err := g.eng.Load(ctx, coreURL, wasmURL); nil != err {
			return fmt.Errorf("load engine: %w", err)
		}
	case StateLoading:
		// Loading is only observable concurrently, which the gate excludes.
		return ErrNotReady
	}

	return fn(g.eng)
}
