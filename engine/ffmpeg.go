package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/xeptore/hifidl/config"
	"github.com/xeptore/hifidl/progress"
)

// FFmpeg implements the engine contract over a local ffmpeg binary and a
// private temp directory acting as the virtual filesystem. Core and wasm
// URLs are accepted for contract parity and ignored; the binary ships with
// the host.
type FFmpeg struct {
	logger     zerolog.Logger
	binaryPath string
	workDir    string
	feed       *progress.Feed

	mux   sync.Mutex
	state State
	dir   string
}

func NewFFmpeg(logger zerolog.Logger, conf config.Engine) *FFmpeg {
	return &FFmpeg{
		logger:     logger.With().Str("engine", "ffmpeg").Logger(),
		binaryPath: conf.BinaryPath,
		workDir:    conf.WorkDir,
		feed:       progress.NewFeed(),
		mux:        sync.Mutex{},
		state:      StateUninitialized,
		dir:        "",
	}
}

func (e *FFmpeg) State() State {
	e.mux.Lock()
	defer e.mux.Unlock()

	return e.state
}

func (e *FFmpeg) Progress() *progress.Feed {
	return e.feed
}

func (e *FFmpeg) Load(ctx context.Context, coreURL, wasmURL string) error {
	e.mux.Lock()
	defer e.mux.Unlock()

	if e.state == StateReady {
		return nil
	}

	e.state = StateLoading

	if err := ctx.Err(); nil != err {
		e.state = StateError
		return fmt.Errorf("load engine: %w", err)
	}

	bin, err := exec.LookPath(e.binaryPath)
	if nil != err {
		e.state = StateError
		e.logger.Error().Err(err).Str("binary_path", e.binaryPath).Msg("Engine binary not found")

		return fmt.Errorf("look up engine binary: %v", err)
	}
	e.binaryPath = bin

	dir, err := os.MkdirTemp(e.workDir, "hifidl-engine-*")
	if nil != err {
		e.state = StateError
		return fmt.Errorf("create engine work directory: %v", err)
	}

	e.dir = dir
	e.state = StateReady
	e.logger.Debug().Str("work_dir", dir).Msg("Engine loaded")

	return nil
}

func (e *FFmpeg) WriteFile(name string, data []byte) error {
	path, err := e.resolve(name)
	if nil != err {
		return err
	}

	if err := os.WriteFile(path, data, 0o600); nil != err {
		return fmt.Errorf("write engine file: %v", err)
	}

	return nil
}

func (e *FFmpeg) ReadFile(name string) ([]byte, error) {
	path, err := e.resolve(name)
	if nil != err {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if nil != err {
		return nil, fmt.Errorf("read engine file: %v", err)
	}

	return data, nil
}

func (e *FFmpeg) DeleteFile(name string) error {
	path, err := e.resolve(name)
	if nil != err {
		return err
	}

	if err := os.Remove(path); nil != err && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete engine file: %v", err)
	}

	return nil
}

// Exec runs the binary with the virtual filesystem as working directory so
// bare file names in args resolve inside it.
func (e *FFmpeg) Exec(ctx context.Context, args []string) error {
	e.mux.Lock()
	if e.state != StateReady {
		e.mux.Unlock()
		return ErrNotReady
	}
	dir := e.dir
	bin := e.binaryPath
	e.mux.Unlock()

	e.feed.Publish(progress.Event{Stage: progress.StageProcessing, TrackID: "", ReceivedBytes: 0, TotalBytes: -1})

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	e.logger.Debug().Strs("args", cmd.Args).Msg("Starting engine command")

	if err := cmd.Run(); nil != err {
		if stderr.Len() > 0 {
			return fmt.Errorf("run engine command: %w: %s", err, stderr.String())
		}

		return fmt.Errorf("run engine command: %w", err)
	}

	return nil
}

// resolve maps a virtual file name to a path inside the work directory,
// rejecting names that would escape it.
func (e *FFmpeg) resolve(name string) (string, error) {
	e.mux.Lock()
	defer e.mux.Unlock()

	if e.state != StateReady {
		return "", ErrNotReady
	}

	if name == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("invalid engine file name %q", name)
	}

	return filepath.Join(e.dir, name), nil
}
