package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/gabriel-vasile/mimetype"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/xeptore/hifidl/cache"
	"github.com/xeptore/hifidl/config"
	"github.com/xeptore/hifidl/constant"
	"github.com/xeptore/hifidl/download"
	"github.com/xeptore/hifidl/embed"
	"github.com/xeptore/hifidl/engine"
	"github.com/xeptore/hifidl/hifi"
	"github.com/xeptore/hifidl/hifi/types"
	"github.com/xeptore/hifidl/iterutil"
	"github.com/xeptore/hifidl/log"
	"github.com/xeptore/hifidl/mirror"
	"github.com/xeptore/hifidl/progress"
	"github.com/xeptore/hifidl/ratelimit"
	"github.com/xeptore/hifidl/result"
	"github.com/xeptore/hifidl/unit"
)

func main() {
	logger := log.NewDefault()

	//nolint:exhaustruct
	app := &cli.Command{
		Name:    "hifidl",
		Version: constant.Version,
		Metadata: map[string]any{
			"compiled_at": constant.CompileTime,
		},
		Suggest:                    true,
		Usage:                      "HiFi mirror track downloader",
		EnableShellCompletion:      true,
		ShellCompletionCommandName: "shell-completion",
		AllowExtFlags:              false,
		Flags: []cli.Flag{
			//nolint:exhaustruct
			&cli.StringFlag{
				Name:     "config",
				Usage:    "Config file path",
				Required: false,
			},
		},
		Commands: []*cli.Command{
			//nolint:exhaustruct
			{
				Name:      "download",
				Usage:     "Download tracks, embed metadata, and write audio files",
				ArgsUsage: "<track-id>...",
				Flags: []cli.Flag{
					//nolint:exhaustruct
					&cli.StringFlag{
						Name:  "quality",
						Usage: "Audio quality tier (LOW, HIGH, LOSSLESS, HI_RES_LOSSLESS)",
						Value: string(types.QualityLossless),
					},
				},
				Action: downloadTracks,
			},
			//nolint:exhaustruct
			{
				Name:      "stream-url",
				Usage:     "Resolve and print a track's stream URL",
				ArgsUsage: "<track-id>",
				Flags: []cli.Flag{
					//nolint:exhaustruct
					&cli.StringFlag{
						Name:  "quality",
						Usage: "Audio quality tier (LOW, HIGH, LOSSLESS, HI_RES_LOSSLESS)",
						Value: string(types.QualityLossless),
					},
				},
				Action: streamURL,
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); nil != err {
		if errors.Is(err, context.Canceled) {
			logger.Trace().Msg("Application was canceled")
			os.Exit(1)
		}

		var exitCode exitCodeError
		if errors.As(err, &exitCode) {
			os.Exit(int(exitCode))
		}

		logger.Error().Err(err).Msg("Application exited with error")
		os.Exit(10)
	}
}

type exitCodeError int

func (e exitCodeError) Error() string {
	return "error with exit code: " + strconv.Itoa(int(e))
}

// pipeline bundles every wired component a command needs.
type pipeline struct {
	conf       *config.Config
	client     *hifi.Client
	downloader *download.Downloader
	embedder   *embed.Embedder
}

func setup(cmd *cli.Command) (zerolog.Logger, *pipeline, error) {
	logger := log.NewDefault()

	if err := godotenv.Load(); nil != err {
		if !errors.Is(err, os.ErrNotExist) {
			return logger, nil, fmt.Errorf("load .env file: %v", err)
		}
		logger.Info().Msg(".env file was not found")
	} else {
		logger.Debug().Msg(".env file was loaded")
	}

	conf, err := config.Load(cmd.String("config"))
	if nil != err {
		return logger, nil, fmt.Errorf("load config: %v", err)
	}

	logger = log.FromConfig(conf.Log)

	logger.Debug().Dict("config", conf.ToDict()).Msg("Config loaded")

	reg, err := mirror.NewRegistry(logger, conf.Mirrors, nil)
	if nil != err {
		return logger, nil, fmt.Errorf("create mirror registry: %w", err)
	}

	limiter := ratelimit.NewAPILimiter(conf.API.RequestsPerSecond, conf.API.RequestsBurst)
	exec := mirror.NewExecutor(reg, conf.Proxy.URL, limiter)
	client := hifi.NewClient(reg, exec, conf.API, cache.NewStreamURLs())

	gate := engine.NewGate(engine.NewFFmpeg(logger, conf.Engine))
	embedder := embed.New(gate, conf.Engine, conf.Downloader)

	return logger, &pipeline{
		conf:       conf,
		client:     client,
		downloader: download.New(client),
		embedder:   embedder,
	}, nil
}

func downloadTracks(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, p, err := setup(cmd)
	if nil != err {
		return err
	}

	trackIDs := cmd.Args().Slice()
	if len(trackIDs) == 0 {
		return errors.New("at least one track id is required")
	}

	quality, err := types.ParseQuality(cmd.String("quality"))
	if nil != err {
		return fmt.Errorf("parse quality flag: %w", err)
	}

	if err := os.MkdirAll(p.conf.Downloader.OutputDir, 0o755); nil != err {
		return fmt.Errorf("create output directory: %v", err)
	}

	feed := progress.NewFeed()
	events, cancelSub := feed.Subscribe(1024)
	defer cancelSub()

	go func() {
		for e := range events {
			logger.Debug().
				Str("track_id", e.TrackID).
				Str("stage", string(e.Stage)).
				Int("percent", e.Percent()).
				Int64("received_bytes", e.ReceivedBytes).
				Msg("Progress")
		}
	}()

	outcomes := make([]result.Of[trackOutcome], len(trackIDs))

	wg, wgCtx := errgroup.WithContext(ctx)
	wg.SetLimit(p.conf.Downloader.Concurrency)
	for i, trackID := range trackIDs {
		wg.Go(func() error {
			outcome, err := downloadOne(wgCtx, logger, p, trackID, quality, feed)
			if nil != err {
				logger.Error().Err(err).Str("track_id", trackID).Msg("Track download failed")
				outcomes[i] = result.Err[trackOutcome](err)

				// A failed track must not stop its siblings.
				return nil
			}

			outcomes[i] = result.Ok(outcome)

			return nil
		})
	}
	if err := wg.Wait(); nil != err {
		return fmt.Errorf("wait for download workers: %w", err)
	}

	printSummary(trackIDs, outcomes)

	for i := range outcomes {
		if nil != outcomes[i].Err() {
			return exitCodeError(4)
		}
	}

	return nil
}

type trackOutcome struct {
	Title    string
	Artist   string
	Filename string
	Size     int
}

func downloadOne(
	ctx context.Context,
	logger zerolog.Logger,
	p *pipeline,
	trackID string,
	quality types.Quality,
	feed *progress.Feed,
) (*trackOutcome, error) {
	lookup, err := p.client.GetTrack(ctx, logger, trackID, quality.Downgrade())
	if nil != err {
		return nil, fmt.Errorf("resolve track metadata: %w", err)
	}

	base := sanitizeFilename(lookup.Track.ArtistName() + " - " + lookup.Track.Title)

	blob, err := p.downloader.FetchTrack(ctx, logger, trackID, quality, base, download.Options{Feed: feed})
	if nil != err {
		return nil, fmt.Errorf("download track: %w", err)
	}

	if filepath.Ext(blob.Filename) == "" {
		if m := mimetype.Lookup(blob.MimeType); nil != m {
			blob.Filename += m.Extension()
		}
	}

	out, err := p.embedder.Embed(ctx, logger, lookup.Track, quality, blob)
	if nil != err {
		return nil, fmt.Errorf("embed track metadata: %w", err)
	}

	path := filepath.Join(p.conf.Downloader.OutputDir, out.Filename)
	if err := os.WriteFile(path, out.Bytes, 0o644); nil != err {
		return nil, fmt.Errorf("write track file: %v", err)
	}

	logger.Info().Str("track_id", trackID).Str("file", path).Msg("Track downloaded")

	return &trackOutcome{
		Title:    lookup.Track.Title,
		Artist:   lookup.Track.ArtistName(),
		Filename: out.Filename,
		Size:     len(out.Bytes),
	}, nil
}

func streamURL(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, p, err := setup(cmd)
	if nil != err {
		return err
	}

	trackID := cmd.Args().First()
	if trackID == "" {
		return errors.New("a track id is required")
	}

	quality, err := types.ParseQuality(cmd.String("quality"))
	if nil != err {
		return fmt.Errorf("parse quality flag: %w", err)
	}

	u, err := p.client.GetStreamURL(ctx, logger, trackID, quality)
	if nil != err {
		return fmt.Errorf("resolve stream URL: %w", err)
	}

	fmt.Println(u)

	return nil
}

func printSummary(trackIDs []string, outcomes []result.Of[trackOutcome]) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Track ID", "Artist", "Title", "File", "Size", "Status"})
	t.AppendRows(iterutil.Map(trackIDs, func(i int, id string) table.Row {
		if err := outcomes[i].Err(); nil != err {
			return table.Row{id, "", "", "", "", "failed: " + err.Error()}
		}

		o := outcomes[i].Unwrap()

		return table.Row{id, o.Artist, o.Title, o.Filename, formatSize(o.Size), "ok"}
	}))
	t.Render()
}

func formatSize(n int) string {
	switch {
	case n >= unit.Mebibyte:
		return fmt.Sprintf("%.1f MiB", float64(n)/float64(unit.Mebibyte))
	case n >= unit.Kibibyte:
		return fmt.Sprintf("%.1f KiB", float64(n)/float64(unit.Kibibyte))
	default:
		return strconv.Itoa(n) + " B"
	}
}

// sanitizeFilename strips path separators and characters that are invalid on
// common filesystems.
func sanitizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		default:
			return r
		}
	}, name)
}
