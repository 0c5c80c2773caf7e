// Package embed writes track metadata and cover art into downloaded audio
// through the transcoding engine. Embedding is strictly best-effort: any
// failure keeps the original audio bytes.
package embed

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/xeptore/hifidl/config"
	"github.com/xeptore/hifidl/constant"
	"github.com/xeptore/hifidl/download"
	"github.com/xeptore/hifidl/engine"
	"github.com/xeptore/hifidl/hifi/types"
)

var (
	ErrUnsupportedFormat = errors.New("audio format does not support metadata embedding")
	ErrTranscodeTimeout  = errors.New("transcode job timed out")
	ErrTranscodeMemory   = errors.New("transcode job ran out of memory")
)

var memoryErrPattern = regexp.MustCompile(`(?i)out of memory|cannot allocate memory|memory allocation failed`)

// jobSeq disambiguates virtual file names across concurrent jobs queued on
// the engine gate.
var jobSeq atomic.Int64

const (
	mp3BitrateDefault = "320k"
	mp3BitrateLow     = "96k"
)

type Embedder struct {
	gate         *engine.Gate
	conf         config.Engine
	coverTimeout time.Duration
}

func New(gate *engine.Gate, engineConf config.Engine, downloaderConf config.Downloader) *Embedder {
	return &Embedder{
		gate:         gate,
		conf:         engineConf,
		coverTimeout: time.Duration(downloaderConf.DownloadCover) * time.Second,
	}
}

// Embed writes metadata and cover art into the blob. AAC-family audio is
// re-encoded to MP3 as browsers cannot retag it losslessly; everything else
// is stream-copied. Failures never propagate: the original blob is returned
// so the download still succeeds.
func (e *Embedder) Embed(
	ctx context.Context,
	logger zerolog.Logger,
	track types.TrackMeta,
	quality types.Quality,
	blob *download.Blob,
) (*download.Blob, error) {
	logger = logger.With().Int64("track_id", track.ID).Logger()

	ext, err := inferExt(blob)
	if nil != err {
		logger.Warn().Err(err).Str("mime_type", blob.MimeType).Str("filename", blob.Filename).
			Msg("Skipping metadata embedding for unsupported format")

		return blob, nil
	}

	outExt, codecArgs := transcodePlan(ext, quality)

	var cover []byte
	if track.Album.Cover != "" {
		b, err := fetchCover(ctx, logger, track.Album.Cover, e.coverTimeout)
		if nil != err {
			if cancelled(ctx, err) {
				return blob, fmt.Errorf("embed track metadata: %w", ctx.Err())
			}

			logger.Warn().Err(err).Str("cover_id", track.Album.Cover).Msg("Cover fetch failed, embedding without cover art")
		} else {
			cover = b
		}
	}

	var (
		seq       = jobSeq.Add(1)
		inName    = fmt.Sprintf("in-%d-%d%s", track.ID, seq, ext)
		outName   = fmt.Sprintf("out-%d-%d%s", track.ID, seq, outExt)
		coverName = fmt.Sprintf("cover-%d-%d.jpg", track.ID, seq)
	)

	args := buildArgs(inName, outName, coverName, len(cover) > 0, codecArgs, track)

	var out []byte
	err = e.gate.WithEngine(ctx, e.conf.CoreURL, e.conf.WasmURL, func(eng engine.Engine) error {
		defer cleanupFiles(logger, eng, inName, outName, coverName)

		if err := eng.WriteFile(inName, blob.Bytes); nil != err {
			return fmt.Errorf("write input file: %w", err)
		}

		if len(cover) > 0 {
			if err := eng.WriteFile(coverName, cover); nil != err {
				return fmt.Errorf("write cover file: %w", err)
			}
		}

		execCtx, cancel := context.WithTimeout(ctx, e.conf.ExecTimeout.Duration)
		defer cancel()

		if err := eng.Exec(execCtx, args); nil != err {
			return classifyExecError(execCtx, err)
		}

		b, err := eng.ReadFile(outName)
		if nil != err {
			return fmt.Errorf("read output file: %w", err)
		}

		out = b

		return nil
	})
	if nil != err {
		if cancelled(ctx, err) {
			return blob, fmt.Errorf("embed track metadata: %w", err)
		}

		logger.Warn().Err(err).Msg("Metadata embedding failed, keeping original audio")

		return blob, nil
	}

	return &download.Blob{
		Bytes:    out,
		MimeType: mimeByExt(outExt),
		Filename: replaceExt(blob.Filename, outExt),
	}, nil
}

// inferExt resolves the working file extension, trusting the MIME type over
// the file name.
func inferExt(blob *download.Blob) (string, error) {
	var ext string
	if blob.MimeType != "" {
		if mediaType, _, err := mime.ParseMediaType(blob.MimeType); nil == err {
			if m := mimetype.Lookup(mediaType); nil != m && m.Extension() != "" {
				ext = m.Extension()
			}
		}
	}

	if ext == "" {
		ext = strings.ToLower(filepath.Ext(blob.Filename))
	}

	switch ext {
	case ".flac", ".mp3", ".m4a", ".mp4", ".aac", ".ogg":
		return ext, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// transcodePlan picks the output extension and codec arguments: AAC-family
// input is re-encoded to MP3, everything else is stream-copied in place.
func transcodePlan(ext string, quality types.Quality) (string, []string) {
	switch ext {
	case ".m4a", ".mp4", ".aac":
		bitrate := mp3BitrateDefault
		if quality == types.QualityLow {
			bitrate = mp3BitrateLow
		}

		return ".mp3", []string{"-c:a", "libmp3lame", "-b:a", bitrate}
	default:
		return ext, []string{"-c:a", "copy"}
	}
}

func buildArgs(inName, outName, coverName string, hasCover bool, codecArgs []string, track types.TrackMeta) []string {
	args := []string{"-y", "-i", inName}

	if hasCover {
		args = append(args,
			"-i", coverName,
			"-map", "0:a",
			"-map", "1",
			"-c:v", "copy",
			"-disposition:v", "attached_pic",
			"-metadata:s:v", "title=Album cover",
			"-metadata:s:v", "comment=Cover (front)",
		)
	} else {
		args = append(args, "-map", "0:a")
	}

	args = append(args, codecArgs...)

	for _, tag := range metadataTags(track) {
		args = append(args, "-metadata", tag)
	}

	return append(args, outName)
}

func metadataTags(track types.TrackMeta) []string {
	tags := []string{
		"title=" + track.Title,
		"artist=" + track.ArtistName(),
		"album_artist=" + track.Artist.Name,
		"album=" + track.Album.Title,
		"track=" + numbering(track.TrackNumber, track.Album.NumberOfTracks),
		"disc=" + numbering(track.VolumeNumber, track.Album.NumberOfVolumes),
		"isrc=" + track.ISRC,
		"copyright=" + track.Copyright,
		"comment=" + constant.AttributionComment,
	}

	if year := releaseYear(track); year != "" {
		tags = append(tags, "date="+year)
	}

	if nil != track.Version {
		tags = append(tags, "version="+*track.Version)
	}

	return tags
}

func numbering(n, total int) string {
	if total > 0 {
		return strconv.Itoa(n) + "/" + strconv.Itoa(total)
	}

	return strconv.Itoa(n)
}

// releaseYear extracts the 4-digit year from the album release date, falling
// back to the stream start date.
func releaseYear(track types.TrackMeta) string {
	for _, date := range []string{track.Album.ReleaseDate, track.StreamStartDate} {
		if len(date) >= 4 && isDigits(date[:4]) {
			return date[:4]
		}
	}

	return ""
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}

	return len(s) > 0
}

// cleanupFiles deletes the job's virtual files unconditionally. Delete
// failures are logged, never thrown: they must not mask the job outcome.
func cleanupFiles(logger zerolog.Logger, eng engine.Engine, names ...string) {
	for _, name := range names {
		if err := eng.DeleteFile(name); nil != err {
			logger.Warn().Err(err).Str("file", name).Msg("Failed to delete engine file")
		}
	}
}

func classifyExecError(execCtx context.Context, err error) error {
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTranscodeTimeout, err)
	}

	if memoryErrPattern.MatchString(err.Error()) {
		return fmt.Errorf("%w: %v", ErrTranscodeMemory, err)
	}

	return fmt.Errorf("run transcode job: %w", err)
}

func mimeByExt(ext string) string {
	if m := mimetype.Lookup(mime.TypeByExtension(ext)); nil != m {
		return m.String()
	}

	switch ext {
	case ".flac":
		return "audio/flac"
	case ".mp3":
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}

func replaceExt(filename, ext string) string {
	if filename == "" {
		return ""
	}

	return strings.TrimSuffix(filename, filepath.Ext(filename)) + ext
}

func cancelled(ctx context.Context, err error) bool {
	return nil != ctx.Err() || errors.Is(err, context.Canceled)
}
