// Package acquire obtains playable audio files: fetching source audio from
// YouTube via yt-dlp and mixing it with a looping ambience bed via ffmpeg.
// Both tools run as subprocesses; the package owns their invocation details
// so callers only deal with file paths and errors.
package acquire

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"
)

// Fetcher downloads the audio for a source token into dest as an mp3 file.
// Implementations must either produce dest fully or fail without leaving a
// usable file behind.
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string) error
}

// YTDLP fetches audio with the yt-dlp tool, asking for the best audio-only
// stream and transcoding it to mp3.
type YTDLP struct {
	log *slog.Logger
}

// NewYTDLP returns a [Fetcher] backed by the yt-dlp binary on PATH.
func NewYTDLP(log *slog.Logger) *YTDLP {
	return &YTDLP{log: log}
}

var _ Fetcher = (*YTDLP)(nil)

func (y *YTDLP) Fetch(ctx context.Context, url, dest string) error {
	start := time.Now()
	res, err := ytdlp.New().
		Format("ba").
		ExtractAudio().
		AudioFormat("mp3").
		Output(dest).
		NoPlaylist().
		NoWarnings().
		IgnoreConfig().
		Quiet().
		Run(ctx, url)
	if err != nil {
		detail := ""
		if res != nil {
			detail = strings.TrimSpace(res.Stderr)
		}
		if detail != "" {
			return fmt.Errorf("acquire: yt-dlp %s: %w: %s", url, err, detail)
		}
		return fmt.Errorf("acquire: yt-dlp %s: %w", url, err)
	}
	y.log.Debug("downloaded source audio",
		"url", url, "dest", dest, "took", time.Since(start))
	return nil
}
