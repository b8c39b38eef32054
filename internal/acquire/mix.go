package acquire

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Relative loudness of the two inputs when merging. The ambience bed sits
// under the track rather than competing with it.
const (
	bedGain   = 0.75
	trackGain = 1.0
)

// Mixer merges a source track with a looping ambience bed into dest.
type Mixer interface {
	Mix(ctx context.Context, bedPath, trackPath, dest string) error
}

// FFmpeg mixes with the ffmpeg binary: the bed input loops indefinitely and
// the merge ends when the track does.
type FFmpeg struct {
	log *slog.Logger
}

// NewFFmpeg returns a [Mixer] backed by the ffmpeg binary on PATH.
func NewFFmpeg(log *slog.Logger) *FFmpeg {
	return &FFmpeg{log: log}
}

var _ Mixer = (*FFmpeg)(nil)

func (f *FFmpeg) Mix(ctx context.Context, bedPath, trackPath, dest string) error {
	start := time.Now()
	args := mixArgs(bedPath, trackPath, dest)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return fmt.Errorf("acquire: ffmpeg mix %s: %w: %s", trackPath, err, detail)
		}
		return fmt.Errorf("acquire: ffmpeg mix %s: %w", trackPath, err)
	}
	f.log.Debug("mixed ambience bed into track",
		"track", trackPath, "dest", dest, "took", time.Since(start))
	return nil
}

// mixArgs builds the ffmpeg argument list. Input 0 is the bed, replayed
// forever via -stream_loop; input 1 is the track. The filter graph scales
// each input, merges them and downmixes the merged channels to stereo.
// -shortest bounds the output at the track length despite the looping bed.
func mixArgs(bedPath, trackPath, dest string) []string {
	filter := fmt.Sprintf(
		"[0:a]volume=%g[a0];[1:a]volume=%g[a1];[a0][a1]amerge[a]",
		bedGain, trackGain,
	)
	return []string{
		"-y",
		"-loglevel", "error",
		"-stream_loop", "-1",
		"-i", bedPath,
		"-i", trackPath,
		"-filter_complex", filter,
		"-map", "[a]",
		"-ac", "2",
		"-shortest",
		dest,
	}
}
