package discord

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"

	"github.com/bwmarrin/discordgo"

	"github.com/drizzlebot/drizzle/pkg/voice"
)

// streamBufferBytes is the stdout read buffer handed to ffmpeg. Large enough
// to smooth over scheduler hiccups, small enough to keep skip latency low.
const streamBufferBytes = 16384

// streamTrack decodes the track file with an ffmpeg subprocess to 48 kHz
// stereo s16le PCM, encodes 20 ms Opus frames, and writes them to the voice
// connection. It blocks until the track ends or ctx is cancelled. The
// subprocess is started here and nowhere earlier, which is what makes queued
// tracks free until they reach the head.
func streamTrack(ctx context.Context, vc *discordgo.VoiceConnection, t voice.Track, volume float64) error {
	args := []string{
		"-i", t.Path,
		"-af", fmt.Sprintf("volume=%.2f", volume),
		"-f", "s16le",
		"-ar", strconv.Itoa(opusSampleRate),
		"-ac", strconv.Itoa(opusChannels),
		"-loglevel", "error",
		"pipe:1",
	}
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("discord: ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("discord: start ffmpeg: %w", err)
	}
	defer func() {
		if waitErr := cmd.Wait(); waitErr != nil && ctx.Err() == nil {
			slog.Debug("discord: ffmpeg exited with error",
				"path", t.Path, "err", waitErr, "stderr", stderr.String())
		}
	}()

	enc, err := newOpusEncoder()
	if err != nil {
		return err
	}

	setSpeaking(vc, true)
	defer setSpeaking(vc, false)

	reader := bufio.NewReaderSize(stdout, streamBufferBytes)
	buf := make([]byte, opusFrameBytes)

	for {
		_, err := io.ReadFull(reader, buf)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("discord: read pcm for %q: %w (ffmpeg: %s)", t.Path, err, stderr.String())
		}

		opus, err := enc.encode(buf)
		if err != nil {
			return err
		}

		// discordgo paces the OpusSend channel at frame rate; a blocking
		// send here is the intended throttle.
		select {
		case vc.OpusSend <- opus:
		case <-ctx.Done():
			return nil
		}
	}
}

// setSpeaking sends a speaking notification to Discord, logging any errors.
func setSpeaking(vc *discordgo.VoiceConnection, on bool) {
	if vc == nil {
		return
	}
	if err := vc.Speaking(on); err != nil {
		slog.Warn("discord: speaking notification error", "speaking", on, "err", err)
	}
}
