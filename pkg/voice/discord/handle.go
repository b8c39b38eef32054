package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/drizzlebot/drizzle/pkg/voice"
)

// Compile-time interface assertion.
var _ voice.Handle = (*Handle)(nil)

// playFunc streams one track into the voice connection, honouring ctx for
// cancellation (skip/stop). The default is [streamTrack]; tests substitute a
// scripted implementation.
type playFunc func(ctx context.Context, vc *discordgo.VoiceConnection, t voice.Track, volume float64) error

// Handle wraps a discordgo.VoiceConnection with an ordered playback queue.
// The queue head plays automatically; decoding starts only when a track
// reaches the head, so queued tracks cost nothing until they are due.
//
// Handle is safe for concurrent use.
type Handle struct {
	guildID   string
	channelID string
	vc        *discordgo.VoiceConnection

	mu      sync.Mutex
	queue   []voice.Track
	volume  float64
	muted   bool
	cancel  context.CancelFunc // cancels the in-flight track, nil when idle
	closed  bool

	wake chan struct{}
	done chan struct{}

	play    playFunc
	onClose func()
}

// newHandle starts the playback loop for an already-joined voice connection.
// play may be nil to use the ffmpeg/Opus streamer; onClose may be nil.
func newHandle(vc *discordgo.VoiceConnection, guildID, channelID string, play playFunc, onClose func()) *Handle {
	if play == nil {
		play = streamTrack
	}
	h := &Handle{
		guildID:   guildID,
		channelID: channelID,
		vc:        vc,
		volume:    1.0,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		play:      play,
		onClose:   onClose,
	}
	go h.playLoop()
	return h
}

// Enqueue appends a track and returns the queue length after the append.
func (h *Handle) Enqueue(t voice.Track) int {
	h.mu.Lock()
	h.queue = append(h.queue, t)
	n := len(h.queue)
	h.mu.Unlock()
	h.kick()
	return n
}

// Skip stops the currently-playing track; the next one begins automatically.
func (h *Handle) Skip() {
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Stop stops playback and clears the whole queue.
func (h *Handle) Stop() {
	h.mu.Lock()
	h.queue = nil
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Len returns the number of queued tracks, including the one playing.
func (h *Handle) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queue)
}

// Mute toggles server-side self-mute. The track keeps advancing while muted,
// Discord just drops the audio, so no pacing state is lost.
func (h *Handle) Mute(on bool) error {
	if h.vc != nil {
		if err := h.vc.ChangeChannel(h.channelID, on, true); err != nil {
			return fmt.Errorf("discord: set mute %v: %w", on, err)
		}
	}
	h.mu.Lock()
	h.muted = on
	h.mu.Unlock()
	return nil
}

// IsMute reports whether the connection is currently muted.
func (h *Handle) IsMute() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.muted
}

// SetVolume sets the gain applied to tracks that start after the call.
func (h *Handle) SetVolume(v float64) {
	h.mu.Lock()
	h.volume = v
	h.mu.Unlock()
}

// ChannelID returns the voice channel this handle is connected to.
func (h *Handle) ChannelID() string {
	return h.channelID
}

// Close stops playback and disconnects from the voice channel. Safe to call
// more than once.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.queue = nil
	cancel := h.cancel
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	close(h.done)

	var err error
	if h.vc != nil {
		err = h.vc.Disconnect()
	}
	if h.onClose != nil {
		h.onClose()
	}
	if err != nil {
		return fmt.Errorf("discord: disconnect guild %s: %w", h.guildID, err)
	}
	return nil
}

// kick nudges the playback loop without blocking.
func (h *Handle) kick() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// playLoop drains the queue one head track at a time. Each track gets its own
// cancellable context so Skip/Stop can interrupt it without touching the loop.
func (h *Handle) playLoop() {
	for {
		select {
		case <-h.done:
			return
		case <-h.wake:
		}

		for {
			h.mu.Lock()
			if h.closed || len(h.queue) == 0 {
				h.mu.Unlock()
				break
			}
			t := h.queue[0]
			ctx, cancel := context.WithCancel(context.Background())
			h.cancel = cancel
			vol := h.volume
			h.mu.Unlock()

			err := h.play(ctx, h.vc, t, vol)
			cancelled := ctx.Err() != nil
			cancel()

			h.mu.Lock()
			h.cancel = nil
			// Stop may have cleared the queue while the track was playing.
			if len(h.queue) > 0 && h.queue[0] == t {
				h.queue = h.queue[1:]
			}
			h.mu.Unlock()

			if err != nil && !cancelled {
				slog.Warn("voice: track playback failed",
					"guild_id", h.guildID, "path", t.Path, "err", err)
			}

			select {
			case <-h.done:
				return
			default:
			}
		}
	}
}
