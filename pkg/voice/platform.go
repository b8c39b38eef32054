// Package voice defines the interfaces for voice-channel playback within
// Drizzle.
//
// The two primary abstractions are:
//
//   - [Platform] — joins a guild's voice channel and returns a [Handle].
//   - [Handle] — an active voice connection with an ordered playback queue.
//
// Implementations are provided by platform-specific adapter packages
// (e.g., voice/discord). The interfaces are intentionally narrow so that the
// session registry and command layer stay decoupled from provider details.
//
// This package lives under pkg/ because external code (third-party platform
// adapters) is expected to implement [Platform] and [Handle].
package voice

import "context"

// Track describes one queued audio asset. The referenced file must exist for
// the whole time the track sits in a queue; decoding does not begin until the
// track reaches the queue head.
type Track struct {
	// Path is the local filesystem path of a ready-to-stream audio file.
	Path string

	// Title is an optional human-readable label used in logs.
	Title string
}

// Handle is an active voice connection with its playback queue.
//
// The queue is FIFO; the currently-playing track is implicitly at the head
// and counted by [Handle.Len]. Playback of the head starts automatically as
// soon as the queue is non-empty. Decoding is lazy: a track costs nothing
// until it actually starts playing.
//
// Implementations must be safe for concurrent use, but callers that need
// multi-step atomicity (e.g. enqueue then read length) should serialise
// access themselves — the session registry does this with a per-guild lock.
type Handle interface {
	// Enqueue appends a track and returns the queue length after the append.
	// A return of 1 means the track started playing immediately.
	Enqueue(t Track) int

	// Skip stops the currently-playing track, if any. The next queued track
	// begins automatically.
	Skip()

	// Stop stops playback and clears the whole queue.
	Stop()

	// Len returns the number of queued tracks, including the one playing.
	Len() int

	// Mute suppresses or restores the connection's outgoing audio. Playback
	// position keeps advancing while muted.
	Mute(on bool) error

	// IsMute reports whether the connection is currently muted.
	IsMute() bool

	// SetVolume sets the linear gain applied to tracks that start after the
	// call. Valid range is (0, 2]; 1.0 is unity gain.
	SetVolume(v float64)

	// ChannelID returns the voice channel this handle is connected to.
	ChannelID() string

	// Close stops playback and disconnects from the voice channel. It is safe
	// to call more than once.
	Close() error
}

// Platform is the entry point for a voice-channel provider.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Join connects to the given voice channel and returns an active [Handle].
	// The supplied ctx governs the connection-setup phase only; once a Handle
	// is returned it lives until [Handle.Close].
	Join(ctx context.Context, guildID, channelID string) (Handle, error)

	// Get returns the existing handle for the guild, if any.
	Get(guildID string) (Handle, bool)

	// Remove closes and forgets the guild's handle. Returns an error when the
	// underlying disconnect fails; unknown guilds are a no-op.
	Remove(guildID string) error
}
