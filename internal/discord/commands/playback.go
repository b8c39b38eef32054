// Package commands implements Drizzle's slash commands. Each command group
// is a struct that registers its definitions and handlers with the
// [discord.CommandRouter]; handler internals take the session state and a
// responder separately so tests can drive them without a live gateway.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel/metric"

	"github.com/drizzlebot/drizzle/internal/assetcache"
	"github.com/drizzlebot/drizzle/internal/discord"
	"github.com/drizzlebot/drizzle/internal/observe"
	"github.com/drizzlebot/drizzle/internal/rain"
	"github.com/drizzlebot/drizzle/internal/resolver"
	"github.com/drizzlebot/drizzle/internal/session"
	"github.com/drizzlebot/drizzle/pkg/voice"
)

// acquireTimeout bounds a single download-and-mix cycle.
const acquireTimeout = 5 * time.Minute

// AssetResolver materialises a playable file for a source reference.
// Satisfied by [assetcache.Cache].
type AssetResolver interface {
	Resolve(ctx context.Context, ref resolver.SourceRef, wantRain bool) (string, error)
}

// Playback handles /queue, /search, /skip and /stop.
type Playback struct {
	registry *session.Registry
	cache    AssetResolver
	searcher resolver.Searcher
	rain     *rain.Store
	metrics  *observe.Metrics
}

// NewPlayback creates a Playback command group.
func NewPlayback(reg *session.Registry, cache AssetResolver, searcher resolver.Searcher, rainStore *rain.Store, met *observe.Metrics) *Playback {
	return &Playback{
		registry: reg,
		cache:    cache,
		searcher: searcher,
		rain:     rainStore,
		metrics:  met,
	}
}

// Register registers the playback commands with the router.
func (p *Playback) Register(router *discord.CommandRouter) {
	router.RegisterCommand(&discordgo.ApplicationCommand{
		Name:        "queue",
		Description: "Queue a YouTube link for playback",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Name:        "url",
				Description: "YouTube video link",
				Type:        discordgo.ApplicationCommandOptionString,
				Required:    true,
			},
		},
	}, func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		p.handleQueue(s.State, s, i)
	})

	router.RegisterCommand(&discordgo.ApplicationCommand{
		Name:        "search",
		Description: "Search YouTube and queue the top result",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Name:        "query",
				Description: "Search terms",
				Type:        discordgo.ApplicationCommandOptionString,
				Required:    true,
			},
		},
	}, func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		p.handleSearch(s.State, s, i)
	})

	router.RegisterCommand(&discordgo.ApplicationCommand{
		Name:        "skip",
		Description: "Skip the currently playing song",
	}, func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		p.handleSkip(s, i)
	})

	router.RegisterCommand(&discordgo.ApplicationCommand{
		Name:        "stop",
		Description: "Stop playback and clear the queue",
	}, func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		p.handleStop(s, i)
	})
}

// handleQueue handles /queue <url>.
func (p *Playback) handleQueue(st *discordgo.State, r discord.Responder, i *discordgo.InteractionCreate) {
	var err error
	defer func() { p.metrics.RecordCommand(context.Background(), "queue", err) }()

	ref, err := resolver.Resolve(stringOption(i, "url"))
	if err != nil {
		discord.RespondEphemeral(r, i, "That doesn't look like a YouTube link.")
		return
	}
	p.enqueue(st, r, i, ref, ref.WatchURL())
}

// handleSearch handles /search <query>.
func (p *Playback) handleSearch(st *discordgo.State, r discord.Responder, i *discordgo.InteractionCreate) {
	var err error
	defer func() { p.metrics.RecordCommand(context.Background(), "search", err) }()

	discord.DeferReply(r, i)

	ctx, cancel := context.WithTimeout(context.Background(), acquireTimeout)
	defer cancel()

	query := stringOption(i, "query")
	ref, err := resolver.ResolveQuery(ctx, p.searcher, query)
	if errors.Is(err, resolver.ErrNoResults) {
		discord.FollowUp(r, i, "No results found.")
		return
	}
	if err != nil {
		slog.Warn("search failed", "query", query, "err", err)
		discord.FollowUp(r, i, "Search failed, try again later.")
		return
	}
	p.enqueueDeferred(ctx, st, r, i, ref, ref.WatchURL())
}

// enqueue defers the reply and queues ref, reporting the queue position.
func (p *Playback) enqueue(st *discordgo.State, r discord.Responder, i *discordgo.InteractionCreate, ref resolver.SourceRef, title string) {
	discord.DeferReply(r, i)

	ctx, cancel := context.WithTimeout(context.Background(), acquireTimeout)
	defer cancel()
	p.enqueueDeferred(ctx, st, r, i, ref, title)
}

// enqueueDeferred joins the invoker's channel if needed, materialises the
// asset, and appends it to the queue. The interaction must already be
// deferred.
func (p *Playback) enqueueDeferred(ctx context.Context, st *discordgo.State, r discord.Responder, i *discordgo.InteractionCreate, ref resolver.SourceRef, title string) {
	channelID := invokerVoiceChannel(st, i)
	_, err := p.registry.GetOrJoin(ctx, i.GuildID, channelID)
	if errors.Is(err, session.ErrNotInVoiceChannel) {
		discord.FollowUp(r, i, "Not in a voice channel to play in")
		return
	}
	if err != nil {
		slog.Warn("join failed", "guild", i.GuildID, "channel", channelID, "err", err)
		discord.FollowUp(r, i, "Could not join your voice channel.")
		return
	}

	wantRain := p.rain.Enabled(i.GuildID)
	path, err := p.cache.Resolve(ctx, ref, wantRain)
	if errors.Is(err, assetcache.ErrNoRainBed) {
		// No bed configured; fall back to the plain variant.
		path, err = p.cache.Resolve(ctx, ref, false)
	}
	if err != nil {
		slog.Warn("asset acquisition failed", "source", ref.ID, "err", err)
		discord.FollowUp(r, i, "Could not fetch that song.")
		return
	}

	// The append goes through the session lock like every other queue
	// operation; the session may have been torn down during the download.
	var pos int
	err = p.registry.WithSession(ctx, i.GuildID, func(h voice.Handle) error {
		pos = h.Enqueue(voice.Track{Path: path, Title: title})
		return nil
	})
	switch {
	case errors.Is(err, session.ErrNotInSession):
		discord.FollowUp(r, i, "Not in a voice channel.")
		return
	case errors.Is(err, session.ErrLockTimeout):
		discord.FollowUp(r, i, "The player is busy, try again.")
		return
	case err != nil:
		slog.Warn("enqueue failed", "guild", i.GuildID, "err", err)
		discord.FollowUp(r, i, "Could not queue that song.")
		return
	}
	p.metrics.TracksEnqueued.Add(ctx, 1,
		metric.WithAttributes(observe.Attr("origin", ref.Origin.String())))
	discord.FollowUp(r, i, fmt.Sprintf("Added song to queue: position %d", pos))
}

// handleSkip handles /skip.
func (p *Playback) handleSkip(s discord.Responder, i *discordgo.InteractionCreate) {
	var err error
	defer func() { p.metrics.RecordCommand(context.Background(), "skip", err) }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var left int
	err = p.registry.WithSession(ctx, i.GuildID, func(h voice.Handle) error {
		h.Skip()
		left = h.Len()
		return nil
	})
	if respondSessionError(s, i, err) {
		return
	}
	discord.Respond(s, i, fmt.Sprintf("Song skipped: %d in queue.", left))
}

// handleStop handles /stop.
func (p *Playback) handleStop(s discord.Responder, i *discordgo.InteractionCreate) {
	var err error
	defer func() { p.metrics.RecordCommand(context.Background(), "stop", err) }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = p.registry.WithSession(ctx, i.GuildID, func(h voice.Handle) error {
		h.Stop()
		return nil
	})
	if respondSessionError(s, i, err) {
		return
	}
	discord.Respond(s, i, "Queue cleared")
}

// respondSessionError maps registry sentinel errors to user-facing replies.
// Reports whether an error was handled.
func respondSessionError(r discord.Responder, i *discordgo.InteractionCreate, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, session.ErrNotInSession):
		discord.RespondEphemeral(r, i, "Not in a voice channel.")
	case errors.Is(err, session.ErrLockTimeout):
		discord.RespondEphemeral(r, i, "The player is busy, try again.")
	default:
		discord.RespondError(r, i, err)
	}
	return true
}

// invokerVoiceChannel returns the voice channel of the interaction's user,
// or the empty string when they are not in voice.
func invokerVoiceChannel(st *discordgo.State, i *discordgo.InteractionCreate) string {
	if i.Member == nil || i.Member.User == nil {
		return ""
	}
	return discord.UserVoiceChannel(st, i.GuildID, i.Member.User.ID)
}

// stringOption extracts a top-level string option value.
func stringOption(i *discordgo.InteractionCreate, name string) string {
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == name {
			return opt.StringValue()
		}
	}
	return ""
}
