package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/drizzlebot/drizzle/internal/discord"
	"github.com/drizzlebot/drizzle/internal/observe"
	"github.com/drizzlebot/drizzle/internal/session"
	"github.com/drizzlebot/drizzle/pkg/voice"
)

// controlTimeout bounds join/leave/mute operations.
const controlTimeout = 10 * time.Second

// Control handles /join, /leave, /mute and /unmute.
type Control struct {
	registry *session.Registry
	metrics  *observe.Metrics
}

// NewControl creates a Control command group.
func NewControl(reg *session.Registry, met *observe.Metrics) *Control {
	return &Control{registry: reg, metrics: met}
}

// Register registers the control commands with the router.
func (c *Control) Register(router *discord.CommandRouter) {
	router.RegisterCommand(&discordgo.ApplicationCommand{
		Name:        "join",
		Description: "Join your current voice channel",
	}, func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		c.handleJoin(s.State, s, i)
	})

	router.RegisterCommand(&discordgo.ApplicationCommand{
		Name:        "leave",
		Description: "Leave the voice channel",
	}, func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		c.handleLeave(s, i)
	})

	router.RegisterCommand(&discordgo.ApplicationCommand{
		Name:        "mute",
		Description: "Mute the bot without stopping playback",
	}, func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		c.handleMute(s, i, true)
	})

	router.RegisterCommand(&discordgo.ApplicationCommand{
		Name:        "unmute",
		Description: "Unmute the bot",
	}, func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		c.handleMute(s, i, false)
	})
}

// handleJoin handles /join.
func (c *Control) handleJoin(st *discordgo.State, r discord.Responder, i *discordgo.InteractionCreate) {
	var err error
	defer func() { c.metrics.RecordCommand(context.Background(), "join", err) }()

	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()

	channelID := invokerVoiceChannel(st, i)
	h, err := c.registry.GetOrJoin(ctx, i.GuildID, channelID)
	if errors.Is(err, session.ErrNotInVoiceChannel) {
		discord.RespondEphemeral(r, i, "Not in a voice channel to play in")
		return
	}
	if err != nil {
		slog.Warn("join failed", "guild", i.GuildID, "channel", channelID, "err", err)
		discord.RespondEphemeral(r, i, "Could not join your voice channel.")
		return
	}
	discord.Respond(r, i, fmt.Sprintf("Joined <#%s>", h.ChannelID()))
}

// handleLeave handles /leave.
func (c *Control) handleLeave(r discord.Responder, i *discordgo.InteractionCreate) {
	var err error
	defer func() { c.metrics.RecordCommand(context.Background(), "leave", err) }()

	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()

	err = c.registry.Leave(ctx, i.GuildID)
	if respondSessionError(r, i, err) {
		return
	}
	discord.Respond(r, i, "Left the voice channel.")
}

// handleMute handles /mute and /unmute.
func (c *Control) handleMute(r discord.Responder, i *discordgo.InteractionCreate, on bool) {
	name := "mute"
	if !on {
		name = "unmute"
	}
	var err error
	defer func() { c.metrics.RecordCommand(context.Background(), name, err) }()

	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()

	var already bool
	err = c.registry.WithSession(ctx, i.GuildID, func(h voice.Handle) error {
		if h.IsMute() == on {
			already = true
			return nil
		}
		return h.Mute(on)
	})
	if respondSessionError(r, i, err) {
		return
	}

	switch {
	case already && on:
		discord.RespondEphemeral(r, i, "Already muted")
	case already:
		discord.RespondEphemeral(r, i, "Not muted")
	case on:
		discord.Respond(r, i, "Muted.")
	default:
		discord.Respond(r, i, "Unmuted.")
	}
}
