package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/drizzlebot/drizzle/internal/discord"
	"github.com/drizzlebot/drizzle/internal/observe"
	"github.com/drizzlebot/drizzle/internal/rain"
	"github.com/drizzlebot/drizzle/internal/session"
	"github.com/drizzlebot/drizzle/pkg/voice"
)

// Volume bounds for /setvolume. Values above 1 amplify.
const (
	minVolume = 0.0
	maxVolume = 2.0
)

// Settings handles /setrain and /setvolume.
type Settings struct {
	registry *session.Registry
	rain     *rain.Store
	metrics  *observe.Metrics
}

// NewSettings creates a Settings command group.
func NewSettings(reg *session.Registry, rainStore *rain.Store, met *observe.Metrics) *Settings {
	return &Settings{registry: reg, rain: rainStore, metrics: met}
}

// Register registers the settings commands with the router.
func (sc *Settings) Register(router *discord.CommandRouter) {
	router.RegisterCommand(&discordgo.ApplicationCommand{
		Name:        "setrain",
		Description: "Toggle the rain ambience mixed under new songs",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Name:        "enabled",
				Description: "Whether new songs get rain mixed in",
				Type:        discordgo.ApplicationCommandOptionBoolean,
				Required:    true,
			},
		},
	}, func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		sc.handleSetRain(s, i)
	})

	router.RegisterCommand(&discordgo.ApplicationCommand{
		Name:        "setvolume",
		Description: "Set playback volume for songs queued from now on",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Name:        "volume",
				Description: "Volume factor, above 0 and at most 2 (1 is normal)",
				Type:        discordgo.ApplicationCommandOptionNumber,
				Required:    true,
			},
		},
	}, func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		sc.handleSetVolume(s, i)
	})
}

// handleSetRain handles /setrain <enabled>. The setting only affects songs
// queued afterwards; already-cached assets keep their variant.
func (sc *Settings) handleSetRain(r discord.Responder, i *discordgo.InteractionCreate) {
	var err error
	defer func() { sc.metrics.RecordCommand(context.Background(), "setrain", err) }()

	enabled := boolOption(i, "enabled")
	sc.rain.Set(i.GuildID, enabled)
	if enabled {
		discord.Respond(r, i, "Rain enabled for new songs.")
	} else {
		discord.Respond(r, i, "Rain disabled for new songs.")
	}
}

// handleSetVolume handles /setvolume <volume>. Takes effect when the next
// song starts; the one playing is unaffected.
func (sc *Settings) handleSetVolume(r discord.Responder, i *discordgo.InteractionCreate) {
	var err error
	defer func() { sc.metrics.RecordCommand(context.Background(), "setvolume", err) }()

	v := floatOption(i, "volume")
	if v <= minVolume || v > maxVolume {
		discord.RespondEphemeral(r, i, "Volume must be greater than 0 and at most 2.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = sc.registry.WithSession(ctx, i.GuildID, func(h voice.Handle) error {
		h.SetVolume(v)
		return nil
	})
	if respondSessionError(r, i, err) {
		return
	}
	discord.Respond(r, i, fmt.Sprintf("Volume set to %.2f. Applies from the next song.", v))
}

// boolOption extracts a top-level boolean option value.
func boolOption(i *discordgo.InteractionCreate, name string) bool {
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == name {
			return opt.BoolValue()
		}
	}
	return false
}

// floatOption extracts a top-level number option value.
func floatOption(i *discordgo.InteractionCreate, name string) float64 {
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == name {
			return opt.FloatValue()
		}
	}
	return 0
}
