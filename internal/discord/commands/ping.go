package commands

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"github.com/drizzlebot/drizzle/internal/discord"
	"github.com/drizzlebot/drizzle/internal/observe"
)

// Ping handles /ping.
type Ping struct {
	metrics *observe.Metrics
}

// NewPing creates a Ping command.
func NewPing(met *observe.Metrics) *Ping {
	return &Ping{metrics: met}
}

// Register registers /ping with the router.
func (p *Ping) Register(router *discord.CommandRouter) {
	router.RegisterCommand(&discordgo.ApplicationCommand{
		Name:        "ping",
		Description: "Check that the bot is responsive",
	}, func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		p.handlePing(s, i)
	})
}

func (p *Ping) handlePing(r discord.Responder, i *discordgo.InteractionCreate) {
	p.metrics.RecordCommand(context.Background(), "ping", nil)
	discord.RespondEphemeral(r, i, "Pong!")
}
