// Package discord provides the Discord bot layer for Drizzle. It owns the
// discordgo.Session lifecycle, routes slash command interactions to
// registered handlers, and tears down voice sessions when their channel
// empties out.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/drizzlebot/drizzle/internal/rain"
	"github.com/drizzlebot/drizzle/internal/session"
	"github.com/drizzlebot/drizzle/pkg/voice"
	voicediscord "github.com/drizzlebot/drizzle/pkg/voice/discord"
)

// Config holds Discord bot configuration.
type Config struct {
	// Token is the Discord bot token (e.g., "MTIz...").
	Token string
}

// Bot owns the Discord gateway connection. It routes interactions to
// registered command handlers, seeds per-guild ambience defaults on ready,
// and registers slash commands with every guild the bot is in.
type Bot struct {
	mu        sync.RWMutex
	session   *discordgo.Session
	platform  *voicediscord.Platform
	router    *CommandRouter
	registry  *session.Registry
	rain      *rain.Store
	guilds    []string // guilds commands were registered with
	closeOnce sync.Once
}

// New creates a Bot and connects it to the Discord gateway. The rain store
// is seeded with every known guild once the gateway reports ready. Call
// [Bot.BindRegistry] before Run so the voice-state handler can tear down
// sessions in vacated channels.
func New(_ context.Context, cfg Config, rainStore *rain.Store) (*Bot, error) {
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}

	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates

	b := &Bot{
		session: s,
		router:  NewCommandRouter(),
		rain:    rainStore,
	}

	s.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.router.Handle(s, i)
	})
	s.AddHandler(b.handleReady)
	s.AddHandler(b.handleVoiceStateUpdate)

	if err := s.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}
	return b, nil
}

// Platform returns the voice platform for channel connections. Lazily
// constructed so it always wraps the open session.
func (b *Bot) Platform() voice.Platform {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.platform == nil {
		b.platform = voicediscord.New(b.session)
	}
	return b.platform
}

// BindRegistry attaches the session registry the voice-state handler
// consults. The registry is built around [Bot.Platform], so it cannot exist
// before the bot does.
func (b *Bot) BindRegistry(reg *session.Registry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registry = reg
}

// Session returns the underlying discordgo session.
func (b *Bot) Session() *discordgo.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.session
}

// Router returns the command router for registering handlers.
func (b *Bot) Router() *CommandRouter {
	return b.router
}

// handleReady seeds the ambience store with every guild the bot sees, so
// mixed playback is the default before anyone touches /setrain.
func (b *Bot) handleReady(s *discordgo.Session, r *discordgo.Ready) {
	ids := make([]string, 0, len(r.Guilds))
	for _, g := range r.Guilds {
		ids = append(ids, g.ID)
	}
	b.rain.Seed(ids)
	slog.Info("discord gateway ready", "guilds", len(ids))
}

// Run registers slash commands with every guild and blocks until ctx is
// cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.RLock()
	s := b.session
	b.mu.RUnlock()

	appID := s.State.User.ID
	cmds := b.router.ApplicationCommands()
	if len(cmds) > 0 {
		for _, g := range s.State.Guilds {
			if _, err := s.ApplicationCommandBulkOverwrite(appID, g.ID, cmds); err != nil {
				return fmt.Errorf("discord: register commands for guild %s: %w", g.ID, err)
			}
			b.mu.Lock()
			b.guilds = append(b.guilds, g.ID)
			b.mu.Unlock()
		}
		slog.Info("discord commands registered",
			"commands", len(cmds), "guilds", len(s.State.Guilds))
	}

	<-ctx.Done()
	return ctx.Err()
}

// Close unregisters commands and disconnects from Discord.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if b.session != nil && len(b.guilds) > 0 {
			appID := b.session.State.User.ID
			for _, guildID := range b.guilds {
				if _, err := b.session.ApplicationCommandBulkOverwrite(appID, guildID, nil); err != nil {
					slog.Warn("discord: failed to unregister commands", "guild", guildID, "err", err)
				}
			}
		}
		if b.session != nil {
			if err := b.session.Close(); err != nil {
				closeErr = fmt.Errorf("discord: close session: %w", err)
			}
		}
		slog.Info("discord bot closed")
	})
	return closeErr
}
