package discord

import (
	"context"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
)

// voiceStateTimeout bounds the session teardown triggered by a voice event.
const voiceStateTimeout = 10 * time.Second

// handleVoiceStateUpdate watches for users leaving voice entirely. When the
// channel the bot is playing in is left with at most the bot remaining, the
// session is torn down. Channel switches and mute/deaf toggles are ignored.
func (b *Bot) handleVoiceStateUpdate(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	if v.BeforeUpdate == nil || v.BeforeUpdate.ChannelID == "" {
		return // join or state toggle, not a leave
	}
	if v.ChannelID != "" {
		return // channel switch, user is still in voice
	}
	if s.State.User != nil && v.UserID == s.State.User.ID {
		return // our own disconnect
	}

	b.mu.RLock()
	reg := b.registry
	b.mu.RUnlock()
	if reg == nil {
		return // event raced bot wiring
	}

	vacated := v.BeforeUpdate.ChannelID
	remaining := channelMemberCount(s, v.GuildID, vacated)

	ctx, cancel := context.WithTimeout(context.Background(), voiceStateTimeout)
	defer cancel()

	removed, err := reg.RemoveOnEmpty(ctx, v.GuildID, vacated, remaining)
	if err != nil {
		slog.Warn("discord: failed to leave vacated channel",
			"guild", v.GuildID, "channel", vacated, "err", err)
		return
	}
	if removed {
		slog.Info("left vacated voice channel", "guild", v.GuildID, "channel", vacated)
	}
}

// channelMemberCount reports how many members the state currently places in
// the channel. The leaver is already absent when the event fires.
func channelMemberCount(s *discordgo.Session, guildID, channelID string) int {
	g, err := s.State.Guild(guildID)
	if err != nil {
		return 0
	}
	n := 0
	for _, vs := range g.VoiceStates {
		if vs.ChannelID == channelID {
			n++
		}
	}
	return n
}

// UserVoiceChannel returns the voice channel the user currently occupies in
// the guild, or the empty string when they are not in voice. Command
// handlers use it to find the invoker's channel before joining.
func UserVoiceChannel(st *discordgo.State, guildID, userID string) string {
	g, err := st.Guild(guildID)
	if err != nil {
		return ""
	}
	for _, vs := range g.VoiceStates {
		if vs.UserID == userID {
			return vs.ChannelID
		}
	}
	return ""
}
