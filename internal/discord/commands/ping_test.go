package commands

import (
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestPing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	NewPing(f.metrics).handlePing(f.resp, cmd("ping"))

	if got := f.resp.LastContent(); got != "Pong!" {
		t.Errorf("reply = %q", got)
	}
	resp := f.resp.LastResponse()
	if resp == nil || resp.Data.Flags&discordgo.MessageFlagsEphemeral == 0 {
		t.Error("ping reply should be ephemeral")
	}
}
