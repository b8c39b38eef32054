package commands

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/drizzlebot/drizzle/internal/assetcache"
	"github.com/drizzlebot/drizzle/internal/discord"
	discordmock "github.com/drizzlebot/drizzle/internal/discord/mock"
	"github.com/drizzlebot/drizzle/internal/observe"
	"github.com/drizzlebot/drizzle/internal/rain"
	"github.com/drizzlebot/drizzle/internal/resolver"
	"github.com/drizzlebot/drizzle/internal/session"
	"github.com/drizzlebot/drizzle/pkg/voice"
	voicemock "github.com/drizzlebot/drizzle/pkg/voice/mock"
)

const (
	testURL   = "https://www.youtube.com/watch?v=abcdefghijk"
	testVID   = "abcdefghijk"
	testGuild = "g1"
	testUser  = "u1"
)

// fakeCache is a scripted AssetResolver recording the variant asked for.
type fakeCache struct {
	mu        sync.Mutex
	rainCalls []bool
	noBed     bool
	err       error
	onResolve func()
}

func (f *fakeCache) Resolve(_ context.Context, ref resolver.SourceRef, wantRain bool) (string, error) {
	f.mu.Lock()
	f.rainCalls = append(f.rainCalls, wantRain)
	f.mu.Unlock()
	if f.onResolve != nil {
		f.onResolve()
	}
	if f.err != nil {
		return "", f.err
	}
	if wantRain && f.noBed {
		return "", assetcache.ErrNoRainBed
	}
	if wantRain {
		return "/cache/rain_" + ref.ID + ".mp3", nil
	}
	return "/cache/plain_" + ref.ID + ".mp3", nil
}

// fakeSearcher returns a scripted result set or error.
type fakeSearcher struct {
	results []resolver.SearchResult
	err     error
}

func (f *fakeSearcher) Search(_ context.Context, _ string) ([]resolver.SearchResult, error) {
	return f.results, f.err
}

// fixture bundles everything a command handler needs.
type fixture struct {
	platform *voicemock.Platform
	registry *session.Registry
	cache    *fakeCache
	searcher *fakeSearcher
	rain     *rain.Store
	metrics  *observe.Metrics
	resp     *discordmock.InteractionResponder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	met, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	p := voicemock.NewPlatform()
	return &fixture{
		platform: p,
		registry: session.NewRegistry(p, met, log),
		cache:    &fakeCache{},
		searcher: &fakeSearcher{},
		rain:     rain.NewStore(),
		metrics:  met,
		resp:     &discordmock.InteractionResponder{},
	}
}

// handle returns the concrete mock handle created for the test guild.
func (f *fixture) handle(t *testing.T) *voicemock.Handle {
	t.Helper()
	h, ok := f.platform.Get(testGuild)
	if !ok {
		t.Fatal("no voice session for guild")
	}
	return h.(*voicemock.Handle)
}

func trackNamed(title string) voice.Track {
	return voice.Track{Path: "/cache/plain_" + title + ".mp3", Title: title}
}

func (f *fixture) playback() *Playback {
	return NewPlayback(f.registry, f.cache, f.searcher, f.rain, f.metrics)
}

// stateWithVoice builds a discordgo.State where the listed users sit in the
// given voice channels.
func stateWithVoice(t *testing.T, members map[string]string) *discordgo.State {
	t.Helper()
	st := discordgo.NewState()
	g := &discordgo.Guild{ID: testGuild}
	for user, channel := range members {
		g.VoiceStates = append(g.VoiceStates, &discordgo.VoiceState{
			GuildID: testGuild, UserID: user, ChannelID: channel,
		})
	}
	if err := st.GuildAdd(g); err != nil {
		t.Fatalf("GuildAdd: %v", err)
	}
	return st
}

// cmd builds a slash command interaction from the test user.
func cmd(name string, opts ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:    discordgo.InteractionApplicationCommand,
			GuildID: testGuild,
			Member:  &discordgo.Member{User: &discordgo.User{ID: testUser}},
			Data: discordgo.ApplicationCommandInteractionData{
				Name:    name,
				Options: opts,
			},
		},
	}
}

func strOpt(name, value string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name: name, Type: discordgo.ApplicationCommandOptionString, Value: value,
	}
}

func TestQueue_AddsTrackAndReportsPosition(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	st := stateWithVoice(t, map[string]string{testUser: "c1"})

	f.playback().handleQueue(st, f.resp, cmd("queue", strOpt("url", testURL)))

	if got := f.resp.LastContent(); got != "Added song to queue: position 1" {
		t.Errorf("reply = %q", got)
	}
	if len(f.platform.JoinCalls) != 1 || f.platform.JoinCalls[0].ChannelID != "c1" {
		t.Errorf("join calls = %+v, want one join to c1", f.platform.JoinCalls)
	}
	h := f.handle(t)
	if h.Len() != 1 {
		t.Errorf("queue length = %d, want 1", h.Len())
	}
	// Ambience defaults on, so the rain variant is requested.
	if len(f.cache.rainCalls) != 1 || !f.cache.rainCalls[0] {
		t.Errorf("cache calls = %v, want one rain request", f.cache.rainCalls)
	}
}

func TestQueue_InvalidURL(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	st := stateWithVoice(t, map[string]string{testUser: "c1"})

	f.playback().handleQueue(st, f.resp, cmd("queue", strOpt("url", "not a link")))

	if got := f.resp.LastContent(); got != "That doesn't look like a YouTube link." {
		t.Errorf("reply = %q", got)
	}
	if len(f.platform.JoinCalls) != 0 {
		t.Errorf("must not join on invalid input, got %+v", f.platform.JoinCalls)
	}
}

func TestQueue_NotInVoiceChannel(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	st := stateWithVoice(t, nil)

	f.playback().handleQueue(st, f.resp, cmd("queue", strOpt("url", testURL)))

	if got := f.resp.LastContent(); got != "Not in a voice channel to play in" {
		t.Errorf("reply = %q", got)
	}
}

func TestQueue_SessionGoneAfterFetch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	st := stateWithVoice(t, map[string]string{testUser: "c1"})
	// The session disappears while the asset is being fetched; the append
	// must fail cleanly instead of landing on a dead handle.
	f.cache.onResolve = func() {
		if err := f.registry.Leave(context.Background(), testGuild); err != nil {
			t.Errorf("Leave: %v", err)
		}
	}

	f.playback().handleQueue(st, f.resp, cmd("queue", strOpt("url", testURL)))

	if got := f.resp.LastContent(); got != "Not in a voice channel." {
		t.Errorf("reply = %q", got)
	}
	if f.registry.Len() != 0 {
		t.Errorf("Len() = %d, want 0", f.registry.Len())
	}
}

func TestQueue_RainDisabled(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.rain.Set(testGuild, false)
	st := stateWithVoice(t, map[string]string{testUser: "c1"})

	f.playback().handleQueue(st, f.resp, cmd("queue", strOpt("url", testURL)))

	if len(f.cache.rainCalls) != 1 || f.cache.rainCalls[0] {
		t.Errorf("cache calls = %v, want one plain request", f.cache.rainCalls)
	}
	h := f.handle(t)
	if h.Tracks[0].Path != "/cache/plain_"+testVID+".mp3" {
		t.Errorf("queued path = %q, want plain variant", h.Tracks[0].Path)
	}
}

func TestQueue_NoBedFallsBackToPlain(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cache.noBed = true
	st := stateWithVoice(t, map[string]string{testUser: "c1"})

	f.playback().handleQueue(st, f.resp, cmd("queue", strOpt("url", testURL)))

	if got := f.resp.LastContent(); got != "Added song to queue: position 1" {
		t.Errorf("reply = %q", got)
	}
	h := f.handle(t)
	if h.Tracks[0].Path != "/cache/plain_"+testVID+".mp3" {
		t.Errorf("queued path = %q, want plain fallback", h.Tracks[0].Path)
	}
}

func TestQueue_AcquireFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cache.err = errors.New("yt-dlp exploded")
	st := stateWithVoice(t, map[string]string{testUser: "c1"})

	f.playback().handleQueue(st, f.resp, cmd("queue", strOpt("url", testURL)))

	if got := f.resp.LastContent(); got != "Could not fetch that song." {
		t.Errorf("reply = %q", got)
	}
	if h := f.handle(t); h.Len() != 0 {
		t.Errorf("queue length = %d, want 0 after failure", h.Len())
	}
}

func TestSearch_QueuesTopResult(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.searcher.results = []resolver.SearchResult{
		{VideoID: testVID, Title: "best song"},
		{VideoID: "lmnopqrstuv", Title: "second"},
	}
	st := stateWithVoice(t, map[string]string{testUser: "c1"})

	f.playback().handleSearch(st, f.resp, cmd("search", strOpt("query", "best song")))

	if got := f.resp.LastContent(); got != "Added song to queue: position 1" {
		t.Errorf("reply = %q", got)
	}
	h := f.handle(t)
	if h.Len() != 1 {
		t.Fatalf("queue length = %d, want 1", h.Len())
	}
	if !strings.Contains(h.Tracks[0].Title, testVID) {
		t.Errorf("track title = %q, want watch URL of top result", h.Tracks[0].Title)
	}
}

func TestSearch_NoResults(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	st := stateWithVoice(t, map[string]string{testUser: "c1"})

	f.playback().handleSearch(st, f.resp, cmd("search", strOpt("query", "nothing")))

	if got := f.resp.LastContent(); got != "No results found." {
		t.Errorf("reply = %q", got)
	}
}

func TestSkip_ReportsRemaining(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	h, err := f.registry.GetOrJoin(ctx, testGuild, "c1")
	if err != nil {
		t.Fatalf("GetOrJoin: %v", err)
	}
	h.Enqueue(trackNamed("a"))
	h.Enqueue(trackNamed("b"))
	h.Enqueue(trackNamed("c"))

	f.playback().handleSkip(f.resp, cmd("skip"))

	if got := f.resp.LastContent(); got != "Song skipped: 2 in queue." {
		t.Errorf("reply = %q", got)
	}
}

func TestSkip_NoSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.playback().handleSkip(f.resp, cmd("skip"))

	if got := f.resp.LastContent(); got != "Not in a voice channel." {
		t.Errorf("reply = %q", got)
	}
}

func TestStop_ClearsQueue(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	h, err := f.registry.GetOrJoin(ctx, testGuild, "c1")
	if err != nil {
		t.Fatalf("GetOrJoin: %v", err)
	}
	h.Enqueue(trackNamed("a"))
	h.Enqueue(trackNamed("b"))

	f.playback().handleStop(f.resp, cmd("stop"))

	if got := f.resp.LastContent(); got != "Queue cleared" {
		t.Errorf("reply = %q", got)
	}
	if h.Len() != 0 {
		t.Errorf("queue length = %d, want 0", h.Len())
	}
}

func TestPlaybackRegister(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	router := discord.NewCommandRouter()
	f.playback().Register(router)

	names := commandNames(router)
	for _, want := range []string{"queue", "search", "skip", "stop"} {
		if !names[want] {
			t.Errorf("command %q not registered", want)
		}
	}
}

func commandNames(router *discord.CommandRouter) map[string]bool {
	names := make(map[string]bool)
	for _, c := range router.ApplicationCommands() {
		names[c.Name] = true
	}
	return names
}
