// Package app wires all Drizzle subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the serving loops, and Shutdown tears everything
// down in order.
//
// For testing, inject mock implementations via functional options
// (WithPlatform, WithFetcher, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drizzlebot/drizzle/internal/acquire"
	"github.com/drizzlebot/drizzle/internal/assetcache"
	"github.com/drizzlebot/drizzle/internal/config"
	"github.com/drizzlebot/drizzle/internal/discord"
	"github.com/drizzlebot/drizzle/internal/discord/commands"
	"github.com/drizzlebot/drizzle/internal/health"
	"github.com/drizzlebot/drizzle/internal/observe"
	"github.com/drizzlebot/drizzle/internal/rain"
	"github.com/drizzlebot/drizzle/internal/resolver"
	"github.com/drizzlebot/drizzle/internal/session"
	"github.com/drizzlebot/drizzle/pkg/voice"
)

// shutdownTimeout bounds each closer during Shutdown.
const shutdownTimeout = 15 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	metrics  *observe.Metrics
	rain     *rain.Store
	bot      *discord.Bot
	registry *session.Registry
	cache    *assetcache.Cache
	watcher  *config.Watcher
	httpSrv  *http.Server
	logLevel *slog.LevelVar

	// Injectable collaborators. Nil means New builds the real one.
	platform voice.Platform
	fetcher  acquire.Fetcher
	mixer    acquire.Mixer
	searcher resolver.Searcher

	// closers are called in reverse order during Shutdown.
	closers []func(context.Context) error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithPlatform injects a voice platform. The Discord gateway connection is
// skipped entirely, which also makes New usable without a bot token.
func WithPlatform(p voice.Platform) Option {
	return func(a *App) { a.platform = p }
}

// WithFetcher injects a download fetcher instead of the yt-dlp one.
func WithFetcher(f acquire.Fetcher) Option {
	return func(a *App) { a.fetcher = f }
}

// WithMixer injects an ambience mixer instead of the ffmpeg one.
func WithMixer(m acquire.Mixer) Option {
	return func(a *App) { a.mixer = m }
}

// WithSearcher injects a search backend instead of the YouTube one.
func WithSearcher(s resolver.Searcher) Option {
	return func(a *App) { a.searcher = s }
}

// WithLogLevelVar hands the App the level var backing the process logger, so
// a config reload can adjust verbosity at runtime.
func WithLogLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. configPath enables
// hot reload of the config file; pass "" to disable watching. Use Option
// functions to inject test doubles for any collaborator.
func New(ctx context.Context, cfg *config.Config, configPath string, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Telemetry ─────────────────────────────────────────────────────
	telemetryShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}
	a.closers = append(a.closers, telemetryShutdown)
	a.metrics = observe.DefaultMetrics()

	// ── 2. Ambience preferences ──────────────────────────────────────────
	a.rain = rain.NewStore()

	// ── 3. Discord gateway ───────────────────────────────────────────────
	if a.platform == nil {
		bot, err := discord.New(ctx, discord.Config{Token: cfg.Discord.Token}, a.rain)
		if err != nil {
			return nil, a.failNew(fmt.Errorf("app: connect discord: %w", err))
		}
		a.bot = bot
		a.platform = bot.Platform()
		a.closers = append(a.closers, func(context.Context) error { return bot.Close() })
	}

	// ── 4. Voice sessions ────────────────────────────────────────────────
	var regOpts []session.Option
	if cfg.Session.LockWait > 0 {
		regOpts = append(regOpts, session.WithLockWait(cfg.Session.LockWait.Std()))
	}
	a.registry = session.NewRegistry(a.platform, a.metrics, slog.Default(), regOpts...)
	a.closers = append(a.closers, a.registry.Close)
	if a.bot != nil {
		a.bot.BindRegistry(a.registry)
	}

	// ── 5. Asset acquisition + cache ─────────────────────────────────────
	if a.fetcher == nil {
		a.fetcher = acquire.NewBreakerFetcher(acquire.NewYTDLP(slog.Default()))
	}
	if a.mixer == nil {
		a.mixer = acquire.NewFFmpeg(slog.Default())
	}
	a.cache, err = assetcache.New(cfg.Cache.Dir, cfg.Rain.BedPath, a.fetcher, a.mixer, a.metrics, slog.Default())
	if err != nil {
		return nil, a.failNew(fmt.Errorf("app: init cache: %w", err))
	}

	// ── 6. Commands ──────────────────────────────────────────────────────
	if a.searcher == nil {
		a.searcher = resolver.NewYTSearcher()
	}
	if a.bot != nil {
		router := a.bot.Router()
		commands.NewPlayback(a.registry, a.cache, a.searcher, a.rain, a.metrics).Register(router)
		commands.NewControl(a.registry, a.metrics).Register(router)
		commands.NewSettings(a.registry, a.rain, a.metrics).Register(router)
		commands.NewPing(a.metrics).Register(router)
	}

	// ── 7. Ops HTTP server ───────────────────────────────────────────────
	a.httpSrv = a.buildOpsServer()

	// ── 8. Config watcher ────────────────────────────────────────────────
	if configPath != "" {
		w, err := config.NewWatcher(configPath, a.ApplyConfigChange)
		if err != nil {
			return nil, a.failNew(fmt.Errorf("app: watch config: %w", err))
		}
		a.watcher = w
	}

	return a, nil
}

// failNew tears down whatever New already started before returning its error.
func (a *App) failNew(err error) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if cerr := a.closers[i](ctx); cerr != nil {
			slog.Warn("cleanup after failed start", "err", cerr)
		}
	}
	return err
}

// buildOpsServer assembles the health + metrics endpoint mux.
func (a *App) buildOpsServer() *http.Server {
	mux := http.NewServeMux()
	health.New(a.healthCheckers()...).Register(mux)
	mux.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// healthCheckers builds the readiness probes for /readyz.
func (a *App) healthCheckers() []health.Checker {
	checkers := []health.Checker{
		health.DirWritable("cache", a.cfg.Cache.Dir),
		{
			// Re-resolve per probe; the bed path is hot-reloadable.
			Name: "ambience",
			Check: func(ctx context.Context) error {
				return health.OptionalFile("ambience", a.cache.BedPath()).Check(ctx)
			},
		},
	}
	if a.bot != nil {
		checkers = append(checkers, health.Checker{
			Name: "discord",
			Check: func(context.Context) error {
				if a.bot.Session().State.User == nil {
					return errors.New("gateway not ready")
				}
				return nil
			},
		})
	}
	return checkers
}

// ApplyConfigChange is the watcher callback. Only hot-reloadable fields are
// applied; everything else takes effect on the next restart.
func (a *App) ApplyConfigChange(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Changed() {
		return
	}
	if d.LogLevelChanged {
		if a.logLevel != nil {
			a.logLevel.Set(d.NewLogLevel.Level())
			slog.Info("log level changed", "level", d.NewLogLevel)
		} else {
			slog.Warn("log level changed but logger is not adjustable", "level", d.NewLogLevel)
		}
	}
	if d.RainBedChanged {
		a.cache.SetBedPath(d.NewRainBed)
		slog.Info("ambience bed changed", "path", d.NewRainBed)
	}
}

// ─── Run / Shutdown ──────────────────────────────────────────────────────────

// Registry exposes the voice session registry.
func (a *App) Registry() *session.Registry { return a.registry }

// Cache exposes the asset cache.
func (a *App) Cache() *assetcache.Cache { return a.cache }

// Rain exposes the per-guild ambience preference store.
func (a *App) Rain() *rain.Store { return a.rain }

// OpsHandler exposes the health + metrics handler, mainly for tests that
// want to probe the endpoints without binding a port.
func (a *App) OpsHandler() http.Handler { return a.httpSrv.Handler }

// Run serves HTTP and the Discord command loop until ctx is cancelled or a
// serve loop fails.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("app: http server: %w", err)
		}
	}()

	if a.bot != nil {
		go func() {
			if err := a.bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("app: discord bot: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the watcher and HTTP server, then closes all subsystems in
// reverse creation order. Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		if a.watcher != nil {
			a.watcher.Stop()
		}
		if err := a.httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("app: shutdown http: %w", err))
		}
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](ctx); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
