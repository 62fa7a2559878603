// Package app wires all podforge subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the MCP transports until the context is cancelled,
// and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithStitcher, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/podforge/podforge/internal/assembler"
	"github.com/podforge/podforge/internal/cleanup"
	"github.com/podforge/podforge/internal/config"
	"github.com/podforge/podforge/internal/health"
	"github.com/podforge/podforge/internal/mcpserver"
	"github.com/podforge/podforge/internal/observe"
	"github.com/podforge/podforge/internal/pipeline"
	"github.com/podforge/podforge/internal/runner"
	"github.com/podforge/podforge/internal/status"
	"github.com/podforge/podforge/internal/status/postgres"
	"github.com/podforge/podforge/internal/voices"
	"github.com/podforge/podforge/internal/webhook"
	"github.com/podforge/podforge/pkg/audio"
	"github.com/podforge/podforge/pkg/extract"
	"github.com/podforge/podforge/pkg/provider/llm"
	"github.com/podforge/podforge/pkg/provider/tts"
)

// voiceCacheFile is the catalog cache filename inside the voice cache dir.
const voiceCacheFile = "tts_voices_cache.json"

// httpShutdownTimeout bounds the graceful drain of the HTTP listener.
const httpShutdownTimeout = 10 * time.Second

// Providers holds one interface value per provider slot. Populated by
// main.go via the config registry.
type Providers struct {
	LLM llm.Provider
	TTS tts.Provider
}

// App owns all subsystem lifetimes and orchestrates the podcast pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	store      status.Store
	catalog    *voices.Catalog
	stitcher   audio.Stitcher
	asm        *assembler.Assembler
	extractors map[extract.Kind]extract.Extractor
	notifier   *webhook.Notifier
	cleaner    *cleanup.Manager
	pipeline   *pipeline.Pipeline
	runner     *runner.Runner
	mcps       *mcpserver.Server
	healthz    *health.Handler

	// Config hot-reload. Only active when WithConfigWatch was given.
	watcher   *config.Watcher
	watchPath string
	logLevel  *slog.LevelVar

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a status store instead of creating one from config.
func WithStore(s status.Store) Option {
	return func(a *App) { a.store = s }
}

// WithStitcher injects an audio stitcher instead of the ffmpeg default.
func WithStitcher(s audio.Stitcher) Option {
	return func(a *App) { a.stitcher = s }
}

// WithExtractors injects source extractors instead of the HTTP-backed defaults.
func WithExtractors(m map[extract.Kind]extract.Extractor) Option {
	return func(a *App) { a.extractors = m }
}

// WithConfigWatch enables hot-reload of the config file at path. Only the
// log level is applied live, through lv; any other change is logged as
// requiring a restart.
func WithConfigWatch(path string, lv *slog.LevelVar) Option {
	return func(a *App) {
		a.watchPath = path
		a.logLevel = lv
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil || providers.TTS == nil {
		return nil, fmt.Errorf("app: an LLM and a TTS provider must be configured")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Status store ──────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Voice catalog ─────────────────────────────────────────────────
	cachePath := filepath.Join(cfg.Voices.CacheDir, voiceCacheFile)
	a.catalog = voices.New(providers.TTS, cachePath, voices.WithTTL(cfg.Voices.CacheTTL))

	// ── 3. Audio assembly ────────────────────────────────────────────────
	if a.stitcher == nil {
		a.stitcher = audio.NewFFmpegStitcher()
	}
	a.asm = assembler.New(providers.TTS, a.stitcher,
		assembler.WithParallelism(int64(cfg.Workers.TTS)))

	// ── 4. Webhook notifier + cleanup manager ────────────────────────────
	a.notifier = webhook.New(
		webhook.WithMaxAttempts(cfg.Webhook.MaxAttempts),
		webhook.WithBaseDelay(cfg.Webhook.BaseDelay),
	)
	a.cleaner = cleanup.New(cfg.Output.Root, cleanupConfig(cfg.Cleanup))

	// ── 5. Source extractors ─────────────────────────────────────────────
	if a.extractors == nil {
		a.extractors = map[extract.Kind]extract.Extractor{
			extract.KindWeb:     extract.NewWebExtractor(nil),
			extract.KindPDF:     extract.NewPDFExtractor(),
			extract.KindYouTube: extract.NewYouTubeExtractor(nil),
		}
	}

	// ── 6. Pipeline + task runner ────────────────────────────────────────
	a.pipeline = pipeline.New(a.store, providers.LLM, a.extractors, a.catalog, a.asm, cfg.Output.Root,
		pipeline.WithNotifier(a.notifier),
		pipeline.WithCleaner(a.cleaner),
		pipeline.WithLLMWorkers(int64(cfg.Workers.LLM)),
		pipeline.WithTimeouts(cfg.Workers.AnalysisTimeout, cfg.Workers.ResearchTimeout),
	)
	a.runner = runner.New(cfg.Workers.Tasks, slog.Default())

	// ── 7. MCP server + health endpoints ─────────────────────────────────
	a.mcps = mcpserver.New(a.store, a.runner, a.pipeline, a.cleaner, cfg.Output.Root)
	a.healthz = health.New(
		health.StoreCheck(a.store),
		health.PoolCheck(a.runner),
	)

	// ── 8. Config watcher (optional) ─────────────────────────────────────
	if a.watchPath != "" {
		w, err := config.NewWatcher(a.watchPath, a.applyConfigChange)
		if err != nil {
			return nil, fmt.Errorf("app: watch config: %w", err)
		}
		a.watcher = w
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore selects the status store backend from config unless one was
// injected. The postgres backend runs its migration on startup.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	switch a.cfg.Store.Backend {
	case config.StoreMemory, "":
		a.store = status.NewMemStore()
		return nil

	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, a.cfg.Store.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		pg := postgres.New(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return err
		}
		a.store = pg
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})
		slog.Info("status store ready", "backend", "postgres")
		return nil

	default:
		return fmt.Errorf("unknown store backend %q", a.cfg.Store.Backend)
	}
}

// cleanupConfig converts the YAML cleanup section into the manager's config.
// The policy string was validated at load time.
func cleanupConfig(c config.CleanupConfig) cleanup.Config {
	pol, err := cleanup.ParsePolicy(c.Policy)
	if err != nil {
		pol = cleanup.PolicyManual
	}
	return cleanup.Config{
		Policy:     pol,
		AfterHours: c.AfterHours,
		AfterDays:  c.AfterDays,
		Retention:  c.Retention,
	}
}

// applyConfigChange is the watcher callback. Hot-applicable changes take
// effect immediately; everything else is reported for the operator.
func (a *App) applyConfigChange(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if sections := d.RestartRequired(); len(sections) > 0 {
		slog.Warn("config changes require a restart", "sections", sections)
	}
}

// slogLevel maps a config log level to its slog equivalent.
func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the MCP stdio transport and, when server.listen_addr is set,
// an HTTP listener with the streamable MCP handler, health probes, and the
// Prometheus metrics endpoint. It blocks until ctx is cancelled or a
// transport fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.mcps.Run(ctx)
	})

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		srv := &http.Server{
			Addr:    addr,
			Handler: a.httpHandler(),
		}

		g.Go(func() error {
			slog.Info("http listener started", "addr", addr)
			var err error
			if tls := a.cfg.Server.TLS; tls != nil {
				err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			} else {
				err = srv.ListenAndServe()
			}
			if err == http.ErrServerClosed {
				return nil
			}
			return err
		})

		g.Go(func() error {
			<-ctx.Done()
			drainCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
			defer cancel()
			return srv.Shutdown(drainCtx)
		})
	}

	return g.Wait()
}

// httpHandler builds the HTTP mux: health probes, Prometheus metrics, and
// the streamable MCP endpoint wrapped in the telemetry middleware.
func (a *App) httpHandler() http.Handler {
	mux := http.NewServeMux()
	a.healthz.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	mcpHandler := observe.Middleware(observe.DefaultMetrics())(a.mcps.HTTPHandler())
	mux.Handle("/mcp", mcpHandler)
	mux.Handle("/mcp/", mcpHandler)

	return mux
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown drains the task runner and tears down all subsystems in order.
// It respects the context deadline: if ctx expires before all closers
// finish, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.watcher != nil {
			a.watcher.Stop()
		}

		// Let in-flight podcast tasks finish within the deadline.
		if err := a.runner.Shutdown(ctx); err != nil {
			slog.Warn("runner drain incomplete", "err", err)
			shutdownErr = err
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
