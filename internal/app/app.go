// Package app wires all parley subsystems into a running server.
//
// The App struct owns the full lifecycle: New loads the scene and connects
// the speech stack to the HTTP surface, Run serves until the context ends,
// and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithGraph,
// WithListener, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/internal/server"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/scene"
)

// readHeaderTimeout bounds how long a client may take to send request headers.
const readHeaderTimeout = 10 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	TTS tts.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	graph    *scene.Graph
	watcher  *scene.Watcher
	breaker  *resilience.CircuitBreaker
	metrics  *observe.Metrics
	promh    http.Handler
	server   *server.Server
	httpSrv  *http.Server
	listener net.Listener

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithGraph injects a scene graph instead of loading scene.path. The graph
// is never reloaded.
func WithGraph(g *scene.Graph) Option {
	return func(a *App) { a.graph = g }
}

// WithMetrics injects the metric instruments instead of the global ones.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on /metrics, typically
// [observe.Telemetry.Handler].
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.promh = h }
}

// WithListener makes Run serve on l instead of listening on
// server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// A scene that fails validation does not stop New: the server starts, reports
// not-ready on /readyz and refuses sessions until a valid revision is loaded.
// A scene file that cannot be read or decoded is an error.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Scene ─────────────────────────────────────────────────────────
	current, err := a.initScene(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: init scene: %w", err)
	}

	// ── 2. Speech ────────────────────────────────────────────────────────
	speechCfg, checkers := a.initSpeech(ctx)

	// ── 3. HTTP surface ──────────────────────────────────────────────────
	srvOpts := []server.Option{
		server.WithSpeech(speechCfg),
		server.WithAllowedOrigins(cfg.Server.AllowedOrigins...),
		server.WithMaxSessions(cfg.Server.MaxSessions),
		server.WithMetrics(a.metrics),
		server.WithCheckers(checkers...),
	}
	if a.promh != nil {
		srvOpts = append(srvOpts, server.WithMetricsHandler(a.promh))
	}
	if providers.TTS != nil {
		srvOpts = append(srvOpts, server.WithTTS(providers.TTS, a.breaker))
	}
	a.server = server.New(current, srvOpts...)
	a.closers = append(a.closers, func() error {
		a.server.Close()
		return nil
	})

	a.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	slog.Info("app initialised",
		"scene", current().Meta().ID,
		"watch", a.watcher != nil,
		"audio", providers.TTS != nil,
		"max_sessions", cfg.Server.MaxSessions,
	)
	return a, nil
}

// initScene resolves the graph source. With scene.watch the file is polled
// and every valid revision replaces the graph new sessions start from.
func (a *App) initScene(ctx context.Context) (func() *scene.Graph, error) {
	if a.graph != nil {
		g := a.graph
		return func() *scene.Graph { return g }, nil
	}

	sc := a.cfg.Scene
	var loadOpts []scene.LoadOption
	if sc.Strict {
		loadOpts = append(loadOpts, scene.Strict())
	}

	if !sc.Watch {
		doc, err := scene.LoadFile(sc.Path, loadOpts...)
		if err != nil {
			return nil, err
		}
		g := scene.NewGraph(doc, sc.StartNode)
		warnIssues(sc.Path, g)
		a.graph = g
		return func() *scene.Graph { return g }, nil
	}

	w, err := scene.NewWatcher(sc.Path,
		func(_, g *scene.Graph) {
			a.metrics.RecordSceneReload(ctx, "ok")
			slog.Info("scene reloaded", "path", sc.Path, "scene", g.Meta().ID, "nodes", len(g.Nodes()))
		},
		scene.WithInterval(sc.WatchInterval),
		scene.WithStartNode(sc.StartNode),
		scene.WithLoadOptions(loadOpts...),
		scene.WithOnReject(func(err error) {
			status := "error"
			if errors.Is(err, scene.ErrInvalid) {
				status = "invalid"
			}
			a.metrics.RecordSceneReload(ctx, status)
		}),
	)
	if err != nil {
		return nil, err
	}
	warnIssues(sc.Path, w.Current())
	a.watcher = w
	a.closers = append(a.closers, func() error {
		w.Stop()
		return nil
	})
	return w.Current, nil
}

// initSpeech puts a circuit breaker in front of the TTS provider, resolves
// voices configured by name only, and returns the speech settings sessions
// use with the readiness checks it contributes.
func (a *App) initSpeech(ctx context.Context) (config.SpeechConfig, []health.Checker) {
	sc := a.cfg.Speech
	if a.providers.TTS == nil {
		if sc.AudioEnabled {
			slog.Warn("speech.audio_enabled is set but no tts provider is configured; sessions use the reading timer")
		}
		return sc, nil
	}
	sc.Voices = ResolveVoices(ctx, a.providers.TTS, sc.Voices)

	cb := a.cfg.Providers.CircuitBreaker
	a.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "tts",
		MaxFailures:  cb.MaxFailures,
		ResetTimeout: cb.ResetTimeout,
		HalfOpenMax:  cb.HalfOpenMax,
		OnStateChange: func(name string, _, to resilience.State) {
			a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
		},
	})
	return sc, []health.Checker{TTSChecker(a.breaker)}
}

// TTSChecker reports not ready while b is open.
func TTSChecker(b *resilience.CircuitBreaker) health.Checker {
	return health.Checker{
		Name: "tts",
		Check: func(context.Context) error {
			if s := b.State(); s == resilience.StateOpen {
				return fmt.Errorf("circuit breaker %q is %s", b.Name(), s)
			}
			return nil
		},
	}
}

func warnIssues(path string, g *scene.Graph) {
	for _, is := range g.Issues() {
		slog.Warn("scene validation issue", "path", path, "rule", is.Rule, "node", is.NodeID, "issue", is.Message)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled or the listener fails. On
// cancellation it stops accepting connections and returns ctx.Err().
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen: %w", err)
		}
	}
	slog.Info("listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpSrv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		// Sessions hold hijacked connections that Shutdown does not wait for.
		a.server.Close()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), readHeaderTimeout)
		defer cancel()
		return a.httpSrv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Server returns the HTTP surface. It is valid after New returns.
func (a *App) Server() *server.Server { return a.server }

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.httpSrv.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
