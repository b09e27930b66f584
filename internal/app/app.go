// Package app wires the livewhisper subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run captures audio and serves HTTP until the context ends or a
// stop phrase is heard, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithSource, WithJournal, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/livewhisper/internal/broadcast"
	"github.com/MrWong99/livewhisper/internal/command"
	"github.com/MrWong99/livewhisper/internal/config"
	"github.com/MrWong99/livewhisper/internal/dispatch"
	"github.com/MrWong99/livewhisper/internal/health"
	"github.com/MrWong99/livewhisper/internal/host"
	"github.com/MrWong99/livewhisper/internal/journal"
	"github.com/MrWong99/livewhisper/internal/listen"
	"github.com/MrWong99/livewhisper/internal/observe"
	"github.com/MrWong99/livewhisper/pkg/audio"
	"github.com/MrWong99/livewhisper/pkg/audio/portaudio"
	"github.com/MrWong99/livewhisper/pkg/provider/stt"
	"github.com/MrWong99/livewhisper/pkg/provider/tts"
	"github.com/MrWong99/livewhisper/pkg/provider/vad"
)

// ErrDevice wraps failures to open the capture device.
var ErrDevice = errors.New("app: audio device")

// serverShutdownTimeout bounds the graceful HTTP shutdown.
const serverShutdownTimeout = 5 * time.Second

// Providers holds the external capabilities built from the config registry by
// main.go.
type Providers struct {
	// Transcriber is required.
	Transcriber stt.Transcriber

	// Speaker voices replies. Nil falls back to [tts.Log].
	Speaker tts.Speaker

	// Host builds the assistant host once the dispatcher exists. Nil means
	// [host.NullHost].
	Host func(deps config.HostDeps) (host.Host, error)
}

// App owns all subsystem lifetimes and runs the listening pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	source     audio.Source
	detector   vad.Detector
	speaker    *tts.Tracker
	commands   command.Sender
	dispatcher *dispatch.Dispatcher
	host       host.Host
	hub        *broadcast.Hub
	journal    journal.Journal
	console    *listen.Console
	consoleOut io.Writer
	listener   *listen.Listener
	health     *health.Handler
	logLevel   *slog.LevelVar

	addr atomic.Value // string, set once the HTTP server listens

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSource injects a capture source instead of opening the default
// PortAudio input device.
func WithSource(s audio.Source) Option {
	return func(a *App) { a.source = s }
}

// WithDetector injects a speech detector instead of the spectral classifier.
func WithDetector(d vad.Detector) Option {
	return func(a *App) { a.detector = d }
}

// WithCommandSender injects the remote command client.
func WithCommandSender(s command.Sender) Option {
	return func(a *App) { a.commands = s }
}

// WithJournal injects a transcript journal instead of connecting to
// PostgreSQL.
func WithJournal(j journal.Journal) Option {
	return func(a *App) { a.journal = j }
}

// WithConsoleOutput sets where console indicators are written. Default:
// os.Stdout.
func WithConsoleOutput(w io.Writer) Option {
	return func(a *App) { a.consoleOut = w }
}

// WithMetrics injects the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel hands the app the level variable of the process logger so
// configuration reloads can change verbosity.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Nothing is captured
// or served until [App.Run].
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Transcriber == nil {
		return nil, errors.New("app: a transcriber is required")
	}
	a := &App{
		cfg:        cfg,
		providers:  providers,
		consoleOut: os.Stdout,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	a.console = listen.NewConsole(a.consoleOut)
	a.console.Loading("livewhisper")

	format := audio.Format{SampleRate: cfg.Audio.SampleRate, BlockMs: cfg.Audio.BlockMs}

	// ── 1. Capture + detector ────────────────────────────────────────────
	if err := a.initCapture(format); err != nil {
		return nil, fmt.Errorf("app: init capture: %w", err)
	}

	// ── 2. Speech output ─────────────────────────────────────────────────
	speaker := providers.Speaker
	if speaker == nil {
		speaker = tts.Log{}
	}
	a.speaker = tts.NewTracker(speaker)

	// ── 3. Dispatcher ────────────────────────────────────────────────────
	if err := a.initDispatcher(); err != nil {
		return nil, fmt.Errorf("app: init dispatcher: %w", err)
	}

	// ── 4. Host ──────────────────────────────────────────────────────────
	if err := a.initHost(); err != nil {
		return nil, fmt.Errorf("app: init host: %w", err)
	}

	// ── 5. Broadcast hub ─────────────────────────────────────────────────
	if cfg.Broadcast.Enabled {
		a.hub = broadcast.NewHub(
			broadcast.WithOriginPatterns(cfg.Broadcast.OriginPatterns...),
			broadcast.WithMetrics(a.metrics),
		)
	}

	// ── 6. Journal ───────────────────────────────────────────────────────
	if err := a.initJournal(ctx); err != nil {
		return nil, fmt.Errorf("app: init journal: %w", err)
	}

	// ── 7. Listener ──────────────────────────────────────────────────────
	if err := a.initListener(format); err != nil {
		return nil, fmt.Errorf("app: init listener: %w", err)
	}

	// ── 8. Health ────────────────────────────────────────────────────────
	a.initHealth()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initCapture(format audio.Format) error {
	if a.source == nil {
		src, err := portaudio.NewSource(format)
		if err != nil {
			return err
		}
		a.source = src
	}
	a.closers = append(a.closers, a.source.Close)

	if a.detector == nil {
		c, err := vad.NewClassifier(vad.Config{
			SampleRate:      format.SampleRate,
			BlockSize:       format.BlockSize(),
			EnergyThreshold: a.cfg.Detector.EnergyThreshold,
			LowHz:           a.cfg.Detector.VocalLowHz,
			HighHz:          a.cfg.Detector.VocalHighHz,
		})
		if err != nil {
			return err
		}
		a.detector = c
	}
	return nil
}

func (a *App) initDispatcher() error {
	if a.commands == nil && a.cfg.Commands.Endpoint != "" {
		c, err := command.New(a.cfg.Commands.Endpoint,
			command.WithTimeout(a.cfg.Commands.Timeout),
			command.WithMetrics(a.metrics),
		)
		if err != nil {
			return err
		}
		a.commands = c
	}

	opts := []dispatch.Option{
		dispatch.WithRules(a.cfg.Rules),
		dispatch.WithPhoneticFallback(a.cfg.Dispatch.PhoneticFallback),
		dispatch.WithMetrics(a.metrics),
		dispatch.WithOnMatch(func(r dispatch.Rule) {
			if r.Reply != "" {
				a.console.Response("Response: %s", r.Reply)
			}
		}),
	}
	if a.commands != nil {
		opts = append(opts, dispatch.WithCommandSender(a.commands))
	}
	d, err := dispatch.New(a.speaker, opts...)
	if err != nil {
		return err
	}
	a.dispatcher = d
	return nil
}

func (a *App) initHost() error {
	if a.providers.Host == nil {
		a.host = host.NullHost{}
		return nil
	}
	h, err := a.providers.Host(config.HostDeps{
		Speaker: a.speaker,
		Ignore: func(text string) bool {
			_, _, ok := a.dispatcher.Match(text)
			return ok
		},
		OnReply: func(reply string) { a.console.Response("Response: %s", reply) },
	})
	if err != nil {
		return err
	}
	a.host = h
	return nil
}

func (a *App) initJournal(ctx context.Context) error {
	if a.journal == nil {
		if a.cfg.Journal.PostgresDSN == "" {
			a.journal = journal.Nop{}
			return nil
		}
		store, err := journal.NewStore(ctx, a.cfg.Journal.PostgresDSN)
		if err != nil {
			return err
		}
		slog.Info("transcript journal connected")
		a.journal = store
	}
	return nil
}

func (a *App) initListener(format audio.Format) error {
	opts := []listen.Option{
		listen.WithDispatcher(a.dispatcher),
		listen.WithHost(a.host),
		listen.WithJournal(a.journal),
		listen.WithConsole(a.console),
		listen.WithSpeaking(a.speaker.Speaking),
		listen.WithMetrics(a.metrics),
	}
	if a.hub != nil {
		opts = append(opts, listen.WithPublisher(a.hub))
	}
	l, err := listen.New(listen.Config{
		Format:         format,
		HangoverBlocks: a.cfg.Detector.HangoverBlocks,
		MaxSegment:     a.cfg.Detector.MaxSegment(),
		HandoffDepth:   a.cfg.Detector.HandoffDepth,
		Language:       a.cfg.Transcription.Language,
		Task:           a.cfg.Transcription.Task,
		StagingPath:    a.cfg.Transcription.StagingPath,
	}, a.detector, a.providers.Transcriber, opts...)
	if err != nil {
		return err
	}
	a.listener = l
	a.closers = append(a.closers, l.Close)
	a.closers = append(a.closers, func() error {
		a.journal.Close()
		return nil
	})
	if c, ok := a.providers.Transcriber.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
	return nil
}

func (a *App) initHealth() {
	capture := func() bool { return false }
	if r, ok := a.source.(interface{ Running() bool }); ok {
		capture = r.Running
	}
	checkers := []health.Checker{
		health.Running("capture", capture),
		health.Running("listener", a.listener.Running),
		health.Configured("transcriber", a.providers.Transcriber),
	}
	if p, ok := a.journal.(health.Pinger); ok {
		checkers = append(checkers, health.Ping("journal", p))
	}
	a.health = health.New(checkers...)
}

// ─── HTTP ────────────────────────────────────────────────────────────────────

// Handler returns the HTTP handler serving /metrics, the health probes and,
// when enabled, the broadcast endpoint.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	a.health.Register(mux)
	if a.hub != nil {
		mux.Handle("GET "+a.cfg.Broadcast.Path, a.hub)
	}
	return observe.Middleware(a.metrics)(mux)
}

// Addr returns the address the HTTP server listens on, or "" before
// [App.Run] has bound it.
func (a *App) Addr() string {
	s, _ := a.addr.Load().(string)
	return s
}

func (a *App) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("app: http shutdown: %w", err)
	}
	return nil
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the live-reloadable parts of a changed configuration. It is
// the callback handed to [config.NewWatcher].
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.RulesChanged {
		if err := a.dispatcher.SetRules(new.Rules); err != nil {
			slog.Warn("config reload: rules rejected", "err", err)
		} else {
			for _, c := range d.RuleChanges {
				slog.Info("config reload: rule changed",
					"rule", c.Label, "added", c.Added, "removed", c.Removed, "modified", c.Modified)
			}
		}
	}
	if d.PhoneticChanged {
		a.dispatcher.SetPhoneticFallback(d.NewPhonetic)
		slog.Info("config reload: phonetic fallback", "enabled", d.NewPhonetic)
	}
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("config reload: log level", "level", d.NewLogLevel)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config reload: changes take effect after restart", "sections", d.RestartRequired)
	}
}

// SlogLevel maps a config log level to its slog equivalent.
func SlogLevel(level config.LogLevel) slog.Level {
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

// Run opens the capture device and blocks until ctx is cancelled, a stop
// phrase ends the listen loop, or a component fails. A device that cannot be
// opened yields an error wrapping [ErrDevice].
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var ln net.Listener
	if a.cfg.Server.ListenAddr != "" {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
		}
		a.addr.Store(ln.Addr().String())
		slog.Info("http server listening", "addr", ln.Addr().String())
	}

	if err := a.source.Start(a.listener.HandleBlock); err != nil {
		if ln != nil {
			ln.Close()
		}
		return fmt.Errorf("%w: %w", ErrDevice, err)
	}
	a.console.Listening()

	g, gctx := errgroup.WithContext(ctx)
	if ln != nil {
		g.Go(func() error { return a.serve(gctx, ln) })
	}
	if a.hub != nil {
		g.Go(func() error { return a.hub.Run(gctx) })
	}
	g.Go(func() error {
		// A stop phrase ends Consume; unwind the rest with it.
		defer cancel()
		return a.listener.Consume(gctx)
	})
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order: capture stops first so no
// new segments arrive, then the listener discards pending work and removes
// its staging file. It respects the context deadline: if ctx expires before
// all closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		a.console.Quitting()
		defer a.console.Close()

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

// Dispatcher returns the rule dispatcher.
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }

// Listener returns the listen loop.
func (a *App) Listener() *listen.Listener { return a.listener }
