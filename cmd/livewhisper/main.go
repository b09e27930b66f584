// Command livewhisper listens to the default microphone, transcribes each
// utterance and reacts to spoken trigger phrases.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/livewhisper/internal/app"
	"github.com/MrWong99/livewhisper/internal/config"
	"github.com/MrWong99/livewhisper/internal/host"
	"github.com/MrWong99/livewhisper/internal/observe"
	"github.com/MrWong99/livewhisper/pkg/audio/portaudio"
	"github.com/MrWong99/livewhisper/pkg/provider/stt"
	sttopenai "github.com/MrWong99/livewhisper/pkg/provider/stt/openai"
	"github.com/MrWong99/livewhisper/pkg/provider/stt/whisper"
	"github.com/MrWong99/livewhisper/pkg/provider/tts"
	"github.com/MrWong99/livewhisper/pkg/provider/tts/coqui"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload rules, log level and phonetic fallback when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "livewhisper: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "livewhisper: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("livewhisper starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithLogLevel(&level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config watcher (optional) ─────────────────────────────────────────────
	if *watch {
		w, err := config.NewWatcher(*configPath, application.Reload)
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			go w.Run(ctx)
		}
	}

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, app.ErrDevice) {
			slog.Error("could not open the audio input device", "err", err)
		} else {
			slog.Error("run error", "err", err)
		}
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.StringOption("language", ""); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if secs := entry.IntOption("timeout_seconds", 0); secs > 0 {
			opts = append(opts, whisper.WithTimeout(time.Duration(secs)*time.Second))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.StringOption("model_path", "")
		}
		var opts []whisper.NativeOption
		if lang := entry.StringOption("language", ""); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if n := entry.IntOption("threads", 0); n > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(n)))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []sttopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, sttopenai.WithModel(entry.Model))
		}
		return sttopenai.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Speaker, error) {
		var opts []coqui.Option
		if lang := entry.StringOption("language", ""); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if voice := entry.StringOption("voice", ""); voice != "" {
			opts = append(opts, coqui.WithVoice(voice))
		}
		if mode := entry.StringOption("api_mode", ""); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		synth, err := coqui.New(entry.BaseURL, opts...)
		if err != nil {
			return nil, err
		}
		return tts.NewPlayback(synth, portaudio.NewPlayer()), nil
	})

	reg.RegisterTTS("log", func(config.ProviderEntry) (tts.Speaker, error) {
		return tts.Log{}, nil
	})

	// ── Host ──────────────────────────────────────────────────────────────────

	reg.RegisterHost("none", func(config.ProviderEntry, config.HostDeps) (host.Host, error) {
		return host.NullHost{}, nil
	})

	// The anyllm host selects its LLM vendor with options.backend (openai,
	// anthropic, ollama, ...).
	reg.RegisterHost("anyllm", func(entry config.ProviderEntry, deps config.HostDeps) (host.Host, error) {
		var llmOpts []anyllmlib.Option
		if entry.APIKey != "" {
			llmOpts = append(llmOpts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			llmOpts = append(llmOpts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		backend, err := host.NewBackend(entry.StringOption("backend", "openai"), llmOpts...)
		if err != nil {
			return nil, err
		}
		return host.NewAssistant(backend, entry.Model, deps.Speaker,
			host.WithSystemPrompt(entry.StringOption("system_prompt", "")),
			host.WithMaxHistory(entry.IntOption("max_history", 10)),
			host.WithIgnore(deps.Ignore),
			host.WithReplyHook(deps.OnReply),
		)
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates the transcriber and speaker named in cfg and
// defers host construction until the application has built its dispatcher.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	t, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	ps.Transcriber = t
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)

	if name := cfg.Providers.TTS.Name; name != "" {
		s, err := reg.CreateTTS(cfg.Providers.TTS)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", name, err)
		}
		ps.Speaker = s
		slog.Info("provider created", "kind", "tts", "name", name)
	}

	if name := cfg.Providers.Host.Name; name != "" {
		entry := cfg.Providers.Host
		ps.Host = func(deps config.HostDeps) (host.Host, error) {
			h, err := reg.CreateHost(entry, deps)
			if err != nil {
				return nil, fmt.Errorf("create host provider %q: %w", name, err)
			}
			slog.Info("provider created", "kind", "host", "name", name)
			return h, nil
		}
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║      livewhisper  startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("STT", provider(cfg.Providers.STT))
	printRow("TTS", provider(cfg.Providers.TTS))
	printRow("Host", provider(cfg.Providers.Host))
	printRow("Capture", fmt.Sprintf("%d Hz / %d ms", cfg.Audio.SampleRate, cfg.Audio.BlockMs))
	printRow("Rules", fmt.Sprintf("%d", len(cfg.Rules)))
	if cfg.Commands.Endpoint != "" {
		printRow("Commands", cfg.Commands.Endpoint)
	} else {
		printRow("Commands", "(disabled)")
	}
	if cfg.Broadcast.Enabled {
		printRow("Broadcast", cfg.Broadcast.Path)
	} else {
		printRow("Broadcast", "(disabled)")
	}
	if cfg.Journal.PostgresDSN != "" {
		printRow("Journal", "postgres")
	} else {
		printRow("Journal", "(disabled)")
	}
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func provider(e config.ProviderEntry) string {
	switch {
	case e.Name == "":
		return "(not configured)"
	case e.Model != "":
		return e.Name + " / " + e.Model
	default:
		return e.Name
	}
}

func printRow(kind, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}
