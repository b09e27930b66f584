package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/livewhisper/internal/dispatch"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":  {"whisper", "whisper-native", "openai"},
	"tts":  {"coqui", "log"},
	"host": {"none", "anyllm"},
}

// LoadDotEnv loads KEY=value pairs from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %q: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// A .env file next to the config is loaded first and ${VAR} references in the
// file are expanded from the environment.
func Load(path string) (*Config, error) {
	if err := LoadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands environment references,
// applies defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// Validate expects [ApplyDefaults] to have run.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.BlockMs <= 0 {
		errs = append(errs, fmt.Errorf("audio.block_ms %d must be positive", cfg.Audio.BlockMs))
	}

	// Detector
	d := cfg.Detector
	if d.EnergyThreshold <= 0 || d.EnergyThreshold >= 1 {
		errs = append(errs, fmt.Errorf("detector.energy_threshold %.4f is out of range (0, 1)", d.EnergyThreshold))
	}
	if d.VocalLowHz < 0 || d.VocalHighHz <= d.VocalLowHz {
		errs = append(errs, fmt.Errorf("detector vocal band [%.0f, %.0f] Hz is invalid", d.VocalLowHz, d.VocalHighHz))
	}
	if cfg.Audio.SampleRate > 0 && d.VocalHighHz > float64(cfg.Audio.SampleRate)/2 {
		slog.Warn("detector.vocal_high_hz is above the Nyquist frequency; the upper bound has no effect",
			"vocal_high_hz", d.VocalHighHz,
			"sample_rate", cfg.Audio.SampleRate,
		)
	}
	if d.HangoverBlocks < 1 {
		errs = append(errs, fmt.Errorf("detector.hangover_blocks %d must be at least 1", d.HangoverBlocks))
	}
	if d.MaxSegmentMs <= 1000 {
		errs = append(errs, fmt.Errorf("detector.max_segment_ms %d must exceed the 1000 ms minimum utterance", d.MaxSegmentMs))
	}
	if d.HandoffDepth < 1 {
		errs = append(errs, fmt.Errorf("detector.handoff_depth %d must be at least 1", d.HandoffDepth))
	}

	// Transcription
	if cfg.Transcription.Task != "" && !cfg.Transcription.Task.IsValid() {
		errs = append(errs, fmt.Errorf("transcription.task %q is invalid; valid values: transcribe, translate", cfg.Transcription.Task))
	}

	// Providers
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("host", cfg.Providers.Host.Name)
	if cfg.Providers.Host.Name == "anyllm" && cfg.Providers.TTS.Name == "" {
		slog.Warn("providers.host is configured without providers.tts; assistant replies will only be logged")
	}

	// Commands
	if cfg.Commands.Timeout < 0 {
		errs = append(errs, fmt.Errorf("commands.timeout %s must not be negative", cfg.Commands.Timeout))
	}

	// Rules
	if err := dispatch.ValidateRules(cfg.Rules); err != nil {
		errs = append(errs, err)
	}
	if cfg.Commands.Endpoint == "" && slices.ContainsFunc(cfg.Rules, func(r dispatch.Rule) bool { return r.Action == dispatch.ActionCommand }) {
		slog.Warn("commands.endpoint is empty; rules with action \"command\" will fail when matched")
	}
	if !slices.ContainsFunc(cfg.Rules, func(r dispatch.Rule) bool { return r.Action == dispatch.ActionStop }) {
		slog.Warn("no rule with action \"stop\"; the listener can only be stopped with a signal")
	}

	// Broadcast
	if cfg.Broadcast.Enabled && !strings.HasPrefix(cfg.Broadcast.Path, "/") {
		errs = append(errs, fmt.Errorf("broadcast.path %q must start with \"/\"", cfg.Broadcast.Path))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
