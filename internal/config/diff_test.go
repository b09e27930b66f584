package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/livewhisper/internal/config"
	"github.com/MrWong99/livewhisper/internal/dispatch"
)

func baseConfig() *config.Config {
	cfg := &config.Config{Providers: config.ProvidersConfig{STT: config.ProviderEntry{Name: "whisper"}}}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	d := config.Diff(cfg, baseConfig())
	if d.RulesChanged || d.LogLevelChanged || d.PhoneticChanged {
		t.Errorf("expected no changes, got %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("expected no restart-required sections, got %v", d.RestartRequired)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level is live, got restart-required %v", d.RestartRequired)
	}
}

func TestDiff_RuleModifiedAddedRemoved(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Rules = slices.Clone(old.Rules)
	new.Rules[1].Reply = "Howdy."
	new.Rules = slices.DeleteFunc(new.Rules, func(r dispatch.Rule) bool { return r.Label() == "cone" })
	new.Rules = append(new.Rules, dispatch.Rule{Name: "pyramid", Trigger: "create a pyramid", Action: dispatch.ActionCommand, Command: "create_pyramid"})

	d := config.Diff(old, new)
	if !d.RulesChanged {
		t.Fatal("expected RulesChanged=true")
	}
	byLabel := make(map[string]config.RuleDiff)
	for _, c := range d.RuleChanges {
		byLabel[c.Label] = c
	}
	if !byLabel[old.Rules[1].Label()].Modified {
		t.Errorf("expected %q modified, got %+v", old.Rules[1].Label(), d.RuleChanges)
	}
	if !byLabel["cone"].Removed {
		t.Errorf("expected cone removed, got %+v", d.RuleChanges)
	}
	if !byLabel["pyramid"].Added {
		t.Errorf("expected pyramid added, got %+v", d.RuleChanges)
	}
	if len(d.RuleChanges) != 3 {
		t.Errorf("expected 3 rule changes, got %d", len(d.RuleChanges))
	}
}

func TestDiff_RuleReorderOnly(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Rules = slices.Clone(old.Rules)
	slices.Reverse(new.Rules)

	d := config.Diff(old, new)
	if !d.RulesChanged {
		t.Error("reordering changes match priority and must count as a change")
	}
	if len(d.RuleChanges) != 0 {
		t.Errorf("expected no per-rule changes, got %+v", d.RuleChanges)
	}
}

func TestDiff_PhoneticChanged(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Dispatch.PhoneticFallback = true

	d := config.Diff(old, new)
	if !d.PhoneticChanged || !d.NewPhonetic {
		t.Errorf("expected phonetic change to true, got %+v", d)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.ListenAddr = ":9999"
	new.Detector.HangoverBlocks = 10
	new.Providers.Host.Options = map[string]any{"backend": "ollama"}

	d := config.Diff(old, new)
	want := []string{"server", "detector", "providers"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired: got %v, want %v", d.RestartRequired, want)
	}
}
