package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only rules, the log level and phonetic matching are applied live; changes
// to any other section are listed in RestartRequired.
type ConfigDiff struct {
	RulesChanged bool       // true if the rule table differs in content or order
	RuleChanges  []RuleDiff // per-rule diffs, keyed by label

	LogLevelChanged bool
	NewLogLevel     LogLevel

	PhoneticChanged bool
	NewPhonetic     bool

	// RestartRequired names the top-level sections that changed but are only
	// read at startup.
	RestartRequired []string
}

// RuleDiff describes what changed for a single rule between two configs.
type RuleDiff struct {
	Label    string
	Added    bool
	Removed  bool
	Modified bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Dispatch.PhoneticFallback != new.Dispatch.PhoneticFallback {
		d.PhoneticChanged = true
		d.NewPhonetic = new.Dispatch.PhoneticFallback
	}

	d.RulesChanged = !slices.Equal(old.Rules, new.Rules)
	if d.RulesChanged {
		d.RuleChanges = diffRules(old, new)
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	sections := []struct {
		name     string
		old, new any
	}{
		{"audio", old.Audio, new.Audio},
		{"detector", old.Detector, new.Detector},
		{"transcription", old.Transcription, new.Transcription},
		{"providers", old.Providers, new.Providers},
		{"commands", old.Commands, new.Commands},
		{"broadcast", old.Broadcast, new.Broadcast},
		{"journal", old.Journal, new.Journal},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}

// diffRules reports added, removed and modified rules by label. A pure
// reordering yields no entries even though RulesChanged is set.
func diffRules(old, new *Config) []RuleDiff {
	var changes []RuleDiff

	newByLabel := make(map[string]int, len(new.Rules))
	for i, r := range new.Rules {
		newByLabel[r.Label()] = i
	}
	oldByLabel := make(map[string]int, len(old.Rules))
	for i, r := range old.Rules {
		oldByLabel[r.Label()] = i
	}

	for _, r := range old.Rules {
		j, ok := newByLabel[r.Label()]
		switch {
		case !ok:
			changes = append(changes, RuleDiff{Label: r.Label(), Removed: true})
		case new.Rules[j] != r:
			changes = append(changes, RuleDiff{Label: r.Label(), Modified: true})
		}
	}
	for _, r := range new.Rules {
		if _, ok := oldByLabel[r.Label()]; !ok {
			changes = append(changes, RuleDiff{Label: r.Label(), Added: true})
		}
	}
	return changes
}
