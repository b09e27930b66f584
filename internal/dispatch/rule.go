package dispatch

import (
	"errors"
	"fmt"
	"strings"
)

// Action is what a matched [Rule] does.
type Action string

const (
	// ActionSpeak speaks the rule's Reply.
	ActionSpeak Action = "speak"

	// ActionCommand forwards the rule's Command identifier to the remote
	// command receiver.
	ActionCommand Action = "command"

	// ActionStop speaks the rule's Reply as a farewell and then stops the
	// listening loop.
	ActionStop Action = "stop"
)

// IsValid reports whether a is a known action.
func (a Action) IsValid() bool {
	switch a {
	case ActionSpeak, ActionCommand, ActionStop:
		return true
	}
	return false
}

// Rule maps a trigger phrase to an action. Triggers are matched as
// case-insensitive substrings of the transcript.
type Rule struct {
	// Name identifies the rule in logs and metrics. Defaults to Trigger.
	Name string `yaml:"name"`

	// Trigger is the phrase searched for in the lower-cased transcript.
	Trigger string `yaml:"trigger"`

	// Action selects the reaction.
	Action Action `yaml:"action"`

	// Reply is spoken for ActionSpeak and ActionStop.
	Reply string `yaml:"reply"`

	// Command is the identifier sent for ActionCommand.
	Command string `yaml:"command"`
}

// Label returns Name, or Trigger when Name is empty.
func (r Rule) Label() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Trigger
}

// Validate checks that r is complete for its action.
func (r Rule) Validate() error {
	var errs []error
	if strings.TrimSpace(r.Trigger) == "" {
		errs = append(errs, errors.New("trigger is required"))
	}
	switch r.Action {
	case ActionSpeak, ActionStop:
		if strings.TrimSpace(r.Reply) == "" {
			errs = append(errs, fmt.Errorf("reply is required for action %q", r.Action))
		}
	case ActionCommand:
		if strings.TrimSpace(r.Command) == "" {
			errs = append(errs, errors.New("command is required for action \"command\""))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown action %q (want speak, command or stop)", r.Action))
	}
	return errors.Join(errs...)
}

// ValidateRules validates every rule and reports each failure with its index.
func ValidateRules(rules []Rule) error {
	var errs []error
	for i, r := range rules {
		if err := r.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("rules[%d] (%s): %w", i, r.Label(), err))
		}
	}
	return errors.Join(errs...)
}

// DefaultRules returns the built-in rule table. The stop rule comes first so
// that a farewell is never shadowed by a greeting in the same utterance.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:    "stop",
			Trigger: "stop listening",
			Action:  ActionStop,
			Reply:   "Stopping the transcription. Goodbye!",
		},
		{
			Name:    "greeting",
			Trigger: "hello",
			Action:  ActionSpeak,
			Reply:   "Hi there! How can I help you today?",
		},
		{
			Name:    "wellbeing",
			Trigger: "how are you",
			Action:  ActionSpeak,
			Reply:   "I'm just a program, but I'm functioning perfectly. Thanks for asking!",
		},
		{
			Name:    "urban-typologies",
			Trigger: "urban typologies",
			Action:  ActionSpeak,
			Reply: "The Urban Metabolism Group (UMG) categorizes data into five distinct typologies, " +
				"each focusing on different aspects of urban environments. The typologies are: " +
				"Urban Morphology Typology, Metabolic Typology, Urban Resource Use, " +
				"Vegetation and Land Characteristics Typology, Climate Risks Typology, " +
				"Urbanization Impacts Typology.",
		},
		{Name: "cube", Trigger: "create a cube", Action: ActionCommand, Command: "create_cube"},
		{Name: "cylinder", Trigger: "create a cylinder", Action: ActionCommand, Command: "create_cylinder"},
		{Name: "sphere", Trigger: "create a sphere", Action: ActionCommand, Command: "create_sphere"},
		{Name: "cone", Trigger: "create a cone", Action: ActionCommand, Command: "create_cone"},
	}
}
