// Package dispatch reacts to transcribed utterances.
//
// A [Dispatcher] holds an ordered table of [Rule] values. Each transcript is
// lower-cased and checked against the triggers in table order; the first rule
// whose trigger occurs in the text fires and no other rule is considered. An
// optional phonetic pass catches near-miss transcriptions ("helo") when no
// trigger matched literally.
//
// Unmatched text is ignored. The rule table can be replaced at runtime with
// [Dispatcher.SetRules].
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/livewhisper/internal/command"
	"github.com/MrWong99/livewhisper/internal/observe"
	"github.com/MrWong99/livewhisper/pkg/provider/tts"
)

// ErrNoCommandSender is reported in [Outcome.Err] when a command rule fires
// but the Dispatcher was built without a command sender.
var ErrNoCommandSender = errors.New("dispatch: no command sender configured")

// Outcome describes what a single [Dispatcher.Dispatch] call did.
type Outcome struct {
	// Matched is true when a rule fired.
	Matched bool

	// Rule is the rule that fired. Zero when Matched is false.
	Rule Rule

	// Phonetic is true when the rule was found by the phonetic pass.
	Phonetic bool

	// Err is the failure of the fired action, if any. Action failures are
	// logged and never stop the Dispatcher.
	Err error
}

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithRules replaces the default rule table. Invalid tables are rejected by
// [New].
func WithRules(rules []Rule) Option {
	return func(d *Dispatcher) {
		d.rules = append([]Rule(nil), rules...)
	}
}

// WithCommandSender sets the receiver for command rules.
func WithCommandSender(s command.Sender) Option {
	return func(d *Dispatcher) {
		d.commands = s
	}
}

// WithPhoneticFallback enables the phonetic second pass.
func WithPhoneticFallback(enabled bool) Option {
	return func(d *Dispatcher) {
		d.phoneticOn.Store(enabled)
	}
}

// WithPhoneticThreshold sets the minimum Jaro-Winkler similarity for the
// phonetic pass. Default: 0.90.
func WithPhoneticThreshold(threshold float64) Option {
	return func(d *Dispatcher) {
		d.phonetic.threshold = threshold
	}
}

// WithOnMatch registers fn to be called with every fired rule before its
// action runs.
func WithOnMatch(fn func(Rule)) Option {
	return func(d *Dispatcher) {
		d.onMatch = fn
	}
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// Dispatcher evaluates transcripts against a rule table. It is safe for
// concurrent use, although the listening pipeline calls Dispatch from a
// single consumer goroutine.
type Dispatcher struct {
	speaker    tts.Speaker
	commands   command.Sender
	metrics    *observe.Metrics
	phoneticOn atomic.Bool
	phonetic   phoneticMatcher
	onMatch    func(Rule)

	mu    sync.RWMutex
	rules []Rule

	running atomic.Bool
}

// New creates a Dispatcher that speaks replies through speaker. A nil speaker
// falls back to [tts.Log].
func New(speaker tts.Speaker, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		speaker:  speaker,
		rules:    DefaultRules(),
		phonetic: phoneticMatcher{threshold: defaultPhoneticThreshold},
	}
	for _, o := range opts {
		o(d)
	}
	if d.speaker == nil {
		d.speaker = tts.Log{}
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	if err := ValidateRules(d.rules); err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	d.running.Store(true)
	return d, nil
}

// Running reports whether no stop rule has fired yet.
func (d *Dispatcher) Running() bool {
	return d.running.Load()
}

// Rules returns a copy of the current rule table.
func (d *Dispatcher) Rules() []Rule {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Rule(nil), d.rules...)
}

// SetRules atomically replaces the rule table. The table is validated first;
// on error the current table stays in place.
func (d *Dispatcher) SetRules(rules []Rule) error {
	if err := ValidateRules(rules); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	cp := append([]Rule(nil), rules...)
	d.mu.Lock()
	d.rules = cp
	d.mu.Unlock()
	slog.Info("dispatch: rule table replaced", "rules", len(cp))
	return nil
}

// SetPhoneticFallback turns the phonetic second pass on or off.
func (d *Dispatcher) SetPhoneticFallback(enabled bool) {
	d.phoneticOn.Store(enabled)
}

// Match returns the rule that text would fire without running its action.
func (d *Dispatcher) Match(text string) (rule Rule, phonetic, ok bool) {
	lower := strings.ToLower(text)

	d.mu.RLock()
	rules := d.rules
	d.mu.RUnlock()

	for _, r := range rules {
		if strings.Contains(lower, strings.ToLower(r.Trigger)) {
			return r, false, true
		}
	}
	if !d.phoneticOn.Load() {
		return Rule{}, false, false
	}
	ws := words(lower)
	for _, r := range rules {
		if d.phonetic.match(ws, strings.ToLower(r.Trigger)) {
			return r, true, true
		}
	}
	return Rule{}, false, false
}

// Dispatch runs the action of the first rule matching text. It blocks until
// a spoken reply has finished playing or the command request has returned.
func (d *Dispatcher) Dispatch(ctx context.Context, text string) Outcome {
	rule, phonetic, ok := d.Match(text)
	if !ok {
		return Outcome{}
	}

	ctx, span := observe.StartSpan(ctx, "dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("dispatch.rule", rule.Label()),
		attribute.String("dispatch.action", string(rule.Action)),
		attribute.Bool("dispatch.phonetic", phonetic),
	)

	log := observe.Logger(ctx).With("rule", rule.Label(), "action", string(rule.Action))
	log.Info("dispatch: rule matched", "phonetic", phonetic)
	d.metrics.RecordDispatch(ctx, rule.Label(), string(rule.Action))

	if d.onMatch != nil {
		d.onMatch(rule)
	}

	out := Outcome{Matched: true, Rule: rule, Phonetic: phonetic}
	switch rule.Action {
	case ActionSpeak:
		out.Err = d.speaker.Speak(ctx, rule.Reply)
	case ActionStop:
		out.Err = d.speaker.Speak(ctx, rule.Reply)
		d.running.Store(false)
		log.Info("dispatch: stop requested")
	case ActionCommand:
		if d.commands == nil {
			out.Err = ErrNoCommandSender
		} else {
			out.Err = d.commands.Send(ctx, rule.Command)
		}
	}
	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Err.Error())
		log.Error("dispatch: action failed", "err", out.Err)
	}
	return out
}
