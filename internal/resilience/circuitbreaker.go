// Package resilience guards calls to unreliable collaborators.
//
// [Breaker] is a three-state circuit breaker (closed, open, half-open). While
// closed every call is forwarded; after MaxFailures consecutive failures it
// opens and rejects calls with [ErrCircuitOpen] until Cooldown has elapsed;
// it then lets a limited number of probe calls through and closes again once
// Probes of them have succeeded. The breaker never retries a call itself.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] when the breaker rejects the
// call without running it.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects every call until the cooldown elapses.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds tuning knobs for a [Breaker].
type BreakerConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 3.
	MaxFailures int

	// Cooldown is how long the breaker stays open before probing. Default: 15s.
	Cooldown time.Duration

	// Probes is the number of successful half-open calls needed to close the
	// breaker, and the maximum number of concurrent probes. Default: 1.
	Probes int

	// OnStateChange, if set, is called after every transition with the
	// breaker's lock released.
	OnStateChange func(name string, from, to State)

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Breaker implements the three-state circuit breaker pattern.
type Breaker struct {
	cfg BreakerConfig

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	inFlight  int
	successes int
}

// NewBreaker creates a [Breaker]. Zero-value config fields are replaced with
// defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 15 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{cfg: cfg}
}

// Do runs fn if the breaker allows it and records the outcome. A call that
// fails only because ctx was cancelled does not count against the breaker.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	probe, transition, err := b.admit()
	b.notify(transition)
	if err != nil {
		return err
	}

	callErr := fn(ctx)

	if callErr != nil && ctx.Err() != nil && errors.Is(callErr, ctx.Err()) {
		b.release(probe)
		return callErr
	}
	b.notify(b.record(probe, callErr == nil))
	return callErr
}

type transition struct {
	from, to State
}

// admit decides whether a call may proceed.
func (b *Breaker) admit() (probe bool, t *transition, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.cfg.Now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false, nil, ErrCircuitOpen
		}
		t = b.setState(StateHalfOpen)
	}
	if b.state == StateHalfOpen {
		if b.inFlight >= b.cfg.Probes {
			return false, t, ErrCircuitOpen
		}
		b.inFlight++
		return true, t, nil
	}
	return false, t, nil
}

func (b *Breaker) release(probe bool) {
	if !probe {
		return
	}
	b.mu.Lock()
	b.inFlight--
	b.mu.Unlock()
}

// record accounts for a finished call.
func (b *Breaker) record(probe, ok bool) *transition {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.inFlight--
	}
	if ok {
		if b.state != StateHalfOpen {
			b.failures = 0
			return nil
		}
		b.successes++
		if b.successes >= b.cfg.Probes {
			return b.setState(StateClosed)
		}
		return nil
	}

	if b.state == StateHalfOpen {
		return b.setState(StateOpen)
	}
	b.failures++
	if b.state == StateClosed && b.failures >= b.cfg.MaxFailures {
		return b.setState(StateOpen)
	}
	return nil
}

// setState performs a transition. Must be called with b.mu held.
func (b *Breaker) setState(to State) *transition {
	from := b.state
	if from == to {
		return nil
	}
	b.state = to
	switch to {
	case StateOpen:
		b.openedAt = b.cfg.Now()
	case StateHalfOpen:
		b.inFlight = 0
		b.successes = 0
	case StateClosed:
		b.failures = 0
		b.successes = 0
	}
	return &transition{from: from, to: to}
}

func (b *Breaker) notify(t *transition) {
	if t == nil {
		return
	}
	level := slog.LevelInfo
	if t.to == StateOpen {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, "circuit breaker state change",
		"name", b.cfg.Name, "from", t.from.String(), "to", t.to.String())
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, t.from, t.to)
	}
}

// State returns the current state. An open breaker whose cooldown has elapsed
// reports [StateHalfOpen]; the transition itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cfg.Now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker back to [StateClosed].
func (b *Breaker) Reset() {
	b.mu.Lock()
	t := b.setState(StateClosed)
	b.failures = 0
	b.mu.Unlock()
	b.notify(t)
}
