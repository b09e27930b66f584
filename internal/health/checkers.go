package health

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotRunning is reported by [Running] when the probed component is stopped.
var ErrNotRunning = errors.New("not running")

// ErrNotConfigured is reported by [Configured] for a missing component.
var ErrNotConfigured = errors.New("not configured")

// Running returns a checker that passes while running reports true. It is
// used for the capture stream and the listen loop.
func Running(name string, running func() bool) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if running == nil || !running() {
				return ErrNotRunning
			}
			return nil
		},
	}
}

// Configured returns a checker that passes when component is non-nil.
func Configured(name string, component any) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if component == nil {
				return ErrNotConfigured
			}
			return nil
		},
	}
}

// Pinger is implemented by components that can probe a remote dependency,
// such as the journal database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping returns a checker that calls p.Ping.
func Ping(name string, p Pinger) Checker {
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			if err := p.Ping(ctx); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
			return nil
		},
	}
}
