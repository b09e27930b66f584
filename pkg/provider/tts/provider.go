// Package tts defines the Speaker interface for spoken replies.
//
// A [Speaker] turns a reply string into audible speech and blocks until
// playback has finished, so callers can rely on the assistant being silent
// once Speak returns. Backends that only synthesise audio implement
// [Synthesizer]; [Playback] pairs one with an [audio.Player] to obtain a
// Speaker.
//
// [Tracker] wraps any Speaker and exposes whether speech is currently
// playing. The listening pipeline reads it from the capture callback to avoid
// transcribing its own voice.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/MrWong99/livewhisper/pkg/audio"
)

// Speaker speaks text aloud.
type Speaker interface {
	// Speak synthesises and plays text, returning once playback completes or
	// ctx is cancelled.
	Speak(ctx context.Context, text string) error
}

// Synthesizer converts text to mono float32 audio.
type Synthesizer interface {
	// Synthesize returns the samples and their sample rate.
	Synthesize(ctx context.Context, text string) ([]float32, int, error)
}

// ---- Playback ----------------------------------------------------------------

var _ Speaker = (*Playback)(nil)

// Playback is a Speaker that synthesises with a [Synthesizer] and plays the
// result through an [audio.Player].
type Playback struct {
	synth  Synthesizer
	player audio.Player
}

// NewPlayback returns a Speaker that plays synth's output on player.
func NewPlayback(synth Synthesizer, player audio.Player) *Playback {
	return &Playback{synth: synth, player: player}
}

// Speak implements [Speaker].
func (p *Playback) Speak(ctx context.Context, text string) error {
	samples, rate, err := p.synth.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("tts: synthesize: %w", err)
	}
	if err := p.player.Play(ctx, samples, rate); err != nil {
		return fmt.Errorf("tts: play: %w", err)
	}
	return nil
}

// ---- Log ---------------------------------------------------------------------

var _ Speaker = Log{}

// Log is a Speaker that only logs the text. It is used when no speech backend
// is configured.
type Log struct{}

// Speak implements [Speaker].
func (Log) Speak(ctx context.Context, text string) error {
	slog.InfoContext(ctx, "tts: reply", "text", text)
	return nil
}

// ---- Tracker -----------------------------------------------------------------

var _ Speaker = (*Tracker)(nil)

// Tracker is a Speaker decorator that records whether a Speak call is in
// progress.
type Tracker struct {
	inner    Speaker
	speaking atomic.Int32
}

// NewTracker wraps inner.
func NewTracker(inner Speaker) *Tracker {
	return &Tracker{inner: inner}
}

// Speak implements [Speaker]. Speaking reports true for its whole duration.
func (t *Tracker) Speak(ctx context.Context, text string) error {
	t.speaking.Add(1)
	defer t.speaking.Add(-1)
	return t.inner.Speak(ctx, text)
}

// Speaking reports whether any Speak call is currently running. Safe to call
// from any goroutine.
func (t *Tracker) Speaking() bool {
	return t.speaking.Load() > 0
}
