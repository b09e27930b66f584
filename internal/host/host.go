// Package host defines the conversational host that the listening loop
// forwards every transcript to.
//
// The host can keep the loop alive or end it ([Host.Running]) and can mute
// speech detection while it talks ([Host.Talking]). [NullHost] does nothing;
// [Assistant] answers transcripts with an LLM reply spoken through a
// [tts.Speaker].
package host

import "context"

// Host receives transcripts after dispatch.
type Host interface {
	// Running reports whether the host wants listening to continue.
	Running() bool

	// Talking reports whether the host is currently producing speech.
	// Speech detection is suppressed while it returns true.
	Talking() bool

	// Analyze handles one transcript. It may block while a reply is spoken.
	Analyze(ctx context.Context, text string)
}

var _ Host = NullHost{}

// NullHost is always running, never talks and ignores every transcript.
type NullHost struct{}

// Running implements [Host].
func (NullHost) Running() bool { return true }

// Talking implements [Host].
func (NullHost) Talking() bool { return false }

// Analyze implements [Host].
func (NullHost) Analyze(context.Context, string) {}
