// Package journal records finished transcripts.
//
// A [Journal] receives one [Entry] per non-empty transcript. [Store] keeps
// them in a PostgreSQL transcripts table; [Nop] discards them and is used
// when no database is configured. Write failures are the caller's to log;
// they never interrupt listening.
package journal

import (
	"context"
	"time"
)

// Entry is one journaled transcript.
type Entry struct {
	// SegmentID identifies the audio segment the text came from.
	SegmentID string

	// Text is the transcript as returned by the transcriber.
	Text string

	// Language and Task describe how the segment was transcribed.
	Language string
	Task     string

	// Audio is the length of the transcribed audio.
	Audio time.Duration

	// Rule is the dispatch rule that fired, or empty.
	Rule string

	// CreatedAt is set by the store when zero.
	CreatedAt time.Time
}

// Journal persists transcript entries.
type Journal interface {
	Write(ctx context.Context, e Entry) error
	Close()
}

var _ Journal = Nop{}

// Nop discards every entry.
type Nop struct{}

// Write implements [Journal].
func (Nop) Write(context.Context, Entry) error { return nil }

// Close implements [Journal].
func (Nop) Close() {}
