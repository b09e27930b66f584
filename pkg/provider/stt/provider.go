// Package stt defines the Transcriber interface for Speech-to-Text backends.
//
// A Transcriber wraps a batch transcription engine (a local whisper.cpp model,
// a whisper-server instance, or a hosted API) and turns one finished utterance
// into text. Calls block until the engine answers; the caller decides how long
// to wait through ctx. Implementations resample the request audio to whatever
// rate the engine requires.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/livewhisper/pkg/audio"
)

// ErrEmptySegment is returned by Transcribe when the request carries no audio.
var ErrEmptySegment = errors.New("stt: empty segment")

// Task selects what the engine does with the audio.
type Task string

const (
	// TaskTranscribe produces text in the spoken language.
	TaskTranscribe Task = "transcribe"

	// TaskTranslate produces English text regardless of the spoken language.
	TaskTranslate Task = "translate"
)

// IsValid reports whether t is a known task.
func (t Task) IsValid() bool {
	return t == TaskTranscribe || t == TaskTranslate
}

// Request is one utterance to transcribe.
type Request struct {
	// Samples are mono float32 samples in [-1.0, 1.0].
	Samples []float32

	// SampleRate of Samples in Hz.
	SampleRate int

	// Language is a hint such as "en". Empty lets the engine auto-detect.
	Language string

	// Task is transcribe or translate. Empty means transcribe.
	Task Task
}

// Duration returns the audio length of the request.
func (r Request) Duration() time.Duration {
	return audio.SamplesDuration(len(r.Samples), r.SampleRate)
}

// Validate checks that the request is transcribable. It returns
// [ErrEmptySegment] for a request without samples.
func (r Request) Validate() error {
	if len(r.Samples) == 0 {
		return ErrEmptySegment
	}
	if r.SampleRate <= 0 {
		return fmt.Errorf("stt: invalid sample rate %d", r.SampleRate)
	}
	if r.Task != "" && !r.Task.IsValid() {
		return fmt.Errorf("stt: unknown task %q", r.Task)
	}
	return nil
}

// TaskOrDefault returns r.Task, or [TaskTranscribe] when unset.
func (r Request) TaskOrDefault() Task {
	if r.Task == "" {
		return TaskTranscribe
	}
	return r.Task
}

// Result is the engine's answer for one request.
type Result struct {
	// Text is the transcript with surrounding whitespace trimmed. It may be
	// empty when the engine heard nothing intelligible.
	Text string

	// Language is the language hint the request was made with.
	Language string

	// Task is the task the request was made with.
	Task Task
}

// Transcriber is the abstraction over any batch STT backend.
type Transcriber interface {
	// Transcribe converts req into text. It blocks until the engine responds
	// or ctx is cancelled.
	Transcribe(ctx context.Context, req Request) (Result, error)
}
