// Package vad classifies fixed-length audio blocks as speech or non-speech.
//
// The classifier is a lightweight signal heuristic rather than a learned
// model: a block counts as speech when its RMS energy exceeds a threshold and
// its dominant frequency (the argmax of the real FFT magnitude spectrum) lies
// inside the human vocal band. A block that is exactly zero everywhere is
// reported separately as [NoInput] so callers can surface a muted or
// disconnected device.
//
// Classification runs on the audio capture callback, so [Classifier]
// pre-allocates its FFT plan and scratch buffers and performs no heap
// allocation for blocks of the configured length.
package vad

import "github.com/MrWong99/livewhisper/pkg/audio"

// Verdict is the per-block classification result.
type Verdict int

const (
	// Silence means the block is not speech: too quiet, outside the vocal
	// band, or suppressed because the assistant is currently speaking.
	Silence Verdict = iota

	// Speech means the block passed both the energy and the band test.
	Speech

	// NoInput means every sample in the block was exactly zero.
	NoInput
)

// String returns the lower-case name of the verdict.
func (v Verdict) String() string {
	switch v {
	case Silence:
		return "silence"
	case Speech:
		return "speech"
	case NoInput:
		return "no-input"
	default:
		return "unknown"
	}
}

// IsSpeech reports whether v is [Speech].
func (v Verdict) IsSpeech() bool { return v == Speech }

// Detector classifies audio blocks. It is an interface so that pipeline tests
// can script verdicts without synthesising audio.
//
// A Detector is used from a single goroutine (the capture callback) and need
// not be safe for concurrent use.
type Detector interface {
	// Classify returns the verdict for block. When speaking is true the block
	// is never reported as [Speech], so the pipeline does not transcribe its
	// own spoken replies.
	Classify(block audio.Block, speaking bool) Verdict
}

// Config holds the thresholds of a [Classifier].
type Config struct {
	// SampleRate is the capture rate in Hz used to convert an FFT bin index
	// into a frequency.
	SampleRate int

	// BlockSize is the expected number of samples per block. The FFT plan and
	// scratch buffers are sized for it.
	BlockSize int

	// EnergyThreshold is the RMS amplitude a block must strictly exceed.
	// Typical: 0.05 for a close microphone, 0.025 for a room microphone.
	EnergyThreshold float64

	// LowHz and HighHz bound the accepted dominant frequency (inclusive).
	// Typical: 50–1000 Hz.
	LowHz  float64
	HighHz float64
}
