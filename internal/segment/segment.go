// Package segment accumulates classified audio blocks into utterances.
//
// A [Segmenter] is a two-state machine (idle, accumulating) driven one block
// at a time by the capture callback. Speech blocks open or extend the current
// segment; silent blocks count down a hangover so that short pauses inside an
// utterance do not split it. When the hangover expires the segment is either
// flushed (long enough to be worth transcribing) or discarded (too short).
// While idle, the most recent silent block is kept as pre-roll and prepended
// to the next segment so that soft word onsets are not clipped.
//
// A Segmenter is not safe for concurrent use; it is owned by the producer.
package segment

import (
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/livewhisper/pkg/audio"
)

// Reason records why a segment was flushed.
type Reason string

const (
	// ReasonHangover means trailing silence exceeded the hangover.
	ReasonHangover Reason = "hangover"

	// ReasonMaxDuration means the segment reached the configured hard cap.
	ReasonMaxDuration Reason = "max_duration"
)

// Segment is a finished utterance. Its Samples are owned exclusively by the
// receiver; the Segmenter never touches them again.
type Segment struct {
	ID         string
	Samples    []float32
	SampleRate int
	StartedAt  time.Time
	Reason     Reason
}

// Duration returns the audio length of the segment.
func (s Segment) Duration() time.Duration {
	return audio.SamplesDuration(len(s.Samples), s.SampleRate)
}

// Kind classifies the effect of a single [Segmenter.Push].
type Kind int

const (
	// None means the block changed nothing observable (extended a segment,
	// became pre-roll, or was ignored).
	None Kind = iota

	// Onset means the block opened a new segment.
	Onset

	// Flushed means a segment finished and is carried in Outcome.Segment.
	Flushed

	// Discarded means an open segment was dropped for being too short.
	Discarded
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case Onset:
		return "onset"
	case Flushed:
		return "flushed"
	case Discarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Outcome is the result of pushing one block.
type Outcome struct {
	Kind Kind

	// Segment is set only when Kind is Flushed.
	Segment *Segment
}

// Config holds the Segmenter parameters.
type Config struct {
	// SampleRate of the incoming blocks in Hz. Also the minimum flushable
	// segment length in samples (one second of audio).
	SampleRate int

	// HangoverBlocks is the number of consecutive silent blocks tolerated
	// before a segment closes. Typical: 40 (1.2 s at 30 ms blocks).
	HangoverBlocks int

	// MaxSamples force-flushes a segment once its buffer reaches this many
	// samples. Zero disables the cap.
	MaxSamples int
}

// Segmenter is the utterance state machine.
type Segmenter struct {
	cfg Config
	now func() time.Time

	buf       []float32
	preRoll   []float32
	hangover  int
	startedAt time.Time
}

// Option is a functional option for [New].
type Option func(*Segmenter)

// WithClock overrides the clock used to stamp Segment.StartedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Segmenter) { s.now = now }
}

// New returns an idle Segmenter.
func New(cfg Config, opts ...Option) *Segmenter {
	s := &Segmenter{cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Push feeds one classified block. block may be reused by the caller after
// Push returns; every retained sample is copied.
func (s *Segmenter) Push(block audio.Block, speech bool) Outcome {
	if speech {
		return s.pushSpeech(block)
	}
	return s.pushSilence(block)
}

func (s *Segmenter) pushSpeech(block audio.Block) Outcome {
	out := Outcome{Kind: None}
	if s.hangover < 1 {
		s.buf = append(s.buf[:0], s.preRoll...)
		s.startedAt = s.now()
		out.Kind = Onset
	}
	s.buf = append(s.buf, block...)
	s.hangover = s.cfg.HangoverBlocks

	if s.capped() {
		return Outcome{Kind: Flushed, Segment: s.cut()}
	}
	return out
}

func (s *Segmenter) pushSilence(block audio.Block) Outcome {
	s.hangover--
	switch {
	case s.hangover > 1:
		s.buf = append(s.buf, block...)
		if s.capped() {
			return Outcome{Kind: Flushed, Segment: s.cut()}
		}
		return Outcome{Kind: None}
	case s.hangover < 1 && len(s.buf) > s.cfg.SampleRate:
		return Outcome{Kind: Flushed, Segment: s.take(ReasonHangover)}
	case s.hangover < 1 && len(s.buf) > 0:
		s.buf = s.buf[:0]
		return Outcome{Kind: Discarded}
	default:
		// Idle, or hangover == 1: the block is not part of the segment but
		// becomes the pre-roll.
		s.preRoll = append(s.preRoll[:0], block...)
		return Outcome{Kind: None}
	}
}

func (s *Segmenter) capped() bool {
	return s.cfg.MaxSamples > 0 && len(s.buf) >= s.cfg.MaxSamples
}

// cut force-flushes at the hard cap. The pre-roll is cleared because the
// continuation picks up exactly where the flushed audio ended.
func (s *Segmenter) cut() *Segment {
	seg := s.take(ReasonMaxDuration)
	s.hangover = 0
	s.preRoll = s.preRoll[:0]
	return seg
}

// take moves the buffer into a new Segment and starts a fresh buffer.
func (s *Segmenter) take(reason Reason) *Segment {
	seg := &Segment{
		ID:         uuid.NewString(),
		Samples:    s.buf,
		SampleRate: s.cfg.SampleRate,
		StartedAt:  s.startedAt,
		Reason:     reason,
	}
	s.buf = nil
	return seg
}

// Reset drops any open segment and the pre-roll and returns to idle.
func (s *Segmenter) Reset() {
	s.buf = nil
	s.preRoll = nil
	s.hangover = 0
	s.startedAt = time.Time{}
}

// Open reports whether a segment is currently accumulating.
func (s *Segmenter) Open() bool { return len(s.buf) > 0 }

// Buffered returns the number of samples in the open segment.
func (s *Segmenter) Buffered() int { return len(s.buf) }

// Hangover returns the current hangover counter.
func (s *Segmenter) Hangover() int { return s.hangover }

// Pending returns a copy of the open segment's samples.
func (s *Segmenter) Pending() []float32 {
	return append([]float32(nil), s.buf...)
}
