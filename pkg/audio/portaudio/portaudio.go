// Package portaudio provides [audio.Source] and [audio.Player]
// implementations backed by the PortAudio library via
// github.com/gordonklaus/portaudio.
//
// The PortAudio C library (libportaudio, portaudio.h) must be available at
// build time through pkg-config. PortAudio reference-counts initialisation,
// so every Source and Player calls Initialize/Terminate independently.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/livewhisper/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Source = (*Source)(nil)
	_ audio.Player = (*Player)(nil)
)

// Source captures mono float32 audio from the default input device in
// callback mode. Each PortAudio callback delivers exactly one block of
// Format.BlockSize() samples.
type Source struct {
	format audio.Format

	mu      sync.Mutex
	stream  *pa.Stream
	started bool
	closed  bool
	running atomic.Bool
}

// NewSource validates format and returns an unstarted Source.
func NewSource(format audio.Format) (*Source, error) {
	if format.SampleRate <= 0 {
		return nil, fmt.Errorf("portaudio: sample rate must be positive, got %d", format.SampleRate)
	}
	if format.BlockSize() <= 0 {
		return nil, fmt.Errorf("portaudio: block of %d ms at %d Hz has no samples", format.BlockMs, format.SampleRate)
	}
	return &Source{format: format}, nil
}

// Format returns the capture format.
func (s *Source) Format() audio.Format { return s.format }

// Running reports whether the stream is open and delivering blocks.
func (s *Source) Running() bool { return s.running.Load() }

// Start initialises PortAudio, opens the default input device with one
// channel, and begins invoking handler for every captured block.
func (s *Source) Start(handler audio.BlockHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("portaudio: source is closed")
	}
	if s.started {
		return errors.New("portaudio: source already started")
	}

	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}

	callback := func(in []float32, _ pa.StreamCallbackTimeInfo, flags pa.StreamCallbackFlags) {
		handler(audio.Block(in), statusFromFlags(flags))
	}
	stream, err := pa.OpenDefaultStream(1, 0, float64(s.format.SampleRate), s.format.BlockSize(), callback)
	if err != nil {
		_ = pa.Terminate()
		return fmt.Errorf("portaudio: open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = pa.Terminate()
		return fmt.Errorf("portaudio: start input stream: %w", err)
	}

	s.stream = stream
	s.started = true
	s.running.Store(true)
	slog.Debug("portaudio: input stream started",
		"sample_rate", s.format.SampleRate,
		"block_size", s.format.BlockSize(),
	)
	return nil
}

// Close stops the stream, waits for the in-flight callback to return, and
// terminates PortAudio. Safe to call more than once.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.running.Store(false)
	if s.stream == nil {
		return nil
	}

	var errs []error
	if err := s.stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: stop input stream: %w", err))
	}
	if err := s.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: close input stream: %w", err))
	}
	if err := pa.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: terminate: %w", err))
	}
	return errors.Join(errs...)
}

// statusFromFlags maps PortAudio callback flags to an [audio.Status].
func statusFromFlags(flags pa.StreamCallbackFlags) audio.Status {
	switch {
	case flags&pa.InputOverflow != 0:
		return audio.StatusOverflow
	case flags&pa.InputUnderflow != 0:
		return audio.StatusUnderflow
	default:
		return audio.StatusOK
	}
}

// playbackFrames is the number of frames written per blocking Write call.
const playbackFrames = 1024

// Player plays mono float32 audio on the default output device using
// blocking writes. Only one Play call runs at a time.
type Player struct {
	mu sync.Mutex
}

// NewPlayer returns a Player for the default output device.
func NewPlayer() *Player { return &Player{} }

// Play opens a fresh output stream at sampleRate, writes samples in chunks,
// and returns once the last chunk has been handed to the device. Cancelling
// ctx stops playback between chunks.
func (p *Player) Play(ctx context.Context, samples []float32, sampleRate int) error {
	if len(samples) == 0 {
		return nil
	}
	if sampleRate <= 0 {
		return fmt.Errorf("portaudio: invalid playback sample rate %d", sampleRate)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}
	defer pa.Terminate()

	buf := make([]float32, playbackFrames)
	stream, err := pa.OpenDefaultStream(0, 1, float64(sampleRate), len(buf), buf)
	if err != nil {
		return fmt.Errorf("portaudio: open output stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("portaudio: start output stream: %w", err)
	}

	for off := 0; off < len(samples); off += len(buf) {
		if err := ctx.Err(); err != nil {
			_ = stream.Abort()
			return err
		}
		n := copy(buf, samples[off:])
		clear(buf[n:])
		if err := stream.Write(); err != nil {
			_ = stream.Abort()
			return fmt.Errorf("portaudio: write output stream: %w", err)
		}
	}
	if err := stream.Stop(); err != nil {
		return fmt.Errorf("portaudio: stop output stream: %w", err)
	}
	return nil
}
