// Package mock provides in-memory mock implementations of the [audio.Source]
// and [audio.Player] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	src := &mock.Source{FormatResult: audio.Format{SampleRate: 1000, BlockMs: 10}}
//	_ = src.Start(listener.HandleBlock)
//	src.Emit(block, audio.StatusOK)
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/livewhisper/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source]. Blocks are delivered
// synchronously on the caller's goroutine by [Source.Emit].
type Source struct {
	mu sync.Mutex

	// FormatResult is returned by [Source.Format].
	FormatResult audio.Format

	// StartErr is returned by [Source.Start] when non-nil.
	StartErr error

	// CloseErr is returned by [Source.Close].
	CloseErr error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	handler audio.BlockHandler
	closed  bool
}

// Start implements [audio.Source]. Stores handler for later [Source.Emit] calls.
func (s *Source) Start(handler audio.BlockHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if s.StartErr != nil {
		return s.StartErr
	}
	if s.handler != nil {
		return errors.New("mock: source already started")
	}
	s.handler = handler
	return nil
}

// Format implements [audio.Source]. Returns FormatResult.
func (s *Source) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FormatResult
}

// Close implements [audio.Source]. After Close, Emit is a no-op.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.closed = true
	return s.CloseErr
}

// Running reports whether the source has been started and not closed.
func (s *Source) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler != nil && !s.closed
}

// Emit delivers block to the registered handler as if it came from the
// device. Returns false when the source is not started or already closed.
func (s *Source) Emit(block audio.Block, status audio.Status) bool {
	s.mu.Lock()
	h := s.handler
	closed := s.closed
	s.mu.Unlock()
	if h == nil || closed {
		return false
	}
	h(block, status)
	return true
}

// ─── Player ───────────────────────────────────────────────────────────────────

// PlayCall records the arguments of a single [Player.Play] invocation.
type PlayCall struct {
	Samples    []float32
	SampleRate int
}

// Player is a mock implementation of [audio.Player].
type Player struct {
	mu sync.Mutex

	// PlayErr is returned by [Player.Play].
	PlayErr error

	// PlayCalls records every Play invocation in order. Samples are copied.
	PlayCalls []PlayCall
}

// Play implements [audio.Player]. Records the call and returns PlayErr.
func (p *Player) Play(_ context.Context, samples []float32, sampleRate int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PlayCalls = append(p.PlayCalls, PlayCall{
		Samples:    append([]float32(nil), samples...),
		SampleRate: sampleRate,
	})
	return p.PlayErr
}

// Calls returns a snapshot of recorded Play calls.
func (p *Player) Calls() []PlayCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PlayCall(nil), p.PlayCalls...)
}
