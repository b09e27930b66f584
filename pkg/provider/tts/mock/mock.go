// Package mock provides test doubles for the tts package interfaces.
//
// Speaker records every spoken text. Synthesizer returns fixed audio.
//
// Example:
//
//	sp := &mock.Speaker{}
//	_ = sp.Speak(ctx, "hello")
//	sp.Texts() // ["hello"]
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/livewhisper/pkg/provider/tts"
)

// Speaker is a mock implementation of tts.Speaker.
type Speaker struct {
	mu sync.Mutex

	// SpeakErr, if non-nil, is returned by every Speak call.
	SpeakErr error

	// OnSpeak, if non-nil, is invoked synchronously inside Speak (without the
	// mock's lock held). Use it to observe state while speech is "playing".
	OnSpeak func(text string)

	// SpeakCalls records every text passed to Speak, in order.
	SpeakCalls []string
}

var _ tts.Speaker = (*Speaker)(nil)

// Speak records the call and returns SpeakErr.
func (s *Speaker) Speak(_ context.Context, text string) error {
	s.mu.Lock()
	s.SpeakCalls = append(s.SpeakCalls, text)
	hook := s.OnSpeak
	err := s.SpeakErr
	s.mu.Unlock()
	if hook != nil {
		hook(text)
	}
	return err
}

// Texts returns a snapshot of spoken texts.
func (s *Speaker) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.SpeakCalls...)
}

// Synthesizer is a mock implementation of tts.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// Samples and SampleRate are returned by every Synthesize call.
	Samples    []float32
	SampleRate int

	// Err, if non-nil, is returned instead.
	Err error

	// Texts records every text passed to Synthesize.
	Texts []string
}

var _ tts.Synthesizer = (*Synthesizer)(nil)

// Synthesize records the call and returns Samples, SampleRate, Err.
func (s *Synthesizer) Synthesize(_ context.Context, text string) ([]float32, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Texts = append(s.Texts, text)
	if s.Err != nil {
		return nil, 0, s.Err
	}
	return s.Samples, s.SampleRate, nil
}
