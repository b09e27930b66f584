// Package mock provides a test double for command.Sender.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/livewhisper/internal/command"
)

var _ command.Sender = (*Sender)(nil)

// Sender records every command identifier it is asked to send.
type Sender struct {
	mu sync.Mutex

	// Err, if non-nil, is returned by every Send call.
	Err error

	// SendCalls records every id passed to Send, in order.
	SendCalls []string
}

// Send records id and returns Err.
func (s *Sender) Send(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendCalls = append(s.SendCalls, id)
	return s.Err
}

// IDs returns a snapshot of sent identifiers.
func (s *Sender) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.SendCalls...)
}
