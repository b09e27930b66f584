// Package mock provides a test double for journal.Journal.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/livewhisper/internal/journal"
)

var _ journal.Journal = (*Journal)(nil)

// Journal records written entries.
type Journal struct {
	mu sync.Mutex

	// Err, if non-nil, is returned by every Write call.
	Err error

	// Written holds every entry passed to Write, in order.
	Written []journal.Entry

	closed bool
}

// Write records e and returns Err.
func (j *Journal) Write(_ context.Context, e journal.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Written = append(j.Written, e)
	return j.Err
}

// Close marks the journal closed.
func (j *Journal) Close() {
	j.mu.Lock()
	j.closed = true
	j.mu.Unlock()
}

// Entries returns a snapshot of written entries.
func (j *Journal) Entries() []journal.Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]journal.Entry(nil), j.Written...)
}

// Closed reports whether Close was called.
func (j *Journal) Closed() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.closed
}
