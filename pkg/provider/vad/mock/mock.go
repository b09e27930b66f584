// Package mock provides a test double for the vad.Detector interface.
//
// Detector returns scripted verdicts in order, then Default once the script
// is exhausted. Every call is recorded so tests can assert on the speaking
// flag the pipeline passed in.
//
// Example:
//
//	det := &mock.Detector{
//	    Verdicts: []vad.Verdict{vad.Speech, vad.Speech, vad.Silence},
//	}
package mock

import (
	"sync"

	"github.com/MrWong99/livewhisper/pkg/audio"
	"github.com/MrWong99/livewhisper/pkg/provider/vad"
)

// ClassifyCall records a single invocation of Detector.Classify.
type ClassifyCall struct {
	// Len is the number of samples in the classified block.
	Len int

	// Speaking is the speaking flag passed to Classify.
	Speaking bool
}

// Detector is a mock implementation of vad.Detector.
type Detector struct {
	mu sync.Mutex

	// Verdicts is consumed front to back, one entry per Classify call.
	Verdicts []vad.Verdict

	// Default is returned once Verdicts is exhausted.
	Default vad.Verdict

	// Func, if non-nil, takes precedence over Verdicts and Default.
	Func func(block audio.Block, speaking bool) vad.Verdict

	// Calls records every call to Classify in order.
	Calls []ClassifyCall
}

var _ vad.Detector = (*Detector)(nil)

// Classify records the call and returns the next scripted verdict.
func (d *Detector) Classify(block audio.Block, speaking bool) vad.Verdict {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls = append(d.Calls, ClassifyCall{Len: len(block), Speaking: speaking})
	if d.Func != nil {
		return d.Func(block, speaking)
	}
	if len(d.Verdicts) == 0 {
		return d.Default
	}
	v := d.Verdicts[0]
	d.Verdicts = d.Verdicts[1:]
	return v
}

// CallCount returns the number of Classify calls so far.
func (d *Detector) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Calls)
}
