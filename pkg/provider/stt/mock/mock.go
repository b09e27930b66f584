// Package mock provides a test double for the stt.Transcriber interface.
//
// Transcriber answers from a scripted queue of responses, falling back to
// Result/Err once the queue is empty, and records a copy of every request.
//
// Example:
//
//	tr := &mock.Transcriber{
//	    Responses: []mock.Response{
//	        {Result: stt.Result{Text: "hello"}},
//	        {Err: errors.New("engine down")},
//	    },
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/livewhisper/pkg/provider/stt"
)

// Response is one scripted answer.
type Response struct {
	Result stt.Result
	Err    error
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Responses is consumed front to back, one entry per Transcribe call.
	Responses []Response

	// Result and Err are returned once Responses is exhausted.
	Result stt.Result
	Err    error

	// Gate, if non-nil, makes every Transcribe call wait for a receive from
	// Gate (or ctx cancellation) before answering. Use it to simulate a slow
	// engine.
	Gate chan struct{}

	// Calls records every request in order. Samples are copied.
	Calls []stt.Request
}

var _ stt.Transcriber = (*Transcriber)(nil)

// Transcribe records the request and returns the next scripted response.
func (t *Transcriber) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	t.mu.Lock()
	cp := req
	cp.Samples = append([]float32(nil), req.Samples...)
	t.Calls = append(t.Calls, cp)
	gate := t.Gate
	t.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return stt.Result{}, ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.Responses) > 0 {
		r := t.Responses[0]
		t.Responses = t.Responses[1:]
		return r.Result, r.Err
	}
	return t.Result, t.Err
}

// CallCount returns the number of Transcribe calls so far.
func (t *Transcriber) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Calls)
}

// Requests returns a snapshot of recorded requests.
func (t *Transcriber) Requests() []stt.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]stt.Request(nil), t.Calls...)
}
