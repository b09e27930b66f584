// Package audio defines the interfaces and types for live audio capture and
// playback within livewhisper.
//
// The two primary abstractions are:
//
//   - [Source]: a live input device that delivers fixed-length [Block]
//     values to a [BlockHandler] at real-time cadence.
//   - [Player]: a blocking playback sink used for spoken replies.
//
// Device-backed implementations live in audio/portaudio. The interfaces are
// intentionally narrow so that the listening pipeline can be driven by
// synthetic audio in tests.
package audio

import "context"

// BlockHandler receives each captured block on the device's callback
// goroutine. It must return well within one block's wall-clock duration and
// must not block; otherwise the driver overruns and drops samples.
type BlockHandler func(block Block, status Status)

// Source is a live capture stream.
//
// Implementations must invoke the handler from a single goroutine at a time,
// in capture order.
type Source interface {
	// Start opens the device and begins delivering blocks to handler. It
	// returns an error if the device cannot be initialised. Start must be
	// called at most once.
	Start(handler BlockHandler) error

	// Format returns the sample rate and block duration of the stream.
	Format() Format

	// Close stops the stream and releases the device. After Close returns the
	// handler is not invoked again. Calling Close more than once is safe.
	Close() error
}

// Player plays mono audio to an output device.
type Player interface {
	// Play writes samples at sampleRate to the output device and blocks until
	// playback completes or ctx is cancelled.
	Play(ctx context.Context, samples []float32, sampleRate int) error
}
