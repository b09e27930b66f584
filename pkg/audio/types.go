package audio

import "time"

// Block is one fixed-length slice of mono amplitude samples in the range
// [-1.0, 1.0]. Blocks are the atomic unit of processing in the listening
// pipeline: captured by a [Source], classified by a VAD, and accumulated by
// the segmenter.
//
// A Block handed to a [BlockHandler] is only valid for the duration of the
// call. Handlers that retain audio must copy it.
type Block []float32

// Format describes the fixed capture parameters of a session.
type Format struct {
	// SampleRate in Hz (e.g., 44100).
	SampleRate int

	// BlockMs is the duration of each captured block in milliseconds.
	BlockMs int
}

// BlockSize returns the number of samples per block:
// SampleRate * BlockMs / 1000.
func (f Format) BlockSize() int {
	return f.SampleRate * f.BlockMs / 1000
}

// Duration converts a sample count at this format's rate to wall-clock time.
// Returns 0 when the sample rate is not positive.
func (f Format) Duration(samples int) time.Duration {
	return SamplesDuration(samples, f.SampleRate)
}

// SamplesDuration converts a sample count at sampleRate to wall-clock time.
func SamplesDuration(samples, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// Status reports per-callback stream conditions from the capture device.
type Status int

const (
	// StatusOK means the block was delivered without a device fault.
	StatusOK Status = iota

	// StatusOverflow means input samples were dropped by the driver because
	// the callback did not keep up.
	StatusOverflow

	// StatusUnderflow means the device delivered fewer samples than requested.
	StatusUnderflow
)

// String returns the human-readable name of the status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusOverflow:
		return "input-overflow"
	case StatusUnderflow:
		return "input-underflow"
	default:
		return "unknown"
	}
}
