package vad

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/MrWong99/livewhisper/pkg/audio"
)

var _ Detector = (*Classifier)(nil)

// Classifier is the energy + dominant-frequency speech heuristic.
type Classifier struct {
	cfg Config

	fft    *fourier.FFT
	seq    []float64
	coeffs []complex128
}

// NewClassifier validates cfg and pre-allocates the FFT plan for
// cfg.BlockSize samples.
func NewClassifier(cfg Config) (*Classifier, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("vad: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.BlockSize <= 0 {
		return nil, fmt.Errorf("vad: block size must be positive, got %d", cfg.BlockSize)
	}
	if cfg.EnergyThreshold < 0 {
		return nil, fmt.Errorf("vad: energy threshold must not be negative, got %g", cfg.EnergyThreshold)
	}
	if cfg.LowHz < 0 || cfg.HighHz < cfg.LowHz {
		return nil, fmt.Errorf("vad: invalid vocal band [%g, %g] Hz", cfg.LowHz, cfg.HighHz)
	}
	return &Classifier{
		cfg:    cfg,
		fft:    fourier.NewFFT(cfg.BlockSize),
		seq:    make([]float64, cfg.BlockSize),
		coeffs: make([]complex128, cfg.BlockSize/2+1),
	}, nil
}

// Config returns the classifier's thresholds.
func (c *Classifier) Config() Config { return c.cfg }

// Classify implements [Detector].
func (c *Classifier) Classify(block audio.Block, speaking bool) Verdict {
	if len(block) == 0 || allZero(block) {
		return NoInput
	}
	if speaking {
		return Silence
	}
	if RMS(block) <= c.cfg.EnergyThreshold {
		return Silence
	}
	freq := c.DominantFrequency(block)
	if freq < c.cfg.LowHz || freq > c.cfg.HighHz {
		return Silence
	}
	return Speech
}

// DominantFrequency returns the frequency in Hz of the largest-magnitude bin
// of the block's real FFT: argmax * SampleRate / len(block). The DC bin is
// included. A block whose length differs from the configured BlockSize is
// transformed with a one-off plan.
func (c *Classifier) DominantFrequency(block audio.Block) float64 {
	fft, seq, coeffs := c.fft, c.seq, c.coeffs
	if len(block) != c.cfg.BlockSize {
		fft = fourier.NewFFT(len(block))
		seq = make([]float64, len(block))
		coeffs = make([]complex128, len(block)/2+1)
	}
	for i, s := range block {
		seq[i] = float64(s)
	}
	coeffs = fft.Coefficients(coeffs, seq)

	best, bestMag := 0, -1.0
	for i, v := range coeffs {
		if m := cmplx.Abs(v); m > bestMag {
			best, bestMag = i, m
		}
	}
	return float64(best) * float64(c.cfg.SampleRate) / float64(len(block))
}

// RMS returns the root-mean-square amplitude of block, or 0 for an empty
// block.
func RMS(block audio.Block) float64 {
	if len(block) == 0 {
		return 0
	}
	var sum float64
	for _, s := range block {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(block)))
}

func allZero(block audio.Block) bool {
	for _, s := range block {
		if s != 0 {
			return false
		}
	}
	return true
}
