// Package listen connects live audio capture to transcription.
//
// A [Listener] sits on both sides of the pipeline's only concurrency
// boundary. [Listener.HandleBlock] runs on the capture callback: it
// classifies the block, feeds the segmenter and hands finished segments to a
// bounded queue without ever blocking. [Listener.Consume] runs on its own
// goroutine and, strictly in capture order, transcribes each segment,
// broadcasts and dispatches the text, journals it and passes it to the host.
//
// A transcription failure drops that segment only. A full queue drops the
// newest segment. On shutdown pending segments are discarded, never
// transcribed.
package listen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/livewhisper/internal/broadcast"
	"github.com/MrWong99/livewhisper/internal/dispatch"
	"github.com/MrWong99/livewhisper/internal/host"
	"github.com/MrWong99/livewhisper/internal/journal"
	"github.com/MrWong99/livewhisper/internal/observe"
	"github.com/MrWong99/livewhisper/internal/segment"
	"github.com/MrWong99/livewhisper/pkg/audio"
	"github.com/MrWong99/livewhisper/pkg/provider/stt"
	"github.com/MrWong99/livewhisper/pkg/provider/vad"
)

const defaultHandoffDepth = 8

// Dispatcher reacts to transcripts.
type Dispatcher interface {
	Dispatch(ctx context.Context, text string) dispatch.Outcome
	Running() bool
}

// Publisher receives broadcast events. Publish must not block.
type Publisher interface {
	Publish(ev broadcast.Event) bool
}

// Config holds the Listener parameters.
type Config struct {
	// Format of the captured blocks.
	Format audio.Format

	// HangoverBlocks is the number of silent blocks tolerated inside an
	// utterance.
	HangoverBlocks int

	// MaxSegment force-flushes segments that reach this length. Zero disables
	// the cap.
	MaxSegment time.Duration

	// HandoffDepth is the capacity of the segment queue between capture and
	// transcription. Default: 8.
	HandoffDepth int

	// Language and Task are passed to the transcriber.
	Language string
	Task     stt.Task

	// StagingPath, if set, receives each segment as a 16-bit WAV file before
	// transcription. The file is overwritten per segment and removed by
	// [Listener.Close].
	StagingPath string
}

// Option configures a [Listener].
type Option func(*Listener)

// WithDispatcher sets the transcript dispatcher.
func WithDispatcher(d Dispatcher) Option {
	return func(l *Listener) { l.dispatcher = d }
}

// WithHost sets the conversational host. Default: [host.NullHost].
func WithHost(h host.Host) Option {
	return func(l *Listener) { l.host = h }
}

// WithPublisher sets the broadcast sink for ticks and transcripts.
func WithPublisher(p Publisher) Option {
	return func(l *Listener) { l.publisher = p }
}

// WithJournal sets the transcript journal. Default: [journal.Nop].
func WithJournal(j journal.Journal) Option {
	return func(l *Listener) { l.journal = j }
}

// WithConsole sets the terminal indicator writer.
func WithConsole(c *Console) Option {
	return func(l *Listener) { l.console = c }
}

// WithSpeaking sets the function reporting whether a spoken reply is
// playing. Speech detection is suppressed while it returns true.
func WithSpeaking(fn func() bool) Option {
	return func(l *Listener) { l.speaking = fn }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(l *Listener) { l.metrics = m }
}

// WithSegmentOptions passes options to the underlying [segment.Segmenter].
func WithSegmentOptions(opts ...segment.Option) Option {
	return func(l *Listener) { l.segOpts = append(l.segOpts, opts...) }
}

// Listener bridges the capture callback and the transcription consumer.
type Listener struct {
	cfg         Config
	detector    vad.Detector
	transcriber stt.Transcriber
	dispatcher  Dispatcher
	host        host.Host
	publisher   Publisher
	journal     journal.Journal
	console     *Console
	speaking    func() bool
	metrics     *observe.Metrics
	segOpts     []segment.Option

	handoff chan *segment.Segment

	// mu guards seg and closed. It is only contended by Close.
	mu     sync.Mutex
	seg    *segment.Segmenter
	closed bool
}

// New creates a Listener. detector and transcriber are required.
func New(cfg Config, detector vad.Detector, transcriber stt.Transcriber, opts ...Option) (*Listener, error) {
	if detector == nil {
		return nil, errors.New("listen: detector must not be nil")
	}
	if transcriber == nil {
		return nil, errors.New("listen: transcriber must not be nil")
	}
	if cfg.Format.SampleRate <= 0 || cfg.Format.BlockSize() <= 0 {
		return nil, fmt.Errorf("listen: invalid audio format %+v", cfg.Format)
	}
	if cfg.HangoverBlocks < 1 {
		return nil, fmt.Errorf("listen: hangover blocks must be positive, got %d", cfg.HangoverBlocks)
	}
	if cfg.HandoffDepth <= 0 {
		cfg.HandoffDepth = defaultHandoffDepth
	}

	l := &Listener{
		cfg:         cfg,
		detector:    detector,
		transcriber: transcriber,
		host:        host.NullHost{},
		journal:     journal.Nop{},
		speaking:    func() bool { return false },
	}
	for _, o := range opts {
		o(l)
	}
	if l.metrics == nil {
		l.metrics = observe.DefaultMetrics()
	}

	maxSamples := 0
	if cfg.MaxSegment > 0 {
		maxSamples = int(cfg.MaxSegment.Seconds() * float64(cfg.Format.SampleRate))
	}
	l.seg = segment.New(segment.Config{
		SampleRate:     cfg.Format.SampleRate,
		HangoverBlocks: cfg.HangoverBlocks,
		MaxSamples:     maxSamples,
	}, l.segOpts...)
	l.handoff = make(chan *segment.Segment, cfg.HandoffDepth)
	return l, nil
}

// Running reports whether both the dispatcher and the host want listening to
// continue.
func (l *Listener) Running() bool {
	if l.dispatcher != nil && !l.dispatcher.Running() {
		return false
	}
	return l.host.Running()
}

// HandleBlock processes one captured block. It is an [audio.BlockHandler]
// and never blocks on transcription, the network or the terminal.
func (l *Listener) HandleBlock(block audio.Block, status audio.Status) {
	ctx := context.Background()
	if status != audio.StatusOK {
		l.metrics.RecordDeviceFault(ctx, status.String())
		l.console.Fault(status.String())
		slog.Warn("listen: capture device fault", "status", status.String())
	}

	speaking := l.speaking() || l.host.Talking()
	verdict := l.detector.Classify(block, speaking)
	switch verdict {
	case vad.NoInput:
		l.console.NoInput()
	case vad.Speech:
		l.console.Speech()
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	out := l.seg.Push(block, verdict.IsSpeech())
	l.mu.Unlock()

	switch out.Kind {
	case segment.Onset:
		if l.publisher != nil {
			l.publisher.Publish(broadcast.Tick())
		}
	case segment.Discarded:
		l.metrics.SegmentsDiscarded.Add(ctx, 1)
		l.console.Erase()
	case segment.Flushed:
		seg := out.Segment
		l.metrics.RecordSegmentFlushed(ctx, string(seg.Reason), seg.Duration())
		select {
		case l.handoff <- seg:
		default:
			l.metrics.SegmentsDropped.Add(ctx, 1)
			slog.Warn("listen: hand-off queue full, segment dropped",
				"segment", seg.ID, "audio", seg.Duration(), "depth", cap(l.handoff))
		}
	}
}

// Consume transcribes queued segments in order until ctx is cancelled or a
// stop is requested through the dispatcher or the host. Segments still
// queued when it returns are never transcribed.
func (l *Listener) Consume(ctx context.Context) error {
	for l.Running() {
		if ctx.Err() != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case seg := <-l.handoff:
			l.process(ctx, seg)
		}
	}
	slog.Info("listen: stop requested")
	return nil
}

func (l *Listener) process(ctx context.Context, seg *segment.Segment) {
	ctx, span := observe.StartSpan(ctx, "listen.segment")
	defer span.End()
	span.SetAttributes(
		attribute.String("segment.id", seg.ID),
		attribute.String("segment.reason", string(seg.Reason)),
		attribute.Float64("segment.audio_seconds", seg.Duration().Seconds()),
	)
	log := observe.Logger(ctx).With("segment", seg.ID)

	l.console.Transcribing()
	if l.cfg.StagingPath != "" {
		wav := audio.EncodeWAVFloat(seg.Samples, seg.SampleRate)
		if err := os.WriteFile(l.cfg.StagingPath, wav, 0o644); err != nil {
			log.Warn("listen: write staging file", "path", l.cfg.StagingPath, "err", err)
		}
	}

	start := time.Now()
	res, err := l.transcriber.Transcribe(ctx, stt.Request{
		Samples:    seg.Samples,
		SampleRate: seg.SampleRate,
		Language:   l.cfg.Language,
		Task:       l.cfg.Task,
	})
	elapsed := time.Since(start)
	if err != nil && ctx.Err() != nil {
		return
	}
	l.metrics.RecordTranscription(ctx, elapsed, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		l.console.Erase()
		log.Error("listen: transcription failed, segment dropped", "audio", seg.Duration(), "err", err)
		return
	}

	text := res.Text
	l.console.Transcript(text)
	log.Info("listen: transcribed", "text", text, "audio", seg.Duration(), "took", elapsed)
	if strings.TrimSpace(text) == "" {
		return
	}

	if l.publisher != nil {
		l.publisher.Publish(broadcast.Final(text))
	}

	var rule string
	if l.dispatcher != nil {
		if out := l.dispatcher.Dispatch(ctx, text); out.Matched {
			rule = out.Rule.Label()
		}
	}

	entry := journal.Entry{
		SegmentID: seg.ID,
		Text:      text,
		Language:  res.Language,
		Task:      string(res.Task),
		Audio:     seg.Duration(),
		Rule:      rule,
	}
	if err := l.journal.Write(ctx, entry); err != nil {
		l.metrics.JournalErrors.Add(ctx, 1)
		log.Error("listen: journal write failed", "err", err)
	}

	l.host.Analyze(ctx, text)
}

// Close stops accepting blocks, discards any partial segment and every
// queued segment, and removes the staging file. Call it after the capture
// source is closed.
func (l *Listener) Close() error {
	l.mu.Lock()
	l.closed = true
	l.seg.Reset()
	l.mu.Unlock()

drain:
	for {
		select {
		case <-l.handoff:
		default:
			break drain
		}
	}

	if l.cfg.StagingPath == "" {
		return nil
	}
	if err := os.Remove(l.cfg.StagingPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("listen: remove staging file: %w", err)
	}
	return nil
}
