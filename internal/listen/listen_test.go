package listen_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/livewhisper/internal/broadcast"
	"github.com/MrWong99/livewhisper/internal/dispatch"
	journalmock "github.com/MrWong99/livewhisper/internal/journal/mock"
	"github.com/MrWong99/livewhisper/internal/listen"
	"github.com/MrWong99/livewhisper/internal/observe"
	"github.com/MrWong99/livewhisper/pkg/audio"
	"github.com/MrWong99/livewhisper/pkg/provider/stt"
	sttmock "github.com/MrWong99/livewhisper/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/livewhisper/pkg/provider/tts/mock"
	"github.com/MrWong99/livewhisper/pkg/provider/vad"
	vadmock "github.com/MrWong99/livewhisper/pkg/provider/vad/mock"
)

// 1000 Hz, 100 ms blocks: 100 samples per block, 10 blocks per second.
var testFormat = audio.Format{SampleRate: 1000, BlockMs: 100}

const testHangover = 2

func block(v float32) audio.Block {
	b := make(audio.Block, testFormat.BlockSize())
	for i := range b {
		b[i] = v
	}
	return b
}

// markerDetector classifies any block with a positive first sample as speech.
func markerDetector() *vadmock.Detector {
	return &vadmock.Detector{Func: func(b audio.Block, speaking bool) vad.Verdict {
		if !speaking && len(b) > 0 && b[0] > 0 {
			return vad.Speech
		}
		return vad.Silence
	}}
}

// utterance feeds enough speech for a flushable segment (1.1 s) followed by
// enough silence to exhaust the hangover.
func utterance(l *listen.Listener, marker float32) {
	for range 11 {
		l.HandleBlock(block(marker), audio.StatusOK)
	}
	for range testHangover {
		l.HandleBlock(block(0), audio.StatusOK)
	}
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []broadcast.Event
	finals chan string
}

func newPublisher() *recordingPublisher {
	return &recordingPublisher{finals: make(chan string, 32)}
}

func (p *recordingPublisher) Publish(ev broadcast.Event) bool {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	if ev.Kind == broadcast.KindFinal {
		p.finals <- ev.Text
	}
	return true
}

func (p *recordingPublisher) ticks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.Kind == broadcast.KindTick {
			n++
		}
	}
	return n
}

func (p *recordingPublisher) waitFinal(t *testing.T) string {
	t.Helper()
	select {
	case s := <-p.finals:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a final transcript")
		return ""
	}
}

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func counter(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

type fixture struct {
	l       *listen.Listener
	tr      *sttmock.Transcriber
	pub     *recordingPublisher
	reader  *sdkmetric.ManualReader
	journal *journalmock.Journal
}

func newFixture(t *testing.T, cfg listen.Config, tr *sttmock.Transcriber, opts ...listen.Option) *fixture {
	t.Helper()
	if cfg.Format == (audio.Format{}) {
		cfg.Format = testFormat
	}
	if cfg.HangoverBlocks == 0 {
		cfg.HangoverBlocks = testHangover
	}
	m, reader := newTestMetrics(t)
	pub := newPublisher()
	j := &journalmock.Journal{}
	opts = append([]listen.Option{
		listen.WithMetrics(m),
		listen.WithPublisher(pub),
		listen.WithJournal(j),
	}, opts...)
	l, err := listen.New(cfg, markerDetector(), tr, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return &fixture{l: l, tr: tr, pub: pub, reader: reader, journal: j}
}

func (f *fixture) consume(t *testing.T) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		errc <- f.l.Consume(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-finished
	})
	return cancel, errc
}

func maxSample(s []float32) float32 {
	return slices.Max(s)
}

func TestListener_HandoffPreservesOrder(t *testing.T) {
	tr := &sttmock.Transcriber{Responses: []sttmock.Response{
		{Result: stt.Result{Text: "one"}},
		{Result: stt.Result{Text: "two"}},
		{Result: stt.Result{Text: "three"}},
	}}
	f := newFixture(t, listen.Config{Language: "en", Task: stt.TaskTranscribe}, tr)

	// Produce all three segments before the consumer starts.
	utterance(f.l, 0.1)
	utterance(f.l, 0.2)
	utterance(f.l, 0.3)
	f.consume(t)

	var got []string
	for range 3 {
		got = append(got, f.pub.waitFinal(t))
	}
	if want := []string{"one", "two", "three"}; !slices.Equal(got, want) {
		t.Errorf("finals = %q, want %q", got, want)
	}

	reqs := tr.Requests()
	if len(reqs) != 3 {
		t.Fatalf("transcribe calls = %d, want 3", len(reqs))
	}
	for i, want := range []float32{0.1, 0.2, 0.3} {
		if got := maxSample(reqs[i].Samples); got != want {
			t.Errorf("request %d carries segment %v, want %v", i, got, want)
		}
		if reqs[i].SampleRate != testFormat.SampleRate || reqs[i].Language != "en" || reqs[i].Task != stt.TaskTranscribe {
			t.Errorf("request %d = rate %d lang %q task %q", i, reqs[i].SampleRate, reqs[i].Language, reqs[i].Task)
		}
	}
	if got := f.pub.ticks(); got != 3 {
		t.Errorf("ticks = %d, want one per onset (3)", got)
	}
	if got := counter(t, f.reader, "livewhisper.segments.flushed"); got != 3 {
		t.Errorf("flushed = %d, want 3", got)
	}
}

func TestListener_TranscriptionFailureDropsOnlyThatSegment(t *testing.T) {
	tr := &sttmock.Transcriber{Responses: []sttmock.Response{
		{Err: errors.New("engine crashed")},
		{Result: stt.Result{Text: "second"}},
	}}
	f := newFixture(t, listen.Config{}, tr)
	f.consume(t)

	utterance(f.l, 0.1)
	utterance(f.l, 0.2)

	if got := f.pub.waitFinal(t); got != "second" {
		t.Errorf("final = %q, want second", got)
	}
	if got := tr.CallCount(); got != 2 {
		t.Errorf("transcribe calls = %d, want 2", got)
	}
	if got := counter(t, f.reader, "livewhisper.transcription.errors"); got != 1 {
		t.Errorf("transcription errors = %d, want 1", got)
	}
	if !f.l.Running() {
		t.Error("listener stopped after a transcription failure")
	}
}

func TestListener_CloseDiscardsPartialSegment(t *testing.T) {
	tr := &sttmock.Transcriber{Result: stt.Result{Text: "never"}}
	f := newFixture(t, listen.Config{}, tr)
	f.consume(t)

	// Open a long segment but never let the hangover expire.
	for range 20 {
		f.l.HandleBlock(block(0.5), audio.StatusOK)
	}
	if err := f.l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Blocks after Close are ignored, including the closing silence.
	for range testHangover + 1 {
		f.l.HandleBlock(block(0), audio.StatusOK)
	}

	time.Sleep(50 * time.Millisecond)
	if got := tr.CallCount(); got != 0 {
		t.Errorf("transcribe calls = %d, want 0", got)
	}
}

func TestListener_ConsumeReturnsWithoutDraining(t *testing.T) {
	tr := &sttmock.Transcriber{Result: stt.Result{Text: "late"}}
	f := newFixture(t, listen.Config{}, tr)

	utterance(f.l, 0.1)
	utterance(f.l, 0.2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.l.Consume(ctx); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if err := f.l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := tr.CallCount(); got != 0 {
		t.Errorf("transcribe calls = %d, want 0 after cancellation", got)
	}
}

func TestListener_CancelDuringTranscription(t *testing.T) {
	tr := &sttmock.Transcriber{Gate: make(chan struct{}), Result: stt.Result{Text: "x"}}
	f := newFixture(t, listen.Config{}, tr)
	cancel, done := f.consume(t)

	utterance(f.l, 0.1)
	deadline := time.Now().Add(2 * time.Second)
	for tr.CallCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Consume = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Consume did not return after cancellation")
	}
	if got := counter(t, f.reader, "livewhisper.transcription.errors"); got != 0 {
		t.Errorf("cancellation counted as %d transcription errors", got)
	}
}

func TestListener_FullHandoffDropsSegment(t *testing.T) {
	tr := &sttmock.Transcriber{}
	f := newFixture(t, listen.Config{HandoffDepth: 1}, tr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		utterance(f.l, 0.1)
		utterance(f.l, 0.2)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("HandleBlock blocked on a full hand-off queue")
	}
	if got := counter(t, f.reader, "livewhisper.segments.dropped"); got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}
}

func TestListener_ShortSegmentDiscarded(t *testing.T) {
	tr := &sttmock.Transcriber{}
	f := newFixture(t, listen.Config{}, tr)

	for range 5 {
		f.l.HandleBlock(block(0.4), audio.StatusOK)
	}
	for range testHangover {
		f.l.HandleBlock(block(0), audio.StatusOK)
	}
	if got := counter(t, f.reader, "livewhisper.segments.discarded"); got != 1 {
		t.Errorf("discarded = %d, want 1", got)
	}
}

func TestListener_SpeakingSuppressesDetection(t *testing.T) {
	tr := &sttmock.Transcriber{}
	det := markerDetector()
	speaking := true
	m, _ := newTestMetrics(t)
	l, err := listen.New(listen.Config{Format: testFormat, HangoverBlocks: testHangover}, det, tr,
		listen.WithMetrics(m),
		listen.WithSpeaking(func() bool { return speaking }),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	utterance(l, 0.3)
	if len(det.Calls) == 0 || !det.Calls[0].Speaking {
		t.Fatal("detector was not told that a reply is playing")
	}
	speaking = false
	l.HandleBlock(block(0.3), audio.StatusOK)
	if det.Calls[len(det.Calls)-1].Speaking {
		t.Error("speaking flag stuck after playback ended")
	}
}

type talkingHost struct{ talking bool }

func (talkingHost) Running() bool                   { return true }
func (h talkingHost) Talking() bool                 { return h.talking }
func (talkingHost) Analyze(context.Context, string) {}

func TestListener_HostTalkingSuppressesDetection(t *testing.T) {
	det := markerDetector()
	m, _ := newTestMetrics(t)
	l, err := listen.New(listen.Config{Format: testFormat, HangoverBlocks: testHangover}, det, &sttmock.Transcriber{},
		listen.WithMetrics(m),
		listen.WithHost(talkingHost{talking: true}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	l.HandleBlock(block(0.3), audio.StatusOK)
	if !det.Calls[0].Speaking {
		t.Error("host talking flag not passed to the detector")
	}
}

func TestListener_DeviceFaultCountedAndBlockProcessed(t *testing.T) {
	f := newFixture(t, listen.Config{}, &sttmock.Transcriber{})

	f.l.HandleBlock(block(0.2), audio.StatusOverflow)
	if got := counter(t, f.reader, "livewhisper.capture.faults"); got != 1 {
		t.Errorf("faults = %d, want 1", got)
	}
	if got := f.pub.ticks(); got != 1 {
		t.Errorf("ticks = %d, want 1 (faulty block still classified)", got)
	}
}

func TestListener_StopRuleEndsConsume(t *testing.T) {
	tr := &sttmock.Transcriber{Responses: []sttmock.Response{
		{Result: stt.Result{Text: " Please stop listening."}},
		{Result: stt.Result{Text: "after stop"}},
	}}
	sp := &ttsmock.Speaker{}
	m, _ := newTestMetrics(t)
	d, err := dispatch.New(sp, dispatch.WithMetrics(m))
	if err != nil {
		t.Fatalf("dispatch.New: %v", err)
	}
	f := newFixture(t, listen.Config{}, tr, listen.WithDispatcher(d))

	utterance(f.l, 0.1)
	utterance(f.l, 0.2)

	done := make(chan error, 1)
	go func() { done <- f.l.Consume(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Consume = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Consume did not return after the stop rule")
	}
	if f.l.Running() {
		t.Error("Running() = true after stop rule")
	}
	if got := tr.CallCount(); got != 1 {
		t.Errorf("transcribe calls = %d, want 1", got)
	}
	if got := sp.Texts(); len(got) != 1 || !strings.Contains(got[0], "Goodbye") {
		t.Errorf("spoken = %q, want farewell", got)
	}
	entries := f.journal.Entries()
	if len(entries) != 1 || entries[0].Rule != "stop" {
		t.Errorf("journal = %+v, want one entry for the stop rule", entries)
	}
}

func TestListener_JournalFailureIsNotFatal(t *testing.T) {
	tr := &sttmock.Transcriber{Responses: []sttmock.Response{
		{Result: stt.Result{Text: "first", Language: "en", Task: stt.TaskTranscribe}},
		{Result: stt.Result{Text: "second"}},
	}}
	f := newFixture(t, listen.Config{}, tr)
	f.journal.Err = errors.New("db down")
	f.consume(t)

	utterance(f.l, 0.1)
	utterance(f.l, 0.2)
	f.pub.waitFinal(t)
	f.pub.waitFinal(t)

	entries := f.journal.Entries()
	if len(entries) < 1 {
		t.Fatal("no journal writes")
	}
	if e := entries[0]; e.Text != "first" || e.Language != "en" || e.Task != "transcribe" || e.Audio < time.Second {
		t.Errorf("entry = %+v", e)
	}
}

func TestListener_EmptyTranscriptIsIgnored(t *testing.T) {
	tr := &sttmock.Transcriber{Responses: []sttmock.Response{
		{Result: stt.Result{Text: "   "}},
		{Result: stt.Result{Text: "real"}},
	}}
	f := newFixture(t, listen.Config{}, tr)
	f.consume(t)

	utterance(f.l, 0.1)
	utterance(f.l, 0.2)
	if got := f.pub.waitFinal(t); got != "real" {
		t.Errorf("first final = %q, want the non-empty transcript", got)
	}
	if n := len(f.journal.Entries()); n != 1 {
		t.Errorf("journal entries = %d, want 1", n)
	}
}

func TestListener_StagingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dictate.wav")
	tr := &sttmock.Transcriber{Result: stt.Result{Text: "staged"}}
	f := newFixture(t, listen.Config{StagingPath: path}, tr)
	f.consume(t)

	utterance(f.l, 0.25)
	f.pub.waitFinal(t)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("staging file: %v", err)
	}
	info, err := audio.ParseWAV(data)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if info.SampleRate != testFormat.SampleRate || info.Channels != 1 {
		t.Errorf("wav info = %+v", info)
	}

	if err := f.l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("staging file still present after Close: %v", err)
	}
}

func TestListener_MaxSegmentForcesFlush(t *testing.T) {
	tr := &sttmock.Transcriber{Result: stt.Result{Text: "chunk"}}
	f := newFixture(t, listen.Config{MaxSegment: 1500 * time.Millisecond}, tr)
	f.consume(t)

	// 3 s of uninterrupted speech yields two capped segments.
	for range 30 {
		f.l.HandleBlock(block(0.3), audio.StatusOK)
	}
	f.pub.waitFinal(t)
	f.pub.waitFinal(t)
	for _, r := range tr.Requests() {
		if n := len(r.Samples); n > 1500 {
			t.Errorf("segment has %d samples, want at most 1500", n)
		}
	}
}

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	c := listen.NewConsole(&buf)
	c.Listening()
	c.Speech()
	c.NoInput()
	c.Transcribing()
	c.Transcript(" hello")
	c.Response("Response: %s", "Hi there!")
	c.Quitting()
	c.Close()
	c.Close()
	c.Speech() // after close: dropped, no panic

	out := buf.String()
	for _, want := range []string{"Listening..", "(Ctrl+C to Quit)", "Transcribing..", " hello", "Response: Hi there!", "Quitting.."} {
		if !strings.Contains(out, want) {
			t.Errorf("console output missing %q", want)
		}
	}

	var nilConsole *listen.Console
	nilConsole.Speech()
	nilConsole.Close()
}

func TestNew_Validation(t *testing.T) {
	tr := &sttmock.Transcriber{}
	det := markerDetector()
	tests := []struct {
		name string
		cfg  listen.Config
	}{
		{"zero format", listen.Config{HangoverBlocks: 1}},
		{"zero hangover", listen.Config{Format: testFormat}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := listen.New(tc.cfg, det, tr); err == nil {
				t.Error("expected error")
			}
		})
	}
	if _, err := listen.New(listen.Config{Format: testFormat, HangoverBlocks: 1}, nil, tr); err == nil {
		t.Error("expected error for nil detector")
	}
}
