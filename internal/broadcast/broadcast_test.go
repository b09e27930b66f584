package broadcast_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/livewhisper/internal/broadcast"
	"github.com/MrWong99/livewhisper/internal/observe"
)

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

func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
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
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

// fakeSubscriber records payloads on a channel and optionally fails.
type fakeSubscriber struct {
	got    chan string
	fail   error
	mu     sync.Mutex
	closed int
}

func newFake(fail error) *fakeSubscriber {
	return &fakeSubscriber{got: make(chan string, 16), fail: fail}
}

func (f *fakeSubscriber) Send(_ context.Context, payload string) error {
	if f.fail != nil {
		return f.fail
	}
	f.got <- payload
	return nil
}

func (f *fakeSubscriber) Close() {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
}

func (f *fakeSubscriber) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for payload")
		return ""
	}
}

func startHub(t *testing.T, h *broadcast.Hub) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestEventPayload(t *testing.T) {
	if got := broadcast.Tick().Payload(); got != "[dot]" {
		t.Errorf("Tick payload = %q, want [dot]", got)
	}
	if got := broadcast.Final(" Hello there.").Payload(); got != " Hello there." {
		t.Errorf("Final payload = %q", got)
	}
}

func TestHub_OneFailingSubscriberOfN(t *testing.T) {
	m, reader := newTestMetrics(t)
	h := broadcast.NewHub(broadcast.WithMetrics(m))

	good1, bad, good2 := newFake(nil), newFake(errors.New("broken pipe")), newFake(nil)
	h.Add(good1)
	h.Add(bad)
	h.Add(good2)
	startHub(t, h)

	h.Publish(broadcast.Tick())
	for _, s := range []*fakeSubscriber{good1, good2} {
		if got := receive(t, s.got); got != "[dot]" {
			t.Errorf("payload = %q, want [dot]", got)
		}
	}

	h.Publish(broadcast.Final("create a cube"))
	for _, s := range []*fakeSubscriber{good1, good2} {
		if got := receive(t, s.got); got != "create a cube" {
			t.Errorf("payload = %q, want transcript", got)
		}
	}

	if got := h.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2 after pruning", got)
	}
	if got := bad.closeCount(); got != 1 {
		t.Errorf("failing subscriber closed %d times, want 1", got)
	}
	if got := counterValue(t, reader, "livewhisper.broadcast.send_failures"); got != 1 {
		t.Errorf("send failures = %d, want 1", got)
	}
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	m, reader := newTestMetrics(t)
	h := broadcast.NewHub(broadcast.WithMetrics(m), broadcast.WithQueueSize(2))

	// Run is not started, so the queue fills up.
	if !h.Publish(broadcast.Tick()) || !h.Publish(broadcast.Tick()) {
		t.Fatal("first two publishes should be queued")
	}
	done := make(chan bool)
	go func() { done <- h.Publish(broadcast.Tick()) }()
	select {
	case ok := <-done:
		if ok {
			t.Error("Publish on a full queue reported success")
		}
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
	if got := counterValue(t, reader, "livewhisper.broadcast.dropped"); got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}
}

func TestHub_RemoveAndGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	h := broadcast.NewHub(broadcast.WithMetrics(m))

	a, b := newFake(nil), newFake(nil)
	h.Add(a)
	h.Add(b)
	h.Add(a) // duplicate add is a no-op
	if !h.Remove(a) {
		t.Error("Remove(a) = false, want true")
	}
	if h.Remove(a) {
		t.Error("second Remove(a) = true, want false")
	}
	if got := counterValue(t, reader, "livewhisper.broadcast.subscribers"); got != 1 {
		t.Errorf("subscribers gauge = %d, want 1", got)
	}
	if a.closeCount() != 0 {
		t.Error("Remove must not close the subscriber")
	}
}

func TestHub_RunClosesSubscribersOnShutdown(t *testing.T) {
	m, _ := newTestMetrics(t)
	h := broadcast.NewHub(broadcast.WithMetrics(m))
	a := newFake(nil)
	h.Add(a)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- h.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if a.closeCount() != 1 {
		t.Errorf("subscriber closed %d times, want 1", a.closeCount())
	}
	if h.Len() != 0 {
		t.Errorf("Len() = %d after shutdown", h.Len())
	}
}

func TestHub_WebSocket(t *testing.T) {
	m, _ := newTestMetrics(t)
	h := broadcast.NewHub(broadcast.WithMetrics(m))
	startHub(t, h)

	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	waitFor(t, func() bool { return h.Len() == 1 })

	h.Publish(broadcast.Tick())
	h.Publish(broadcast.Final("how are you"))

	for _, want := range []string{"[dot]", "how are you"} {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if typ != websocket.MessageText {
			t.Errorf("message type = %v, want text", typ)
		}
		if string(data) != want {
			t.Errorf("payload = %q, want %q", data, want)
		}
	}

	if err := conn.Close(websocket.StatusNormalClosure, "bye"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	waitFor(t, func() bool { return h.Len() == 0 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
