// Package broadcast pushes listening events to connected subscribers.
//
// A [Hub] runs one long-lived event loop ([Hub.Run]) that drains a buffered
// queue and fans every event out to the current subscriber set. [Hub.Publish]
// never blocks, so it is safe to call from the audio capture callback; when
// the queue is full the event is dropped and counted.
//
// A subscriber whose Send fails is removed and closed. The remaining
// subscribers still receive the event.
//
// [Hub.ServeHTTP] accepts WebSocket subscribers. Each event is delivered as a
// single text frame: "[dot]" for an activity tick, the transcript text for a
// final result.
package broadcast

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/livewhisper/internal/observe"
)

// TickPayload is the wire payload of an activity tick.
const TickPayload = "[dot]"

const (
	defaultQueueSize   = 64
	defaultSendTimeout = 5 * time.Second
)

// Kind distinguishes broadcast events.
type Kind int

const (
	// KindTick signals that speech activity started.
	KindTick Kind = iota

	// KindFinal carries a finished transcript.
	KindFinal
)

// String returns the event kind name.
func (k Kind) String() string {
	switch k {
	case KindTick:
		return "tick"
	case KindFinal:
		return "final"
	default:
		return "unknown"
	}
}

// Event is one broadcast message.
type Event struct {
	Kind Kind
	Text string
}

// Tick returns an activity tick event.
func Tick() Event { return Event{Kind: KindTick} }

// Final returns a transcript event.
func Final(text string) Event { return Event{Kind: KindFinal, Text: text} }

// Payload returns the wire representation of e.
func (e Event) Payload() string {
	if e.Kind == KindTick {
		return TickPayload
	}
	return e.Text
}

// Subscriber receives broadcast payloads.
type Subscriber interface {
	// Send delivers one payload. A non-nil error removes the subscriber.
	Send(ctx context.Context, payload string) error

	// Close releases the subscriber. It is called at most once by the hub
	// after a failed Send or when the hub shuts down.
	Close()
}

// Option configures a [Hub].
type Option func(*Hub)

// WithQueueSize sets the inbound event queue capacity. Default: 64.
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// WithSendTimeout bounds one Send call. Default: 5s.
func WithSendTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.sendTimeout = d
		}
	}
}

// WithOriginPatterns sets the host patterns accepted for cross-origin
// WebSocket upgrades. See [websocket.AcceptOptions].
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) {
		h.originPatterns = patterns
	}
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) {
		h.metrics = m
	}
}

// Hub fans events out to subscribers. All methods are safe for concurrent
// use.
type Hub struct {
	queueSize      int
	sendTimeout    time.Duration
	originPatterns []string
	metrics        *observe.Metrics

	events chan Event

	mu   sync.Mutex
	subs map[Subscriber]struct{}
}

// NewHub creates a Hub. Call [Hub.Run] to start delivering events.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		queueSize:   defaultQueueSize,
		sendTimeout: defaultSendTimeout,
		subs:        make(map[Subscriber]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	h.events = make(chan Event, h.queueSize)
	return h
}

// Publish enqueues ev without blocking. It reports false when the queue was
// full and the event was dropped.
func (h *Hub) Publish(ev Event) bool {
	select {
	case h.events <- ev:
		return true
	default:
		h.metrics.BroadcastDropped.Add(context.Background(), 1)
		slog.Debug("broadcast: queue full, event dropped", "kind", ev.Kind.String())
		return false
	}
}

// Add registers s.
func (h *Hub) Add(s Subscriber) {
	h.mu.Lock()
	_, exists := h.subs[s]
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	if !exists {
		h.metrics.BroadcastSubscribers.Add(context.Background(), 1)
		slog.Info("broadcast: subscriber added", "subscribers", n)
	}
}

// Remove unregisters s without closing it. It reports whether s was
// registered.
func (h *Hub) Remove(s Subscriber) bool {
	h.mu.Lock()
	_, ok := h.subs[s]
	delete(h.subs, s)
	n := len(h.subs)
	h.mu.Unlock()
	if ok {
		h.metrics.BroadcastSubscribers.Add(context.Background(), -1)
		slog.Info("broadcast: subscriber removed", "subscribers", n)
	}
	return ok
}

// Len returns the number of registered subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Run delivers queued events until ctx is cancelled. On return every
// remaining subscriber has been removed and closed. Events still queued at
// that point are discarded.
func (h *Hub) Run(ctx context.Context) error {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-h.events:
			h.fanOut(ctx, ev)
		}
	}
}

func (h *Hub) fanOut(ctx context.Context, ev Event) {
	h.mu.Lock()
	subs := make([]Subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	payload := ev.Payload()
	for _, s := range subs {
		sendCtx, cancel := context.WithTimeout(ctx, h.sendTimeout)
		err := s.Send(sendCtx, payload)
		cancel()
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		h.metrics.BroadcastSendFailures.Add(ctx, 1)
		slog.Warn("broadcast: send failed, dropping subscriber", "kind", ev.Kind.String(), "err", err)
		if h.Remove(s) {
			s.Close()
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[Subscriber]struct{})
	h.mu.Unlock()
	for s := range subs {
		h.metrics.BroadcastSubscribers.Add(context.Background(), -1)
		s.Close()
	}
}

// ServeHTTP upgrades the request to a WebSocket connection and registers it
// as a subscriber until the peer disconnects. Subscribers only listen; a
// data message from the peer closes the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Warn("broadcast: websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	sub := &connSubscriber{conn: conn}
	ctx := conn.CloseRead(context.Background())
	h.Add(sub)
	<-ctx.Done()
	if h.Remove(sub) {
		sub.Close()
	}
}

// connSubscriber adapts a WebSocket connection to [Subscriber].
type connSubscriber struct {
	conn      *websocket.Conn
	closeOnce sync.Once
}

func (c *connSubscriber) Send(ctx context.Context, payload string) error {
	return c.conn.Write(ctx, websocket.MessageText, []byte(payload))
}

func (c *connSubscriber) Close() {
	c.closeOnce.Do(func() {
		if err := c.conn.Close(websocket.StatusNormalClosure, ""); err != nil {
			slog.Debug("broadcast: websocket close", "err", err)
		}
	})
}
