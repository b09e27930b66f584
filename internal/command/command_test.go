package command_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/livewhisper/internal/command"
	"github.com/MrWong99/livewhisper/internal/observe"
	"github.com/MrWong99/livewhisper/internal/resilience"
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

// statusCounts returns command request counts keyed by status attribute.
func statusCounts(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "livewhisper.command.requests" {
				continue
			}
			for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
				v, _ := dp.Attributes.Value("status")
				out[v.AsString()] += dp.Value
			}
		}
	}
	return out
}

func TestSend_PostsJSON(t *testing.T) {
	var (
		mu          sync.Mutex
		gotBody     map[string]string
		gotMethod   string
		contentType string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotMethod = r.Method
		contentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte("cube created"))
	}))
	defer srv.Close()

	m, reader := newTestMetrics(t)
	c, err := command.New(srv.URL, command.WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Send(context.Background(), "create_cube"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotMethod != http.MethodPost {
		t.Errorf("method = %q, want POST", gotMethod)
	}
	if contentType != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", contentType)
	}
	if gotBody["command"] != "create_cube" {
		t.Errorf("body = %v, want command=create_cube", gotBody)
	}
	if got := statusCounts(t, reader)["ok"]; got != 1 {
		t.Errorf("ok count = %d, want 1", got)
	}
}

func TestSend_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unknown command", http.StatusBadRequest)
	}))
	defer srv.Close()

	m, reader := newTestMetrics(t)
	c, _ := command.New(srv.URL, command.WithMetrics(m))
	if err := c.Send(context.Background(), "create_torus"); err == nil {
		t.Fatal("expected error for HTTP 400")
	}
	if got := statusCounts(t, reader)["error"]; got != 1 {
		t.Errorf("error count = %d, want 1", got)
	}
}

func TestSend_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	m, _ := newTestMetrics(t)
	c, _ := command.New(srv.URL, command.WithMetrics(m), command.WithTimeout(50*time.Millisecond))

	start := time.Now()
	if err := c.Send(context.Background(), "create_cone"); err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Send took %v, timeout not applied", elapsed)
	}
}

func TestSend_BreakerRejectsWithoutCalling(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m, reader := newTestMetrics(t)
	b := resilience.NewBreaker(resilience.BreakerConfig{
		Name:        "test",
		MaxFailures: 2,
		Cooldown:    time.Hour,
	})
	c, _ := command.New(srv.URL, command.WithMetrics(m), command.WithBreaker(b))

	ctx := context.Background()
	for range 2 {
		if err := c.Send(ctx, "create_sphere"); err == nil {
			t.Fatal("expected failure from receiver")
		}
	}
	err := c.Send(ctx, "create_sphere")
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("third Send error = %v, want ErrCircuitOpen", err)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("receiver hits = %d, want 2", got)
	}

	counts := statusCounts(t, reader)
	if counts["error"] != 2 || counts["rejected"] != 1 {
		t.Errorf("status counts = %v, want error=2 rejected=1", counts)
	}
}

func TestNew_EmptyEndpoint(t *testing.T) {
	if _, err := command.New(""); err == nil {
		t.Error("expected error for empty endpoint")
	}
}
