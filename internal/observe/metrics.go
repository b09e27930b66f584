// Package observe provides application-wide observability primitives for
// livewhisper: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all livewhisper metrics.
const meterName = "github.com/MrWong99/livewhisper"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Segmentation ---

	// SegmentsFlushed counts finished segments. Attribute: reason.
	SegmentsFlushed metric.Int64Counter

	// SegmentsDiscarded counts segments dropped for being shorter than the
	// minimum duration.
	SegmentsDiscarded metric.Int64Counter

	// SegmentsDropped counts finished segments lost because the hand-off
	// queue to the transcription consumer was full.
	SegmentsDropped metric.Int64Counter

	// SegmentAudio tracks the audio length of flushed segments.
	SegmentAudio metric.Float64Histogram

	// DeviceFaults counts capture callbacks reporting a stream fault.
	// Attribute: status.
	DeviceFaults metric.Int64Counter

	// --- Transcription ---

	// TranscriptionDuration tracks transcriber latency. Attribute: status.
	TranscriptionDuration metric.Float64Histogram

	// TranscriptionErrors counts failed transcription calls.
	TranscriptionErrors metric.Int64Counter

	// --- Reactions ---

	// DispatchActions counts fired dispatch rules. Attributes: rule, action.
	DispatchActions metric.Int64Counter

	// SpeechDuration tracks spoken reply latency (synthesis plus playback).
	SpeechDuration metric.Float64Histogram

	// CommandRequests counts remote command requests. Attributes: command,
	// status ("ok", "error", "rejected").
	CommandRequests metric.Int64Counter

	// JournalErrors counts transcript journal write failures.
	JournalErrors metric.Int64Counter

	// --- Broadcast ---

	// BroadcastSubscribers tracks the number of connected subscribers.
	BroadcastSubscribers metric.Int64UpDownCounter

	// BroadcastSendFailures counts subscriber sends that failed and pruned
	// the subscriber.
	BroadcastSendFailures metric.Int64Counter

	// BroadcastDropped counts events dropped because the hub queue was full.
	BroadcastDropped metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, route.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// batch transcription and spoken replies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	counter := func(dst *metric.Int64Counter, name, desc string) {
		if err != nil {
			return
		}
		*dst, err = m.Int64Counter(name, metric.WithDescription(desc))
	}
	histogram := func(dst *metric.Float64Histogram, name, desc string) {
		if err != nil {
			return
		}
		*dst, err = m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	counter(&met.SegmentsFlushed, "livewhisper.segments.flushed", "Finished utterance segments by flush reason.")
	counter(&met.SegmentsDiscarded, "livewhisper.segments.discarded", "Segments discarded as shorter than the minimum duration.")
	counter(&met.SegmentsDropped, "livewhisper.segments.dropped", "Finished segments dropped because the hand-off queue was full.")
	histogram(&met.SegmentAudio, "livewhisper.segment.audio", "Audio length of flushed segments.")
	counter(&met.DeviceFaults, "livewhisper.capture.faults", "Capture callbacks reporting a device fault, by status.")
	histogram(&met.TranscriptionDuration, "livewhisper.transcription.duration", "Latency of transcription calls.")
	counter(&met.TranscriptionErrors, "livewhisper.transcription.errors", "Failed transcription calls.")
	counter(&met.DispatchActions, "livewhisper.dispatch.actions", "Fired dispatch rules by rule name and action.")
	histogram(&met.SpeechDuration, "livewhisper.speech.duration", "Latency of spoken replies including playback.")
	counter(&met.CommandRequests, "livewhisper.command.requests", "Remote command requests by command and status.")
	counter(&met.JournalErrors, "livewhisper.journal.errors", "Transcript journal write failures.")
	counter(&met.BroadcastSendFailures, "livewhisper.broadcast.send_failures", "Subscriber sends that failed.")
	counter(&met.BroadcastDropped, "livewhisper.broadcast.dropped", "Broadcast events dropped on a full queue.")
	if err != nil {
		return nil, err
	}

	if met.BroadcastSubscribers, err = m.Int64UpDownCounter("livewhisper.broadcast.subscribers",
		metric.WithDescription("Number of connected broadcast subscribers."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("livewhisper.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route pattern."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Call [InitProvider] before the
// first call so the instruments bind to the exporting provider. Panics if
// instrument creation fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSegmentFlushed records a finished segment and its audio length.
func (m *Metrics) RecordSegmentFlushed(ctx context.Context, reason string, audio time.Duration) {
	m.SegmentsFlushed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	m.SegmentAudio.Record(ctx, audio.Seconds())
}

// RecordDeviceFault records a capture stream fault.
func (m *Metrics) RecordDeviceFault(ctx context.Context, status string) {
	m.DeviceFaults.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordTranscription records a transcription call's latency and, on
// failure, increments the error counter.
func (m *Metrics) RecordTranscription(ctx context.Context, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.TranscriptionErrors.Add(ctx, 1)
	}
	m.TranscriptionDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordDispatch records a fired dispatch rule.
func (m *Metrics) RecordDispatch(ctx context.Context, rule, action string) {
	m.DispatchActions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("rule", rule),
			attribute.String("action", action),
		),
	)
}

// RecordCommand records a remote command request outcome.
func (m *Metrics) RecordCommand(ctx context.Context, command, status string) {
	m.CommandRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("command", command),
			attribute.String("status", status),
		),
	)
}
