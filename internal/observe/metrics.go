// Package observe provides application-wide observability primitives for
// Tacet: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Tacet metrics.
const meterName = "github.com/veskar/tacet"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Histograms ---

	// SegmentDuration tracks the length of detected speech segments.
	SegmentDuration metric.Float64Histogram

	// CalibrationDuration tracks how long calibration passes take to
	// complete, including those cut short by the timeout.
	CalibrationDuration metric.Float64Histogram

	// --- Counters ---

	// FramesProcessed counts audio frames run through detection. Use with
	// attribute: attribute.String("result", "voice"|"silence").
	FramesProcessed metric.Int64Counter

	// SpeechSegments counts completed speech segments per session.
	SpeechSegments metric.Int64Counter

	// CalibrationsCompleted counts calibration passes. Use with attribute:
	//   attribute.String("outcome", "completed"|"timeout"|"cancelled")
	CalibrationsCompleted metric.Int64Counter

	// DroppedEvents counts activity events discarded because a session's
	// event buffer was full.
	DroppedEvents metric.Int64Counter

	// PlaybackSuppressions counts frames whose voice onset was suppressed
	// while output playback was active.
	PlaybackSuppressions metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live detection sessions.
	ActiveSessions metric.Int64UpDownCounter

	// Threshold records the current detection threshold whenever a session
	// adopts a new one (calibration, manual set, or profile restore).
	Threshold metric.Float64Gauge

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// segmentBuckets defines histogram bucket boundaries (in seconds) sized for
// conversational speech segments and calibration passes.
var segmentBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 20, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SegmentDuration, err = m.Float64Histogram("tacet.segment.duration",
		metric.WithDescription("Duration of detected speech segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(segmentBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CalibrationDuration, err = m.Float64Histogram("tacet.calibration.duration",
		metric.WithDescription("Time taken by ambient noise calibration passes."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(segmentBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesProcessed, err = m.Int64Counter("tacet.frames.processed",
		metric.WithDescription("Total audio frames run through detection, by result."),
	); err != nil {
		return nil, err
	}
	if met.SpeechSegments, err = m.Int64Counter("tacet.speech.segments",
		metric.WithDescription("Total completed speech segments."),
	); err != nil {
		return nil, err
	}
	if met.CalibrationsCompleted, err = m.Int64Counter("tacet.calibrations",
		metric.WithDescription("Total calibration passes by outcome."),
	); err != nil {
		return nil, err
	}
	if met.DroppedEvents, err = m.Int64Counter("tacet.events.dropped",
		metric.WithDescription("Activity events discarded due to a full session event buffer."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackSuppressions, err = m.Int64Counter("tacet.playback.suppressions",
		metric.WithDescription("Voice onsets suppressed while output playback was active."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("tacet.active_sessions",
		metric.WithDescription("Number of live detection sessions."),
	); err != nil {
		return nil, err
	}
	if met.Threshold, err = m.Float64Gauge("tacet.threshold",
		metric.WithDescription("Detection threshold currently in effect, by source."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("tacet.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// RecordFrame records a processed frame with its detection result.
func (m *Metrics) RecordFrame(ctx context.Context, voice bool) {
	result := "silence"
	if voice {
		result = "voice"
	}
	m.FramesProcessed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)),
	)
}

// RecordSegment records a completed speech segment and its duration.
func (m *Metrics) RecordSegment(ctx context.Context, seconds float64) {
	m.SpeechSegments.Add(ctx, 1)
	m.SegmentDuration.Record(ctx, seconds)
}

// RecordThreshold records the detection threshold a session just adopted.
// Source identifies where the value came from: "calibration", "manual" or
// "profile".
func (m *Metrics) RecordThreshold(ctx context.Context, source string, threshold float64) {
	m.Threshold.Record(ctx, threshold,
		metric.WithAttributes(attribute.String("source", source)),
	)
}

// RecordCalibration records a finished calibration pass with its outcome and
// duration.
func (m *Metrics) RecordCalibration(ctx context.Context, outcome string, seconds float64) {
	m.CalibrationsCompleted.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
	m.CalibrationDuration.Record(ctx, seconds)
}
