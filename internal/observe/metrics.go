// Package observe provides application-wide observability primitives for
// notescribe: OpenTelemetry metrics, distributed tracing, structured logging,
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all notescribe metrics.
const meterName = "github.com/MrWong99/notescribe"

// Metrics holds all OpenTelemetry metric instruments for the application.
// The underlying OTel types handle their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// NormalizeDuration tracks decoding, downmixing and resampling.
	NormalizeDuration metric.Float64Histogram

	// TranscodeDuration tracks the external ffmpeg conversion.
	TranscodeDuration metric.Float64Histogram

	// TranscribeDuration tracks model inference over a whole recording.
	TranscribeDuration metric.Float64Histogram

	// ModelLoadDuration tracks speech model initialisation, including
	// downloads.
	ModelLoadDuration metric.Float64Histogram

	// RecordingDuration tracks the length of finished recordings.
	RecordingDuration metric.Float64Histogram

	// --- Counters ---

	// Requests counts pipeline operations. Use with attributes:
	//   attribute.String("operation", ...), attribute.String("status", ...)
	Requests metric.Int64Counter

	// Errors counts failures. Use with attributes:
	//   attribute.String("operation", ...), attribute.String("kind", ...)
	Errors metric.Int64Counter

	// --- Gauges ---

	// ActiveRecordings tracks capture sessions between start and finalize.
	ActiveRecordings metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...), attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// stageBuckets defines histogram bucket boundaries (in seconds) for audio
// processing and inference, which run from milliseconds to minutes.
var stageBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// recordingBuckets covers recordings from a few seconds to an hour.
var recordingBuckets = []float64{
	5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst     *metric.Float64Histogram
		name    string
		desc    string
		buckets []float64
	}{
		{&met.NormalizeDuration, "notescribe.normalize.duration", "Latency of decoding and resampling input audio.", stageBuckets},
		{&met.TranscodeDuration, "notescribe.transcode.duration", "Latency of external ffmpeg transcoding.", stageBuckets},
		{&met.TranscribeDuration, "notescribe.transcribe.duration", "Latency of speech model inference per recording.", stageBuckets},
		{&met.ModelLoadDuration, "notescribe.model.load.duration", "Latency of loading the speech model.", stageBuckets},
		{&met.RecordingDuration, "notescribe.recording.duration", "Length of finished recordings.", recordingBuckets},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(h.buckets...),
		); err != nil {
			return nil, err
		}
	}

	if met.Requests, err = m.Int64Counter("notescribe.requests",
		metric.WithDescription("Total pipeline operations by operation and status."),
	); err != nil {
		return nil, err
	}
	if met.Errors, err = m.Int64Counter("notescribe.errors",
		metric.WithDescription("Total failures by operation and error kind."),
	); err != nil {
		return nil, err
	}
	if met.ActiveRecordings, err = m.Int64UpDownCounter("notescribe.active_recordings",
		metric.WithDescription("Number of capture sessions currently recording or finalizing."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("notescribe.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
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

// RecordRequest increments the request counter.
func (m *Metrics) RecordRequest(ctx context.Context, operation, status string) {
	m.Requests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(ctx context.Context, operation, kind string) {
	m.Errors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("kind", kind),
		),
	)
}
