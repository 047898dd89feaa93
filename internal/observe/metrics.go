// Package observe provides application-wide observability primitives for
// Skald: OpenTelemetry metrics, structured logging middleware, and the
// operational HTTP server that exposes them.
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

// meterName is the instrumentation scope name used for all Skald metrics.
const meterName = "github.com/mwinther/skald"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TranscriptionDuration tracks speech-to-text transcription latency.
	TranscriptionDuration metric.Float64Histogram

	// ReplyDuration tracks reply generation latency.
	ReplyDuration metric.Float64Histogram

	// SynthesisDuration tracks text-to-speech synthesis latency.
	SynthesisDuration metric.Float64Histogram

	// --- Counters ---

	// Utterances counts finalized speech utterances handed to the
	// transcription stage. Use with attribute:
	//   Attr("guild_id", ...)
	Utterances metric.Int64Counter

	// AnalyzerRejections counts buffers the audio analyzer classified as
	// non-speech. Use with attribute:
	//   Attr("reason", ...)
	AnalyzerRejections metric.Int64Counter

	// Transcriptions counts transcription API calls. Use with attributes:
	//   Attr("model", ...), Attr("status", ...)
	Transcriptions metric.Int64Counter

	// ValidationRejections counts transcripts rejected by post-transcription
	// validation. Use with attribute:
	//   Attr("reason", ...)
	ValidationRejections metric.Int64Counter

	// Replies counts spoken replies played back into voice channels. Use
	// with attribute:
	//   Attr("guild_id", ...)
	Replies metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   Attr("method", ...), Attr("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscriptionDuration, err = m.Float64Histogram("skald.transcription.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ReplyDuration, err = m.Float64Histogram("skald.reply.duration",
		metric.WithDescription("Latency of reply generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("skald.synthesis.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Utterances, err = m.Int64Counter("skald.utterances.finalized",
		metric.WithDescription("Total finalized speech utterances by guild."),
	); err != nil {
		return nil, err
	}
	if met.AnalyzerRejections, err = m.Int64Counter("skald.analyzer.rejections",
		metric.WithDescription("Total buffers classified as non-speech by reason."),
	); err != nil {
		return nil, err
	}
	if met.Transcriptions, err = m.Int64Counter("skald.transcriptions",
		metric.WithDescription("Total transcription API calls by model and status."),
	); err != nil {
		return nil, err
	}
	if met.ValidationRejections, err = m.Int64Counter("skald.validation.rejections",
		metric.WithDescription("Total transcripts rejected by validation by reason."),
	); err != nil {
		return nil, err
	}
	if met.Replies, err = m.Int64Counter("skald.replies",
		metric.WithDescription("Total spoken replies played back by guild."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("skald.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("skald.http.request.duration",
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

// RecordUtterance records a finalized utterance counter increment.
func (m *Metrics) RecordUtterance(ctx context.Context, guildID string) {
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(Attr("guild_id", guildID)),
	)
}

// RecordAnalyzerRejection records a non-speech classification with the
// analyzer's reason string.
func (m *Metrics) RecordAnalyzerRejection(ctx context.Context, reason string) {
	m.AnalyzerRejections.Add(ctx, 1,
		metric.WithAttributes(Attr("reason", reason)),
	)
}

// RecordTranscription records a transcription API call counter increment
// with the standard attribute set.
func (m *Metrics) RecordTranscription(ctx context.Context, model, status string) {
	m.Transcriptions.Add(ctx, 1,
		metric.WithAttributes(
			Attr("model", model),
			Attr("status", status),
		),
	)
}

// RecordValidationRejection records a rejected transcript with the
// validation reason.
func (m *Metrics) RecordValidationRejection(ctx context.Context, reason string) {
	m.ValidationRejections.Add(ctx, 1,
		metric.WithAttributes(Attr("reason", reason)),
	)
}

// RecordReply records a spoken reply counter increment.
func (m *Metrics) RecordReply(ctx context.Context, guildID string) {
	m.Replies.Add(ctx, 1,
		metric.WithAttributes(Attr("guild_id", guildID)),
	)
}
