// Package observe provides application-wide observability primitives for
// Drizzle: OpenTelemetry metrics plus the Prometheus exporter bridge that
// backs the /metrics endpoint.
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

// meterName is the instrumentation scope name used for all Drizzle metrics.
const meterName = "github.com/drizzlebot/drizzle"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// AcquireDuration tracks how long it takes to produce a playable asset.
	// Use with attribute: attribute.String("stage", "download"|"mix")
	AcquireDuration metric.Float64Histogram

	// CacheLookups counts asset cache lookups. Use with attributes:
	//   attribute.String("variant", "plain"|"rain"), attribute.String("result", "hit"|"miss")
	CacheLookups metric.Int64Counter

	// AcquireErrors counts failed acquisitions by pipeline stage.
	AcquireErrors metric.Int64Counter

	// TracksEnqueued counts tracks added to playback queues. Use with
	// attribute: attribute.String("origin", "url"|"search")
	TracksEnqueued metric.Int64Counter

	// CommandInvocations counts slash command handling. Use with attributes:
	//   attribute.String("command", ...), attribute.String("status", "ok"|"error")
	CommandInvocations metric.Int64Counter

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time on the ops
	// endpoints. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// acquireBuckets defines histogram bucket boundaries (in seconds) sized for
// subprocess pipelines that download and transcode whole tracks.
var acquireBuckets = []float64{
	0.5, 1, 2.5, 5, 10, 20, 40, 80, 160,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.AcquireDuration, err = m.Float64Histogram("drizzle.acquire.duration",
		metric.WithDescription("Latency of asset acquisition by pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(acquireBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("drizzle.cache.lookups",
		metric.WithDescription("Total asset cache lookups by variant and result."),
	); err != nil {
		return nil, err
	}
	if met.AcquireErrors, err = m.Int64Counter("drizzle.acquire.errors",
		metric.WithDescription("Total failed acquisitions by pipeline stage."),
	); err != nil {
		return nil, err
	}
	if met.TracksEnqueued, err = m.Int64Counter("drizzle.tracks.enqueued",
		metric.WithDescription("Total tracks added to playback queues by origin."),
	); err != nil {
		return nil, err
	}
	if met.CommandInvocations, err = m.Int64Counter("drizzle.commands.invocations",
		metric.WithDescription("Total slash command invocations by command and status."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("drizzle.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("drizzle.http.request.duration",
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

// RecordCacheLookup records a cache lookup counter increment with the
// standard attribute set.
func (m *Metrics) RecordCacheLookup(ctx context.Context, variant string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("variant", variant),
			attribute.String("result", result),
		),
	)
}

// RecordAcquire records a completed acquisition stage: its duration, and an
// error counter increment when it failed.
func (m *Metrics) RecordAcquire(ctx context.Context, stage string, seconds float64, err error) {
	m.AcquireDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
	if err != nil {
		m.AcquireErrors.Add(ctx, 1,
			metric.WithAttributes(attribute.String("stage", stage)),
		)
	}
}

// RecordCommand records a slash command invocation with its outcome.
func (m *Metrics) RecordCommand(ctx context.Context, command string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.CommandInvocations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("command", command),
			attribute.String("status", status),
		),
	)
}
