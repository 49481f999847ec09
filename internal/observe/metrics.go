// Package observe provides the game's observability primitives: OpenTelemetry
// metrics with a Prometheus exporter bridge and tracing helpers for the
// dialogue pipeline.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution. A nil *Metrics is
// valid and records nothing, so unit tests can skip the setup entirely.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/soramame-games/stationtalk"

// Metrics holds all OpenTelemetry metric instruments for the dialogue
// pipeline. All fields are safe for concurrent use.
type Metrics struct {
	// StageDuration tracks per-stage latency. Attributes:
	//   stage = capture | asr | npc | tts | playback
	//   status = ok | error | cancelled
	StageDuration metric.Float64Histogram

	// Turns counts completed conversation turns. Attributes:
	//   npc_id, mode = text | voice, outcome = ok | failed | cancelled
	Turns metric.Int64Counter

	// FallbackReplies counts turns answered with an NPC's configured
	// fallback line because the dialogue service failed. Attribute: npc_id.
	FallbackReplies metric.Int64Counter

	// ActiveConversations tracks the number of sessions outside idle.
	// With single-slot ownership this is 0 or 1.
	ActiveConversations metric.Int64UpDownCounter
}

// latencyBuckets covers the dialogue pipeline's latency range (capture is
// seconds, network stages are tens of milliseconds to seconds).
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StageDuration, err = m.Float64Histogram("stationtalk.stage.duration",
		metric.WithDescription("Latency of one dialogue pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("stationtalk.turns",
		metric.WithDescription("Completed conversation turns by NPC, mode, and outcome."),
	); err != nil {
		return nil, err
	}
	if met.FallbackReplies, err = m.Int64Counter("stationtalk.fallback_replies",
		metric.WithDescription("Turns answered with the locally configured fallback line."),
	); err != nil {
		return nil, err
	}
	if met.ActiveConversations, err = m.Int64UpDownCounter("stationtalk.active_conversations",
		metric.WithDescription("Number of dialogue sessions outside the idle state."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics], created on first call
// from [otel.GetMeterProvider]. Panics if instrument creation fails, which
// cannot happen with the global provider.
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

// RecordStage records one pipeline stage's duration and status.
func (m *Metrics) RecordStage(ctx context.Context, stage string, start time.Time, status string) {
	if m == nil {
		return
	}
	m.StageDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("status", status),
		),
	)
}

// RecordTurn records one finished turn.
func (m *Metrics) RecordTurn(ctx context.Context, npcID, mode, outcome string) {
	if m == nil {
		return
	}
	m.Turns.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("npc_id", npcID),
			attribute.String("mode", mode),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordFallbackReply records a turn answered with the configured fallback
// line.
func (m *Metrics) RecordFallbackReply(ctx context.Context, npcID string) {
	if m == nil {
		return
	}
	m.FallbackReplies.Add(ctx, 1,
		metric.WithAttributes(attribute.String("npc_id", npcID)),
	)
}

// ConversationStarted / ConversationEnded move the active-conversations
// gauge.
func (m *Metrics) ConversationStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveConversations.Add(ctx, 1)
}

func (m *Metrics) ConversationEnded(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveConversations.Add(ctx, -1)
}
