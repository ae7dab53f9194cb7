package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// BusinessTracer provides span helpers for the market's domain operations:
// ensemble computation, ground-truth scoring and lifecycle broadcasts. It
// rides the global tracer, so every call is a no-op until Init installs a
// provider.
type BusinessTracer struct{}

// NewBusinessTracer creates a new instance of BusinessTracer.
func NewBusinessTracer() *BusinessTracer {
	return &BusinessTracer{}
}

// TraceEnsembleComputation starts a span around one challenge's ensemble
// run.
func (bt *BusinessTracer) TraceEnsembleComputation(ctx context.Context, challengeID, strategy string) (context.Context, trace.Span) {
	ctx, span := Tracer().Start(ctx, "ensemble_computation")
	span.SetAttributes(
		attribute.String("market.challenge_id", challengeID),
		attribute.String("ensemble.strategy", strategy),
	)
	return ctx, span
}

// EnsembleOutcome summarizes what one ensemble computation produced.
type EnsembleOutcome struct {
	Available   int
	Unavailable int
	Elapsed     time.Duration
}

// RecordEnsembleOutcome adds the computation summary to an ensemble span.
// Unavailable quantiles are a domain state, not a span failure.
func (bt *BusinessTracer) RecordEnsembleOutcome(span trace.Span, outcome EnsembleOutcome) {
	span.SetAttributes(
		attribute.Int("ensemble.available", outcome.Available),
		attribute.Int("ensemble.unavailable", outcome.Unavailable),
		attribute.Int64("ensemble.elapsed_ms", outcome.Elapsed.Milliseconds()),
	)
}

// TraceScoring starts a span around one challenge's ground-truth scoring.
func (bt *BusinessTracer) TraceScoring(ctx context.Context, challengeID string) (context.Context, trace.Span) {
	ctx, span := Tracer().Start(ctx, "challenge_scoring")
	span.SetAttributes(attribute.String("market.challenge_id", challengeID))
	return ctx, span
}

// ScoringMetrics summarizes one written score batch.
type ScoringMetrics struct {
	BatchID string
	Records int
	Elapsed time.Duration
}

// RecordScoringMetrics adds the batch summary to a scoring span.
func (bt *BusinessTracer) RecordScoringMetrics(span trace.Span, metrics ScoringMetrics) {
	span.SetAttributes(
		attribute.String("scoring.batch_id", metrics.BatchID),
		attribute.Int("scoring.records", metrics.Records),
		attribute.Int64("scoring.elapsed_ms", metrics.Elapsed.Milliseconds()),
	)
}

// TraceNotification starts a span for one lifecycle broadcast.
func (bt *BusinessTracer) TraceNotification(ctx context.Context, event, channel string) (context.Context, trace.Span) {
	ctx, span := Tracer().Start(ctx, "notification")
	span.SetAttributes(
		attribute.String("notification.event", event),
		attribute.String("notification.channel", channel),
	)
	return ctx, span
}

// RecordNotificationResult records the delivery outcome on a broadcast
// span. Only a whole-broadcast failure marks the span failed; individual
// recipients missing out is visible from sent < recipients.
func (bt *BusinessTracer) RecordNotificationResult(span trace.Span, sent, recipients int, err error) {
	span.SetAttributes(
		attribute.Int("notification.sent", sent),
		attribute.Int("notification.recipients", recipients),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "broadcast failed")
	}
}
