// Package telemetry wraps the engine and bus's OpenTelemetry tracing and
// metrics behind a small typed surface, grounded verbatim on the teacher's
// internal/lattice/telemetry.go (a Telemetry struct holding a tracer, a
// meter, and named counters/histograms, with Start*Span/End*Span pairs
// around each traced operation).
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "orchestra.engine"

// Telemetry holds the tracer/meter pair and the counters named in
// SPEC_FULL.md §4.2 ("counters for gate pass/fail/escalate").
type Telemetry struct {
	tracer trace.Tracer

	engineOperations   metric.Int64Counter
	operationDuration  metric.Float64Histogram
	gateOutcomes       metric.Int64Counter
	dispatchOutcomes   metric.Int64Counter
	busRequests        metric.Int64Counter
	busRequestDuration metric.Float64Histogram
	errorCounter       metric.Int64Counter
}

// New constructs a Telemetry using the global otel providers, which the
// caller is responsible for configuring (or leaving as the default no-op
// implementation when tracing isn't wired up).
func New() *Telemetry {
	tracer := otel.Tracer(tracerName)
	meter := otel.Meter(tracerName)

	t := &Telemetry{tracer: tracer}

	t.engineOperations, _ = meter.Int64Counter("orchestra.engine.operations",
		metric.WithDescription("Number of engine operations (start/submitEvidence/dispatch/override)"))

	t.operationDuration, _ = meter.Float64Histogram("orchestra.engine.operation.duration_ms",
		metric.WithDescription("Duration of engine operations in milliseconds"))

	t.gateOutcomes, _ = meter.Int64Counter("orchestra.engine.gate.outcomes",
		metric.WithDescription("Gate evaluation outcomes: pass, fail, escalate"))

	t.dispatchOutcomes, _ = meter.Int64Counter("orchestra.engine.dispatch.outcomes",
		metric.WithDescription("dispatchCurrentState outcomes by state kind"))

	t.busRequests, _ = meter.Int64Counter("orchestra.bus.requests",
		metric.WithDescription("Number of bus HTTP requests handled"))

	t.busRequestDuration, _ = meter.Float64Histogram("orchestra.bus.request.duration_ms",
		metric.WithDescription("Duration of bus HTTP requests in milliseconds"))

	t.errorCounter, _ = meter.Int64Counter("orchestra.errors",
		metric.WithDescription("Number of errors by component"))

	return t
}

// StartOperationSpan begins a span for one of the engine's four traced
// entrypoints (start, submitEvidence, dispatchCurrentState, override).
func (t *Telemetry) StartOperationSpan(ctx context.Context, operation, workflowID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "engine."+operation,
		trace.WithAttributes(
			attribute.String("orchestra.operation", operation),
			attribute.String("orchestra.workflow_id", workflowID),
		))
}

// EndOperationSpan closes an operation span, recording duration and error
// status, and increments the operations counter.
func (t *Telemetry) EndOperationSpan(span trace.Span, operation string, start time.Time, err error) {
	durationMs := float64(time.Since(start).Milliseconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.errorCounter.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("component", "engine"),
			attribute.String("operation", operation),
		))
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.SetAttributes(attribute.Float64("orchestra.duration_ms", durationMs))
	t.engineOperations.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("operation", operation),
	))
	t.operationDuration.Record(context.Background(), durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))

	span.End()
}

// RecordGateOutcome increments the gate pass/fail/escalate counter, per
// SPEC_FULL.md §4.2.
func (t *Telemetry) RecordGateOutcome(outcome string) {
	t.gateOutcomes.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

// RecordDispatchOutcome increments the dispatch counter by state kind.
func (t *Telemetry) RecordDispatchOutcome(stateKind string) {
	t.dispatchOutcomes.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("state_kind", stateKind),
	))
}

// StartBusRequestSpan begins a span for one bus HTTP handler invocation.
func (t *Telemetry) StartBusRequestSpan(ctx context.Context, route string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "bus."+route,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("orchestra.route", route)))
}

// EndBusRequestSpan closes a bus request span and records its metrics.
func (t *Telemetry) EndBusRequestSpan(span trace.Span, route string, start time.Time, err error) {
	durationMs := float64(time.Since(start).Milliseconds())
	status := "success"
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		status = "error"
		t.errorCounter.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("component", "bus"),
			attribute.String("route", route),
		))
	} else {
		span.SetStatus(codes.Ok, "")
	}

	t.busRequests.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("route", route),
		attribute.String("status", status),
	))
	t.busRequestDuration.Record(context.Background(), durationMs, metric.WithAttributes(
		attribute.String("route", route),
	))

	span.End()
}
