package emit

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter turns each event into a point-in-time OpenTelemetry span,
// tagged with the run/step identifiers needed to correlate a trace back to
// a ledger entry.
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an OTelEmitter from an existing tracer, typically
// otel.Tracer("daokit").
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

func (o *OTelEmitter) Emit(event Event) {
	ctx := context.Background()
	_, span := o.tracer.Start(ctx, event.Kind)
	defer span.End()
	o.annotate(span, event)
}

func (o *OTelEmitter) EmitBatch(ctx context.Context, events []Event) error {
	for _, event := range events {
		_, span := o.tracer.Start(ctx, event.Kind)
		o.annotate(span, event)
		span.End()
	}
	return nil
}

func (o *OTelEmitter) annotate(span trace.Span, event Event) {
	span.SetAttributes(
		attribute.String("daokit.task_id", event.TaskID),
		attribute.String("daokit.run_id", event.RunID),
		attribute.Int64("daokit.event_id", event.EventID),
	)
	if event.StepID != "" {
		span.SetAttributes(attribute.String("daokit.step_id", event.StepID))
	}
	for key, value := range event.Payload {
		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String("daokit."+key, v))
		case int:
			span.SetAttributes(attribute.Int("daokit."+key, v))
		case int64:
			span.SetAttributes(attribute.Int64("daokit."+key, v))
		case float64:
			span.SetAttributes(attribute.Float64("daokit."+key, v))
		case bool:
			span.SetAttributes(attribute.Bool("daokit."+key, v))
		default:
			span.SetAttributes(attribute.String("daokit."+key, fmt.Sprintf("%v", v)))
		}
	}
	if reason, ok := event.Payload["reason_code"].(string); ok && event.Kind == "step_rejected" {
		span.SetStatus(codes.Error, reason)
	}
}

func (o *OTelEmitter) Flush(ctx context.Context) error {
	tp := otel.GetTracerProvider()
	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := tp.(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}
