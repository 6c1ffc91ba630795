package action

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/Olympe-Studio/ferndev/internal/action"

var tracer = otel.Tracer(instrumentationName)

type callMetrics struct {
	calls metric.Int64Counter
}

func newCallMetrics(logger *zap.Logger) *callMetrics {
	meter := otel.GetMeterProvider().Meter(instrumentationName)
	calls, err := meter.Int64Counter(
		"fern.action.calls",
		metric.WithDescription("Count of action calls by action and outcome"),
	)
	if err != nil {
		logger.Warn("action call counter unavailable", zap.Error(err))
		return &callMetrics{}
	}
	return &callMetrics{calls: calls}
}

func (m *callMetrics) record(ctx context.Context, name string, res Result) {
	if m == nil || m.calls == nil {
		return
	}
	m.calls.Add(ctx, 1, metric.WithAttributes(outcomeAttributes(name, res)...))
}

func startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "fern.action "+name, trace.WithSpanKind(trace.SpanKindClient))
}

func endSpan(span trace.Span, name string, res Result) {
	span.SetAttributes(outcomeAttributes(name, res)...)
	if !res.OK() && res.Error != nil {
		span.SetAttributes(attribute.Int("http.response.status_code", res.Error.Status))
		span.SetStatus(codes.Error, res.Error.Message)
	}
}

func outcomeAttributes(name string, res Result) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("fern.action", name),
		attribute.String("fern.action.status", string(res.Status)),
	}
	if res.Error != nil && res.Error.Kind != "" {
		attrs = append(attrs, attribute.String("fern.action.error_kind", string(res.Error.Kind)))
	}
	return attrs
}
