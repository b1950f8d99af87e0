package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type (
	// OtelLogger emits log messages as span events on the active span; when
	// ctx carries no recording span the message is dropped, and nothing is
	// written anywhere else. It exists so components can log without depending
	// on a particular structured-logging backend; swap in a real logger
	// adapter for production use.
	OtelLogger struct{}

	// OtelMetrics records counters, timers, and gauges through the global
	// OTEL MeterProvider. Configure the provider (otel.SetMeterProvider)
	// before constructing instruments.
	OtelMetrics struct {
		meter    metric.Meter
		counters map[string]metric.Float64Counter
		gauges   map[string]metric.Float64Gauge
	}

	// OtelTracer creates spans through the global OTEL TracerProvider.
	OtelTracer struct {
		tracer trace.Tracer
	}

	otelSpan struct {
		span trace.Span
	}
)

// NewOtelLogger returns a Logger that annotates the active span with events.
func NewOtelLogger() Logger { return OtelLogger{} }

// NewOtelMetrics returns a Metrics recorder backed by the global OTEL meter
// named "goa.design/taskorchestrator".
func NewOtelMetrics() Metrics {
	return &OtelMetrics{
		meter:    otel.Meter("goa.design/taskorchestrator"),
		counters: make(map[string]metric.Float64Counter),
		gauges:   make(map[string]metric.Float64Gauge),
	}
}

// NewOtelTracer returns a Tracer backed by the global OTEL tracer named
// "goa.design/taskorchestrator".
func NewOtelTracer() Tracer {
	return &OtelTracer{tracer: otel.Tracer("goa.design/taskorchestrator")}
}

func (OtelLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	annotate(ctx, "debug", msg, keyvals)
}
func (OtelLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	annotate(ctx, "info", msg, keyvals)
}
func (OtelLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	annotate(ctx, "warn", msg, keyvals)
}
func (OtelLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	annotate(ctx, "error", msg, keyvals)
}

func annotate(ctx context.Context, level, msg string, keyvals []any) {
	span := trace.SpanFromContext(ctx)
	attrs := []attribute.KeyValue{attribute.String("level", level), attribute.String("msg", msg)}
	for i := 0; i+1 < len(keyvals); i += 2 {
		k := fmt.Sprint(keyvals[i])
		attrs = append(attrs, attribute.String(k, fmt.Sprint(keyvals[i+1])))
	}
	span.AddEvent("log", trace.WithAttributes(attrs...))
}

func (m *OtelMetrics) IncCounter(name string, value float64, labels ...string) {
	c, ok := m.counters[name]
	if !ok {
		var err error
		c, err = m.meter.Float64Counter(name)
		if err != nil {
			return
		}
		m.counters[name] = c
	}
	c.Add(context.Background(), value, metric.WithAttributes(labelAttrs(labels)...))
}

func (m *OtelMetrics) RecordTimer(name string, d time.Duration, labels ...string) {
	m.RecordGauge(name+".seconds", d.Seconds(), labels...)
}

func (m *OtelMetrics) RecordGauge(name string, value float64, labels ...string) {
	g, ok := m.gauges[name]
	if !ok {
		var err error
		g, err = m.meter.Float64Gauge(name)
		if err != nil {
			return
		}
		m.gauges[name] = g
	}
	g.Record(context.Background(), value, metric.WithAttributes(labelAttrs(labels)...))
}

func labelAttrs(labels []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		attrs = append(attrs, attribute.String(labels[i], labels[i+1]))
	}
	return attrs
}

func (t *OtelTracer) Start(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) AddEvent(name string, keyvals ...any) {
	attrs := make([]attribute.KeyValue, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		attrs = append(attrs, attribute.String(fmt.Sprint(keyvals[i]), fmt.Sprint(keyvals[i+1])))
	}
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

func (s *otelSpan) SetError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}
