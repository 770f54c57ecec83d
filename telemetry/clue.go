package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"
)

type (
	// clueLogger delegates to goa.design/clue/log, reading formatting and
	// debug settings from the context as clue itself does.
	clueLogger struct{}

	// otelMetrics delegates counters and timers to an OTEL meter.
	otelMetrics struct {
		meter    metric.Meter
		counters map[string]metric.Float64Counter
		timers   map[string]metric.Float64Histogram
	}

	// otelTracer delegates span creation to an OTEL tracer.
	otelTracer struct {
		tracer trace.Tracer
	}

	otelSpan struct {
		span trace.Span
	}
)

// NewClueLogger constructs a Logger backed by goa.design/clue/log.
func NewClueLogger() Logger { return clueLogger{} }

// NewOTELMetrics constructs a Metrics recorder backed by the global OTEL
// MeterProvider, scoped under the given instrumentation name.
func NewOTELMetrics(scope string) Metrics {
	return &otelMetrics{
		meter:    otel.Meter(scope),
		counters: make(map[string]metric.Float64Counter),
		timers:   make(map[string]metric.Float64Histogram),
	}
}

// NewOTELTracer constructs a Tracer backed by the global OTEL
// TracerProvider, scoped under the given instrumentation name.
func NewOTELTracer(scope string) Tracer {
	return &otelTracer{tracer: otel.Tracer(scope)}
}

func (clueLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, fielders(msg, keyvals)...)
}

func (clueLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, fielders(msg, keyvals)...)
}

func (clueLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	log.Warn(ctx, fielders(msg, keyvals)...)
}

func (clueLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	log.Error(ctx, nil, fielders(msg, keyvals)...)
}

func fielders(msg string, keyvals []any) []log.Fielder {
	fields := make([]log.Fielder, 0, len(keyvals)/2+1)
	fields = append(fields, log.KV{K: "msg", V: msg})
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, _ := keyvals[i].(string)
		fields = append(fields, log.KV{K: key, V: keyvals[i+1]})
	}
	return fields
}

func (m *otelMetrics) IncCounter(name string, delta float64, labels ...string) {
	c, ok := m.counters[name]
	if !ok {
		var err error
		c, err = m.meter.Float64Counter(name)
		if err != nil {
			return
		}
		m.counters[name] = c
	}
	c.Add(context.Background(), delta, metric.WithAttributes(toAttrs(labels)...))
}

func (m *otelMetrics) RecordTimer(name string, d time.Duration, labels ...string) {
	h, ok := m.timers[name]
	if !ok {
		var err error
		h, err = m.meter.Float64Histogram(name, metric.WithUnit("ms"))
		if err != nil {
			return
		}
		m.timers[name] = h
	}
	h.Record(context.Background(), float64(d.Milliseconds()), metric.WithAttributes(toAttrs(labels)...))
}

func toAttrs(labels []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		attrs = append(attrs, attribute.String(labels[i], labels[i+1]))
	}
	return attrs
}

func (t *otelTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

func (s *otelSpan) SetAttribute(key string, value any) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, toString(v)))
	}
}

func (s *otelSpan) RecordError(err error) {
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

func (s *otelSpan) End() { s.span.End() }

func toString(v any) string {
	type stringer interface{ String() string }
	if s, ok := v.(stringer); ok {
		return s.String()
	}
	return ""
}
