// Package telemetry defines the runtime's ambient logging, metrics, and
// tracing surface, plus the Telemetry Aggregator that reduces a finished
// run's signal log into a single wide event.
//
// The Logger/Metrics/Tracer interfaces and their clue/OTEL-backed and no-op
// implementations are grounded on the teacher's runtime/agent/telemetry
// package: generic interfaces at this layer, concrete backends in
// clue.go and noop.go.
package telemetry

import (
	"context"
	"time"
)

type (
	// Logger emits structured log messages scoped to a workflow run. Each
	// method accepts alternating key/value pairs, following the teacher's
	// keyvals convention.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records counters and timers for runtime instrumentation.
	Metrics interface {
		// IncCounter increments a named counter by delta, with optional
		// label key/value pairs appended after the metric name.
		IncCounter(name string, delta float64, labels ...string)
		// RecordTimer records a duration sample for name.
		RecordTimer(name string, d time.Duration, labels ...string)
	}

	// Tracer creates spans for tracing workflow execution.
	Tracer interface {
		StartSpan(ctx context.Context, name string) (context.Context, Span)
	}

	// Span represents an in-flight trace span.
	Span interface {
		SetAttribute(key string, value any)
		RecordError(err error)
		End()
	}
)
