// Package signal defines the universal event type routed by the runtime's
// bus, store, and scheduler. A Signal is immutable once emitted: ownership
// passes exclusively to the bus history, and no field may be mutated by a
// subscriber after delivery.
package signal

import (
	"time"

	"github.com/google/uuid"
)

type (
	// Signal is the universal event exchanged between producers (agents,
	// reducers, external emitters) and subscribers (agents, reducers, the
	// recording controller, telemetry).
	Signal struct {
		// ID uniquely identifies this signal within the process. Opaque,
		// assigned at construction time via New.
		ID string
		// Name is a colon-segmented string such as "agent:activated" or
		// "task:complete". Matched against subscriber patterns.
		Name string
		// Payload carries arbitrary structured data describing the event.
		// Interpretation is owned by the producer/consumer pair, not the bus.
		Payload any
		// Timestamp records when the signal was constructed, in UTC.
		Timestamp time.Time
		// Source records causality: which agent, provider, or reducer
		// produced the signal, and which earlier signal (if any) it is a
		// reaction to.
		Source Source
	}

	// Source records causality metadata for a Signal. All fields are
	// optional; a Signal with a zero Source has no recorded causality
	// (typically true only of workflow:start).
	Source struct {
		// Agent is the name of the agent that produced the signal, if any.
		Agent string
		// Provider is the name/kind of the LLM provider that produced the
		// signal, set for provider-originated signals (provider:*, text:*,
		// tool:*, thinking:*).
		Provider string
		// Reducer is the pattern under which the producing reducer was
		// registered, if the signal was emitted from within a reducer.
		Reducer string
		// Parent is the ID of the earlier-emitted signal this signal is a
		// reaction to. Empty when the signal has no recorded parent.
		Parent string
	}
)

// New constructs a Signal with a freshly generated ID and the current
// timestamp. Name must be a non-empty colon-segmented string; New does not
// validate this, callers are expected to use well-formed names (see
// signal.Pattern for the matching grammar).
func New(name string, payload any, source Source) Signal {
	return Signal{
		ID:        uuid.NewString(),
		Name:      name,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		Source:    source,
	}
}

// WithParent returns a copy of source with Parent set to parentID. Agents and
// reducers use this to chain causality when emitting signals in reaction to a
// trigger.
func WithParent(source Source, parentID string) Source {
	source.Parent = parentID
	return source
}
