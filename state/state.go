// Package state implements the State Container (spec §4.5): a single
// mutable record, written either by declared agent "updates" (single-field
// overwrite) or by user reducers (arbitrary structured mutation), with
// agent writes emitting state:<field>:changed signals carrying causality
// back to the producing activation.
package state

import (
	"context"
	"fmt"
	"sync"

	"github.com/flowsignal/flowsignal/bus"
	"github.com/flowsignal/flowsignal/signal"
)

type (
	// Container owns the single mutable state record for a run. All
	// methods are safe for concurrent use; mutation is serialized internally
	// even though the scheduler's cooperative model means callers do not,
	// in practice, call Container methods concurrently with each other.
	Container struct {
		mu     sync.Mutex
		fields map[string]any
		bus    bus.Bus
	}

	// ChangedPayload is the payload carried by state:<field>:changed
	// signals.
	ChangedPayload struct {
		Key      string `json:"key"`
		OldValue any    `json:"oldValue"`
		NewValue any    `json:"newValue"`
		Agent    string `json:"agent"`
	}
)

// New constructs a Container seeded with a shallow copy of initial, so the
// run owns its own mutation and does not alias the caller's map. b is used
// to emit state:<field>:changed signals after successful agent writes.
func New(initial map[string]any, b bus.Bus) *Container {
	fields := make(map[string]any, len(initial))
	for k, v := range initial {
		fields[k] = v
	}
	return &Container{fields: fields, bus: b}
}

// Get returns a shallow copy of the current state record. Callers must not
// mutate nested reference values (slices, maps, pointers) found within it;
// only Container methods and reducers may mutate state.
func (c *Container) Get() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(c.fields))
	for k, v := range c.fields {
		out[k] = v
	}
	return out
}

// HasField reports whether field was present in the state the Container was
// constructed with (or has since been declared via a prior write).
func (c *Container) HasField(field string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.fields[field]
	return ok
}

// ApplyUpdate overwrites field with newValue and emits a
// state:<field>:changed signal carrying the old/new values and the
// producing agent, with Source.Parent set to activationID per spec §4.5.
//
// Per spec §9, writing an undeclared field is a configuration mistake
// workflow.Run rejects before the run starts (see agent.ValidateUpdates); by
// the time ApplyUpdate runs, field is assumed declared.
func (c *Container) ApplyUpdate(ctx context.Context, field string, newValue any, agentName, activationID string) {
	c.mu.Lock()
	old := c.fields[field]
	c.fields[field] = newValue
	c.mu.Unlock()

	c.bus.Emit(ctx, signal.New(
		fmt.Sprintf("state:%s:changed", field),
		ChangedPayload{Key: field, OldValue: old, NewValue: newValue, Agent: agentName},
		signal.Source{Agent: agentName, Parent: activationID},
	))
}

// Mutate grants a reducer direct, exclusive access to the mutable state map
// for the duration of fn. Reducer mutations do not automatically emit
// state-change signals (spec §4.5) — reducers emit explicitly through the
// bus when they need to signal downstream.
func (c *Container) Mutate(fn func(fields map[string]any)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.fields)
}
