// Package agent implements the Agent Registry & Activation Engine (spec
// §4.6): it holds AgentDefinitions and Reducers, subscribes each on the
// bus, and on a matching signal builds an activation context, evaluates
// the guard, resolves a provider (or replay cursor), and drives the
// activation to settlement — applying state updates and emitting declared
// signals in the order spec §4.6 requires.
package agent

import (
	"context"

	"github.com/flowsignal/flowsignal/provider"
	"github.com/flowsignal/flowsignal/signal"
)

type (
	// Definition is the unit the scheduler manages (spec §3's
	// AgentDefinition): a prompt template, the patterns that activate it,
	// its declared outbound signals, an optional guard, an optional
	// single-field state update, and an optional provider override.
	Definition struct {
		// Prompt is expanded against the ActivationContext via the
		// template package to build the provider's input.
		Prompt string
		// ActivateOn is the non-empty set of patterns that trigger this
		// agent.
		ActivateOn []string
		// Emits names the signals emitted on every successful
		// settlement, each with payload {agent, output} and Source.Parent
		// set to the activation's agent:activated ID.
		Emits []string
		// When is an optional guard evaluated against the
		// ActivationContext before the agent runs.
		When func(ActivationContext) bool
		// Updates, if non-empty, names the single state field this
		// agent's output overwrites on settlement.
		Updates string
		// Provider overrides the workflow's default provider for this
		// agent.
		Provider provider.Provider
	}

	// ActivationContext is built for each matching signal (spec §4.6
	// step 2) and is the sole input to guard evaluation and template
	// expansion.
	ActivationContext struct {
		Signal signal.Signal
		State  map[string]any
		Input  any
	}

	// Reducer mutates shared state in response to a matching signal (spec
	// §4.5, §6). It may emit further signals through emit; reducer
	// mutations do not auto-emit state-change signals.
	Reducer func(ctx context.Context, state map[string]any, sig signal.Signal, emit func(signal.Signal))

	// ReplaySource is the collaborator interface the Registry uses in
	// replay mode instead of invoking a live Provider (spec §4.4/§4.6
	// step 5). recording.Controller implements it.
	ReplaySource interface {
		Next(ctx context.Context, runID string) (provider.Output, error)
	}
)
