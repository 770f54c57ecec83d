package agent

import (
	"context"
	"fmt"

	"github.com/flowsignal/flowsignal/bus"
	"github.com/flowsignal/flowsignal/provider"
	"github.com/flowsignal/flowsignal/rterrors"
	"github.com/flowsignal/flowsignal/signal"
	"github.com/flowsignal/flowsignal/state"
	"github.com/flowsignal/flowsignal/telemetry"
	"github.com/flowsignal/flowsignal/template"
)

// Mode selects how activations resolve their output: by invoking a live
// provider, by invoking a live provider while also being recorded, or by
// replaying a prior recording's provider subsequences.
type Mode int

const (
	ModeLive Mode = iota
	ModeRecord
	ModeReplay
)

// Registry holds a run's agent definitions and drives their activation
// lifecycle (spec §4.6). It is constructed once per run by the workflow
// package and subscribed onto the run's Bus.
type Registry struct {
	bus             bus.Bus
	state           *state.Container
	tracker         *Tracker
	defaultProvider provider.Provider
	replay          ReplaySource
	mode            Mode
	runID           string
	input           any
	logger          telemetry.Logger

	// Terminated reports whether the run has entered its terminating
	// phase; new activations short-circuit to agent:skipped when true.
	Terminated func() bool
	// OnStateChanged is invoked after every successful ApplyUpdate, so the
	// scheduler can evaluate endWhen in the ordering spec §4.6/§4.7
	// require (after the write, before further activations start).
	OnStateChanged func(fields map[string]any)
	// OnFatal is invoked for errors that must terminate the run:
	// NoProviderError (synchronous, activation setup) and ProviderError
	// (after agent:failed has been emitted).
	OnFatal func(error)

	subs []bus.Subscription
}

// New constructs a Registry. tracker, b, and st must outlive the
// Registry; mode/replay/defaultProvider select how activations are
// resolved per spec §4.4/§4.6 step 5.
func New(b bus.Bus, st *state.Container, tracker *Tracker, defaultProvider provider.Provider, mode Mode, replay ReplaySource, runID string, input any, logger telemetry.Logger) *Registry {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Registry{
		bus:             b,
		state:           st,
		tracker:         tracker,
		defaultProvider: defaultProvider,
		replay:          replay,
		mode:            mode,
		runID:           runID,
		input:           input,
		logger:          logger,
		Terminated:      func() bool { return false },
	}
}

// Register subscribes name's agent definition onto the bus. Subsequent
// matching signals trigger activations per spec §4.6.
func (r *Registry) Register(name string, def Definition) {
	sub := r.bus.Subscribe(def.ActivateOn, bus.HandlerFunc(func(ctx context.Context, trigger signal.Signal) {
		r.tracker.Add()
		go func() {
			defer r.tracker.Done()
			r.activate(ctx, name, def, trigger)
		}()
	}))
	r.subs = append(r.subs, sub)
}

// RegisterReducer subscribes reducer under pattern. Per spec §4.5/§6,
// reducers run synchronously within the triggering emit and do not
// auto-emit state-change signals.
func (r *Registry) RegisterReducer(pattern string, reducer Reducer) bus.Subscription {
	return r.bus.Subscribe([]string{pattern}, bus.HandlerFunc(func(ctx context.Context, sig signal.Signal) {
		reducer(ctx, r.mutableState(), sig, func(out signal.Signal) { r.bus.Emit(ctx, out) })
	}))
}

// mutableState exposes the Container's fields directly to a reducer via
// Mutate, per spec §4.5.
func (r *Registry) mutableState() map[string]any {
	var fields map[string]any
	r.state.Mutate(func(f map[string]any) { fields = f })
	return fields
}

// Close unsubscribes every registered agent.
func (r *Registry) Close() {
	for _, s := range r.subs {
		s.Unsubscribe()
	}
}

func (r *Registry) activate(ctx context.Context, name string, def Definition, trigger signal.Signal) {
	if r.Terminated() {
		r.bus.Emit(ctx, signal.New("agent:skipped", skippedPayload(name, "workflow terminated"), signal.Source{Agent: name, Parent: trigger.ID}))
		return
	}

	actx := ActivationContext{Signal: trigger, State: r.state.Get(), Input: r.input}

	if def.When != nil && !def.When(actx) {
		r.bus.Emit(ctx, signal.New("agent:skipped", skippedPayload(name, "guard returned false"), signal.Source{Agent: name, Parent: trigger.ID}))
		return
	}

	activated := signal.New("agent:activated", activatedPayload(name, trigger), signal.Source{Agent: name, Parent: trigger.ID})
	r.bus.Emit(ctx, activated)
	activationID := activated.ID

	prov := def.Provider
	if prov == nil {
		prov = r.defaultProvider
	}
	if r.mode != ModeReplay && prov == nil {
		err := &rterrors.NoProviderError{Agent: name}
		if r.OnFatal != nil {
			r.OnFatal(err)
		}
		return
	}

	out, err := r.resolveOutput(ctx, name, def, prov, actx, activationID)
	if err != nil {
		r.bus.Emit(ctx, signal.New("agent:failed", map[string]any{"agent": name, "error": err.Error()}, signal.Source{Agent: name, Parent: activationID}))
		if r.OnFatal != nil {
			r.OnFatal(err)
		}
		return
	}

	if def.Updates != "" {
		r.state.ApplyUpdate(ctx, def.Updates, out.Text, name, activationID)
		if r.OnStateChanged != nil {
			r.OnStateChanged(r.state.Get())
		}
	}

	for _, name2 := range def.Emits {
		r.bus.Emit(ctx, signal.New(name2, map[string]any{"agent": name, "output": out.Text}, signal.Source{Agent: name, Parent: activationID}))
	}
}

func (r *Registry) resolveOutput(ctx context.Context, name string, def Definition, prov provider.Provider, actx ActivationContext, activationID string) (provider.Output, error) {
	if r.mode == ModeReplay {
		return r.replay.Next(ctx, r.runID)
	}

	rendered, err := template.Expand(def.Prompt, template.Context{
		State:         actx.State,
		SignalName:    actx.Signal.Name,
		SignalPayload: actx.Signal.Payload,
		Input:         actx.Input,
	})
	if err != nil {
		return provider.Output{}, &rterrors.ProviderError{Agent: name, Kind: rterrors.ProviderErrorInvalidRequest, Cause: err}
	}

	stream, err := prov.Run(ctx, provider.Input{
		System:   "",
		Messages: []provider.Message{{Role: provider.RoleUser, Content: stringify(rendered)}},
		RunID:    r.runID,
	})
	if err != nil {
		return provider.Output{}, classifyProviderErr(name, err)
	}
	defer stream.Close()

	for {
		sig, err := stream.Recv(ctx)
		if err != nil {
			return provider.Output{}, classifyProviderErr(name, err)
		}
		sig.Source.Parent = activationID
		r.bus.Emit(ctx, sig)
		if sig.Name == provider.EndSignalName {
			out, ok := sig.Payload.(provider.Output)
			if !ok {
				return provider.Output{}, &rterrors.ProviderError{Agent: name, Kind: rterrors.ProviderErrorUnknown, Cause: fmt.Errorf("provider:end payload was not a provider.Output")}
			}
			return out, nil
		}
	}
}

func classifyProviderErr(agent string, err error) error {
	if pe, ok := err.(*rterrors.ProviderError); ok {
		pe.Agent = agent
		return pe
	}
	return &rterrors.ProviderError{Agent: agent, Kind: rterrors.ProviderErrorUnknown, Cause: err}
}

func skippedPayload(agent, reason string) map[string]any {
	return map[string]any{"agent": agent, "reason": reason}
}

func activatedPayload(agent string, trigger signal.Signal) map[string]any {
	return map[string]any{"agent": agent, "trigger": trigger.Name}
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
