package agent_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsignal/flowsignal/agent"
	"github.com/flowsignal/flowsignal/bus"
	"github.com/flowsignal/flowsignal/provider"
	"github.com/flowsignal/flowsignal/signal"
	"github.com/flowsignal/flowsignal/state"
)

type fakeStream struct {
	sigs []signal.Signal
	i    int
	err  error
}

func (s *fakeStream) Recv(_ context.Context) (signal.Signal, error) {
	if s.i >= len(s.sigs) {
		if s.err != nil {
			return signal.Signal{}, s.err
		}
		return signal.Signal{}, errors.New("fakeStream: exhausted")
	}
	sig := s.sigs[s.i]
	s.i++
	return sig, nil
}
func (s *fakeStream) Close() error { return nil }

type fakeProvider struct {
	text string
	err  error
}

func (p fakeProvider) Run(_ context.Context, _ provider.Input) (provider.Stream, error) {
	if p.err != nil {
		return nil, p.err
	}
	out := provider.Output{Text: p.text}
	return &fakeStream{sigs: []signal.Signal{
		signal.New("text:delta", map[string]any{"text": p.text}, signal.Source{}),
		provider.NewEndSignal(out, signal.Source{}),
	}}, nil
}

func waitIdle(t *testing.T, tr *agent.Tracker) {
	t.Helper()
	idle, _ := tr.Snapshot()
	select {
	case <-idle:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tracker to go idle")
	}
}

func TestRegistry_ActivationUpdatesStateAndEmits(t *testing.T) {
	b := bus.New(nil)
	st := state.New(map[string]any{"reply": ""}, b)
	tr := agent.NewTracker()
	reg := agent.New(b, st, tr, fakeProvider{text: "hello"}, agent.ModeLive, nil, "run-1", "say hi", nil)
	defer reg.Close()

	reg.Register("greeter", agent.Definition{
		Prompt:     "{{ input }}",
		ActivateOn: []string{"workflow:start"},
		Emits:      []string{"greeter:done"},
		Updates:    "reply",
	})

	b.Emit(context.Background(), signal.New("workflow:start", nil, signal.Source{}))
	waitIdle(t, tr)

	assert.Equal(t, "hello", st.Get()["reply"])

	var names []string
	for _, s := range b.History() {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, "agent:activated")
	assert.Contains(t, names, "greeter:done")
	assert.Contains(t, names, "provider:end")
}

func TestRegistry_GuardSkipsActivation(t *testing.T) {
	b := bus.New(nil)
	st := state.New(map[string]any{"reply": ""}, b)
	tr := agent.NewTracker()
	reg := agent.New(b, st, tr, fakeProvider{text: "hello"}, agent.ModeLive, nil, "run-1", nil, nil)
	defer reg.Close()

	reg.Register("greeter", agent.Definition{
		ActivateOn: []string{"workflow:start"},
		When:       func(agent.ActivationContext) bool { return false },
		Updates:    "reply",
	})

	b.Emit(context.Background(), signal.New("workflow:start", nil, signal.Source{}))
	waitIdle(t, tr)

	assert.Equal(t, "", st.Get()["reply"])
	var skipped bool
	for _, s := range b.History() {
		if s.Name == "agent:skipped" {
			skipped = true
		}
	}
	assert.True(t, skipped)
}

func TestRegistry_NoProviderReportsFatal(t *testing.T) {
	b := bus.New(nil)
	st := state.New(map[string]any{}, b)
	tr := agent.NewTracker()
	reg := agent.New(b, st, tr, nil, agent.ModeLive, nil, "run-1", nil, nil)
	defer reg.Close()

	var fatal error
	reg.OnFatal = func(err error) { fatal = err }

	reg.Register("greeter", agent.Definition{ActivateOn: []string{"workflow:start"}})
	b.Emit(context.Background(), signal.New("workflow:start", nil, signal.Source{}))
	waitIdle(t, tr)

	require.Error(t, fatal)
}

func TestRegistry_TerminatedSkipsNewActivations(t *testing.T) {
	b := bus.New(nil)
	st := state.New(map[string]any{"reply": ""}, b)
	tr := agent.NewTracker()
	reg := agent.New(b, st, tr, fakeProvider{text: "hello"}, agent.ModeLive, nil, "run-1", nil, nil)
	defer reg.Close()
	reg.Terminated = func() bool { return true }

	reg.Register("greeter", agent.Definition{ActivateOn: []string{"workflow:start"}, Updates: "reply"})
	b.Emit(context.Background(), signal.New("workflow:start", nil, signal.Source{}))
	waitIdle(t, tr)

	assert.Equal(t, "", st.Get()["reply"])
}

func TestRegistry_ReducerMutatesStateSynchronously(t *testing.T) {
	b := bus.New(nil)
	st := state.New(map[string]any{"count": float64(0)}, b)
	tr := agent.NewTracker()
	reg := agent.New(b, st, tr, nil, agent.ModeLive, nil, "run-1", nil, nil)
	defer reg.Close()

	reg.RegisterReducer("counter:inc", func(_ context.Context, fields map[string]any, _ signal.Signal, _ func(signal.Signal)) {
		fields["count"] = fields["count"].(float64) + 1
	})

	b.Emit(context.Background(), signal.New("counter:inc", nil, signal.Source{}))
	assert.Equal(t, float64(1), st.Get()["count"])
}
