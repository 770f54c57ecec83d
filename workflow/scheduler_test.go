package workflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsignal/flowsignal/agent"
	"github.com/flowsignal/flowsignal/provider"
	"github.com/flowsignal/flowsignal/signal"
	"github.com/flowsignal/flowsignal/store/inmem"
	"github.com/flowsignal/flowsignal/telemetry"
	"github.com/flowsignal/flowsignal/workflow"
)

type scriptedStream struct {
	sigs []signal.Signal
	i    int
}

func (s *scriptedStream) Recv(_ context.Context) (signal.Signal, error) {
	if s.i >= len(s.sigs) {
		return signal.Signal{}, errors.New("scriptedStream: exhausted")
	}
	sig := s.sigs[s.i]
	s.i++
	return sig, nil
}
func (s *scriptedStream) Close() error { return nil }

// echoProvider answers with the last user message, tagged with a counter so
// successive activations in a chain produce distinguishable output.
type echoProvider struct{ calls int }

func (p *echoProvider) Run(_ context.Context, in provider.Input) (provider.Stream, error) {
	p.calls++
	text := "reply"
	if len(in.Messages) > 0 {
		text = in.Messages[len(in.Messages)-1].Content
	}
	out := provider.Output{Text: text}
	return &scriptedStream{sigs: []signal.Signal{provider.NewEndSignal(out, signal.Source{})}}, nil
}

type slowProvider struct{ delay time.Duration }

func (p slowProvider) Run(ctx context.Context, _ provider.Input) (provider.Stream, error) {
	select {
	case <-time.After(p.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	out := provider.Output{Text: "late"}
	return &scriptedStream{sigs: []signal.Signal{provider.NewEndSignal(out, signal.Source{})}}, nil
}

// S1: a single agent activates once on workflow:start and the run reaches
// quiescence with its output applied to state.
func TestRun_S1_SingleAgentFastPath(t *testing.T) {
	result, err := workflow.Run(context.Background(), workflow.Config{
		State:    map[string]any{"reply": ""},
		Provider: &echoProvider{},
		Agents: map[string]agent.Definition{
			"greeter": {
				Prompt:     "{{ input }}",
				ActivateOn: []string{"workflow:start"},
				Updates:    "reply",
			},
		},
		Input: "hi there",
	})
	require.NoError(t, err)
	assert.Equal(t, telemetry.OutcomeSuccess, result.Outcome)
	assert.Equal(t, "hi there", result.State["reply"])
	assert.Equal(t, 1, result.Metrics.Activations)
}

// S2: two agents chain — the second activates on a signal the first emits.
func TestRun_S2_TwoAgentChain(t *testing.T) {
	result, err := workflow.Run(context.Background(), workflow.Config{
		State:    map[string]any{"draft": "", "final": ""},
		Provider: &echoProvider{},
		Agents: map[string]agent.Definition{
			"drafter": {
				Prompt:     "{{ input }}",
				ActivateOn: []string{"workflow:start"},
				Emits:      []string{"draft:ready"},
				Updates:    "draft",
			},
			"finalizer": {
				Prompt:     "{{ state.draft }}",
				ActivateOn: []string{"draft:ready"},
				Updates:    "final",
			},
		},
		Input: "outline",
	})
	require.NoError(t, err)
	assert.Equal(t, telemetry.OutcomeSuccess, result.Outcome)
	assert.Equal(t, "outline", result.State["draft"])
	assert.Equal(t, "outline", result.State["final"])
	assert.Equal(t, 2, result.Metrics.Activations)
}

// S3: a guard that returns false causes the agent to be skipped without
// touching state.
func TestRun_S3_GuardSkip(t *testing.T) {
	result, err := workflow.Run(context.Background(), workflow.Config{
		State:    map[string]any{"reply": ""},
		Provider: &echoProvider{},
		Agents: map[string]agent.Definition{
			"greeter": {
				Prompt:     "{{ input }}",
				ActivateOn: []string{"workflow:start"},
				When:       func(agent.ActivationContext) bool { return false },
				Updates:    "reply",
			},
		},
		Input: "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "", result.State["reply"])
	assert.Equal(t, 0, result.Metrics.Activations)
	var sawSkip bool
	for _, s := range result.Signals {
		if s.Name == "agent:skipped" {
			sawSkip = true
		}
	}
	assert.True(t, sawSkip)
}

// S4: endWhen observes the first agent's write and terminates the run
// before a second, otherwise-eligible agent can run.
func TestRun_S4_EndWhenTerminatesEarly(t *testing.T) {
	result, err := workflow.Run(context.Background(), workflow.Config{
		State:    map[string]any{"reply": ""},
		Provider: &echoProvider{},
		EndWhen: func(state map[string]any) bool {
			reply, _ := state["reply"].(string)
			return reply != ""
		},
		Agents: map[string]agent.Definition{
			"greeter": {
				Prompt:     "{{ input }}",
				ActivateOn: []string{"workflow:start"},
				Emits:      []string{"greeter:done"},
				Updates:    "reply",
			},
			"follow_up": {
				Prompt:     "{{ input }}",
				ActivateOn: []string{"greeter:done"},
				Updates:    "reply",
			},
		},
		Input: "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, telemetry.OutcomeTerminated, result.Outcome)
	assert.True(t, result.TerminatedEarly)
}

// S5: a recorded run and a replayed run against the same recording agree on
// final state without invoking the provider during replay.
func TestRun_S5_RecordThenReplayEquivalence(t *testing.T) {
	st := inmem.New()
	agents := func() map[string]agent.Definition {
		return map[string]agent.Definition{
			"greeter": {
				Prompt:     "{{ input }}",
				ActivateOn: []string{"workflow:start"},
				Updates:    "reply",
			},
		}
	}

	recorded, err := workflow.Run(context.Background(), workflow.Config{
		State:    map[string]any{"reply": ""},
		Provider: &echoProvider{},
		Agents:   agents(),
		Input:    "hi there",
		Recording: workflow.RecordingOptions{
			Mode:  agent.ModeRecord,
			Store: st,
			Name:  "s5",
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, recorded.RecordingID)
	assert.Equal(t, "hi there", recorded.State["reply"])

	replayed, err := workflow.Run(context.Background(), workflow.Config{
		State:  map[string]any{"reply": ""},
		Agents: agents(),
		Input:  "hi there",
		Recording: workflow.RecordingOptions{
			Mode:        agent.ModeReplay,
			Store:       st,
			RecordingID: recorded.RecordingID,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, recorded.State["reply"], replayed.State["reply"])
}

// S6: a provider slower than the configured timeout causes the run to end
// with OutcomeTimeout.
func TestRun_S6_Timeout(t *testing.T) {
	result, err := workflow.Run(context.Background(), workflow.Config{
		State:    map[string]any{"reply": ""},
		Provider: slowProvider{delay: 200 * time.Millisecond},
		Timeout:  20 * time.Millisecond,
		Agents: map[string]agent.Definition{
			"greeter": {
				Prompt:     "{{ input }}",
				ActivateOn: []string{"workflow:start"},
				Updates:    "reply",
			},
		},
		Input: "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, telemetry.OutcomeTimeout, result.Outcome)
	require.Error(t, result.Err)
}

func TestRun_RejectsConfigWithNoAgents(t *testing.T) {
	_, err := workflow.Run(context.Background(), workflow.Config{State: map[string]any{}})
	assert.Error(t, err)
}

func TestRun_RejectsUndeclaredUpdateField(t *testing.T) {
	_, err := workflow.Run(context.Background(), workflow.Config{
		State:    map[string]any{"reply": ""},
		Provider: &echoProvider{},
		Agents: map[string]agent.Definition{
			"greeter": {ActivateOn: []string{"workflow:start"}, Updates: "typo"},
		},
	})
	assert.Error(t, err)
}
