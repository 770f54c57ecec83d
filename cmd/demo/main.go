// Command demo wires a single agent onto a stub provider in live mode (no
// recording store), then runs it to quiescence and prints the result. It exists to
// exercise the public workflow.Run surface end to end without external
// credentials, grounded on the teacher's cmd/demo.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/flowsignal/flowsignal/agent"
	"github.com/flowsignal/flowsignal/provider"
	"github.com/flowsignal/flowsignal/signal"
	"github.com/flowsignal/flowsignal/workflow"
)

// stubProvider immediately answers every Run with a canned reply, so the
// demo has no external dependency on a model vendor.
type stubProvider struct{}

func (stubProvider) Run(_ context.Context, in provider.Input) (provider.Stream, error) {
	text := "Hello from flowsignal!"
	if len(in.Messages) > 0 {
		text = fmt.Sprintf("Got it: %s", in.Messages[len(in.Messages)-1].Content)
	}
	return &stubStream{
		out: provider.Output{Text: text, Usage: &provider.Usage{InputTokens: 12, OutputTokens: 8}},
	}, nil
}

// stubStream emits a single text:delta signal followed by provider:end.
type stubStream struct {
	out  provider.Output
	next int
}

func (s *stubStream) Recv(_ context.Context) (signal.Signal, error) {
	defer func() { s.next++ }()
	switch s.next {
	case 0:
		return signal.New("text:delta", map[string]any{"text": s.out.Text}, signal.Source{Provider: "stub"}), nil
	default:
		return provider.NewEndSignal(s.out, signal.Source{Provider: "stub"}), nil
	}
}

func (s *stubStream) Close() error { return nil }

func main() {
	ctx := context.Background()

	cfg := workflow.Config{
		State: map[string]any{
			"reply": "",
		},
		Provider: stubProvider{},
		Timeout:  10 * time.Second,
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
		},
		Recording: workflow.RecordingOptions{Mode: agent.ModeLive},
		Input:     "Say hi",
	}

	result, err := workflow.Run(ctx, cfg)
	if err != nil {
		panic(err)
	}

	fmt.Println("Outcome:", result.Outcome)
	fmt.Println("Reply:", result.State["reply"])
	fmt.Println("Activations:", result.Metrics.Activations)
	fmt.Println("Signals:", len(result.Signals))
}
