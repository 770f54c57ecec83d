// Package provider defines the LLMProvider collaborator (spec §6): the
// narrow interface the runtime uses to invoke a model and receive its
// output as a signal stream, plus the concrete wire types exchanged with
// it. Concrete adapters live in provider/anthropic, provider/bedrock,
// provider/openai, and the process-local rate limiter in
// provider/middleware.
package provider

import (
	"context"

	"github.com/flowsignal/flowsignal/signal"
)

type (
	// Role is a conversation message role.
	Role string

	// Message is one turn of the conversation sent to the provider.
	Message struct {
		Role    Role
		Content string
	}

	// Input is the request passed to Provider.Run: the system prompt, the
	// message history, and the run identifier for correlation.
	Input struct {
		System   string
		Messages []Message
		RunID    string
	}

	// Usage carries token accounting reported by the provider, when
	// available.
	Usage struct {
		InputTokens  int64
		OutputTokens int64
	}

	// Output is the payload carried by the terminal provider:end signal.
	Output struct {
		Text  string
		Usage *Usage
	}

	// Stream is a pull-based iterator over a provider invocation's signal
	// sequence. Recv returns io.EOF-equivalent via a final provider:end
	// signal — callers stop pulling once they have observed it; Recv
	// itself returns a non-nil error only on transport failure.
	Stream interface {
		Recv(ctx context.Context) (signal.Signal, error)
		Close() error
	}

	// Provider is the Go name for the spec's LLMProvider: it accepts an
	// Input and returns a Stream whose final signal is named
	// "provider:end" and carries an Output in its payload. Intermediate
	// signals are named with one of the "text:", "tool:", "thinking:",
	// "provider:" prefixes per spec §6.
	Provider interface {
		Run(ctx context.Context, in Input) (Stream, error)
	}
)

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Signal name prefixes the runtime recognizes as provider-originated, per
// spec §4.4/§6. Recording replay scans for contiguous runs of signals
// whose name starts with one of these.
var ProviderPrefixes = []string{"provider:", "text:", "tool:", "thinking:"}

// EndSignalName is the terminal signal every provider stream must emit.
const EndSignalName = "provider:end"

// NewEndSignal builds the terminal provider:end signal for out.
func NewEndSignal(out Output, source signal.Source) signal.Signal {
	return signal.New(EndSignalName, out, source)
}
