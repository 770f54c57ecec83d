// Package openai adapts the OpenAI Chat Completions streaming API to the
// provider.Provider interface, in the same goroutine-plus-channel shape
// as provider/anthropic (both SDKs share the ssestream iterator design).
package openai

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/flowsignal/flowsignal/provider"
	"github.com/flowsignal/flowsignal/rterrors"
	"github.com/flowsignal/flowsignal/signal"
)

// ChatClient captures the subset of the openai-go client used by the
// adapter, so callers can substitute a fake in tests.
type ChatClient interface {
	NewStreaming(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.ChatCompletionChunk]
}

// Options configures the adapter.
type Options struct {
	Model       string
	Temperature float64
}

// Provider implements provider.Provider on top of OpenAI Chat Completions
// streaming.
type Provider struct {
	chat  ChatClient
	model string
	temp  float64
}

// New builds a Provider from an openai-go chat-completions client.
func New(chat ChatClient, opts Options) (*Provider, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("openai: model is required")
	}
	return &Provider{chat: chat, model: opts.Model, temp: opts.Temperature}, nil
}

// NewFromAPIKey constructs a Provider using the default openai-go HTTP
// client.
func NewFromAPIKey(apiKey, model string) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&client.Chat.Completions, Options{Model: model})
}

// Run implements provider.Provider.
func (p *Provider) Run(ctx context.Context, in provider.Input) (provider.Stream, error) {
	if len(in.Messages) == 0 {
		return nil, errors.New("openai: at least one message is required")
	}
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(p.model),
		Messages: encodeMessages(in),
	}
	if p.temp > 0 {
		params.Temperature = sdk.Float(p.temp)
	}

	sseStream := p.chat.NewStreaming(ctx, params)
	if err := sseStream.Err(); err != nil {
		return nil, &rterrors.ProviderError{Kind: rterrors.ProviderErrorUnknown, Cause: err}
	}
	return newStreamer(ctx, sseStream), nil
}

func encodeMessages(in provider.Input) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(in.Messages)+1)
	if in.System != "" {
		out = append(out, sdk.SystemMessage(in.System))
	}
	for _, m := range in.Messages {
		if m.Role == provider.RoleAssistant {
			out = append(out, sdk.AssistantMessage(m.Content))
			continue
		}
		out = append(out, sdk.UserMessage(m.Content))
	}
	return out
}

type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	sse    *ssestream.Stream[sdk.ChatCompletionChunk]
	sigs   chan signal.Signal
	errc   chan error
}

func newStreamer(ctx context.Context, sse *ssestream.Stream[sdk.ChatCompletionChunk]) *streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{ctx: cctx, cancel: cancel, sse: sse, sigs: make(chan signal.Signal, 32), errc: make(chan error, 1)}
	go s.run()
	return s
}

func (s *streamer) run() {
	defer close(s.sigs)
	defer s.sse.Close()

	var text string
	var usage provider.Usage

	for s.sse.Next() {
		chunk := s.sse.Current()
		if len(chunk.Choices) > 0 {
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				text += delta
				s.emit(signal.New("text:delta", delta, signal.Source{Provider: "openai"}))
			}
		}
		if chunk.Usage.TotalTokens > 0 {
			usage.InputTokens = chunk.Usage.PromptTokens
			usage.OutputTokens = chunk.Usage.CompletionTokens
		}
	}
	if err := s.sse.Err(); err != nil {
		s.errc <- &rterrors.ProviderError{Kind: rterrors.ProviderErrorUnknown, Cause: err}
		return
	}
	s.emit(provider.NewEndSignal(provider.Output{Text: text, Usage: &usage}, signal.Source{Provider: "openai"}))
}

func (s *streamer) emit(sig signal.Signal) {
	select {
	case s.sigs <- sig:
	case <-s.ctx.Done():
	}
}

// Recv implements provider.Stream.
func (s *streamer) Recv(ctx context.Context) (signal.Signal, error) {
	select {
	case sig, ok := <-s.sigs:
		if ok {
			return sig, nil
		}
		select {
		case err := <-s.errc:
			return signal.Signal{}, err
		default:
			return signal.Signal{}, fmt.Errorf("openai: stream closed without provider:end")
		}
	case <-ctx.Done():
		return signal.Signal{}, ctx.Err()
	}
}

// Close implements provider.Stream.
func (s *streamer) Close() error {
	s.cancel()
	return s.sse.Close()
}
