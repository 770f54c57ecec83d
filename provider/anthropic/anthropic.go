// Package anthropic adapts the Anthropic Claude Messages streaming API to
// the provider.Provider interface, translating SSE events into the
// runtime's signal vocabulary (text:, thinking:, tool:, provider:end).
//
// Grounded on features/model/anthropic/{client,stream}.go: a thin
// interface over the subset of *anthropic.Client used, a goroutine that
// drains the SDK's event stream into a channel, and per-content-block
// accumulation of tool-call JSON fragments.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/flowsignal/flowsignal/provider"
	"github.com/flowsignal/flowsignal/rterrors"
	"github.com/flowsignal/flowsignal/signal"
)

// MessagesClient captures the subset of the Anthropic SDK used by the
// adapter, so callers can substitute a fake in tests.
type MessagesClient interface {
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Options configures the adapter.
type Options struct {
	Model       string
	MaxTokens   int64
	Temperature float64
}

// Provider implements provider.Provider on top of Anthropic Claude
// Messages streaming.
type Provider struct {
	msg   MessagesClient
	model string
	maxTk int64
	temp  float64
}

// New builds a Provider from an Anthropic Messages client.
func New(msg MessagesClient, opts Options) (*Provider, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("anthropic: model is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Provider{msg: msg, model: opts.Model, maxTk: maxTokens, temp: opts.Temperature}, nil
}

// NewFromAPIKey constructs a Provider using the default Anthropic HTTP
// client, reading ANTHROPIC_API_KEY conventions via option.WithAPIKey.
func NewFromAPIKey(apiKey, model string) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&client.Messages, Options{Model: model})
}

// Run implements provider.Provider.
func (p *Provider) Run(ctx context.Context, in provider.Input) (provider.Stream, error) {
	if len(in.Messages) == 0 {
		return nil, errors.New("anthropic: at least one message is required")
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(p.model),
		MaxTokens: p.maxTk,
		Messages:  encodeMessages(in.Messages),
	}
	if in.System != "" {
		params.System = []sdk.TextBlockParam{{Text: in.System}}
	}
	if p.temp > 0 {
		params.Temperature = sdk.Float(p.temp)
	}

	sseStream := p.msg.NewStreaming(ctx, params)
	if err := sseStream.Err(); err != nil {
		return nil, classifyErr(err)
	}
	return newStreamer(ctx, sseStream), nil
}

func encodeMessages(msgs []provider.Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		block := sdk.NewTextBlock(m.Content)
		switch m.Role {
		case provider.RoleAssistant:
			out = append(out, sdk.NewAssistantMessage(block))
		default:
			out = append(out, sdk.NewUserMessage(block))
		}
	}
	return out
}

func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	return &rterrors.ProviderError{Kind: rterrors.ProviderErrorUnknown, Cause: err}
}

// streamer adapts the SDK's pull-based SSE iterator into a
// provider.Stream, draining it from a background goroutine into a
// buffered channel of pre-translated signals per spec §4.4/§6.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	sse    *ssestream.Stream[sdk.MessageStreamEventUnion]
	sigs   chan signal.Signal
	errc   chan error
}

func newStreamer(ctx context.Context, sse *ssestream.Stream[sdk.MessageStreamEventUnion]) *streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{ctx: cctx, cancel: cancel, sse: sse, sigs: make(chan signal.Signal, 32), errc: make(chan error, 1)}
	go s.run()
	return s
}

func (s *streamer) run() {
	defer close(s.sigs)
	defer s.sse.Close()

	var text string
	var toolFragments string
	var toolName, toolID string
	var usage provider.Usage

	for s.sse.Next() {
		event := s.sse.Current()
		switch ev := event.AsAny().(type) {
		case sdk.ContentBlockStartEvent:
			if tu, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
				toolName, toolID = tu.Name, tu.ID
			}
		case sdk.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if delta.Text == "" {
					continue
				}
				text += delta.Text
				s.emit(signal.New("text:delta", delta.Text, signal.Source{Provider: "anthropic"}))
			case sdk.InputJSONDelta:
				toolFragments += delta.PartialJSON
			case sdk.ThinkingDelta:
				if delta.Thinking != "" {
					s.emit(signal.New("thinking:delta", delta.Thinking, signal.Source{Provider: "anthropic"}))
				}
			}
		case sdk.ContentBlockStopEvent:
			if toolName != "" {
				s.emit(signal.New("tool:call", map[string]any{"name": toolName, "id": toolID, "input": toolFragments}, signal.Source{Provider: "anthropic"}))
				toolName, toolID, toolFragments = "", "", ""
			}
		case sdk.MessageDeltaEvent:
			usage.InputTokens = ev.Usage.InputTokens
			usage.OutputTokens += ev.Usage.OutputTokens
		}
	}
	if err := s.sse.Err(); err != nil {
		s.errc <- classifyErr(err)
		return
	}
	s.emit(provider.NewEndSignal(provider.Output{Text: text, Usage: &usage}, signal.Source{Provider: "anthropic"}))
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
			return signal.Signal{}, fmt.Errorf("anthropic: stream closed without provider:end")
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
