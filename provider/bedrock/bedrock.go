// Package bedrock adapts the AWS Bedrock Converse streaming API to the
// provider.Provider interface.
//
// Grounded on features/model/bedrock/client.go: a RuntimeClient interface
// capturing the *bedrockruntime.Client subset used (Converse /
// ConverseStream), system/conversation message splitting, and
// EventStream-driven incremental translation.
package bedrock

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/flowsignal/flowsignal/provider"
	"github.com/flowsignal/flowsignal/rterrors"
	"github.com/flowsignal/flowsignal/signal"
)

// RuntimeClient captures the subset of *bedrockruntime.Client the adapter
// uses, so callers can substitute a fake in tests.
type RuntimeClient interface {
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Options configures the adapter.
type Options struct {
	Model       string
	Temperature float32
}

// Provider implements provider.Provider on top of AWS Bedrock Converse
// streaming.
type Provider struct {
	runtime RuntimeClient
	model   string
	temp    float32
}

// New builds a Provider from a Bedrock runtime client.
func New(runtime RuntimeClient, opts Options) (*Provider, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("bedrock: model is required")
	}
	return &Provider{runtime: runtime, model: opts.Model, temp: opts.Temperature}, nil
}

// Run implements provider.Provider.
func (p *Provider) Run(ctx context.Context, in provider.Input) (provider.Stream, error) {
	if len(in.Messages) == 0 {
		return nil, errors.New("bedrock: at least one message is required")
	}
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  &p.model,
		Messages: encodeMessages(in.Messages),
	}
	if in.System != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: in.System}}
	}
	if p.temp > 0 {
		input.InferenceConfig = &brtypes.InferenceConfiguration{Temperature: &p.temp}
	}

	out, err := p.runtime.ConverseStream(ctx, input)
	if err != nil {
		return nil, &rterrors.ProviderError{Kind: rterrors.ProviderErrorUnknown, Cause: err}
	}
	return newStreamer(ctx, out), nil
}

func encodeMessages(msgs []provider.Message) []brtypes.Message {
	out := make([]brtypes.Message, 0, len(msgs))
	for _, m := range msgs {
		role := brtypes.ConversationRoleUser
		if m.Role == provider.RoleAssistant {
			role = brtypes.ConversationRoleAssistant
		}
		out = append(out, brtypes.Message{
			Role:    role,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
		})
	}
	return out
}

type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	out    *bedrockruntime.ConverseStreamOutput
	sigs   chan signal.Signal
	errc   chan error
}

func newStreamer(ctx context.Context, out *bedrockruntime.ConverseStreamOutput) *streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{ctx: cctx, cancel: cancel, out: out, sigs: make(chan signal.Signal, 32), errc: make(chan error, 1)}
	go s.run()
	return s
}

func (s *streamer) run() {
	defer close(s.sigs)
	stream := s.out.GetStream()
	defer stream.Close()

	var text string
	var usage provider.Usage

	for event := range stream.Events() {
		switch ev := event.(type) {
		case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
			if textDelta, ok := ev.Value.Delta.(*brtypes.ContentBlockDeltaMemberText); ok {
				text += textDelta.Value
				s.emit(signal.New("text:delta", textDelta.Value, signal.Source{Provider: "bedrock"}))
			}
		case *brtypes.ConverseStreamOutputMemberMetadata:
			if ev.Value.Usage != nil {
				if ev.Value.Usage.InputTokens != nil {
					usage.InputTokens = int64(*ev.Value.Usage.InputTokens)
				}
				if ev.Value.Usage.OutputTokens != nil {
					usage.OutputTokens = int64(*ev.Value.Usage.OutputTokens)
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		s.errc <- &rterrors.ProviderError{Kind: rterrors.ProviderErrorUnknown, Cause: err}
		return
	}
	s.emit(provider.NewEndSignal(provider.Output{Text: text, Usage: &usage}, signal.Source{Provider: "bedrock"}))
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
			return signal.Signal{}, fmt.Errorf("bedrock: stream closed without provider:end")
		}
	case <-ctx.Done():
		return signal.Signal{}, ctx.Err()
	}
}

// Close implements provider.Stream.
func (s *streamer) Close() error {
	s.cancel()
	return s.out.GetStream().Close()
}
