// Package pulse forwards finished-run wide events to an external Pulse
// stream for out-of-process observability consumers. It is a "quiet
// subscriber" (spec Glossary): it consumes the Telemetry Aggregator's
// output and never emits signals back onto the bus.
//
// Grounded on the teacher's features/stream/pulse/clients/pulse client: a
// thin wrapper around goa.design/pulse streams backed by a Redis
// connection, exposing only the Add operation this forwarder needs.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"github.com/flowsignal/flowsignal/telemetry"
)

type (
	// Options configures the Forwarder.
	Options struct {
		// Redis is the connection used to back the Pulse stream. Required.
		Redis *redis.Client
		// StreamName names the Pulse stream wide events are appended to.
		// Defaults to "flowsignal-telemetry".
		StreamName string
		// OperationTimeout bounds each Add call. Zero means no timeout.
		OperationTimeout time.Duration
	}

	// Forwarder publishes WideEvent records to a Pulse stream.
	Forwarder struct {
		stream  *streaming.Stream
		timeout time.Duration
	}
)

const defaultStreamName = "flowsignal-telemetry"

// New constructs a Forwarder backed by a Pulse stream on top of opts.Redis.
func New(ctx context.Context, opts Options) (*Forwarder, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis connection is required")
	}
	name := opts.StreamName
	if name == "" {
		name = defaultStreamName
	}
	s, err := streaming.NewStream(name, opts.Redis, streamopts.WithStreamMaxLen(10000))
	if err != nil {
		return nil, fmt.Errorf("open pulse stream %q: %w", name, err)
	}
	return &Forwarder{stream: s, timeout: opts.OperationTimeout}, nil
}

// Forward publishes we as a single Pulse stream event named "run:completed".
func (f *Forwarder) Forward(ctx context.Context, we telemetry.WideEvent) error {
	payload, err := json.Marshal(we)
	if err != nil {
		return fmt.Errorf("marshal wide event: %w", err)
	}
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	_, err = f.stream.Add(ctx, "run:completed", payload)
	return err
}
