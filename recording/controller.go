// Package recording implements the Recording Controller (spec §4.4): in
// live mode it does nothing; in record mode it subscribes "**" on the bus,
// buffers every emitted signal, and flushes to the store on finalize; in
// replay mode it loads a prior recording and exposes a cursor over its
// provider-originated signal subsequences, reconstructing agent output
// without invoking a live provider.
package recording

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/flowsignal/flowsignal/agent"
	"github.com/flowsignal/flowsignal/bus"
	"github.com/flowsignal/flowsignal/provider"
	"github.com/flowsignal/flowsignal/rterrors"
	"github.com/flowsignal/flowsignal/signal"
	"github.com/flowsignal/flowsignal/store"
)

// Controller gates a run's interaction with a store.Store per its mode.
// The zero value is not usable; construct with NewLive, NewRecord, or
// NewReplay.
type Controller struct {
	mode  agent.Mode
	st    store.Store
	id    string
	meta  store.Meta
	bus   bus.Bus
	recSub bus.Subscription

	mu     sync.Mutex
	buffer []signal.Signal

	replaySignals []signal.Signal
	replayIndex   int
}

// NewLive returns a Controller that performs no store interaction.
func NewLive() *Controller {
	return &Controller{mode: agent.ModeLive}
}

// NewRecord creates a new recording in st and returns a Controller that
// buffers every signal emitted on the attached bus for later flush.
func NewRecord(ctx context.Context, st store.Store, meta store.Meta) (*Controller, error) {
	if st == nil {
		return nil, rterrors.NewConfigError("recording mode \"record\" requires a store", nil)
	}
	id, err := st.Create(ctx, meta)
	if err != nil {
		return nil, rterrors.NewConfigError("create recording", err)
	}
	return &Controller{mode: agent.ModeRecord, st: st, id: id, meta: meta}, nil
}

// NewReplay loads recordingID from st upfront, failing with a
// RecordingNotFound ReplayError if it is unknown.
func NewReplay(ctx context.Context, st store.Store, recordingID string) (*Controller, error) {
	if st == nil || recordingID == "" {
		return nil, rterrors.NewConfigError("recording mode \"replay\" requires a store and a recordingId", nil)
	}
	rec, err := st.Load(ctx, recordingID)
	if err != nil {
		return nil, rterrors.NewConfigError("load recording", err)
	}
	if rec == nil {
		return nil, rterrors.NewReplayError(rterrors.ReplayErrorRecordingNotFound, fmt.Errorf("recording %q not found", recordingID))
	}
	return &Controller{mode: agent.ModeReplay, st: st, id: recordingID, replaySignals: rec.Signals}, nil
}

// Mode reports the controller's mode.
func (c *Controller) Mode() agent.Mode { return c.mode }

// RecordingID returns the recording's id, or "" in live mode.
func (c *Controller) RecordingID() string { return c.id }

// Attach wires the controller to the run's bus. In record mode this
// installs the "**" buffering subscriber (spec §4.4); other modes retain
// the bus reference for replay's verbatim re-emission.
func (c *Controller) Attach(b bus.Bus) {
	c.bus = b
	if c.mode != agent.ModeRecord {
		return
	}
	c.recSub = b.Subscribe([]string{"**"}, bus.HandlerFunc(func(_ context.Context, sig signal.Signal) {
		c.mu.Lock()
		c.buffer = append(c.buffer, sig)
		c.mu.Unlock()
	}))
}

// Finalize flushes the buffered signals and marks the recording finalized
// in record mode. It is a no-op in live and replay modes.
func (c *Controller) Finalize(ctx context.Context, durationMS int64) error {
	if c.mode != agent.ModeRecord {
		return nil
	}
	if c.recSub != nil {
		c.recSub.Unsubscribe()
	}
	c.mu.Lock()
	buffered := append([]signal.Signal(nil), c.buffer...)
	c.mu.Unlock()

	if len(buffered) > 0 {
		if err := c.st.AppendBatch(ctx, c.id, buffered); err != nil {
			return err
		}
	}
	return c.st.Finalize(ctx, c.id, durationMS)
}

// Next implements agent.ReplaySource: it scans forward from the replay
// cursor for a contiguous provider subsequence (signals whose name starts
// with one of provider.ProviderPrefixes), re-emits each verbatim through
// the attached bus, and returns the output payload carried by the
// terminating provider:end signal. Non-provider signals recorded between
// two provider subsequences are not re-emitted — the live scheduler
// regenerates them (spec §4.4).
func (c *Controller) Next(ctx context.Context, _ string) (provider.Output, error) {
	for c.replayIndex < len(c.replaySignals) {
		sig := c.replaySignals[c.replayIndex]
		if !isProviderSignal(sig.Name) {
			c.replayIndex++
			continue
		}
		break
	}

	var out provider.Output
	found := false
	for c.replayIndex < len(c.replaySignals) {
		sig := c.replaySignals[c.replayIndex]
		if !isProviderSignal(sig.Name) {
			break
		}
		c.replayIndex++
		if c.bus != nil {
			c.bus.Emit(ctx, sig)
		}
		if sig.Name == provider.EndSignalName {
			if v, ok := sig.Payload.(provider.Output); ok {
				out = v
			} else if m, ok := sig.Payload.(map[string]any); ok {
				out = outputFromMap(m)
			}
			found = true
			break
		}
	}
	if !found {
		return provider.Output{}, rterrors.NewReplayError(rterrors.ReplayErrorExhausted, fmt.Errorf("no provider:end found from replay index"))
	}
	return out, nil
}

func isProviderSignal(name string) bool {
	for _, prefix := range provider.ProviderPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func outputFromMap(m map[string]any) provider.Output {
	out := provider.Output{}
	if text, ok := m["text"].(string); ok {
		out.Text = text
	}
	return out
}
