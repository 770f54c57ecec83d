package recording_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsignal/flowsignal/agent"
	"github.com/flowsignal/flowsignal/bus"
	"github.com/flowsignal/flowsignal/provider"
	"github.com/flowsignal/flowsignal/recording"
	"github.com/flowsignal/flowsignal/rterrors"
	"github.com/flowsignal/flowsignal/signal"
	"github.com/flowsignal/flowsignal/store"
	"github.com/flowsignal/flowsignal/store/inmem"
)

func TestNewLive_IsANoOp(t *testing.T) {
	c := recording.NewLive()
	assert.Equal(t, agent.ModeLive, c.Mode())
	assert.Empty(t, c.RecordingID())
	require.NoError(t, c.Finalize(context.Background(), 10))
}

func TestRecord_BuffersAndFlushesOnFinalize(t *testing.T) {
	ctx := context.Background()
	st := inmem.New()
	c, err := recording.NewRecord(ctx, st, store.Meta{Name: "run-1"})
	require.NoError(t, err)

	b := bus.New(nil)
	c.Attach(b)

	b.Emit(ctx, signal.New("workflow:start", nil, signal.Source{}))
	b.Emit(ctx, signal.New("text:delta", nil, signal.Source{}))

	require.NoError(t, c.Finalize(ctx, 99))

	rec, err := st.Load(ctx, c.RecordingID())
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Len(t, rec.Signals, 2)
	assert.True(t, rec.Finalized)
	assert.Equal(t, int64(99), rec.DurationMS)
}

func TestNewReplay_UnknownRecordingIDErrors(t *testing.T) {
	ctx := context.Background()
	st := inmem.New()
	_, err := recording.NewReplay(ctx, st, "unknown")
	require.Error(t, err)
	assert.True(t, rterrors.IsRecordingNotFound(err))
}

func TestReplay_NextReturnsRecordedOutput(t *testing.T) {
	ctx := context.Background()
	st := inmem.New()
	id, err := st.Create(ctx, store.Meta{Name: "run-1"})
	require.NoError(t, err)

	out := provider.Output{Text: "hello", Usage: &provider.Usage{InputTokens: 1, OutputTokens: 2}}
	require.NoError(t, st.AppendBatch(ctx, id, []signal.Signal{
		signal.New("agent:activated", map[string]any{"agent": "greeter"}, signal.Source{}),
		signal.New("text:delta", map[string]any{"text": "hello"}, signal.Source{}),
		provider.NewEndSignal(out, signal.Source{}),
		signal.New("state:reply:changed", nil, signal.Source{}),
	}))
	require.NoError(t, st.Finalize(ctx, id, 5))

	c, err := recording.NewReplay(ctx, st, id)
	require.NoError(t, err)

	b := bus.New(nil)
	c.Attach(b)

	got, err := c.Next(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Text)
	assert.Equal(t, int64(1), got.Usage.InputTokens)

	var reemitted []string
	for _, s := range b.History() {
		reemitted = append(reemitted, s.Name)
	}
	assert.Equal(t, []string{"text:delta", "provider:end"}, reemitted, "non-provider signals between subsequences are not re-emitted")
}

func TestReplay_ExhaustedReturnsReplayError(t *testing.T) {
	ctx := context.Background()
	st := inmem.New()
	id, err := st.Create(ctx, store.Meta{Name: "run-1"})
	require.NoError(t, err)
	require.NoError(t, st.Append(ctx, id, signal.New("workflow:start", nil, signal.Source{})))
	require.NoError(t, st.Finalize(ctx, id, 0))

	c, err := recording.NewReplay(ctx, st, id)
	require.NoError(t, err)
	c.Attach(bus.New(nil))

	_, err = c.Next(ctx, "run-1")
	require.Error(t, err)
	var re *rterrors.ReplayError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, rterrors.ReplayErrorExhausted, re.Kind)
}
