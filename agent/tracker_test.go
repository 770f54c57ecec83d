package agent_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/flowsignal/flowsignal/agent"
)

func TestTracker_StartsIdle(t *testing.T) {
	tr := agent.NewTracker()
	idle, pending := tr.Snapshot()
	assert.Equal(t, 0, pending)
	select {
	case <-idle:
	default:
		t.Fatal("expected idle channel to already be closed")
	}
}

func TestTracker_AddDoneRoundTrip(t *testing.T) {
	tr := agent.NewTracker()
	tr.Add()
	_, pending := tr.Snapshot()
	assert.Equal(t, 1, pending)

	tr.Done()
	idle, pending := tr.Snapshot()
	assert.Equal(t, 0, pending)
	select {
	case <-idle:
	case <-time.After(time.Second):
		t.Fatal("expected idle channel to close after Done")
	}
}

func TestTracker_RegeneratesIdleChannelAcrossCycles(t *testing.T) {
	tr := agent.NewTracker()
	idle1, _ := tr.Snapshot()

	tr.Add()
	tr.Done()

	idle2, _ := tr.Snapshot()
	select {
	case <-idle2:
	case <-time.After(time.Second):
		t.Fatal("expected second idle channel to close")
	}
	// the first snapshot's channel was already closed before the cycle and
	// must remain so; the two need not be the same channel.
	select {
	case <-idle1:
	default:
		t.Fatal("first idle channel should remain closed")
	}
}

func TestTracker_ChainedActivations(t *testing.T) {
	tr := agent.NewTracker()
	tr.Add()
	tr.Add()
	tr.Done()
	_, pending := tr.Snapshot()
	assert.Equal(t, 1, pending, "tracker should still report one pending activation")
	tr.Done()
	_, pending = tr.Snapshot()
	assert.Equal(t, 0, pending)
}
