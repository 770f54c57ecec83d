package signal_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flowsignal/flowsignal/signal"
)

func TestNew_AssignsIDAndTimestamp(t *testing.T) {
	s := signal.New("task:complete", map[string]any{"ok": true}, signal.Source{Agent: "greeter"})
	assert.NotEmpty(t, s.ID)
	assert.False(t, s.Timestamp.IsZero())
	assert.Equal(t, "task:complete", s.Name)
	assert.Equal(t, "greeter", s.Source.Agent)
}

func TestNew_DistinctIDs(t *testing.T) {
	a := signal.New("x", nil, signal.Source{})
	b := signal.New("x", nil, signal.Source{})
	assert.NotEqual(t, a.ID, b.ID)
}

func TestWithParent(t *testing.T) {
	src := signal.Source{Agent: "greeter"}
	chained := signal.WithParent(src, "parent-id")
	assert.Equal(t, "parent-id", chained.Parent)
	assert.Equal(t, "greeter", chained.Agent)
	assert.Empty(t, src.Parent, "WithParent must not mutate its argument")
}
