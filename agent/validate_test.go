package agent_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flowsignal/flowsignal/agent"
)

func TestValidateUpdates_AcceptsDeclaredField(t *testing.T) {
	agents := map[string]agent.Definition{
		"greeter": {ActivateOn: []string{"workflow:start"}, Updates: "reply"},
	}
	err := agent.ValidateUpdates(agents, map[string]any{"reply": ""})
	assert.NoError(t, err)
}

func TestValidateUpdates_RejectsUndeclaredField(t *testing.T) {
	agents := map[string]agent.Definition{
		"greeter": {ActivateOn: []string{"workflow:start"}, Updates: "repyl"},
	}
	err := agent.ValidateUpdates(agents, map[string]any{"reply": ""})
	assert.Error(t, err)
}

func TestValidateUpdates_IgnoresAgentsWithoutUpdates(t *testing.T) {
	agents := map[string]agent.Definition{
		"observer": {ActivateOn: []string{"workflow:start"}},
	}
	err := agent.ValidateUpdates(agents, map[string]any{"reply": ""})
	assert.NoError(t, err)
}
