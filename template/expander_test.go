package template_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsignal/flowsignal/template"
)

func TestExpand_WholeTemplatePreservesType(t *testing.T) {
	ctx := template.Context{Input: "Say hi"}
	v, err := template.Expand("{{ input }}", ctx)
	require.NoError(t, err)
	assert.Equal(t, "Say hi", v)
}

func TestExpand_WholeTemplateReturnsNilWhenMissing(t *testing.T) {
	ctx := template.Context{State: map[string]any{}}
	v, err := template.Expand("{{ state.missing }}", ctx)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestExpand_MixedTemplateStringifies(t *testing.T) {
	ctx := template.Context{State: map[string]any{"name": "Ada", "count": float64(3)}}
	v, err := template.Expand("Hello {{ state.name }}, you have {{ state.count }} items.", ctx)
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada, you have 3 items.", v)
}

func TestExpand_SignalFields(t *testing.T) {
	ctx := template.Context{
		SignalName:    "task:complete",
		SignalPayload: map[string]any{"result": "ok"},
	}
	v, err := template.Expand("{{ signal.name }}: {{ signal.payload.result }}", ctx)
	require.NoError(t, err)
	assert.Equal(t, "task:complete: ok", v)
}

func TestExpand_Ternary(t *testing.T) {
	ctx := template.Context{State: map[string]any{"ready": true}}
	v, err := template.Expand("{{ state.ready ? 'go' : 'wait' }}", ctx)
	require.NoError(t, err)
	assert.Equal(t, "go", v)
}

func TestExpand_ExistsAndNot(t *testing.T) {
	ctx := template.Context{State: map[string]any{"reply": "hi"}}
	v, err := template.Expand("{{ $exists(state.reply) }}", ctx)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = template.Expand("{{ $not($exists(state.missing)) }}", ctx)
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestExpand_UnterminatedExpressionErrors(t *testing.T) {
	_, err := template.Expand("{{ state.reply", template.Context{})
	assert.Error(t, err)
}
