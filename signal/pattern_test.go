package signal_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsignal/flowsignal/signal"
)

func TestPattern_Literal(t *testing.T) {
	p := signal.Compile("agent:activated")
	assert.True(t, p.Matches("agent:activated"))
	assert.False(t, p.Matches("agent:failed"))
	assert.False(t, p.Matches("agent:activated:extra"))
}

func TestPattern_SingleSegmentWildcard(t *testing.T) {
	p := signal.Compile("state:*:changed")
	assert.True(t, p.Matches("state:reply:changed"))
	assert.True(t, p.Matches("state:foo:changed"))
	assert.False(t, p.Matches("state:reply:sub:changed"))
	assert.False(t, p.Matches("state:changed"))
}

func TestPattern_DoubleStarSuffix(t *testing.T) {
	p := signal.Compile("agent:**")
	assert.True(t, p.Matches("agent"))
	assert.True(t, p.Matches("agent:activated"))
	assert.True(t, p.Matches("agent:activated:sub"))
	assert.False(t, p.Matches("task:complete"))
}

func TestPattern_DoubleStarAlone(t *testing.T) {
	p := signal.Compile("**")
	assert.True(t, p.Matches(""))
	assert.True(t, p.Matches("anything:at:all"))
}

func TestMatchesAny(t *testing.T) {
	pats := signal.CompileAll([]string{"text:*", "tool:*"})
	assert.True(t, signal.MatchesAny("text:delta", pats))
	assert.True(t, signal.MatchesAny("tool:call", pats))
	assert.False(t, signal.MatchesAny("thinking:delta", pats))
}

// TestPattern_LiteralAlwaysMatchesItself exercises the invariant that any
// well-formed colon-segmented name, compiled verbatim as a pattern, matches
// itself — a property that must hold across arbitrarily generated segment
// sets, not just hand-picked examples.
func TestPattern_LiteralAlwaysMatchesItself(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	segment := gen.RegexMatch(`[a-zA-Z][a-zA-Z0-9]{0,8}`)

	properties.Property("a literal name always matches a pattern compiled from itself", prop.ForAll(
		func(segs []string) bool {
			if len(segs) == 0 {
				return true
			}
			name := segs[0]
			for _, s := range segs[1:] {
				name += ":" + s
			}
			return signal.Compile(name).Matches(name)
		},
		gen.SliceOfN(4, segment),
	))

	result := properties.Run(gopter.ConsoleReporter(false))
	require.True(t, result)
}
