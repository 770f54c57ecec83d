package signal

import (
	"regexp"
	"strings"
	"sync"
)

// Pattern is a glob-style matcher compiled from a colon-segmented string.
// Within a pattern, "*" matches exactly one segment (a non-":" run) and "**"
// matches zero or more segments. Patterns are compiled once at subscription
// time and are safe for concurrent use.
type Pattern struct {
	raw string
	re  *regexp.Regexp
}

var (
	compileCacheMu sync.RWMutex
	compileCache   = make(map[string]*Pattern)
)

// Compile builds a Pattern from raw. Compilation is pure and side-effect
// free; repeated calls with the same raw string return equivalent (though
// not necessarily identical) matchers. An internal cache keyed by raw string
// avoids recompiling the same pattern text repeatedly, which matters because
// Bus.Subscribe and the stores' LoadSignals pattern filters both compile
// patterns on every call.
func Compile(raw string) *Pattern {
	compileCacheMu.RLock()
	if p, ok := compileCache[raw]; ok {
		compileCacheMu.RUnlock()
		return p
	}
	compileCacheMu.RUnlock()

	p := &Pattern{raw: raw, re: regexp.MustCompile(toRegexp(raw))}

	compileCacheMu.Lock()
	compileCache[raw] = p
	compileCacheMu.Unlock()
	return p
}

// toRegexp translates a segment pattern into an anchored regular expression.
// "**" becomes ".*" (zero or more of anything, including ":"); "*" becomes
// "[^:]*" (exactly one segment, never crossing a ":"); literal segments are
// escaped verbatim.
func toRegexp(raw string) string {
	var b strings.Builder
	b.WriteByte('^')
	segments := strings.Split(raw, ":")
	for i, seg := range segments {
		if i > 0 {
			b.WriteByte(':')
		}
		switch seg {
		case "**":
			// "**" must also absorb the separator on either side so it can
			// match zero segments; handled by trimming adjacent colons below.
			b.WriteString(".*")
		case "*":
			b.WriteString("[^:]*")
		default:
			b.WriteString(regexp.QuoteMeta(seg))
		}
	}
	b.WriteByte('$')
	return collapseDoubleStarSeparators(b.String())
}

// collapseDoubleStarSeparators removes the literal ":" adjacent to a ".*"
// produced by a "**" segment, so that "a:**" matches both "a" and "a:b:c",
// and "**" alone matches any name including the empty string.
func collapseDoubleStarSeparators(re string) string {
	re = strings.ReplaceAll(re, ":.*", "(:.*)?")
	re = strings.ReplaceAll(re, ".*:", ".*(:)?")
	return re
}

// String returns the original, uncompiled pattern text.
func (p *Pattern) String() string {
	if p == nil {
		return ""
	}
	return p.raw
}

// Matches reports whether name satisfies the pattern.
func (p *Pattern) Matches(name string) bool {
	if p == nil {
		return false
	}
	return p.re.MatchString(name)
}

// Matches is a convenience function equivalent to Compile(pattern).Matches(name).
// Prefer compiling once (via Compile) and reusing the *Pattern when matching
// the same pattern against many names, as the Bus and the stores do.
func Matches(name, pattern string) bool {
	return Compile(pattern).Matches(name)
}

// MatchesAny reports whether name matches any of patterns, short-circuiting
// on the first match.
func MatchesAny(name string, patterns []*Pattern) bool {
	for _, p := range patterns {
		if p.Matches(name) {
			return true
		}
	}
	return false
}

// CompileAll compiles every raw pattern string in raws, preserving order.
func CompileAll(raws []string) []*Pattern {
	out := make([]*Pattern, len(raws))
	for i, raw := range raws {
		out[i] = Compile(raw)
	}
	return out
}
