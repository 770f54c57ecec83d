// Package template implements the Template Expander (spec §4.8): a small
// expression language over the activation context (state, triggering
// signal, original input), used to build provider prompts from an
// AgentDefinition's prompt template.
package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Context is the read-only view an expression is evaluated against.
type Context struct {
	State        map[string]any
	SignalName   string
	SignalPayload any
	Input        any
}

// Expand evaluates tmpl against ctx. A template consisting of exactly one
// `{{ expr }}` expression with no surrounding text returns the referent
// with its type preserved (nil if missing). A mixed template substitutes
// each expression, stringifying non-string referents, and returns a
// string.
func Expand(tmpl string, ctx Context) (any, error) {
	exprs, err := splitExpressions(tmpl)
	if err != nil {
		return nil, err
	}
	if len(exprs) == 1 && exprs[0].isWholeTemplate {
		return eval(exprs[0].expr, ctx)
	}

	var sb strings.Builder
	pos := 0
	for _, e := range exprs {
		sb.WriteString(tmpl[pos:e.start])
		v, err := eval(e.expr, ctx)
		if err != nil {
			return nil, err
		}
		sb.WriteString(stringify(v))
		pos = e.end
	}
	sb.WriteString(tmpl[pos:])
	return sb.String(), nil
}

type expression struct {
	expr            string
	start, end      int
	isWholeTemplate bool
}

// splitExpressions locates each {{ ... }} span in tmpl.
func splitExpressions(tmpl string) ([]expression, error) {
	var out []expression
	i := 0
	for i < len(tmpl) {
		start := strings.Index(tmpl[i:], "{{")
		if start < 0 {
			break
		}
		start += i
		end := strings.Index(tmpl[start:], "}}")
		if end < 0 {
			return nil, fmt.Errorf("template: unterminated expression at offset %d", start)
		}
		end += start
		raw := strings.TrimSpace(tmpl[start+2 : end])
		whole := start == 0 && end+2 == len(tmpl)
		out = append(out, expression{expr: raw, start: start, end: end + 2, isWholeTemplate: whole})
		i = end + 2
	}
	return out, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}
