package telemetry

import (
	"strings"

	"github.com/flowsignal/flowsignal/provider"
	"github.com/flowsignal/flowsignal/signal"
)

// Outcome classifies how a run terminated, per spec §4.9.
type Outcome string

const (
	OutcomeSuccess    Outcome = "success"
	OutcomeError      Outcome = "error"
	OutcomeTimeout    Outcome = "timeout"
	OutcomeTerminated Outcome = "terminated"
)

type (
	// WideEvent is the single reduced record the Telemetry Aggregator
	// produces from a finished run's signal log.
	WideEvent struct {
		Outcome      Outcome
		Agents       []string
		SignalCount  int
		TokenUsage   TokenUsage
		Sampled      []signal.Signal
		DurationMS   int64
		Activations  int
	}

	// TokenUsage totals token counts observed across provider:end and
	// harness:end payloads that carry a "usage" field.
	TokenUsage struct {
		InputTokens  int64
		OutputTokens int64
	}

	// SampleConfig controls how the aggregator selects which signals to
	// retain in WideEvent.Sampled, per spec §4.9.
	SampleConfig struct {
		// AlwaysInclude signals matching any of these patterns are always
		// sampled, regardless of Rate.
		AlwaysInclude []string
		// NeverInclude signals matching any of these patterns are always
		// excluded, even if they also match AlwaysInclude or AlwaysOnError.
		NeverInclude []string
		// Rate is the fraction (0..1) of the remaining signals to sample,
		// taken deterministically every 1/Rate signals so results are
		// reproducible across runs with identical logs. A Rate of zero or
		// less samples every signal, as a Rate of 1 does.
		Rate float64
		// MaxSignals hard-caps the number of sampled signals, applied after
		// inclusion/exclusion/rate filtering.
		MaxSignals int
		// AlwaysOnError, when true and Outcome is OutcomeError, includes
		// every signal (still subject to MaxSignals).
		AlwaysOnError bool
	}
)

// Aggregate reduces history into a WideEvent using cfg to drive sampling.
func Aggregate(history []signal.Signal, durationMS int64, activations int, outcome Outcome, cfg SampleConfig) WideEvent {
	we := WideEvent{
		Outcome:     outcome,
		SignalCount: len(history),
		DurationMS:  durationMS,
		Activations: activations,
	}

	always := signal.CompileAll(cfg.AlwaysInclude)
	never := signal.CompileAll(cfg.NeverInclude)
	agentSeen := make(map[string]bool)

	for _, s := range history {
		if strings.HasPrefix(s.Name, "agent:activated") {
			if payload, ok := s.Payload.(map[string]any); ok {
				if a, _ := payload["agent"].(string); a != "" && !agentSeen[a] {
					agentSeen[a] = true
					we.Agents = append(we.Agents, a)
				}
			}
		}
		accumulateUsage(&we.TokenUsage, s)
	}

	includeAll := outcome == OutcomeError && cfg.AlwaysOnError
	rate := cfg.Rate
	if rate <= 0 {
		rate = 1
	}
	step := int(1 / rate)
	if step < 1 {
		step = 1
	}

	for i, s := range history {
		if signal.MatchesAny(s.Name, never) {
			continue
		}
		sampled := includeAll ||
			signal.MatchesAny(s.Name, always) ||
			i%step == 0
		if !sampled {
			continue
		}
		we.Sampled = append(we.Sampled, s)
		if cfg.MaxSignals > 0 && len(we.Sampled) >= cfg.MaxSignals {
			break
		}
	}

	return we
}

func accumulateUsage(totals *TokenUsage, s signal.Signal) {
	if !strings.HasSuffix(s.Name, "provider:end") && !strings.HasSuffix(s.Name, "harness:end") {
		return
	}
	if out, ok := s.Payload.(provider.Output); ok {
		if out.Usage != nil {
			totals.InputTokens += out.Usage.InputTokens
			totals.OutputTokens += out.Usage.OutputTokens
		}
		return
	}
	payload, ok := s.Payload.(map[string]any)
	if !ok {
		return
	}
	usage, ok := payload["usage"].(map[string]any)
	if !ok {
		return
	}
	if in, ok := toInt64(usage["input_tokens"]); ok {
		totals.InputTokens += in
	}
	if out, ok := toInt64(usage["output_tokens"]); ok {
		totals.OutputTokens += out
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
