// Package middleware provides reusable provider.Provider middleware, such
// as adaptive rate limiting.
//
// Grounded on features/model/middleware/ratelimit.go's AIMD token-bucket
// limiter: a golang.org/x/time/rate.Limiter whose effective
// tokens-per-minute budget backs off on rate-limit errors and recovers on
// success. The teacher's cluster-coordination layer (goa.design/pulse/rmap)
// has no analog here — this runtime has no multi-process deployment story
// (see DESIGN.md) — so the limiter is process-local only.
package middleware

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/flowsignal/flowsignal/provider"
	"github.com/flowsignal/flowsignal/rterrors"
)

// RateLimiter applies an AIMD-style adaptive token bucket on top of a
// provider.Provider. It estimates the token cost of each request, blocks
// callers until capacity is available, and adjusts its effective
// tokens-per-minute budget in response to rate-limit errors.
type RateLimiter struct {
	mu sync.Mutex

	limiter *rate.Limiter

	currentTPM   float64
	minTPM       float64
	maxTPM       float64
	recoveryRate float64
}

// NewRateLimiter constructs a RateLimiter with an initial and maximum
// tokens-per-minute budget.
func NewRateLimiter(initialTPM, maxTPM float64) *RateLimiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	return &RateLimiter{
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
}

// Wrap returns a provider.Provider that enforces the limiter's budget
// before delegating to next.
func (l *RateLimiter) Wrap(next provider.Provider) provider.Provider {
	return &limitedProvider{next: next, limiter: l}
}

type limitedProvider struct {
	next    provider.Provider
	limiter *RateLimiter
}

// Run implements provider.Provider.
func (p *limitedProvider) Run(ctx context.Context, in provider.Input) (provider.Stream, error) {
	if err := p.limiter.wait(ctx, in); err != nil {
		return nil, err
	}
	stream, err := p.next.Run(ctx, in)
	p.limiter.observe(err)
	return stream, err
}

func (l *RateLimiter) wait(ctx context.Context, in provider.Input) error {
	tokens := estimateTokens(in)
	return l.limiter.WaitN(ctx, tokens)
}

func (l *RateLimiter) observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	var pe *rterrors.ProviderError
	if asProviderError(err, &pe) && pe.Kind == rterrors.ProviderErrorRateLimited {
		l.backoff()
	}
}

func asProviderError(err error, target **rterrors.ProviderError) bool {
	pe, ok := err.(*rterrors.ProviderError)
	if ok {
		*target = pe
	}
	return ok
}

func (l *RateLimiter) backoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	newTPM := l.currentTPM * 0.5
	if newTPM < l.minTPM {
		newTPM = l.minTPM
	}
	l.setTPM(newTPM)
}

func (l *RateLimiter) probe() {
	l.mu.Lock()
	defer l.mu.Unlock()
	newTPM := l.currentTPM + l.recoveryRate
	if newTPM > l.maxTPM {
		newTPM = l.maxTPM
	}
	l.setTPM(newTPM)
}

// setTPM must be called with l.mu held.
func (l *RateLimiter) setTPM(tpm float64) {
	if tpm == l.currentTPM {
		return
	}
	l.currentTPM = tpm
	l.limiter.SetLimit(rate.Limit(tpm / 60.0))
	l.limiter.SetBurst(int(tpm))
}

// estimateTokens computes a cheap heuristic for the number of tokens in
// the request: character count over messages and system prompt, at
// roughly one token per three characters, plus a fixed framing buffer.
func estimateTokens(in provider.Input) int {
	charCount := len(in.System)
	for _, m := range in.Messages {
		charCount += len(m.Content)
	}
	if charCount <= 0 {
		return 500
	}
	tokens := charCount / 3
	if tokens < 1 {
		tokens = 1
	}
	return tokens + 500
}
