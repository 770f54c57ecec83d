// Package bus implements the in-process signal broker: synchronous,
// pattern-matched dispatch over an append-only emission history.
//
// The design is grounded on the teacher's hook bus (fan-out over a
// registration-ordered subscriber set, guarded by an RWMutex, idempotent
// Close via sync.Once) but generalized from "every subscriber sees every
// event" to pattern-filtered delivery, and from "stop at first handler
// error" to "isolate handler errors", per spec §4.2: a subscriber's error
// must not affect other subscribers or the emitter.
package bus

import (
	"context"
	"sync"

	"github.com/flowsignal/flowsignal/signal"
	"github.com/flowsignal/flowsignal/telemetry"
)

type (
	// Handler reacts to signals delivered by the Bus. Handlers may perform
	// asynchronous work (spawning goroutines, awaiting I/O); the Bus does not
	// wait for handler bodies to complete, only for HandleSignal itself to
	// return. Back-pressure and completion tracking (e.g. the scheduler's
	// pending-activation set) are the handler's responsibility.
	Handler interface {
		HandleSignal(ctx context.Context, sig signal.Signal)
	}

	// HandlerFunc adapts a plain function to the Handler interface.
	HandlerFunc func(ctx context.Context, sig signal.Signal)

	// Subscription represents an active registration on a Bus. Unsubscribe
	// is idempotent and safe to call concurrently or multiple times.
	Subscription interface {
		Unsubscribe()
	}

	// Bus is the in-process event broker. Emit appends the signal to the
	// ordered history and then synchronously invokes every subscriber whose
	// pattern set matches the signal's name, in registration order.
	Bus interface {
		// Emit appends sig to the history and dispatches it to matching
		// subscribers. Emit never blocks on handler bodies that escape into
		// goroutines, but it does block for the duration of each handler's
		// synchronous HandleSignal call.
		Emit(ctx context.Context, sig signal.Signal)
		// Subscribe registers handler under the given patterns and returns a
		// Subscription that can be used to unregister it. patterns must be
		// non-empty.
		Subscribe(patterns []string, handler Handler) Subscription
		// History returns the emitted signals in emission order. The
		// returned slice is a snapshot and safe to range over without
		// holding any lock.
		History() []signal.Signal
	}

	bus struct {
		mu      sync.RWMutex
		history []signal.Signal
		subs    []*subscription
		logger  telemetry.Logger
	}

	subscription struct {
		bus      *bus
		patterns []*signal.Pattern
		handler  Handler
		once     sync.Once
		live     bool
	}
)

// HandleSignal implements Handler.
func (f HandlerFunc) HandleSignal(ctx context.Context, sig signal.Signal) { f(ctx, sig) }

// New constructs an empty Bus. logger may be nil, in which case a no-op
// logger is used; subscriber panics and the synthetic error:subscriber
// signal they produce are always logged through it.
func New(logger telemetry.Logger) Bus {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &bus{logger: logger}
}

// Emit implements Bus.
//
// A panicking subscriber's recovery synthesizes an error:subscriber signal,
// but that signal must never be redelivered to the subscriber that caused
// it from within the same recover — re-entering Emit synchronously there
// would hand the panicking handler its own error signal and panic again,
// recursing without bound. Instead pending error signals are queued and
// drained in a flat loop after the current dispatch pass completes, each
// excluding only the subscription that produced it.
func (b *bus) Emit(ctx context.Context, sig signal.Signal) {
	pending := []pendingError{{sig: sig}}
	for len(pending) > 0 {
		next := pending[0]
		pending = pending[1:]
		pending = append(pending, b.emitOnce(ctx, next.sig, next.skip)...)
	}
}

// pendingError is a synthesized error:subscriber signal awaiting dispatch,
// paired with the subscription it must not be redelivered to.
type pendingError struct {
	sig  signal.Signal
	skip *subscription
}

// emitOnce appends sig to history and dispatches it to every live matching
// subscriber except skip, returning any error signals synthesized by
// panicking handlers for the caller to drain.
func (b *bus) emitOnce(ctx context.Context, sig signal.Signal, skip *subscription) []pendingError {
	b.mu.Lock()
	b.history = append(b.history, sig)
	// Snapshot subscribers under the same lock acquisition used to append
	// history, so that a concurrent Subscribe/Unsubscribe cannot interleave
	// with "this" emission's dispatch list. Registration order is
	// preserved because b.subs is only ever appended to.
	snapshot := make([]*subscription, len(b.subs))
	copy(snapshot, b.subs)
	b.mu.Unlock()

	var more []pendingError
	for _, sub := range snapshot {
		if sub == skip {
			continue
		}
		if !sub.isLive() {
			continue
		}
		if !signal.MatchesAny(sig.Name, sub.patterns) {
			continue
		}
		if errSig, panicked := b.dispatch(ctx, sub, sig); panicked {
			more = append(more, pendingError{sig: errSig, skip: sub})
		}
	}
	return more
}

// dispatch invokes a single subscriber, isolating panics so that one
// misbehaving handler cannot halt delivery to the rest of the snapshot or
// propagate back into the emitter's call stack. On panic it returns the
// synthesized error:subscriber signal for the caller to queue rather than
// emitting it itself.
func (b *bus) dispatch(ctx context.Context, sub *subscription, sig signal.Signal) (errSig signal.Signal, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error(ctx, "subscriber panicked handling signal",
				"signal", sig.Name, "signal_id", sig.ID, "recover", r)
			errSig = signal.New("error:subscriber", map[string]any{
				"signal": sig.Name, "recover": r,
			}, signal.Source{Parent: sig.ID})
			panicked = true
		}
	}()
	sub.handler.HandleSignal(ctx, sig)
	return signal.Signal{}, false
}

// Subscribe implements Bus.
func (b *bus) Subscribe(patterns []string, handler Handler) Subscription {
	sub := &subscription{
		bus:      b,
		patterns: signal.CompileAll(patterns),
		handler:  handler,
		live:     true,
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub
}

// History implements Bus.
func (b *bus) History() []signal.Signal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]signal.Signal, len(b.history))
	copy(out, b.history)
	return out
}

func (s *subscription) isLive() bool {
	s.bus.mu.RLock()
	defer s.bus.mu.RUnlock()
	return s.live
}

// Unsubscribe implements Subscription. It is idempotent: calling it more
// than once, or concurrently, is safe and has no additional effect after
// the first call.
func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		s.live = false
		s.bus.mu.Unlock()
	})
}
